// Package backup writes checksummed snapshots of the experiment store and
// restores them. Snapshots live in .carbon/backups and are pruned by
// retention policies.
package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/store"
)

const (
	// DirName is the snapshot directory inside .carbon.
	DirName = "backups"

	filePrefix = "carbon-backup-"
	fileSuffix = ".json.gz"
)

// Snapshot is the decompressed payload of a backup file.
type Snapshot struct {
	CreatedAt   time.Time           `json:"created_at"`
	Experiments []models.Experiment `json:"experiments"`
}

// Dir returns the snapshot directory for a project root.
func Dir(projectRoot string) string {
	return filepath.Join(store.CarbonPath(projectRoot), DirName)
}

// GeneratePath returns a timestamped snapshot path in dir.
func GeneratePath(dir string, now time.Time) string {
	return filepath.Join(dir, filePrefix+now.UTC().Format("20060102-150405")+fileSuffix)
}

// Create writes every experiment in s to path, oldest first.
func Create(ctx context.Context, s store.ExperimentStore, path string) (*Header, error) {
	exps, err := s.ListExperiments(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("listing experiments: %w", err)
	}
	slices.Reverse(exps)
	if exps == nil {
		exps = []models.Experiment{}
	}

	return writeFile(path, &Snapshot{
		CreatedAt:   time.Now().UTC(),
		Experiments: exps,
	})
}

// RestoreMode controls how restore treats ids already in the store.
type RestoreMode string

const (
	// RestoreMerge keeps stored experiments and adds the missing ones.
	RestoreMerge RestoreMode = "merge"
	// RestoreOverwrite replaces stored experiments that share an id.
	RestoreOverwrite RestoreMode = "overwrite"
)

// RestoreResult counts what a restore did.
type RestoreResult struct {
	Restored int `json:"restored"`
	Skipped  int `json:"skipped"`
}

// Restore loads the snapshot at path into s. The checksum is verified
// before anything is written.
func Restore(ctx context.Context, s store.ExperimentStore, path string, mode RestoreMode) (*RestoreResult, error) {
	if mode != RestoreMerge && mode != RestoreOverwrite {
		return nil, fmt.Errorf("unknown restore mode %q", mode)
	}

	_, snap, err := readFile(path)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{}
	for _, exp := range snap.Experiments {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if exp.ID == "" {
			result.Skipped++
			continue
		}
		if mode == RestoreMerge {
			_, err := s.GetExperiment(ctx, exp.ID)
			if err == nil {
				result.Skipped++
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return result, fmt.Errorf("checking experiment %s: %w", exp.ID, err)
			}
		}
		if _, err := s.SaveExperiment(ctx, exp); err != nil {
			return result, fmt.Errorf("restoring experiment %s: %w", exp.ID, err)
		}
		result.Restored++
	}
	return result, nil
}
