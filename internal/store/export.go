package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/nvandessel/carbon-oracle/internal/models"
)

// ExportJSONL writes every experiment in src to w, one JSON object per
// line, oldest first.
func ExportJSONL(ctx context.Context, src ExperimentStore, w io.Writer) (int, error) {
	exps, err := src.ListExperiments(ctx, 0)
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := len(exps) - 1; i >= 0; i-- {
		if err := enc.Encode(exps[i]); err != nil {
			return 0, fmt.Errorf("failed to encode experiment %s: %w", exps[i].ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(exps), nil
}

// ImportJSONL reads experiments written by ExportJSONL into dst. Lines that
// fail to parse are logged and skipped.
func ImportJSONL(ctx context.Context, dst ExperimentStore, r io.Reader, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024) // 1MB max line length

	var imported, lineNum int
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var exp models.Experiment
		if err := json.Unmarshal(line, &exp); err != nil {
			logger.Warn("skipping unparseable experiment", "line", lineNum, "error", err)
			continue
		}
		if _, err := dst.SaveExperiment(ctx, exp); err != nil {
			return imported, fmt.Errorf("failed to import line %d: %w", lineNum, err)
		}
		imported++
	}

	if err := scanner.Err(); err != nil {
		return imported, fmt.Errorf("scanner error: %w", err)
	}
	return imported, nil
}
