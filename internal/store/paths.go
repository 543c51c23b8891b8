package store

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DirName is the per-project state directory.
	DirName = ".carbon"

	// DBFile is the experiment database inside DirName.
	DBFile = "experiments.db"
)

// CarbonPath returns the .carbon directory for the given project root.
func CarbonPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName)
}

// EnsureCarbonDir creates the .carbon directory if it doesn't exist.
func EnsureCarbonDir(projectRoot string) (string, error) {
	dir := CarbonPath(projectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", DirName, err)
	}
	return dir, nil
}
