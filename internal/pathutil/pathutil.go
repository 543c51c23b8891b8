// Package pathutil confines file writes to known directories and keeps full
// paths out of log lines and error messages.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutside is returned when a path escapes every allowed directory.
var ErrOutside = errors.New("path is outside allowed directories")

// RedactPath shortens a path to .../<parent>/<base>.
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	base := filepath.Base(cleaned)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// Within resolves path and checks it lies inside one of dirs. Symlinks are
// resolved on the deepest existing ancestor of both the path and each
// allowed directory, so the target file need not exist. It returns the
// resolved absolute path.
func Within(path string, dirs []string) (string, error) {
	switch {
	case path == "":
		return "", fmt.Errorf("invalid path: empty")
	case strings.ContainsRune(path, '\x00'):
		return "", fmt.Errorf("invalid path: contains null byte")
	case len(dirs) == 0:
		return "", fmt.Errorf("invalid path: no allowed directories configured")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	parent, err := resolve(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(parent, filepath.Base(abs))

	for _, dir := range dirs {
		dirAbs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		dirResolved, err := resolve(dirAbs)
		if err != nil {
			continue
		}
		if resolved == dirResolved || strings.HasPrefix(resolved, dirResolved+string(os.PathSeparator)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutside, RedactPath(abs))
}

// resolve evaluates symlinks on the deepest existing ancestor of dir and
// re-appends the missing tail.
func resolve(dir string) (string, error) {
	if r, err := filepath.EvalSymlinks(dir); err == nil {
		return r, nil
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(dir))
	}
	r, err := resolve(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(r, filepath.Base(dir)), nil
}
