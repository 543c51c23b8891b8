package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Info describes one snapshot file for listing and retention.
type Info struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	Experiments int       `json:"experiments"`
	Readable    bool      `json:"readable"`
}

// Policy picks the snapshots to keep from a newest-first list.
type Policy interface {
	Keep(backups []Info, now time.Time) []Info
}

// CountPolicy keeps the newest MaxCount snapshots.
type CountPolicy struct {
	MaxCount int
}

func (p CountPolicy) Keep(backups []Info, _ time.Time) []Info {
	if len(backups) <= p.MaxCount {
		return backups
	}
	return backups[:p.MaxCount]
}

// AgePolicy keeps snapshots younger than MaxAge.
type AgePolicy struct {
	MaxAge time.Duration
}

func (p AgePolicy) Keep(backups []Info, now time.Time) []Info {
	cutoff := now.Add(-p.MaxAge)
	var keep []Info
	for _, b := range backups {
		if b.CreatedAt.After(cutoff) {
			keep = append(keep, b)
		}
	}
	return keep
}

// SizePolicy keeps the newest snapshots whose combined size fits in
// MaxTotalBytes. The newest snapshot is always kept.
type SizePolicy struct {
	MaxTotalBytes int64
}

func (p SizePolicy) Keep(backups []Info, _ time.Time) []Info {
	var keep []Info
	var total int64
	for _, b := range backups {
		if len(keep) > 0 && total+b.Size > p.MaxTotalBytes {
			break
		}
		keep = append(keep, b)
		total += b.Size
	}
	return keep
}

// AnyPolicy keeps a snapshot when at least one of its policies keeps it.
type AnyPolicy []Policy

func (p AnyPolicy) Keep(backups []Info, now time.Time) []Info {
	kept := make(map[string]bool)
	for _, policy := range p {
		for _, b := range policy.Keep(backups, now) {
			kept[b.Path] = true
		}
	}
	var keep []Info
	for _, b := range backups {
		if kept[b.Path] {
			keep = append(keep, b)
		}
	}
	return keep
}

// DefaultMaxCount is the retention used when nothing is configured.
const DefaultMaxCount = 10

// NewPolicy builds the retention policy from its settings. Empty settings
// are ignored; with none set the newest DefaultMaxCount snapshots are kept.
func NewPolicy(maxCount int, maxAge, maxTotalSize string) (Policy, error) {
	var policies AnyPolicy
	if maxCount < 0 {
		return nil, fmt.Errorf("max_count must be non-negative, got %d", maxCount)
	}
	if maxCount > 0 {
		policies = append(policies, CountPolicy{MaxCount: maxCount})
	}
	if maxAge != "" {
		d, err := ParseAge(maxAge)
		if err != nil {
			return nil, err
		}
		policies = append(policies, AgePolicy{MaxAge: d})
	}
	if maxTotalSize != "" {
		n, err := ParseSize(maxTotalSize)
		if err != nil {
			return nil, err
		}
		policies = append(policies, SizePolicy{MaxTotalBytes: n})
	}

	switch len(policies) {
	case 0:
		return CountPolicy{MaxCount: DefaultMaxCount}, nil
	case 1:
		return policies[0], nil
	}
	return policies, nil
}

// List returns the snapshots in dir, newest first. A missing directory
// yields an empty list. Files whose header cannot be read are listed with
// Readable false and their modification time.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}

		info := Info{
			Path:      filepath.Join(dir, name),
			Size:      fi.Size(),
			CreatedAt: fi.ModTime(),
		}
		if h, err := ReadHeader(info.Path); err == nil {
			info.CreatedAt = h.CreatedAt
			info.Experiments = h.ExperimentCount
			info.Readable = true
		}
		backups = append(backups, info)
	}

	sort.SliceStable(backups, func(i, j int) bool {
		if !backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].CreatedAt.After(backups[j].CreatedAt)
		}
		return backups[i].Path > backups[j].Path
	})
	return backups, nil
}

// Prune deletes the snapshots in dir that policy does not keep and
// returns their paths.
func Prune(dir string, policy Policy, now time.Time) ([]string, error) {
	backups, err := List(dir)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool)
	for _, b := range policy.Keep(backups, now) {
		keep[b.Path] = true
	}

	var deleted []string
	for _, b := range backups {
		if keep[b.Path] {
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(b.Path), err)
		}
		deleted = append(deleted, b.Path)
	}
	return deleted, nil
}

// ParseAge parses a retention age such as "720h", "30d" or "2w".
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("age must be positive: %q", s)
		}
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid age: %q", s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid age: %q", s)
	}
	day := 24 * time.Hour
	switch s[len(s)-1] {
	case 'd':
		return time.Duration(n) * day, nil
	case 'w':
		return time.Duration(n) * 7 * day, nil
	}
	return 0, fmt.Errorf("invalid age %q (use a Go duration or a d/w suffix)", s)
}

// ParseSize parses a byte size such as "512KB", "100MB" or "1GB".
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	units := []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(s, u.suffix) {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), 10, 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid size: %q", s)
		}
		return n * u.mult, nil
	}
	return 0, fmt.Errorf("invalid size %q (use a B, KB, MB or GB suffix)", s)
}
