package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func infos(now time.Time, sizes ...int64) []Info {
	out := make([]Info, len(sizes))
	for i, size := range sizes {
		out[i] = Info{
			Path:      filepath.Join("/b", string(rune('a'+i))),
			Size:      size,
			CreatedAt: now.Add(-time.Duration(i) * 12 * time.Hour),
		}
	}
	return out
}

func paths(list []Info) []string {
	out := make([]string, len(list))
	for i, b := range list {
		out[i] = filepath.Base(b.Path)
	}
	return out
}

func TestPolicies(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	backups := infos(now, 500, 500, 500, 500, 500)

	tests := []struct {
		name   string
		policy Policy
		want   []string
	}{
		{"count", CountPolicy{MaxCount: 2}, []string{"a", "b"}},
		{"count above total", CountPolicy{MaxCount: 10}, []string{"a", "b", "c", "d", "e"}},
		{"age", AgePolicy{MaxAge: 25 * time.Hour}, []string{"a", "b", "c"}},
		{"size", SizePolicy{MaxTotalBytes: 1200}, []string{"a", "b"}},
		{"size keeps newest even when too big", SizePolicy{MaxTotalBytes: 10}, []string{"a"}},
		{"any is a union", AnyPolicy{CountPolicy{MaxCount: 1}, AgePolicy{MaxAge: 13 * time.Hour}}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := paths(tt.policy.Keep(backups, now))
			if len(got) != len(tt.want) {
				t.Fatalf("kept %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("kept %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		age     string
		size    string
		want    Policy
		wantErr bool
	}{
		{name: "defaults", want: CountPolicy{MaxCount: DefaultMaxCount}},
		{name: "count only", count: 3, want: CountPolicy{MaxCount: 3}},
		{name: "age only", age: "2w", want: AgePolicy{MaxAge: 14 * 24 * time.Hour}},
		{name: "size only", size: "1MB", want: SizePolicy{MaxTotalBytes: 1 << 20}},
		{name: "negative count", count: -1, wantErr: true},
		{name: "bad age", age: "soon", wantErr: true},
		{name: "bad size", size: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewPolicy(tt.count, tt.age, tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewPolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("NewPolicy() = %#v, want %#v", got, tt.want)
			}
		})
	}

	combined, err := NewPolicy(5, "30d", "")
	if err != nil {
		t.Fatal(err)
	}
	if union, ok := combined.(AnyPolicy); !ok || len(union) != 2 {
		t.Errorf("NewPolicy(5, 30d) = %#v, want AnyPolicy of two", combined)
	}
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"720h", 720 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"", 0, true},
		{"d", 0, true},
		{"0d", 0, true},
		{"-5d", 0, true},
		{"3y", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAge(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAge(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAge(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100B", 100, false},
		{"512KB", 512 << 10, false},
		{"100MB", 100 << 20, false},
		{"1gb", 1 << 30, false},
		{" 2 MB ", 2 << 20, false},
		{"", 0, true},
		{"MB", 0, true},
		{"10TB", 0, true},
		{"12", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func writeSnapshot(t *testing.T, dir string, created time.Time) string {
	t.Helper()
	path := GeneratePath(dir, created)
	if _, err := writeFile(path, &Snapshot{CreatedAt: created}); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestListAndPrune(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	var written []string
	for i := 1; i <= 4; i++ {
		written = append(written, writeSnapshot(t, dir, now.Add(-time.Duration(i)*time.Hour)))
	}
	junk := filepath.Join(dir, filePrefix+"junk"+fileSuffix)
	if err := os.WriteFile(junk, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	list, err := List(dir)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("List() returned %d entries, want 5", len(list))
	}
	var readable int
	for _, b := range list {
		if b.Readable {
			readable++
		}
	}
	if readable != 4 {
		t.Errorf("%d readable snapshots, want 4", readable)
	}

	deleted, err := Prune(dir, AgePolicy{MaxAge: 150 * time.Minute}, now)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	for _, gone := range written[2:] {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("%s should have been pruned", filepath.Base(gone))
		}
	}
	for _, kept := range written[:2] {
		if _, err := os.Stat(kept); err != nil {
			t.Errorf("%s should have been kept: %v", filepath.Base(kept), err)
		}
	}
	if len(deleted) < 2 {
		t.Errorf("deleted %v, want at least the two old snapshots", deleted)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Error("unrelated file was removed")
	}
}

func TestList_MissingDir(t *testing.T) {
	list, err := List(filepath.Join(t.TempDir(), "absent"))
	if err != nil || list != nil {
		t.Errorf("List() = %v, %v; want nil, nil", list, err)
	}
}
