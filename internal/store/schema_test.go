package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitSchema_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), DBFile)
	for i := 0; i < 2; i++ {
		s, err := OpenSQLiteStore(dbPath)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		v, err := schemaVersion(context.Background(), s.db)
		if err != nil {
			t.Fatal(err)
		}
		if v != SchemaVersion {
			t.Errorf("open %d: schema version = %d, want %d", i, v, SchemaVersion)
		}
		var rows int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&rows); err != nil {
			t.Fatal(err)
		}
		if rows != len(migrations) {
			t.Errorf("open %d: %d schema_version rows, want %d", i, rows, len(migrations))
		}
		s.Close()
	}
}

func TestInitSchema_RejectsNewerDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), DBFile)
	s, err := OpenSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, err = OpenSQLiteStore(dbPath)
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Errorf("OpenSQLiteStore() error = %v, want newer-version error", err)
	}
}

func TestSchemaVersion_EmptyTable(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	v, err := schemaVersion(context.Background(), db)
	if err != nil || v != 0 {
		t.Errorf("schemaVersion() = %d, %v; want 0, nil", v, err)
	}
}
