package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations_SortsAndFilters(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"010_reports.sql": "SELECT 10;",
		"001_ledger.sql":  "CREATE TABLE beds (id UUID PRIMARY KEY);",
		"002_indexes.sql": "SELECT 2;",
		"readme.sql":      "-- no version",
		"abc_invalid.sql": "-- non-numeric",
		"notes.txt":       "not sql",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_ledger.sql" {
		t.Errorf("expected 001_ledger.sql, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE beds (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_a.sql":  "SELECT 1;",
		"0001_b.sql": "SELECT 1;",
	})
	if _, err := NewMigrator(nil, dir).LoadMigrations(); err == nil {
		t.Error("expected error for duplicate version")
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	if _, err := NewMigrator(nil, filepath.Join(t.TempDir(), "missing")).LoadMigrations(); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestPendingAndStatus(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_ledger.sql"},
		{Version: 2, Name: "002_indexes.sql"},
	}
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	done := map[int]time.Time{1: at}

	p := pending(migrations, done)
	if len(p) != 1 || p[0].Version != 2 {
		t.Fatalf("expected only version 2 pending, got %+v", p)
	}

	st := statusOf(migrations, done)
	if !st[0].Applied || st[0].AppliedAt == nil || !st[0].AppliedAt.Equal(at) {
		t.Errorf("expected version 1 applied at %v, got %+v", at, st[0])
	}
	if st[1].Applied || st[1].AppliedAt != nil {
		t.Errorf("expected version 2 pending, got %+v", st[1])
	}
}

func TestLoadMigrations_RepositoryDir(t *testing.T) {
	migrations, err := NewMigrator(nil, filepath.Join("..", "..", "..", "migrations")).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) < 2 || migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Fatalf("expected migrations 1 and 2 first, got %+v", migrations)
	}
	if !strings.Contains(migrations[1].SQL, "position") {
		t.Error("expected 002 to add the invoice item position column")
	}
}
