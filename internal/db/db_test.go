package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "herald.db")

	database, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Migrations are idempotent
	if err := database.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	for _, table := range []string{"users", "templates", "campaigns", "send_logs", "settings"} {
		var name string
		err := database.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMemoryDatabase(t *testing.T) {
	database, err := New(MemoryPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if _, err := database.Exec("INSERT INTO settings (key, value) VALUES ('k', 'v')"); err != nil {
		t.Fatalf("insert error = %v", err)
	}

	var value string
	if err := database.QueryRow("SELECT value FROM settings WHERE key = 'k'").Scan(&value); err != nil {
		t.Fatalf("select error = %v", err)
	}
	if value != "v" {
		t.Errorf("value = %q, want v", value)
	}
}
