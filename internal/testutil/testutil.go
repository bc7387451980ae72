// Package testutil provides shared helpers for exercising the sync engine
// against an in-memory store.
package testutil

import (
	"io"
	"log/slog"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arborapp/localsync/internal/db"
)

// NewTestLogger returns a logger that discards everything below error.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// NewTestDB opens a migrated in-memory database that closes with the test.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return database
}
