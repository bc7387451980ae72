package db

import (
	"fmt"
)

// Migration is a single ordered schema change.
type Migration struct {
	Version    int
	Statements []string
}

// migrations holds the full schema history for the queue store, applied in
// version order. New schema changes append a new entry; existing entries are
// never edited once shipped.
var migrations = []Migration{
	{
		Version: 1,
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS operations (
				id            TEXT NOT NULL PRIMARY KEY,
				object_type   TEXT NOT NULL,
				object_id     TEXT NOT NULL,
				kind          TEXT NOT NULL CHECK (kind IN ('create','update','delete')),
				priority      INTEGER NOT NULL DEFAULT 1,
				payload       TEXT NOT NULL DEFAULT '{}',
				version       INTEGER NOT NULL DEFAULT 0,
				retry_count   INTEGER NOT NULL DEFAULT 0,
				max_retries   INTEGER NOT NULL DEFAULT 3,
				scheduled_at  INTEGER NOT NULL,
				created_at    INTEGER NOT NULL
			)`,
			// One pending record per target object. Enqueue-time merging
			// depends on this index; it is the store-level guarantee behind
			// the single-pending-record invariant.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_operations_merge_key
				ON operations (object_type, object_id)`,
			`CREATE INDEX IF NOT EXISTS idx_operations_due
				ON operations (scheduled_at, priority)`,
		},
	},
}

// RunMigrations applies all pending migrations to the store.
func RunMigrations(db *DB) error {
	if err := createSchemaTable(db); err != nil {
		return fmt.Errorf("failed to create schema table: %w", err)
	}

	current, err := CurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}

		if err := applyMigration(db, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// CurrentVersion returns the highest applied migration version, 0 when the
// store is fresh.
func CurrentVersion(db *DB) (int, error) {
	var version int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// createSchemaTable creates the migration bookkeeping table if missing.
func createSchemaTable(db *DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER NOT NULL PRIMARY KEY,
			applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		)
	`)
	return err
}

// applyMigration runs one migration's statements and records its version in
// a single transaction.
func applyMigration(db *DB, migration Migration) error {
	return db.WithTransaction(func(tx *Tx) error {
		for _, stmt := range migration.Statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, migration.Version); err != nil {
			return err
		}

		return nil
	})
}
