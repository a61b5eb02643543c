package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is a versioned set of statements applied on top of the base
// schema. Versions run at most once and are recorded in schema_migrations.
type migration struct {
	version int
	stmts   []string
}

// migrations must stay append-only and sorted by version. The base schema in
// schemaStatements is idempotent, so version 1 only marks the starting point
// for databases created before the migration table existed.
var migrations = []migration{
	{version: 1},
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		var count int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version,
		).Scan(&count); err != nil {
			return fmt.Errorf("config: check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("config: begin migration %d: %w", m.version, err)
		}

		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("config: apply migration %d statement %q: %w", m.version, abbreviate(stmt), err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES (?)`, m.version,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("config: record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("config: commit migration %d: %w", m.version, err)
		}
	}

	return nil
}
