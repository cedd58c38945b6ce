package autofill

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is a single schema change.
type migration struct {
	version     int
	description string
	up          string
}

var migrations = []migration{
	{
		version:     1,
		description: "sealed autofill values keyed by context and hint",
		up: `
CREATE TABLE IF NOT EXISTS autofill_values (
    context_id   TEXT NOT NULL,
    hint         TEXT NOT NULL,
    seal_version INTEGER NOT NULL,
    nonce        BLOB NOT NULL,
    value        BLOB NOT NULL,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,
    PRIMARY KEY (context_id, hint)
);

CREATE INDEX IF NOT EXISTS idx_autofill_values_hint
    ON autofill_values(hint, updated_at);
`,
	},
}

// migrate applies pending migrations in order.
func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("autofill: create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("autofill: get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("autofill: begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.up); err != nil {
			tx.Rollback()
			return fmt.Errorf("autofill: apply migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.version, time.Now().UnixNano(), m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("autofill: record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("autofill: commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
