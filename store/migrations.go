package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// journalStep upgrades the journal schema by one version. The base tables
// come from schemaSQL, so version 1 carries no statements.
type journalStep struct {
	version int
	note    string
	stmts   []string
}

// Append only; a shipped step is never edited.
var migrations = []journalStep{
	{version: 1, note: "journal tables"},
	{
		version: 2,
		note:    "chat turn duration",
		stmts:   []string{"ALTER TABLE chat_log ADD COLUMN duration_ms INTEGER NOT NULL DEFAULT 0"},
	},
	{
		version: 3,
		note:    "recent turns lookup",
		stmts:   []string{"CREATE INDEX IF NOT EXISTS idx_chat_log_project ON chat_log(project_id, created_at)"},
	},
}

const versionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	description TEXT,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// SchemaVersion returns the newest applied journal version, or 0 for a
// fresh database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	return v, err
}

// Migrate brings the journal up to the newest version. Each step commits
// together with its schema_version row.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, versionTableSQL); err != nil {
		return fmt.Errorf("store: version table: %w", err)
	}
	have, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("store: reading journal version: %w", err)
	}

	applied := 0
	for _, step := range migrations {
		if step.version <= have {
			continue
		}
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range step.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_version (version, description) VALUES (?, ?)", step.version, step.note)
			return err
		})
		if err != nil {
			return fmt.Errorf("store: journal v%d (%s): %w", step.version, step.note, err)
		}
		applied++
	}
	if applied > 0 {
		slog.Info("store: journal upgraded", "from", have, "to", migrations[len(migrations)-1].version)
	}
	return nil
}
