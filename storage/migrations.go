package storage

import (
	"context"
	"fmt"
)

// migration holds a single schema migration with its target version and SQL.
// Statements must be valid for both SQLite and PostgreSQL.
type migration struct {
	version    int
	statements []string
}

// migrations is the ordered list of schema migrations.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS boards (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS board_columns (
	id       TEXT PRIMARY KEY,
	title    TEXT NOT NULL,
	board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
	position INTEGER NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS cards (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	content      TEXT,
	category_tag TEXT,
	color        TEXT,
	status       TEXT NOT NULL DEFAULT 'todo',
	due_date     TIMESTAMP,
	completed_at TIMESTAMP,
	position     INTEGER NOT NULL,
	column_id    TEXT NOT NULL REFERENCES board_columns(id) ON DELETE CASCADE,
	created_at   TIMESTAMP NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_boards_user_updated ON boards(user_id, updated_at)`,
			`CREATE INDEX IF NOT EXISTS idx_columns_board_position ON board_columns(board_id, position)`,
			`CREATE INDEX IF NOT EXISTS idx_cards_column_position ON cards(column_id, position)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_cards_status_due ON cards(status, due_date)`,
		},
	},
}

// migrate checks the current schema version and applies any outstanding
// migrations in order, each in its own transaction.
func (s *Storage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Storage) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO schema_version (version) VALUES (?)`), m.version); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration.
func (s *Storage) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}
