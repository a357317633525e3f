package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id INTEGER NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		action_type TEXT NOT NULL,
		config TEXT NOT NULL,
		dependencies TEXT,
		timeout_seconds INTEGER,
		detached INTEGER NOT NULL DEFAULT 0 CHECK (detached IN (0, 1)),
		track_process INTEGER NOT NULL DEFAULT 1 CHECK (track_process IN (0, 1)),
		os_overrides TEXT,
		order_index INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(workspace_id, name)
	);

	CREATE TABLE IF NOT EXISTS variables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id INTEGER REFERENCES workspaces(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		is_secure INTEGER NOT NULL DEFAULT 0 CHECK (is_secure IN (0, 1)),
		enabled INTEGER NOT NULL DEFAULT 1 CHECK (enabled IN (0, 1)),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tools (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1 CHECK (enabled IN (0, 1)),
		tool_type TEXT NOT NULL CHECK (tool_type IN ('binary', 'cli')),
		template TEXT NOT NULL,
		placeholders TEXT NOT NULL DEFAULT '[]',
		category TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id INTEGER NOT NULL,
		action_id INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('success', 'failed', 'cancelled')),
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		exit_code INTEGER,
		error_message TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS running_actions (
		id TEXT PRIMARY KEY,
		workspace_id INTEGER NOT NULL,
		action_id INTEGER NOT NULL,
		action_name TEXT NOT NULL,
		process_id INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_actions_workspace ON actions(workspace_id, order_index);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_variables_scope_key ON variables(COALESCE(workspace_id, 0), key);
	CREATE INDEX IF NOT EXISTS idx_runs_action_started ON runs(action_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_workspace ON runs(workspace_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// notFound maps sql.ErrNoRows to ErrNotFound with context.
func notFound(err error, what string, key any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, key, ErrNotFound)
	}
	return err
}

func checkAffected(result sql.Result, what string, key any) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", what, key, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

// FormatTimeAgo renders t relative to now for listings.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
