package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps batch loops from tripping SQLITE_BUSY on each other.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
//
// policy_executions deliberately has no foreign key to policy_definitions:
// execution rows outlive the policy that produced them.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS policy_definitions (
  id                  INTEGER PRIMARY KEY AUTOINCREMENT,
  name                TEXT NOT NULL,
  trigger_event       TEXT NOT NULL,
  entity_type         TEXT NOT NULL DEFAULT 'Member',
  version             INTEGER NOT NULL DEFAULT 1,
  trigger_key         TEXT NOT NULL,
  context_profile     TEXT NOT NULL DEFAULT '',
  rule_set            TEXT NOT NULL,
  trigger_condition   JSON,
  on_match_actions    JSON,
  on_no_match_actions JSON,
  condition_criteria  TEXT NOT NULL DEFAULT '',
  action_type         TEXT NOT NULL DEFAULT '',
  is_active           INTEGER NOT NULL DEFAULT 1,
  rule_fingerprint    TEXT,
  created_at          TEXT NOT NULL,
  updated_at          TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS policy_executions (
  id                   INTEGER PRIMARY KEY AUTOINCREMENT,
  policy_definition_id INTEGER NOT NULL,
  entity_id            TEXT NOT NULL,
  trace_id             TEXT NOT NULL,
  status               TEXT NOT NULL,
  logs                 JSON NOT NULL,
  executed_at          TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS action_routes (
  action_type      TEXT PRIMARY KEY,
  target_url       TEXT NOT NULL,
  http_method      TEXT NOT NULL DEFAULT 'POST',
  payload_template TEXT NOT NULL DEFAULT '{}',
  auth_secret      TEXT,
  updated_at       TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS adapter_configs (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  adapter_name    TEXT NOT NULL UNIQUE,
  base_url        TEXT NOT NULL,
  auth_token      TEXT,
  api_key         TEXT,
  default_headers JSON NOT NULL DEFAULT '{}',
  is_active       INTEGER NOT NULL DEFAULT 1,
  updated_at      TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS policy_definitions_trigger_idx ON policy_definitions(trigger_event, is_active);`,
		`CREATE INDEX IF NOT EXISTS policy_executions_executed_at_idx ON policy_executions(executed_at);`,
		`CREATE INDEX IF NOT EXISTS policy_executions_policy_idx ON policy_executions(policy_definition_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
