package store

import (
	"database/sql"
	"fmt"

	appsqlite "github.com/kandev/schaltwerk/internal/common/sqlite"
)

// baseSchema creates the four tables at their original (v1) shape. Columns
// added after v1 are applied by migrate() via EnsureColumn so that an
// existing database upgrades in place without ever dropping data
// (spec.md §4.6).
const baseSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	repository_path TEXT NOT NULL,
	repository_name TEXT NOT NULL DEFAULT '',
	branch TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'spec',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(name, repository_path)
);

CREATE TABLE IF NOT EXISTS git_stats (
	session_id TEXT PRIMARY KEY,
	files_changed INTEGER NOT NULL DEFAULT 0,
	lines_added INTEGER NOT NULL DEFAULT 0,
	lines_removed INTEGER NOT NULL DEFAULT 0,
	has_uncommitted INTEGER NOT NULL DEFAULT 0,
	calculated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS project_config (
	repository_path TEXT PRIMARY KEY,
	setup_script TEXT NOT NULL DEFAULT '',
	branch_prefix TEXT NOT NULL DEFAULT 'schaltwerk'
);

CREATE TABLE IF NOT EXISTS app_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	default_agent_type TEXT NOT NULL DEFAULT 'claude',
	skip_permissions INTEGER NOT NULL DEFAULT 0
);
`

// columnMigration adds one column to one table if it is not already present.
type columnMigration struct {
	table      string
	column     string
	definition string
}

// migrations lists every column added after the v1 baseSchema, in order.
// Each is applied idempotently via EnsureColumn (PRAGMA table_info probe +
// conditional ALTER TABLE) so re-running migrate() against an up-to-date
// database is a no-op.
var migrations = []columnMigration{
	{"sessions", "display_name", "TEXT"},
	{"sessions", "version_group_id", "TEXT"},
	{"sessions", "version_number", "INTEGER"},
	{"sessions", "parent_branch", "TEXT NOT NULL DEFAULT ''"},
	{"sessions", "worktree_path", "TEXT NOT NULL DEFAULT ''"},
	{"sessions", "session_state", "TEXT NOT NULL DEFAULT 'spec'"},
	{"sessions", "ready_to_merge", "INTEGER NOT NULL DEFAULT 0"},
	{"sessions", "initial_prompt", "TEXT"},
	{"sessions", "spec_content", "TEXT"},
	{"sessions", "original_agent_type", "TEXT"},
	{"sessions", "original_skip_permissions", "INTEGER NOT NULL DEFAULT 0"},
	{"sessions", "pending_name_generation", "INTEGER NOT NULL DEFAULT 0"},
	{"sessions", "was_auto_generated", "INTEGER NOT NULL DEFAULT 0"},
	{"sessions", "resume_allowed", "INTEGER NOT NULL DEFAULT 1"},
	{"sessions", "last_activity", "TIMESTAMP"},

	{"project_config", "environment_variables", "TEXT NOT NULL DEFAULT '{}'"},
	{"project_config", "action_buttons", "TEXT NOT NULL DEFAULT '[]'"},
	{"project_config", "run_script", "TEXT NOT NULL DEFAULT ''"},
	{"project_config", "last_selection", "TEXT NOT NULL DEFAULT ''"},
	{"project_config", "session_filter_mode", "TEXT NOT NULL DEFAULT 'all'"},
	{"project_config", "session_sort_mode", "TEXT NOT NULL DEFAULT 'name'"},
	{"project_config", "merge_preferences", "TEXT NOT NULL DEFAULT '{}'"},

	{"app_config", "terminal_font_size", "INTEGER NOT NULL DEFAULT 13"},
	{"app_config", "ui_font_size", "INTEGER NOT NULL DEFAULT 13"},
	{"app_config", "default_open_app", "TEXT NOT NULL DEFAULT ''"},
	{"app_config", "default_base_branch", "TEXT NOT NULL DEFAULT ''"},
}

const indexSchema = `
CREATE INDEX IF NOT EXISTS idx_sessions_repository_path ON sessions(repository_path);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);
`

// migrate brings db up to the current schema: base tables, then every
// column migration, then indexes (which may reference migrated columns).
func migrate(db *sql.DB) error {
	if _, err := db.Exec(baseSchema); err != nil {
		return fmt.Errorf("failed to apply base schema: %w", err)
	}
	for _, m := range migrations {
		if err := appsqlite.EnsureColumn(db, m.table, m.column, m.definition); err != nil {
			return fmt.Errorf("failed to ensure column %s.%s: %w", m.table, m.column, err)
		}
	}
	if _, err := db.Exec(indexSchema); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return ensureSingletonAppConfigRow(db)
}

// ensureSingletonAppConfigRow inserts the id=1 app_config row on first run.
func ensureSingletonAppConfigRow(db *sql.DB) error {
	_, err := db.Exec(`INSERT OR IGNORE INTO app_config (id) VALUES (1)`)
	return err
}
