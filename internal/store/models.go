// Package store implements the persistent store (spec.md §4.6): sessions,
// cached git stats, per-repository project config, and the singleton app
// config, all behind a single SQLite database per project. Mirrors the
// teacher's worktree store in shape (upsert-on-conflict writes, db.Rebind
// placeholder handling, scan-row helpers) adapted to this domain's tables.
package store

import "time"

// SessionStatus is the coarse lifecycle bucket of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCancelled SessionStatus = "cancelled"
	StatusSpec      SessionStatus = "spec"
)

// SessionState is the finer-grained state within an active session.
type SessionState string

const (
	StateSpec     SessionState = "spec"
	StateRunning  SessionState = "running"
	StateReviewed SessionState = "reviewed"
)

// Session is the central entity of spec.md §3.
type Session struct {
	ID                      string     `db:"id"`
	Name                    string     `db:"name"`
	DisplayName             *string    `db:"display_name"`
	VersionGroupID          *string    `db:"version_group_id"`
	VersionNumber           *int       `db:"version_number"`
	RepositoryPath          string     `db:"repository_path"`
	RepositoryName          string     `db:"repository_name"`
	Branch                  string     `db:"branch"`
	ParentBranch            string     `db:"parent_branch"`
	WorktreePath            string     `db:"worktree_path"`
	Status                  SessionStatus `db:"status"`
	SessionState            SessionState  `db:"session_state"`
	ReadyToMerge            bool       `db:"ready_to_merge"`
	InitialPrompt           *string    `db:"initial_prompt"`
	SpecContent             *string    `db:"spec_content"`
	OriginalAgentType       *string    `db:"original_agent_type"`
	OriginalSkipPermissions bool       `db:"original_skip_permissions"`
	PendingNameGeneration   bool       `db:"pending_name_generation"`
	WasAutoGenerated        bool       `db:"was_auto_generated"`
	ResumeAllowed           bool       `db:"resume_allowed"`
	CreatedAt               time.Time  `db:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at"`
	LastActivity            time.Time  `db:"last_activity"`
}

// GitStats is the cached per-session change summary (spec.md §3, §4.2).
type GitStats struct {
	SessionID      string    `db:"session_id"`
	FilesChanged   int       `db:"files_changed"`
	LinesAdded     int       `db:"lines_added"`
	LinesRemoved   int       `db:"lines_removed"`
	HasUncommitted bool      `db:"has_uncommitted"`
	CalculatedAt   time.Time `db:"calculated_at"`
}

// IsFresh reports whether the cached stats are still within the
// freshness window (constants.GitStatsFreshness).
func (g *GitStats) IsFresh(freshness time.Duration, now time.Time) bool {
	if g == nil {
		return false
	}
	return now.Sub(g.CalculatedAt) < freshness
}

// ActionButton is a user-defined prompt shortcut surfaced by the UI shell.
type ActionButton struct {
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

// MergePreferences holds a project's default merge-engine choices.
type MergePreferences struct {
	DefaultMode       string `json:"default_mode"` // "squash" | "reapply"
	AutoCommitOnMerge bool   `json:"auto_commit_on_merge"`
}

// ProjectConfig is per-repository configuration (spec.md §3), keyed by
// canonicalized repository path.
type ProjectConfig struct {
	RepositoryPath       string            `db:"repository_path"`
	SetupScript          string            `db:"setup_script"`
	BranchPrefix         string            `db:"branch_prefix"`
	EnvironmentVariables map[string]string `db:"-"`
	EnvironmentVariablesJSON string        `db:"environment_variables"`
	ActionButtons        []ActionButton    `db:"-"`
	ActionButtonsJSON    string            `db:"action_buttons"`
	RunScript            string            `db:"run_script"`
	LastSelection        string            `db:"last_selection"`
	SessionFilterMode    string            `db:"session_filter_mode"`
	SessionSortMode      string            `db:"session_sort_mode"`
	MergePreferences     MergePreferences  `db:"-"`
	MergePreferencesJSON string            `db:"merge_preferences"`
}

// AppConfig is the singleton global-settings row (spec.md §3).
type AppConfig struct {
	ID                int    `db:"id"`
	DefaultAgentType  string `db:"default_agent_type"`
	SkipPermissions   bool   `db:"skip_permissions"`
	TerminalFontSize  int    `db:"terminal_font_size"`
	UIFontSize        int    `db:"ui_font_size"`
	DefaultOpenApp    string `db:"default_open_app"`
	DefaultBaseBranch string `db:"default_base_branch"`
}
