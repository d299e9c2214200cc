package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/schaltwerk/internal/apperr"
)

// Store is the persistence contract used by the session lifecycle engine,
// the merge engine, and the command facade. One Store instance is owned by
// exactly one Project (spec.md §3 Ownership).
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSessionByID(ctx context.Context, id string) (*Session, error)
	GetSessionByName(ctx context.Context, repositoryPath, name string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, repositoryPath string) ([]*Session, error)
	NameExists(ctx context.Context, repositoryPath, name string) (bool, error)

	UpsertGitStats(ctx context.Context, g *GitStats) error
	GetGitStats(ctx context.Context, sessionID string) (*GitStats, error)

	GetProjectConfig(ctx context.Context, repositoryPath string) (*ProjectConfig, error)
	UpsertProjectConfig(ctx context.Context, c *ProjectConfig) error

	GetAppConfig(ctx context.Context) (*AppConfig, error)
	UpdateAppConfig(ctx context.Context, c *AppConfig) error
}

// SQLiteStore implements Store on top of a single sqlite3 database file.
// The underlying *sql.DB is opened with MaxOpenConns(1) (internal/db.OpenSQLite),
// so the connection pool itself serializes every read and write — the single
// mutexed connection spec.md §5 calls for, without a separate lock.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps an already-open sqlx.DB and applies pending schema
// migrations. The caller owns the underlying *sql.DB lifecycle (opened via
// internal/db.OpenSQLite).
func NewSQLiteStore(conn *sqlx.DB) (*SQLiteStore, error) {
	if err := migrate(conn.DB); err != nil {
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

// CreateSession inserts a new session row. Fails with a Conflict error if
// (name, repository_path) already exists — the lifecycle engine is expected
// to have resolved name collisions before calling this (spec.md §4.1 step 1).
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	if sess.LastActivity.IsZero() {
		sess.LastActivity = now
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sessions (
			id, name, display_name, version_group_id, version_number,
			repository_path, repository_name, branch, parent_branch, worktree_path,
			status, session_state, ready_to_merge, initial_prompt, spec_content,
			original_agent_type, original_skip_permissions, pending_name_generation,
			was_auto_generated, resume_allowed, created_at, updated_at, last_activity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		sess.ID, sess.Name, sess.DisplayName, sess.VersionGroupID, sess.VersionNumber,
		sess.RepositoryPath, sess.RepositoryName, sess.Branch, sess.ParentBranch, sess.WorktreePath,
		sess.Status, sess.SessionState, sess.ReadyToMerge, sess.InitialPrompt, sess.SpecContent,
		sess.OriginalAgentType, sess.OriginalSkipPermissions, sess.PendingNameGeneration,
		sess.WasAutoGenerated, sess.ResumeAllowed, sess.CreatedAt, sess.UpdatedAt, sess.LastActivity,
	)
	if isUniqueConstraintErr(err) {
		return apperr.New(apperr.Conflict, "session %q already exists in %s", sess.Name, sess.RepositoryPath)
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to insert session %s", sess.ID)
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

const sessionColumns = `
	id, name, display_name, version_group_id, version_number,
	repository_path, repository_name, branch, parent_branch, worktree_path,
	status, session_state, ready_to_merge, initial_prompt, spec_content,
	original_agent_type, original_skip_permissions, pending_name_generation,
	was_auto_generated, resume_allowed, created_at, updated_at, last_activity
`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	sess := &Session{}
	err := row.Scan(
		&sess.ID, &sess.Name, &sess.DisplayName, &sess.VersionGroupID, &sess.VersionNumber,
		&sess.RepositoryPath, &sess.RepositoryName, &sess.Branch, &sess.ParentBranch, &sess.WorktreePath,
		&sess.Status, &sess.SessionState, &sess.ReadyToMerge, &sess.InitialPrompt, &sess.SpecContent,
		&sess.OriginalAgentType, &sess.OriginalSkipPermissions, &sess.PendingNameGeneration,
		&sess.WasAutoGenerated, &sess.ResumeAllowed, &sess.CreatedAt, &sess.UpdatedAt, &sess.LastActivity,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSessionByID returns a session by its UUID, or nil if not found.
func (s *SQLiteStore) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to query session %s", id)
	}
	if sess == nil {
		return nil, apperr.New(apperr.NotFound, "session %s not found", id)
	}
	return sess, nil
}

// GetSessionByName returns a non-cancelled session by (repository_path, name).
func (s *SQLiteStore) GetSessionByName(ctx context.Context, repositoryPath, name string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE repository_path = ? AND name = ? AND status != ?
	`), repositoryPath, name, StatusCancelled)
	sess, err := scanSession(row)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to query session %s", name)
	}
	if sess == nil {
		return nil, apperr.New(apperr.NotFound, "session %q not found", name)
	}
	return sess, nil
}

// NameExists reports whether an active (non-cancelled) session with the
// given name already exists in the repository, for the create_session
// collision-suffixing loop (spec.md §4.1 step 1).
func (s *SQLiteStore) NameExists(ctx context.Context, repositoryPath, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT COUNT(1) FROM sessions WHERE repository_path = ? AND name = ? AND status != ?
	`), repositoryPath, name, StatusCancelled).Scan(&count)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, err, "failed to check name collision for %q", name)
	}
	return count > 0, nil
}

// UpdateSession writes every mutable field back, bumping updated_at.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sessions SET
			name = ?, display_name = ?, version_group_id = ?, version_number = ?,
			repository_name = ?, branch = ?, parent_branch = ?, worktree_path = ?,
			status = ?, session_state = ?, ready_to_merge = ?, initial_prompt = ?, spec_content = ?,
			original_agent_type = ?, original_skip_permissions = ?, pending_name_generation = ?,
			was_auto_generated = ?, resume_allowed = ?, updated_at = ?, last_activity = ?
		WHERE id = ?
	`),
		sess.Name, sess.DisplayName, sess.VersionGroupID, sess.VersionNumber,
		sess.RepositoryName, sess.Branch, sess.ParentBranch, sess.WorktreePath,
		sess.Status, sess.SessionState, sess.ReadyToMerge, sess.InitialPrompt, sess.SpecContent,
		sess.OriginalAgentType, sess.OriginalSkipPermissions, sess.PendingNameGeneration,
		sess.WasAutoGenerated, sess.ResumeAllowed, sess.UpdatedAt, sess.LastActivity,
		sess.ID,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to update session %s", sess.ID)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.New(apperr.NotFound, "session %s not found", sess.ID)
	}
	return nil
}

// DeleteSession hard-deletes a session row. The lifecycle engine never
// calls this for cancel (which sets status=cancelled and keeps the row for
// audit); it exists for callers that genuinely need to purge history.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to delete session %s", id)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.New(apperr.NotFound, "session %s not found", id)
	}
	return nil
}

// ListSessions returns every non-cancelled session for a repository, newest
// first. Callers enrich with GitStats (list_enriched, spec.md §4.1).
func (s *SQLiteStore) ListSessions(ctx context.Context, repositoryPath string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE repository_path = ? AND status != ?
		ORDER BY created_at DESC
	`), repositoryPath, StatusCancelled)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to list sessions for %s", repositoryPath)
	}
	defer func() { _ = rows.Close() }()

	var result []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "failed to scan session row")
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

// UpsertGitStats writes (or refreshes) the cached change summary for a
// session.
func (s *SQLiteStore) UpsertGitStats(ctx context.Context, g *GitStats) error {
	if g.CalculatedAt.IsZero() {
		g.CalculatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO git_stats (session_id, files_changed, lines_added, lines_removed, has_uncommitted, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			files_changed = excluded.files_changed,
			lines_added = excluded.lines_added,
			lines_removed = excluded.lines_removed,
			has_uncommitted = excluded.has_uncommitted,
			calculated_at = excluded.calculated_at
	`), g.SessionID, g.FilesChanged, g.LinesAdded, g.LinesRemoved, g.HasUncommitted, g.CalculatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to upsert git stats for session %s", g.SessionID)
	}
	return nil
}

// GetGitStats returns the cached stats for a session, or nil if none have
// been computed yet.
func (s *SQLiteStore) GetGitStats(ctx context.Context, sessionID string) (*GitStats, error) {
	g := &GitStats{}
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT session_id, files_changed, lines_added, lines_removed, has_uncommitted, calculated_at
		FROM git_stats WHERE session_id = ?
	`), sessionID).Scan(&g.SessionID, &g.FilesChanged, &g.LinesAdded, &g.LinesRemoved, &g.HasUncommitted, &g.CalculatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to query git stats for session %s", sessionID)
	}
	return g, nil
}

// GetProjectConfig returns a repository's configuration, seeded with
// defaults if no row exists yet.
func (s *SQLiteStore) GetProjectConfig(ctx context.Context, repositoryPath string) (*ProjectConfig, error) {
	c := &ProjectConfig{}
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT repository_path, setup_script, branch_prefix, environment_variables,
			action_buttons, run_script, last_selection, session_filter_mode,
			session_sort_mode, merge_preferences
		FROM project_config WHERE repository_path = ?
	`), repositoryPath).Scan(
		&c.RepositoryPath, &c.SetupScript, &c.BranchPrefix, &c.EnvironmentVariablesJSON,
		&c.ActionButtonsJSON, &c.RunScript, &c.LastSelection, &c.SessionFilterMode,
		&c.SessionSortMode, &c.MergePreferencesJSON,
	)
	if err == sql.ErrNoRows {
		return defaultProjectConfig(repositoryPath), nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to query project config for %s", repositoryPath)
	}
	if err := c.unmarshalJSONFields(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to decode project config for %s", repositoryPath)
	}
	return c, nil
}

func defaultProjectConfig(repositoryPath string) *ProjectConfig {
	return &ProjectConfig{
		RepositoryPath:       repositoryPath,
		BranchPrefix:         "schaltwerk",
		EnvironmentVariables: map[string]string{},
		ActionButtons:        []ActionButton{},
		SessionFilterMode:    "all",
		SessionSortMode:      "name",
		MergePreferences:     MergePreferences{DefaultMode: "squash"},
	}
}

// unmarshalJSONFields decodes the JSON-backed columns into their typed
// fields after a scan. Empty/absent JSON decodes to the zero value.
func (c *ProjectConfig) unmarshalJSONFields() error {
	if c.EnvironmentVariables == nil {
		c.EnvironmentVariables = map[string]string{}
	}
	if c.EnvironmentVariablesJSON != "" {
		if err := json.Unmarshal([]byte(c.EnvironmentVariablesJSON), &c.EnvironmentVariables); err != nil {
			return err
		}
	}
	if c.ActionButtonsJSON != "" {
		if err := json.Unmarshal([]byte(c.ActionButtonsJSON), &c.ActionButtons); err != nil {
			return err
		}
	}
	if c.MergePreferencesJSON != "" {
		if err := json.Unmarshal([]byte(c.MergePreferencesJSON), &c.MergePreferences); err != nil {
			return err
		}
	}
	return nil
}

// marshalJSONFields encodes the typed fields into their JSON-backed columns
// before a write.
func (c *ProjectConfig) marshalJSONFields() error {
	envBytes, err := json.Marshal(c.EnvironmentVariables)
	if err != nil {
		return err
	}
	c.EnvironmentVariablesJSON = string(envBytes)

	buttonsBytes, err := json.Marshal(c.ActionButtons)
	if err != nil {
		return err
	}
	c.ActionButtonsJSON = string(buttonsBytes)

	prefsBytes, err := json.Marshal(c.MergePreferences)
	if err != nil {
		return err
	}
	c.MergePreferencesJSON = string(prefsBytes)
	return nil
}

// UpsertProjectConfig writes a repository's full configuration.
func (s *SQLiteStore) UpsertProjectConfig(ctx context.Context, c *ProjectConfig) error {
	if err := c.marshalJSONFields(); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to encode project config for %s", c.RepositoryPath)
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO project_config (
			repository_path, setup_script, branch_prefix, environment_variables,
			action_buttons, run_script, last_selection, session_filter_mode,
			session_sort_mode, merge_preferences
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository_path) DO UPDATE SET
			setup_script = excluded.setup_script,
			branch_prefix = excluded.branch_prefix,
			environment_variables = excluded.environment_variables,
			action_buttons = excluded.action_buttons,
			run_script = excluded.run_script,
			last_selection = excluded.last_selection,
			session_filter_mode = excluded.session_filter_mode,
			session_sort_mode = excluded.session_sort_mode,
			merge_preferences = excluded.merge_preferences
	`), c.RepositoryPath, c.SetupScript, c.BranchPrefix, c.EnvironmentVariablesJSON,
		c.ActionButtonsJSON, c.RunScript, c.LastSelection, c.SessionFilterMode,
		c.SessionSortMode, c.MergePreferencesJSON)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to upsert project config for %s", c.RepositoryPath)
	}
	return nil
}

// GetAppConfig returns the singleton app_config row (id=1), which migrate()
// guarantees exists.
func (s *SQLiteStore) GetAppConfig(ctx context.Context) (*AppConfig, error) {
	c := &AppConfig{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, default_agent_type, skip_permissions, terminal_font_size,
			ui_font_size, default_open_app, default_base_branch
		FROM app_config WHERE id = 1
	`).Scan(&c.ID, &c.DefaultAgentType, &c.SkipPermissions, &c.TerminalFontSize,
		&c.UIFontSize, &c.DefaultOpenApp, &c.DefaultBaseBranch)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to query app config")
	}
	return c, nil
}

// UpdateAppConfig writes the singleton app_config row.
func (s *SQLiteStore) UpdateAppConfig(ctx context.Context, c *AppConfig) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE app_config SET
			default_agent_type = ?, skip_permissions = ?, terminal_font_size = ?,
			ui_font_size = ?, default_open_app = ?, default_base_branch = ?
		WHERE id = 1
	`), c.DefaultAgentType, c.SkipPermissions, c.TerminalFontSize,
		c.UIFontSize, c.DefaultOpenApp, c.DefaultBaseBranch)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to update app config")
	}
	return nil
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
