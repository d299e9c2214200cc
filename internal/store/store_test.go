package store

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kandev/schaltwerk/internal/apperr"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	conn, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	st, err := NewSQLiteStore(conn)
	require.NoError(t, err)
	return st
}

func newTestSession(name string) *Session {
	return &Session{
		ID:              "sess-" + name,
		Name:            name,
		RepositoryPath:  "/repo",
		RepositoryName:  "repo",
		Branch:          "schaltwerk/" + name,
		ParentBranch:    "main",
		WorktreePath:    "/repo/.schaltwerk/worktrees/" + name,
		Status:          StatusActive,
		SessionState:    StateRunning,
		ResumeAllowed:   true,
	}
}

func TestCreateAndGetSessionByID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession("alpha")
	require.NoError(t, st.CreateSession(ctx, sess))

	got, err := st.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, StateRunning, got.SessionState)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCreateSessionDuplicateNameConflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := newTestSession("beta")
	require.NoError(t, st.CreateSession(ctx, first))

	second := newTestSession("beta")
	second.ID = "sess-beta-2"
	err := st.CreateSession(ctx, second)
	require.Error(t, err)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestGetSessionByIDNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetSessionByID(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestNameExists(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	exists, err := st.NameExists(ctx, "/repo", "gamma")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, st.CreateSession(ctx, newTestSession("gamma")))

	exists, err = st.NameExists(ctx, "/repo", "gamma")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListSessionsExcludesCancelled(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	running := newTestSession("delta")
	require.NoError(t, st.CreateSession(ctx, running))

	cancelled := newTestSession("epsilon")
	cancelled.Status = StatusCancelled
	require.NoError(t, st.CreateSession(ctx, cancelled))

	sessions, err := st.ListSessions(ctx, "/repo")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "delta", sessions[0].Name)
}

func TestUpdateSessionTransitionsState(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession("zeta")
	require.NoError(t, st.CreateSession(ctx, sess))

	sess.SessionState = StateReviewed
	sess.ReadyToMerge = true
	require.NoError(t, st.UpdateSession(ctx, sess))

	got, err := st.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateReviewed, got.SessionState)
	assert.True(t, got.ReadyToMerge)
}

func TestUpdateSessionNotFound(t *testing.T) {
	st := newTestStore(t)
	sess := newTestSession("ghost")
	err := st.UpdateSession(context.Background(), sess)
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestUpsertAndGetGitStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession("eta")
	require.NoError(t, st.CreateSession(ctx, sess))

	stats := &GitStats{
		SessionID:    sess.ID,
		FilesChanged: 3,
		LinesAdded:   42,
		LinesRemoved: 7,
	}
	require.NoError(t, st.UpsertGitStats(ctx, stats))

	got, err := st.GetGitStats(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.FilesChanged)
	assert.Equal(t, 42, got.LinesAdded)

	// Upsert again with different numbers overwrites rather than duplicating.
	stats.FilesChanged = 5
	require.NoError(t, st.UpsertGitStats(ctx, stats))
	got, err = st.GetGitStats(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.FilesChanged)
}

func TestGetGitStatsMissingReturnsNilNoError(t *testing.T) {
	st := newTestStore(t)
	got, err := st.GetGitStats(context.Background(), "no-such-session")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGitStatsFreshness(t *testing.T) {
	stale := &GitStats{CalculatedAt: time.Now().Add(-2 * time.Minute)}
	assert.False(t, stale.IsFresh(60*time.Second, time.Now()))

	fresh := &GitStats{CalculatedAt: time.Now().Add(-10 * time.Second)}
	assert.True(t, fresh.IsFresh(60*time.Second, time.Now()))
}

func TestProjectConfigDefaultsWhenMissing(t *testing.T) {
	st := newTestStore(t)
	cfg, err := st.GetProjectConfig(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Equal(t, "schaltwerk", cfg.BranchPrefix)
	assert.Equal(t, "all", cfg.SessionFilterMode)
	assert.Equal(t, "squash", cfg.MergePreferences.DefaultMode)
}

func TestProjectConfigUpsertRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cfg := defaultProjectConfig("/repo")
	cfg.SetupScript = "npm install"
	cfg.EnvironmentVariables["FOO"] = "bar"
	cfg.ActionButtons = append(cfg.ActionButtons, ActionButton{Label: "Run tests", Prompt: "run the test suite"})
	cfg.MergePreferences.AutoCommitOnMerge = true

	require.NoError(t, st.UpsertProjectConfig(ctx, cfg))

	got, err := st.GetProjectConfig(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, "npm install", got.SetupScript)
	assert.Equal(t, "bar", got.EnvironmentVariables["FOO"])
	require.Len(t, got.ActionButtons, 1)
	assert.Equal(t, "Run tests", got.ActionButtons[0].Label)
	assert.True(t, got.MergePreferences.AutoCommitOnMerge)
}

func TestAppConfigSingletonSeededAndUpdatable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cfg, err := st.GetAppConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ID)
	assert.Equal(t, "claude", cfg.DefaultAgentType)

	cfg.DefaultAgentType = "codex"
	cfg.SkipPermissions = true
	require.NoError(t, st.UpdateAppConfig(ctx, cfg))

	got, err := st.GetAppConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "codex", got.DefaultAgentType)
	assert.True(t, got.SkipPermissions)
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, migrate(conn.DB))
	require.NoError(t, migrate(conn.DB))
}
