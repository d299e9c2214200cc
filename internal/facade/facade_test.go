package facade

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/schaltwerk/internal/apperr"
	"github.com/kandev/schaltwerk/internal/common/config"
	"github.com/kandev/schaltwerk/internal/common/logger"
	"github.com/kandev/schaltwerk/internal/gitops"
	"github.com/kandev/schaltwerk/internal/merge"
	"github.com/kandev/schaltwerk/internal/project"
	"github.com/kandev/schaltwerk/internal/session"
	"github.com/kandev/schaltwerk/internal/store"
)

func runInDir(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.com")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, string(out))
}

func newTestRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	runInDir(t, repo, "init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("hello\n"), 0o644))
	runInDir(t, repo, "add", "-A")
	runInDir(t, repo, "commit", "-m", "initial commit")
	return repo
}

func newTestFacade(t *testing.T) *Facade {
	cfg := &config.Config{}
	cfg.Database.DataDir = t.TempDir()
	cfg.Terminal.DefaultBufferBytes = 1024
	cfg.Terminal.AgentTopBufferBytes = 4096
	git := gitops.New()
	reg := project.NewRegistry(logger.Default(), cfg, git, nil)
	t.Cleanup(reg.CleanupAll)
	return New(logger.Default(), cfg, git, reg)
}

func TestCreateSessionAndGetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	f := newTestFacade(t)
	ctx := context.Background()

	sess, err := f.CreateSession(ctx, CreateSessionRequest{
		RepositoryPath: repo,
		Name:           "my-feature",
		BaseBranch:     "main",
	})
	require.NoError(t, err)
	assert.Equal(t, "my-feature", sess.Name)
	assert.Equal(t, store.StateRunning, sess.SessionState)

	fetched, err := f.Get(ctx, repo, "my-feature")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, fetched.ID)
}

func TestListByStateFiltersSpecs(t *testing.T) {
	repo := newTestRepo(t)
	f := newTestFacade(t)
	ctx := context.Background()

	_, err := f.CreateSession(ctx, CreateSessionRequest{RepositoryPath: repo, Name: "running-one", BaseBranch: "main"})
	require.NoError(t, err)
	_, err = f.CreateSpec(ctx, repo, "a-spec", "do the thing")
	require.NoError(t, err)

	specs, err := f.ListByState(ctx, repo, store.StateSpec, session.SortCreated)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "a-spec", specs[0].Session.Name)

	running, err := f.ListByState(ctx, repo, store.StateRunning, session.SortCreated)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "running-one", running[0].Session.Name)
}

func TestMergeRejectsSessionNotReadyToMerge(t *testing.T) {
	repo := newTestRepo(t)
	f := newTestFacade(t)
	ctx := context.Background()

	_, err := f.CreateSession(ctx, CreateSessionRequest{RepositoryPath: repo, Name: "wip", BaseBranch: "main"})
	require.NoError(t, err)

	_, err = f.Merge(ctx, repo, "wip", merge.Squash, "")
	require.Error(t, err)
	assert.Equal(t, apperr.Precondition, apperr.KindOf(err))
}

func TestMergeRejectsSpecSession(t *testing.T) {
	repo := newTestRepo(t)
	f := newTestFacade(t)
	ctx := context.Background()

	_, err := f.CreateSpec(ctx, repo, "idea", "spec body")
	require.NoError(t, err)

	_, err = f.Merge(ctx, repo, "idea", merge.Squash, "")
	require.Error(t, err)
	assert.Equal(t, apperr.Precondition, apperr.KindOf(err))
}

func TestSettingsRoundTripAppAndProjectConfig(t *testing.T) {
	repo := newTestRepo(t)
	f := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, f.SetDefaultAgentType(ctx, repo, "cursor"))
	ac, err := f.GetAppConfig(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "cursor", ac.DefaultAgentType)

	require.NoError(t, f.SetBranchPrefix(ctx, repo, "feature"))
	pc, err := f.GetProjectConfig(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "feature", pc.BranchPrefix)
}

func TestSetBranchPrefixRejectsEmpty(t *testing.T) {
	repo := newTestRepo(t)
	f := newTestFacade(t)

	err := f.SetBranchPrefix(context.Background(), repo, "")
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestGenerateSessionNameDefaultsToNoopNamer(t *testing.T) {
	repo := newTestRepo(t)
	f := newTestFacade(t)
	ctx := context.Background()

	sess, err := f.CreateSession(ctx, CreateSessionRequest{
		RepositoryPath:   repo,
		Name:             "auto123",
		BaseBranch:       "main",
		WasAutoGenerated: true,
	})
	require.NoError(t, err)

	require.NoError(t, f.GenerateSessionName(ctx, repo, sess.Name, nil))

	updated, err := f.Get(ctx, repo, sess.Name)
	require.NoError(t, err)
	assert.False(t, updated.PendingNameGeneration)
	assert.Equal(t, sess.Branch, updated.Branch)
}
