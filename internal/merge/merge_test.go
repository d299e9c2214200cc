package merge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/schaltwerk/internal/apperr"
	"github.com/kandev/schaltwerk/internal/gitops"
)

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func runInDir(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.com")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, string(out))
	return string(out)
}

func newTestRepoWithSession(t *testing.T) (repo, worktreePath, branch string) {
	t.Helper()
	repo = t.TempDir()
	runInDir(t, repo, "init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("hello\n"), 0o644))
	runInDir(t, repo, "add", "-A")
	runInDir(t, repo, "commit", "-m", "initial commit")

	g := gitops.New()
	ctx := context.Background()
	branch = "schaltwerk/feature"
	worktreePath = gitops.WorktreePath(repo, "feature")
	require.NoError(t, g.WorktreeAdd(ctx, repo, branch, worktreePath, "main"))
	return repo, worktreePath, branch
}

func TestPreviewReportsUpToDateWithNoCommits(t *testing.T) {
	_, wtPath, branch := newTestRepoWithSession(t)
	engine := New(gitops.New())

	preview, err := engine.Preview(context.Background(), wtPath, branch, "main", "feat: nothing yet")
	require.NoError(t, err)
	assert.True(t, preview.IsUpToDate)
	assert.False(t, preview.HasConflicts)
}

func TestMergeSquashProducesSingleCommitAndFastForwardsParent(t *testing.T) {
	repo, wtPath, branch := newTestRepoWithSession(t)

	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "feature.txt"), []byte("line1\nline2\n"), 0o644))
	runInDir(t, wtPath, "add", "-A")
	runInDir(t, wtPath, "commit", "-m", "wip: feature commit one")
	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "feature.txt"), []byte("line1\nline2\nline3\n"), 0o644))
	runInDir(t, wtPath, "add", "-A")
	runInDir(t, wtPath, "commit", "-m", "wip: feature commit two")

	engine := New(gitops.New())
	ctx := context.Background()

	preview, err := engine.Preview(ctx, wtPath, branch, "main", "feat: add feature")
	require.NoError(t, err)
	assert.False(t, preview.IsUpToDate)
	assert.False(t, preview.HasConflicts)

	result, err := engine.Merge(ctx, "feature", wtPath, branch, "main", Squash, "feat: add feature")
	require.NoError(t, err)
	assert.Equal(t, Squash, result.Mode)

	log := runInDir(t, repo, "log", "--oneline", "-1", "main")
	assert.Contains(t, log, "feat: add feature")

	content, err := os.ReadFile(filepath.Join(repo, "feature.txt"))
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\nline3\n", string(content))

	mainHead := trimNewline(runInDir(t, repo, "rev-parse", "main"))
	assert.Equal(t, mainHead, trimNewline(runInDir(t, repo, "rev-parse", branch)))
}

func TestMergeReapplyFastForwardsWithoutNewCommit(t *testing.T) {
	repo, wtPath, branch := newTestRepoWithSession(t)

	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "feature.txt"), []byte("content\n"), 0o644))
	runInDir(t, wtPath, "add", "-A")
	runInDir(t, wtPath, "commit", "-m", "feature: add file")
	sessionHead := trimNewline(runInDir(t, wtPath, "rev-parse", "HEAD"))

	engine := New(gitops.New())
	ctx := context.Background()

	result, err := engine.Merge(ctx, "feature", wtPath, branch, "main", Reapply, "")
	require.NoError(t, err)
	assert.Equal(t, sessionHead, result.NewParentOID)

	mainHead := trimNewline(runInDir(t, repo, "rev-parse", "main"))
	assert.Equal(t, sessionHead, mainHead)
}

func TestMergeRejectsUncommittedChanges(t *testing.T) {
	_, wtPath, branch := newTestRepoWithSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "dirty.txt"), []byte("x\n"), 0o644))

	engine := New(gitops.New())
	_, err := engine.Merge(context.Background(), "feature", wtPath, branch, "main", Squash, "msg")
	require.Error(t, err)
	assert.Equal(t, apperr.Precondition, apperr.KindOf(err))
}

func TestMergeRejectsWhenAlreadyRunning(t *testing.T) {
	_, wtPath, branch := newTestRepoWithSession(t)
	engine := New(gitops.New())

	alreadyActive := engine.markActive("feature")
	require.False(t, alreadyActive)
	defer engine.clearActive("feature")

	_, err := engine.Merge(context.Background(), "feature", wtPath, branch, "main", Squash, "msg")
	require.Error(t, err)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestMergeDetectsConflictPrecondition(t *testing.T) {
	repo, wtPath, branch := newTestRepoWithSession(t)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("main edit\n"), 0o644))
	runInDir(t, repo, "add", "-A")
	runInDir(t, repo, "commit", "-m", "edit on main")

	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "README.md"), []byte("session edit\n"), 0o644))
	runInDir(t, wtPath, "add", "-A")
	runInDir(t, wtPath, "commit", "-m", "edit on session")

	engine := New(gitops.New())
	ctx := context.Background()

	preview, err := engine.Preview(ctx, wtPath, branch, "main", "feat: conflict")
	require.NoError(t, err)
	assert.True(t, preview.HasConflicts)
	assert.Contains(t, preview.ConflictingPaths, "README.md")

	_, err = engine.Merge(ctx, "feature", wtPath, branch, "main", Squash, "feat: conflict")
	require.Error(t, err)
	assert.Equal(t, apperr.Precondition, apperr.KindOf(err))
}
