package gitops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAncestorDetectsUpToDate(t *testing.T) {
	g := New()
	ctx := context.Background()
	repo := newTestRepo(t)

	wtPath := WorktreePath(repo, "ancestor")
	require.NoError(t, g.WorktreeAdd(ctx, repo, "schaltwerk/ancestor", wtPath, "main"))

	upToDate, err := g.IsAncestor(ctx, wtPath, "schaltwerk/ancestor", "main")
	require.NoError(t, err)
	assert.True(t, upToDate, "fresh worktree should have no commits ahead of its base")

	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "extra.txt"), []byte("x\n"), 0o644))
	runInDir(t, wtPath, "add", "-A")
	runInDir(t, wtPath, "commit", "-m", "extra commit")

	upToDate, err = g.IsAncestor(ctx, wtPath, "schaltwerk/ancestor", "main")
	require.NoError(t, err)
	assert.False(t, upToDate)
}

func TestAssessMergeConflictsCleanAndConflicting(t *testing.T) {
	g := New()
	ctx := context.Background()
	repo := newTestRepo(t)

	cleanWt := WorktreePath(repo, "clean")
	require.NoError(t, g.WorktreeAdd(ctx, repo, "schaltwerk/clean", cleanWt, "main"))
	require.NoError(t, os.WriteFile(filepath.Join(cleanWt, "clean.txt"), []byte("clean\n"), 0o644))
	runInDir(t, cleanWt, "add", "-A")
	runInDir(t, cleanWt, "commit", "-m", "add clean.txt")

	hasConflicts, paths, err := g.AssessMergeConflicts(ctx, cleanWt, "schaltwerk/clean", "main")
	require.NoError(t, err)
	assert.False(t, hasConflicts)
	assert.Empty(t, paths)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("main line\n"), 0o644))
	runInDir(t, repo, "add", "-A")
	runInDir(t, repo, "commit", "-m", "edit on main")

	conflictWt := WorktreePath(repo, "conflict")
	require.NoError(t, g.WorktreeAdd(ctx, repo, "schaltwerk/conflict", conflictWt, "main~1"))
	require.NoError(t, os.WriteFile(filepath.Join(conflictWt, "README.md"), []byte("session line\n"), 0o644))
	runInDir(t, conflictWt, "add", "-A")
	runInDir(t, conflictWt, "commit", "-m", "edit on session")

	hasConflicts, paths, err = g.AssessMergeConflicts(ctx, conflictWt, "schaltwerk/conflict", "main")
	require.NoError(t, err)
	assert.True(t, hasConflicts)
	assert.Contains(t, paths, "README.md")

	// Aborting the scratch merge must not have left the conflict worktree dirty.
	dirty, err := g.HasUncommitted(ctx, conflictWt)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestFastForwardRefAcceptsDescendantRejectsDivergent(t *testing.T) {
	g := New()
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "a.txt"), []byte("a\n"), 0o644))
	runInDir(t, repo, "add", "-A")
	runInDir(t, repo, "commit", "-m", "commit a")
	descendantOID := trimNewline(runInDir(t, repo, "rev-parse", "HEAD"))

	runInDir(t, repo, "checkout", "-b", "side", "HEAD~1")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "b.txt"), []byte("b\n"), 0o644))
	runInDir(t, repo, "add", "-A")
	runInDir(t, repo, "commit", "-m", "commit b")
	divergentOID := trimNewline(runInDir(t, repo, "rev-parse", "HEAD"))
	runInDir(t, repo, "checkout", "main")

	err := g.FastForwardRef(ctx, repo, "main", divergentOID)
	assert.ErrorIs(t, err, ErrNotFastForward)

	runInDir(t, repo, "reset", "--hard", "HEAD~1")
	err = g.FastForwardRef(ctx, repo, "main", descendantOID)
	require.NoError(t, err)
	assert.Equal(t, descendantOID, trimNewline(runInDir(t, repo, "rev-parse", "main")))
}

func TestRepoRootForWorktreeResolvesMainRepo(t *testing.T) {
	g := New()
	ctx := context.Background()
	repo := newTestRepo(t)

	wtPath := WorktreePath(repo, "rootcheck")
	require.NoError(t, g.WorktreeAdd(ctx, repo, "schaltwerk/rootcheck", wtPath, "main"))

	root, err := g.RepoRootForWorktree(ctx, wtPath)
	require.NoError(t, err)

	repoAbs, err := filepath.EvalSymlinks(repo)
	require.NoError(t, err)
	rootAbs, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, repoAbs, rootAbs)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
