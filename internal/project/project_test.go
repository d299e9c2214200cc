package project

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/schaltwerk/internal/common/config"
	"github.com/kandev/schaltwerk/internal/common/logger"
	"github.com/kandev/schaltwerk/internal/gitops"
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

func newTestRegistry(t *testing.T) *Registry {
	cfg := &config.Config{}
	cfg.Database.DataDir = t.TempDir()
	cfg.Terminal.DefaultBufferBytes = 1024
	cfg.Terminal.AgentTopBufferBytes = 4096
	return NewRegistry(logger.Default(), cfg, gitops.New(), nil)
}

func TestSwitchToConstructsAndReusesProject(t *testing.T) {
	repo := newTestRepo(t)
	reg := newTestRegistry(t)

	first, err := reg.SwitchTo(repo)
	require.NoError(t, err)
	assert.NotNil(t, first.Store)
	assert.NotNil(t, first.Terminals)

	second, err := reg.SwitchTo(repo)
	require.NoError(t, err)
	assert.Same(t, first, second)

	current, ok := reg.Current()
	require.True(t, ok)
	assert.Same(t, first, current)
}

func TestSwitchToAppendsScmExclude(t *testing.T) {
	repo := newTestRepo(t)
	reg := newTestRegistry(t)

	_, err := reg.SwitchTo(repo)
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(repo, ".git", "info", "exclude"))
	require.NoError(t, err)
	assert.Contains(t, string(contents), ".schaltwerk/")
}

func TestSwitchToIsIdempotentForScmExclude(t *testing.T) {
	repo := newTestRepo(t)
	reg := newTestRegistry(t)

	_, err := reg.SwitchTo(repo)
	require.NoError(t, err)

	delete(reg.projects, reg.current)
	reg.current = ""

	_, err = reg.SwitchTo(repo)
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(repo, ".git", "info", "exclude"))
	require.NoError(t, err)
	assert.Equal(t, 1, countOccurrences(string(contents), ".schaltwerk/"))
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
			i += len(needle) - 1
		}
	}
	return count
}

func TestGetCoreForPathResolvesWorktreeToProject(t *testing.T) {
	repo := newTestRepo(t)
	reg := newTestRegistry(t)

	proj, err := reg.SwitchTo(repo)
	require.NoError(t, err)

	worktreePath := filepath.Join(repo, "sub", "dir")
	require.NoError(t, os.MkdirAll(worktreePath, 0o755))

	found, ok := reg.GetCoreForPath(worktreePath)
	require.True(t, ok)
	assert.Same(t, proj, found)
}

func TestGetCoreForPathMissesUnknownPath(t *testing.T) {
	reg := newTestRegistry(t)
	_, ok := reg.GetCoreForPath(t.TempDir())
	assert.False(t, ok)
}

func TestCleanupAllClosesEveryProject(t *testing.T) {
	repoA := newTestRepo(t)
	repoB := newTestRepo(t)
	reg := newTestRegistry(t)

	_, err := reg.SwitchTo(repoA)
	require.NoError(t, err)
	_, err = reg.SwitchTo(repoB)
	require.NoError(t, err)

	assert.NotPanics(t, func() { reg.CleanupAll() })
}
