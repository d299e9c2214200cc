package gitops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// IsGitRepo reports whether path contains a .git directory or file (the
// latter for nested worktrees).
func IsGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir() || info.Mode().IsRegular()
}

// HasCommits reports whether HEAD resolves to a commit, used to reject
// create_session against an empty repository (spec.md §4.1 step 4).
func (g *GitOps) HasCommits(ctx context.Context, repoPath string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "HEAD")
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

// WorktreeAdd creates a new worktree at path on a new branch cut from
// baseRef. If branch already exists it is deleted first (spec.md §4.2
// worktree_add).
func (g *GitOps) WorktreeAdd(ctx context.Context, repoPath, branch, path, baseRef string) error {
	if g.BranchExists(ctx, repoPath, branch) {
		if _, err := runGit(ctx, repoPath, "branch", "-D", branch); err != nil {
			return err
		}
	}
	if _, err := runGit(ctx, repoPath, "worktree", "add", "-b", branch, path, baseRef); err != nil {
		return err
	}
	return nil
}

// WorktreeRemove removes path via `git worktree remove --force`, tolerating
// "not a working tree" (the directory may already be gone), then falls back
// to a direct filesystem removal plus prune.
func (g *GitOps) WorktreeRemove(ctx context.Context, repoPath, path string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	cmd.Dir = repoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(output), "not a working tree") || strings.Contains(string(output), "is not a working tree") {
			return nil
		}
		if rmErr := forceRemoveDir(ctx, path); rmErr != nil {
			return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(output))
		}
		_, _ = runGit(ctx, repoPath, "worktree", "prune")
	}
	return nil
}

// ListWorktrees returns the paths of every worktree registered against
// repoPath (porcelain `git worktree list`).
func (g *GitOps) ListWorktrees(ctx context.Context, repoPath string) ([]string, error) {
	out, err := runGit(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// PruneWorktrees removes stale worktree administrative files for worktrees
// whose directories no longer exist.
func (g *GitOps) PruneWorktrees(ctx context.Context, repoPath string) error {
	_, err := runGit(ctx, repoPath, "worktree", "prune")
	return err
}

// IsValid checks that path is a usable worktree directory: it exists and
// its .git file points back at the parent repository (worktrees get a
// .git *file*, not a directory).
func IsValid(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	content, err := os.ReadFile(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return strings.HasPrefix(string(content), "gitdir:")
}

// forceRemoveDir removes a directory, retrying on transient failures before
// falling back to `rm -rf` (ported from the teacher: os.RemoveAll can fail
// with "directory not empty" right after another process releases files).
func forceRemoveDir(ctx context.Context, dir string) error {
	const maxRetries = 3
	const retryDelay = 200 * time.Millisecond

	for i := range maxRetries {
		if err := os.RemoveAll(dir); err == nil {
			return nil
		}
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	cmd := exec.CommandContext(ctx, "rm", "-rf", dir)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("rm -rf failed: %w (output: %s)", err, string(output))
	}
	return nil
}
