package gitops

import (
	"context"
	"os/exec"
	"strings"
)

// BranchExists reports whether branch resolves inside repoPath.
func (g *GitOps) BranchExists(ctx context.Context, repoPath, branch string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", branch)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

// CurrentBranch returns the branch HEAD points at, or "" if detached/unknown.
func (g *GitOps) CurrentBranch(ctx context.Context, repoPath string) string {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// RenameBranch renames oldName to newName, used by the agent-naming flow
// when an auto-generated name is replaced with an LLM-proposed one
// (spec.md §4.5 Name-generation mode).
func (g *GitOps) RenameBranch(ctx context.Context, repoPath, oldName, newName string) error {
	_, err := runGit(ctx, repoPath, "branch", "-m", oldName, newName)
	return err
}

// ArchiveBranch renames a branch to its timestamped archive location
// instead of deleting it outright (spec.md §4.1 cancel).
func (g *GitOps) ArchiveBranch(ctx context.Context, repoPath, branch, archivedName string) error {
	_, err := runGit(ctx, repoPath, "branch", "-m", branch, archivedName)
	return err
}

// DeleteBranch force-deletes a branch. Failures are the caller's to log and
// swallow where spec.md says branch-deletion failure must not abort the
// surrounding operation (e.g. cancel).
func (g *GitOps) DeleteBranch(ctx context.Context, repoPath, branch string) error {
	_, err := runGit(ctx, repoPath, "branch", "-D", branch)
	return err
}

// DefaultBranch resolves the repository's default branch: the remote
// HEAD symref, falling back to letting git auto-detect it, then to
// main/master/first local branch (spec.md §4.2 default_branch).
func (g *GitOps) DefaultBranch(ctx context.Context, repoPath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	cmd.Dir = repoPath
	if out, err := cmd.Output(); err == nil {
		ref := strings.TrimSpace(string(out))
		return strings.TrimPrefix(ref, "refs/remotes/origin/"), nil
	}

	setHead := exec.CommandContext(ctx, "git", "remote", "set-head", "origin", "--auto")
	setHead.Dir = repoPath
	if err := setHead.Run(); err == nil {
		cmd = exec.CommandContext(ctx, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
		cmd.Dir = repoPath
		if out, err := cmd.Output(); err == nil {
			ref := strings.TrimSpace(string(out))
			return strings.TrimPrefix(ref, "refs/remotes/origin/"), nil
		}
	}

	for _, candidate := range []string{"main", "master"} {
		if g.BranchExists(ctx, repoPath, candidate) {
			return candidate, nil
		}
	}

	out, err := runGit(ctx, repoPath, "branch", "--format=%(refname:short)")
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > 0 && lines[0] != "" {
		return lines[0], nil
	}
	return "", ErrBranchNotFound
}

// UpdateWorktreeBranch switches an existing worktree onto newBranch,
// stashing and restoring any uncommitted changes around the switch
// (spec.md §4.2). If the stash pop fails, the stash is left in place and
// the caller is expected to log it — this function reports that as an
// error rather than silently discarding work.
func (g *GitOps) UpdateWorktreeBranch(ctx context.Context, worktreePath, newBranch string) error {
	dirty, err := g.HasUncommitted(ctx, worktreePath)
	if err != nil {
		return err
	}

	stashed := false
	if dirty {
		if _, err := runGit(ctx, worktreePath, "stash", "push", "--include-untracked", "-m", "schaltwerk: branch switch"); err != nil {
			return err
		}
		stashed = true
	}

	if _, err := runGit(ctx, worktreePath, "switch", newBranch); err != nil {
		return err
	}

	if stashed {
		if _, err := runGit(ctx, worktreePath, "stash", "pop"); err != nil {
			return err
		}
	}
	return nil
}

// pullBaseBranch fetches origin and returns the best ref to cut a new
// worktree from, falling back to the original ref on any failure (ported
// from the teacher's worktree manager, which treats remote sync as
// best-effort rather than a hard precondition).
func (g *GitOps) pullBaseBranch(ctx context.Context, repoPath, baseBranch string) string {
	localBranch := strings.TrimPrefix(baseBranch, "origin/")
	isRemoteRef := localBranch != baseBranch

	fetchCtx, cancel := context.WithTimeout(ctx, g.fetchTimeout)
	defer cancel()

	fetchArgs := []string{"fetch", "origin"}
	if localBranch != "" {
		fetchArgs = append(fetchArgs, localBranch)
	}
	fetchCmd := newNonInteractiveGitCmd(fetchCtx, repoPath, fetchArgs...)
	if _, err := fetchCmd.CombinedOutput(); err != nil {
		return baseBranch
	}

	if isRemoteRef {
		return "origin/" + localBranch
	}

	remoteRef := "origin/" + localBranch
	if g.CurrentBranch(ctx, repoPath) == baseBranch {
		pullCtx, cancelPull := context.WithTimeout(ctx, g.pullTimeout)
		defer cancelPull()
		pullCmd := newNonInteractiveGitCmd(pullCtx, repoPath, "pull", "--ff-only", "origin", baseBranch)
		if _, err := pullCmd.CombinedOutput(); err != nil {
			return remoteRef
		}
		return baseBranch
	}

	if g.BranchExists(ctx, repoPath, remoteRef) {
		return remoteRef
	}
	return baseBranch
}
