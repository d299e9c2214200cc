package gitops

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// IsAncestor reports whether sessionBranch is already an ancestor of (or
// equal to) parentBranch — i.e. the session has no commits ahead of parent
// (spec.md §4.3 is_up_to_date: "revwalk from session hiding parent is
// empty"). Uses go-git's MergeBase, mirroring the pack's own rebase
// implementation's ancestor-detection idiom.
func (g *GitOps) IsAncestor(ctx context.Context, worktreePath, sessionBranch, parentBranch string) (bool, error) {
	repo, err := git.PlainOpenWithOptions(worktreePath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrNotGitRepo, err)
	}

	sessionHash, err := repo.ResolveRevision(plumbing.Revision(sessionBranch))
	if err != nil {
		return false, fmt.Errorf("failed to resolve %q: %w", sessionBranch, err)
	}
	parentHash, err := repo.ResolveRevision(plumbing.Revision(parentBranch))
	if err != nil {
		return false, fmt.Errorf("failed to resolve %q: %w", parentBranch, err)
	}

	sessionCommit, err := repo.CommitObject(*sessionHash)
	if err != nil {
		return false, err
	}
	parentCommit, err := repo.CommitObject(*parentHash)
	if err != nil {
		return false, err
	}

	bases, err := parentCommit.MergeBase(sessionCommit)
	if err != nil {
		return false, fmt.Errorf("failed to find merge base: %w", err)
	}
	if len(bases) == 0 {
		return false, fmt.Errorf("no common ancestor between %s and %s", sessionBranch, parentBranch)
	}

	return bases[0].Hash == sessionCommit.Hash, nil
}

// AssessMergeConflicts attempts the merge in a disposable scratch worktree
// cut from parentBranch and observes whether it conflicts, per spec.md §8
// invariant 7 ("has_conflicts is true iff a real merge would fail, verified
// by attempting the merge"). The attempt is always aborted and the scratch
// worktree removed, so this never mutates the caller's state.
func (g *GitOps) AssessMergeConflicts(ctx context.Context, worktreePath, sessionBranch, parentBranch string) (bool, []string, error) {
	repoRoot, err := g.RepoRootForWorktree(ctx, worktreePath)
	if err != nil {
		return false, nil, err
	}

	scratchPath := filepath.Join(repoRoot, ".schaltwerk", "merge-scratch", sanitizeScratchName(sessionBranch))
	if _, err := runGit(ctx, repoRoot, "worktree", "add", "--detach", scratchPath, parentBranch); err != nil {
		return false, nil, err
	}
	defer func() {
		_ = g.WorktreeRemove(ctx, repoRoot, scratchPath)
	}()

	_, mergeErr := runGit(ctx, scratchPath, "merge", "--no-commit", "--no-ff", sessionBranch)
	if mergeErr == nil {
		_, _ = runGit(ctx, scratchPath, "merge", "--abort")
		return false, nil, nil
	}

	statusOut, statusErr := runGit(ctx, scratchPath, "status", "--porcelain")
	if statusErr != nil {
		_, _ = runGit(ctx, scratchPath, "merge", "--abort")
		return false, nil, statusErr
	}

	var conflictPaths []string
	for _, line := range strings.Split(strings.TrimRight(statusOut, "\n"), "\n") {
		if len(line) < 3 {
			continue
		}
		code := line[:2]
		if code == "UU" || code == "AA" || code == "DU" || code == "UD" || code == "AU" || code == "UA" {
			conflictPaths = append(conflictPaths, strings.TrimSpace(line[3:]))
		}
	}

	_, _ = runGit(ctx, scratchPath, "merge", "--abort")

	return len(conflictPaths) > 0, conflictPaths, nil
}

func sanitizeScratchName(branch string) string {
	return strings.NewReplacer("/", "-", "@", "-", "{", "-", "}", "-").Replace(branch)
}

// RebaseOnto rebases the worktree's current branch onto parentBranch.
func (g *GitOps) RebaseOnto(ctx context.Context, worktreePath, parentBranch string) error {
	_, err := runGit(ctx, worktreePath, "rebase", parentBranch)
	return err
}

// AbortRebase aborts an in-progress rebase; best-effort, the caller is
// already on an error path (spec.md §4.3: aborted on any failure after a
// rebase started).
func (g *GitOps) AbortRebase(ctx context.Context, worktreePath string) error {
	_, err := runGit(ctx, worktreePath, "rebase", "--abort")
	return err
}

// ResetSoft resets the worktree's current branch to ref, keeping the index
// and working tree untouched (the squash path's `git reset --soft`).
func (g *GitOps) ResetSoft(ctx context.Context, worktreePath, ref string) error {
	_, err := runGit(ctx, worktreePath, "reset", "--soft", ref)
	return err
}

// ResolveRef resolves ref to its commit OID inside worktreePath.
func (g *GitOps) ResolveRef(ctx context.Context, worktreePath, ref string) (string, error) {
	out, err := runGit(ctx, worktreePath, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// FastForwardRef advances branch in repoRoot to newOID, refusing if newOID
// is not a descendant of the branch's current target (spec.md §4.3 Failure
// semantics: "guards against lost commits"). Uses go-git's reference
// storer directly for an atomic compare-and-swap, this corpus's substitute
// for the libgit2 reference-manipulation call.
func (g *GitOps) FastForwardRef(ctx context.Context, repoRoot, branch, newOID string) error {
	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotGitRepo, err)
	}

	refName := plumbing.NewBranchReferenceName(branch)
	currentRef, err := repo.Reference(refName, true)
	if err != nil {
		return fmt.Errorf("failed to resolve ref %s: %w", branch, err)
	}

	newHash := plumbing.NewHash(newOID)
	newCommit, err := repo.CommitObject(newHash)
	if err != nil {
		return fmt.Errorf("failed to resolve new OID %s: %w", newOID, err)
	}
	currentCommit, err := repo.CommitObject(currentRef.Hash())
	if err != nil {
		return fmt.Errorf("failed to resolve current target of %s: %w", branch, err)
	}

	if currentCommit.Hash != newCommit.Hash {
		bases, err := currentCommit.MergeBase(newCommit)
		if err != nil {
			return fmt.Errorf("failed to verify fast-forward ancestry: %w", err)
		}
		descendant := false
		for _, base := range bases {
			if base.Hash == currentCommit.Hash {
				descendant = true
				break
			}
		}
		if !descendant {
			return ErrNotFastForward
		}
	}

	newRef := plumbing.NewHashReference(refName, newHash)
	if err := repo.Storer.CheckAndSetReference(newRef, currentRef); err != nil {
		return fmt.Errorf("failed to update ref %s: %w", branch, err)
	}
	return nil
}

// RepoRootForWorktree resolves the main repository path a linked worktree
// belongs to, via `git rev-parse --git-common-dir` (the common-dir is
// <repo>/.git for both the main checkout and any of its worktrees).
func (g *GitOps) RepoRootForWorktree(ctx context.Context, worktreePath string) (string, error) {
	gitCommonDir, err := runGit(ctx, worktreePath, "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return "", err
	}
	commonDir := strings.TrimSpace(gitCommonDir)
	if filepath.Base(commonDir) != ".git" {
		return "", fmt.Errorf("unexpected git-common-dir %q", commonDir)
	}
	return filepath.Dir(commonDir), nil
}
