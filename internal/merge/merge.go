// Package merge implements the merge engine (spec.md §4.3): preview plus
// squash/reapply merge, guarded by a per-session single-flight lock and a
// hard wall-clock timeout. The fast-forward ancestor guard and the
// up-to-date check use go-git/go-git/v5, this corpus's substitute for the
// spec's libgit2 calls (see DESIGN.md); conflict pre-assessment runs a real
// `git merge --no-commit` in a scratch worktree.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kandev/schaltwerk/internal/apperr"
	"github.com/kandev/schaltwerk/internal/common/constants"
	"github.com/kandev/schaltwerk/internal/gitops"
)

// Mode selects how a session's commits are folded onto its parent branch.
type Mode string

const (
	// Squash rebases the session onto parent, resets soft, and commits a
	// single new commit with the given message.
	Squash Mode = "squash"
	// Reapply rebases the session onto parent and fast-forwards parent to
	// the session's HEAD without creating a new commit.
	Reapply Mode = "reapply"
)

// Preview is the read-only result of a dry-run merge assessment
// (spec.md §4.3).
type Preview struct {
	SessionBranch        string
	ParentBranch         string
	SquashCommands       []string
	ReapplyCommands      []string
	DefaultCommitMessage string
	HasConflicts         bool
	ConflictingPaths     []string
	IsUpToDate           bool
}

// Result is returned by a successful Merge.
type Result struct {
	NewParentOID string
	Mode         Mode
}

// Engine runs merge previews and merges against worktrees managed by
// gitops.GitOps, serialized per session name.
type Engine struct {
	git    *gitops.GitOps
	group  singleflight.Group
	mu     sync.Mutex
	active map[string]bool
}

// New constructs a merge Engine over an existing GitOps instance — the
// engine never shells out to git directly except through it.
func New(git *gitops.GitOps) *Engine {
	return &Engine{git: git, active: make(map[string]bool)}
}

const maxConflictPaths = 5
const maxPreconditionPaths = 3

// Preview computes the merge preview for a session worktree without
// mutating anything (spec.md §4.3 Preview).
func (e *Engine) Preview(ctx context.Context, worktreePath, sessionBranch, parentBranch, commitMessage string) (*Preview, error) {
	if parentBranch == "" {
		return nil, apperr.New(apperr.Precondition, "parent branch is empty")
	}

	upToDate, err := e.git.IsAncestor(ctx, worktreePath, sessionBranch, parentBranch)
	if err != nil {
		return nil, apperr.Wrap(apperr.Git, err, "failed to compare %s against %s", sessionBranch, parentBranch)
	}

	hasConflicts, conflictPaths, err := e.git.AssessMergeConflicts(ctx, worktreePath, sessionBranch, parentBranch)
	if err != nil {
		return nil, apperr.Wrap(apperr.Git, err, "failed conflict pre-assessment for %s into %s", sessionBranch, parentBranch)
	}
	if len(conflictPaths) > maxConflictPaths {
		conflictPaths = conflictPaths[:maxConflictPaths]
	}

	return &Preview{
		SessionBranch: sessionBranch,
		ParentBranch:  parentBranch,
		SquashCommands: []string{
			fmt.Sprintf("git rebase %s", parentBranch),
			fmt.Sprintf("git reset --soft %s", parentBranch),
			fmt.Sprintf("git commit -m %q", commitMessage),
		},
		ReapplyCommands: []string{
			fmt.Sprintf("git rebase %s", parentBranch),
		},
		DefaultCommitMessage: commitMessage,
		HasConflicts:         hasConflicts,
		ConflictingPaths:     conflictPaths,
		IsUpToDate:           upToDate,
	}, nil
}

// Merge runs the merge with preconditions enforced, serialized per
// sessionName via a single-flight group and bounded by
// constants.MergeTimeout (spec.md §4.3 Concurrency & timeout).
func (e *Engine) Merge(ctx context.Context, sessionName, worktreePath, sessionBranch, parentBranch string, mode Mode, commitMessage string) (*Result, error) {
	type outcome struct {
		result *Result
		err    error
	}

	if e.markActive(sessionName) {
		return nil, apperr.New(apperr.Conflict, "merge already running for session %q", sessionName)
	}
	defer e.clearActive(sessionName)

	v, err, _ := e.group.Do(sessionName, func() (any, error) {
		mergeCtx, cancel := context.WithTimeout(ctx, constants.MergeTimeout)
		defer cancel()

		result, err := e.runMerge(mergeCtx, worktreePath, sessionBranch, parentBranch, mode, commitMessage)
		return outcome{result: result, err: err}, nil
	})
	if err != nil {
		return nil, err
	}
	o := v.(outcome)
	return o.result, o.err
}

func (e *Engine) markActive(sessionName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		e.active = make(map[string]bool)
	}
	if e.active[sessionName] {
		return true
	}
	e.active[sessionName] = true
	return false
}

func (e *Engine) clearActive(sessionName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, sessionName)
}

func (e *Engine) runMerge(ctx context.Context, worktreePath, sessionBranch, parentBranch string, mode Mode, commitMessage string) (*Result, error) {
	dirty, err := e.git.HasUncommitted(ctx, worktreePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.Git, err, "failed to check worktree status")
	}
	if dirty {
		paths, _ := e.git.UncommittedPaths(ctx, worktreePath, maxPreconditionPaths)
		return nil, apperr.New(apperr.Precondition, "worktree has uncommitted changes").WithPaths(paths)
	}

	upToDate, err := e.git.IsAncestor(ctx, worktreePath, sessionBranch, parentBranch)
	if err != nil {
		return nil, apperr.Wrap(apperr.Git, err, "failed to compare %s against %s", sessionBranch, parentBranch)
	}
	if upToDate {
		return nil, apperr.New(apperr.Precondition, "session %q has no commits ahead of %s", sessionBranch, parentBranch)
	}

	hasConflicts, conflictPaths, err := e.git.AssessMergeConflicts(ctx, worktreePath, sessionBranch, parentBranch)
	if err != nil {
		return nil, apperr.Wrap(apperr.Git, err, "failed conflict pre-assessment")
	}
	if hasConflicts {
		if len(conflictPaths) > maxConflictPaths {
			conflictPaths = conflictPaths[:maxConflictPaths]
		}
		return nil, apperr.New(apperr.Precondition, "merge would conflict on %d path(s)", len(conflictPaths)).WithPaths(conflictPaths)
	}

	if err := e.git.RebaseOnto(ctx, worktreePath, parentBranch); err != nil {
		_ = e.git.AbortRebase(ctx, worktreePath)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.New(apperr.Timeout, "merge exceeded %s", constants.MergeTimeout)
		}
		return nil, apperr.Wrap(apperr.Git, err, "rebase of %s onto %s failed", sessionBranch, parentBranch)
	}

	switch mode {
	case Squash:
		if err := e.git.ResetSoft(ctx, worktreePath, parentBranch); err != nil {
			_ = e.git.AbortRebase(ctx, worktreePath)
			return nil, apperr.Wrap(apperr.Git, err, "reset --soft %s failed", parentBranch)
		}
		if err := e.git.CommitAll(ctx, worktreePath, commitMessage); err != nil {
			return nil, apperr.Wrap(apperr.Git, err, "squash commit failed")
		}
	case Reapply:
		// rebase already left HEAD at the rebased tip; nothing further to commit.
	default:
		return nil, apperr.New(apperr.Validation, "unknown merge mode %q", mode)
	}

	newHead, err := e.git.ResolveRef(ctx, worktreePath, "HEAD")
	if err != nil {
		return nil, apperr.Wrap(apperr.Git, err, "failed to resolve new HEAD")
	}

	repoRoot, err := e.git.RepoRootForWorktree(ctx, worktreePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.Git, err, "failed to resolve main repository for worktree %s", worktreePath)
	}

	if err := e.git.FastForwardRef(ctx, repoRoot, parentBranch, newHead); err != nil {
		return nil, apperr.Wrap(apperr.Git, err, "fast-forward of %s to %s failed", parentBranch, newHead)
	}

	return &Result{NewParentOID: newHead, Mode: mode}, nil
}
