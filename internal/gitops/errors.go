// Package gitops implements the git integration layer (spec.md §4.2): thin,
// blocking procedures around the git binary, plus go-git (this corpus's
// substitute for the libgit2 calls the spec's original implementation
// makes — see DESIGN.md) for the fast-stats and ancestor-check paths where
// atomicity and speed matter more than shelling out.
package gitops

import "errors"

var (
	// ErrNotGitRepo is returned when a path is not a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrBranchNotFound is returned when a branch does not exist.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrWorktreeNotFound is returned when a worktree directory or
	// registration is missing.
	ErrWorktreeNotFound = errors.New("worktree not found")

	// ErrNoCommits is returned when a repository has no commits yet, so no
	// branch can be cut from it (spec.md §4.1 step 4).
	ErrNoCommits = errors.New("repository has no commits")

	// ErrGitCommandFailed is returned when a git subprocess exits non-zero;
	// the combined stderr/stdout is embedded in the wrapping error message.
	ErrGitCommandFailed = errors.New("git command failed")

	// ErrNotFastForward guards the fast-forward ref update used by the
	// merge engine: refuses if the new OID is not a descendant of the
	// current ref target (spec.md §4.3).
	ErrNotFastForward = errors.New("update is not a fast-forward")
)
