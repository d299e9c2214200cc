package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/kandev/schaltwerk/internal/agent"
	"github.com/kandev/schaltwerk/internal/gitops"
)

// Namer abstracts the out-of-scope agent-name-generation LLM call
// (spec.md §1 OUT OF SCOPE "agent-name-generation LLM calls"; §4.5
// Name-generation mode). The engine only needs the agent's raw stdout
// back — sanitizing it into a candidate name (agent.FirstCandidateLine)
// and acting on it (GenerateName below) stays in this package.
type Namer interface {
	ProposeName(ctx context.Context, worktreePath string) (string, error)
}

// NoopNamer is the default Namer for headless/test use: it never
// proposes a name, so GenerateName always falls through to clearing
// pending_name_generation without renaming anything.
type NoopNamer struct{}

func (NoopNamer) ProposeName(ctx context.Context, worktreePath string) (string, error) {
	return "", nil
}

// GenerateName runs spec.md §4.5's name-generation mode for a session
// whose PendingNameGeneration flag is set: invokes namer, sanitizes the
// first candidate line, and — on a valid candidate — sets display_name
// and renames the branch from <prefix>/<old> to <prefix>/<sanitized>
// with worktree re-checkout. Designed to be launched as a fire-and-forget
// background task (spec.md §9 "Agent-name-generation tasks are
// fire-and-forget"): the caller re-acquires the Engine from the
// process-wide project manager rather than holding one across the call,
// so a cancelled session's resources aren't kept alive by this task.
func (e *Engine) GenerateName(ctx context.Context, repoPath, name, branchPrefix string, namer Namer) error {
	var resultErr error
	e.repoLocks.withRepoLock(repoPath, func() {
		resultErr = e.generateNameLocked(ctx, repoPath, name, branchPrefix, namer)
	})
	return resultErr
}

func (e *Engine) generateNameLocked(ctx context.Context, repoPath, name, branchPrefix string, namer Namer) error {
	sess, err := e.store.GetSessionByName(ctx, repoPath, name)
	if err != nil {
		return err
	}
	if !sess.PendingNameGeneration {
		return nil
	}

	fail := func(logErr error) error {
		sess.PendingNameGeneration = false
		if updErr := e.store.UpdateSession(ctx, sess); updErr != nil {
			return updErr
		}
		if logErr != nil {
			e.logger.Debug("name generation did not produce a rename", zap.String("session", name), zap.Error(logErr))
		}
		return nil
	}

	raw, err := namer.ProposeName(ctx, sess.WorktreePath)
	if err != nil {
		return fail(err)
	}

	candidate := agent.FirstCandidateLine(raw)
	if candidate == "" {
		return fail(nil)
	}

	oldBranch := sess.Branch
	newBranch := gitops.BranchName(branchPrefix, candidate)
	if oldBranch == "" || newBranch == oldBranch {
		return fail(nil)
	}

	if err := e.git.RenameBranch(ctx, repoPath, oldBranch, newBranch); err != nil {
		return fail(err)
	}
	if sess.WorktreePath != "" {
		if err := e.git.UpdateWorktreeBranch(ctx, sess.WorktreePath, newBranch); err != nil {
			e.logger.Warn("worktree re-checkout onto renamed branch failed", zap.String("session", name), zap.Error(err))
		}
	}

	display := candidate
	sess.DisplayName = &display
	sess.Branch = newBranch
	sess.PendingNameGeneration = false
	return e.store.UpdateSession(ctx, sess)
}
