package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// GitOps holds no per-project state, only the remote-sync timeouts and the
// git-stats cache; every operation takes the repository
// or worktree path explicitly so a single instance serves every project
// (spec.md §4.7 Ownership: one store/terminal manager per project, but git
// operations are stateless procedures shared across all of them).
type GitOps struct {
	fetchTimeout time.Duration
	pullTimeout  time.Duration
	stats        *statsCache
}

// New constructs a GitOps with the teacher's default remote-sync timeouts.
func New() *GitOps {
	return &GitOps{
		fetchTimeout: 8 * time.Second,
		pullTimeout:  8 * time.Second,
		stats:        newStatsCache(),
	}
}

// newNonInteractiveGitCmd builds a git invocation that can never block on a
// credential prompt, ported verbatim from the teacher's worktree manager.
func newNonInteractiveGitCmd(ctx context.Context, repoPath string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GCM_INTERACTIVE=Never",
		"GIT_ASKPASS=echo",
		"SSH_ASKPASS=/bin/false",
		"GIT_SSH_COMMAND=ssh -oBatchMode=yes",
	)
	// After the context cancels and the process is killed, child processes
	// (e.g. credential helpers) may still hold stdout/stderr pipes open.
	// WaitDelay bounds how long CombinedOutput waits for those pipes to close.
	cmd.WaitDelay = 500 * time.Millisecond
	return cmd
}

// runGit runs git with the non-interactive environment and wraps a non-zero
// exit in ErrGitCommandFailed carrying the combined output verbatim
// (spec.md §4.2, §7 GitError).
func runGit(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := newNonInteractiveGitCmd(ctx, repoPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: git %s: %s", ErrGitCommandFailed, strings.Join(args, " "), string(output))
	}
	return string(output), nil
}

// classifyGitFallbackReason labels why a best-effort fetch/pull failed, for
// structured logging around pullBaseBranch.
func classifyGitFallbackReason(cmdErr error, cmdOutput string, ctxErr error) string {
	if errors.Is(ctxErr, context.DeadlineExceeded) || errors.Is(cmdErr, context.DeadlineExceeded) {
		return "timeout"
	}

	out := strings.ToLower(cmdOutput)
	if strings.Contains(out, "authentication failed") ||
		strings.Contains(out, "terminal prompts disabled") ||
		strings.Contains(out, "could not read username") ||
		strings.Contains(out, "username for 'https://") ||
		strings.Contains(out, "askpass") {
		return "non_interactive_auth_failed"
	}

	return "git_command_failed"
}
