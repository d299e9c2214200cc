package facade

import (
	"context"
	"fmt"

	"github.com/kandev/schaltwerk/internal/apperr"
	"github.com/kandev/schaltwerk/internal/merge"
	"github.com/kandev/schaltwerk/internal/store"
)

// PreviewMerge runs spec.md §4.3/§6's merge preview.
func (f *Facade) PreviewMerge(ctx context.Context, repoPath, sessionName string) (*merge.Preview, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	sess, err := p.Store.GetSessionByName(ctx, p.Path, sessionName)
	if err != nil {
		return nil, err
	}
	if sess.WorktreePath == "" {
		return nil, apperr.New(apperr.Precondition, "session %q has no worktree", sessionName)
	}

	engine := f.mergeEngineFor(p)
	msg := fmt.Sprintf("Merge session %s", sessionName)
	return engine.Preview(ctx, sess.WorktreePath, sess.Branch, sess.ParentBranch, msg)
}

// Merge runs spec.md §4.3/§6's merge: enforces preconditions
// (session exists, state != spec, ready_to_merge, a worktree path is
// recorded), then
// delegates to the merge engine and, on success, transitions the session
// to reviewed-with-fresh-stats (spec.md §4.3 Post-success).
func (f *Facade) Merge(ctx context.Context, repoPath, sessionName string, mode merge.Mode, commitMessage string) (*merge.Result, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	sess, err := p.Store.GetSessionByName(ctx, p.Path, sessionName)
	if err != nil {
		return nil, err
	}
	if sess.SessionState == store.StateSpec {
		return nil, apperr.New(apperr.Precondition, "session %q is a spec, nothing to merge", sessionName)
	}
	if !sess.ReadyToMerge {
		return nil, apperr.New(apperr.Precondition, "session %q is not marked ready to merge", sessionName)
	}
	if sess.WorktreePath == "" {
		return nil, apperr.New(apperr.Precondition, "session %q has no worktree", sessionName)
	}

	if commitMessage == "" {
		commitMessage = fmt.Sprintf("Merge session %s", sessionName)
	}

	engine := f.mergeEngineFor(p)
	result, err := engine.Merge(ctx, sessionName, sess.WorktreePath, sess.Branch, sess.ParentBranch, mode, commitMessage)
	if err != nil {
		return nil, err
	}

	if stats, statsErr := f.git.GitStatsFast(ctx, sess.WorktreePath, sess.ParentBranch); statsErr == nil {
		_ = p.Store.UpsertGitStats(ctx, &store.GitStats{
			SessionID:      sess.ID,
			FilesChanged:   stats.FilesChanged,
			LinesAdded:     stats.LinesAdded,
			LinesRemoved:   stats.LinesRemoved,
			HasUncommitted: stats.HasUncommitted,
		})
	}

	f.refreshAfterChange(ctx, p)
	return result, nil
}
