package facade

import (
	"context"

	"github.com/kandev/schaltwerk/internal/apperr"
	"github.com/kandev/schaltwerk/internal/session"
)

// GenerateSessionName runs spec.md §4.5's name-generation mode for a
// session created with was_auto_generated=true. namer is typically a
// fire-and-forget background task's agent.Namer adapter; passing nil
// falls back to session.NoopNamer, which simply clears
// pending_name_generation without renaming anything (headless/test use).
//
// Per spec.md §9's dynamic-ownership note, callers should re-resolve the
// Facade/project from the process-wide registry immediately before this
// call rather than holding one across the background task's lifetime, so
// a session cancelled mid-generation doesn't keep its resources pinned.
func (f *Facade) GenerateSessionName(ctx context.Context, repoPath, sessionName string, namer session.Namer) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	if namer == nil {
		namer = session.NoopNamer{}
	}
	pc, err := p.Store.GetProjectConfig(ctx, p.Path)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to load project config for %q", p.Path)
	}
	if err := p.Sessions.GenerateName(ctx, p.Path, sessionName, pc.BranchPrefix, namer); err != nil {
		return err
	}
	f.refreshAfterChange(ctx, p)
	return nil
}
