package facade

import (
	"context"

	"go.uber.org/zap"

	"github.com/kandev/schaltwerk/internal/apperr"
	"github.com/kandev/schaltwerk/internal/project"
	"github.com/kandev/schaltwerk/internal/session"
	"github.com/kandev/schaltwerk/internal/store"
)

// EnrichedSession is the facade's wire shape for session.Enriched
// (spec.md §4.1 list_enriched).
type EnrichedSession = session.Enriched

// CreateSessionRequest is the slim request spec.md §6 describes for
// session CRUD's create member: name, an optional initial prompt, an
// optional explicit base branch, and whether the name was
// auto-generated (drives the background rename flow, spec.md §4.5).
type CreateSessionRequest struct {
	RepositoryPath   string
	Name             string
	InitialPrompt    string
	BaseBranch       string
	WasAutoGenerated bool
}

// CreateSession runs spec.md §4.1 create_session, filling in the
// project/app settings (branch prefix, setup script, default agent
// type, skip_permissions) the bare request doesn't carry.
func (f *Facade) CreateSession(ctx context.Context, req CreateSessionRequest) (*store.Session, error) {
	p, err := f.resolveProject(req.RepositoryPath)
	if err != nil {
		return nil, err
	}
	pc, ac, err := f.settingsForCreate(ctx, p)
	if err != nil {
		return nil, err
	}

	sess, err := p.Sessions.CreateSession(ctx, session.CreateParams{
		RepositoryPath:   p.Path,
		RepositoryName:   repositoryName(p.Path),
		Name:             req.Name,
		InitialPrompt:    req.InitialPrompt,
		BaseBranch:       req.BaseBranch,
		WasAutoGenerated: req.WasAutoGenerated,
		AgentType:        ac.DefaultAgentType,
		SkipPermissions:  ac.SkipPermissions,
		BranchPrefix:     pc.BranchPrefix,
		SetupScript:      pc.SetupScript,
	})
	if err != nil {
		return nil, err
	}
	f.refreshAfterChange(ctx, p)
	return sess, nil
}

// CreateSpec runs spec.md §4.1 create_spec.
func (f *Facade) CreateSpec(ctx context.Context, repoPath, name, specContent string) (*store.Session, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	sess, err := p.Sessions.CreateSpec(ctx, p.Path, repositoryName(p.Path), name, specContent)
	if err != nil {
		return nil, err
	}
	f.refreshAfterChange(ctx, p)
	return sess, nil
}

// StartSpec runs spec.md §4.1 start_spec.
func (f *Facade) StartSpec(ctx context.Context, repoPath, name, baseBranch string) (*store.Session, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	pc, ac, err := f.settingsForCreate(ctx, p)
	if err != nil {
		return nil, err
	}
	sess, err := p.Sessions.StartSpec(ctx, p.Path, name, baseBranch, pc.BranchPrefix, pc.SetupScript, ac.DefaultAgentType, ac.SkipPermissions)
	if err != nil {
		return nil, err
	}
	f.refreshAfterChange(ctx, p)
	return sess, nil
}

// ConvertToSpec runs spec.md §4.1 convert_to_spec.
func (f *Facade) ConvertToSpec(ctx context.Context, repoPath, name string) (*store.Session, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	sess, err := p.Sessions.ConvertToSpec(ctx, p.Path, name)
	if err != nil {
		return nil, err
	}
	f.refreshAfterChange(ctx, p)
	return sess, nil
}

// Cancel runs spec.md §4.1 cancel, then marks any PTY terminals registered
// to the session as suspended, which stops their output events. The
// terminal processes themselves are left running; Cancel does not close them.
func (f *Facade) Cancel(ctx context.Context, repoPath, name string) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	sess, lookupErr := p.Store.GetSessionByName(ctx, p.Path, name)

	pc, err := p.Store.GetProjectConfig(ctx, p.Path)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to load project config for %q", p.Path)
	}
	if err := p.Sessions.Cancel(ctx, p.Path, name, pc.BranchPrefix); err != nil {
		return err
	}

	if lookupErr == nil && sess != nil {
		p.Terminals.SuspendSessionTerminals(p.Path, sess.ID)
	}
	f.refreshAfterChange(ctx, p)
	return nil
}

// MarkReviewed runs spec.md §4.1 mark_reviewed.
func (f *Facade) MarkReviewed(ctx context.Context, repoPath, name string, autoCommit bool) (*store.Session, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	sess, err := p.Sessions.MarkReviewed(ctx, p.Path, name, autoCommit)
	if err != nil {
		return nil, err
	}
	f.refreshAfterChange(ctx, p)
	return sess, nil
}

// UnmarkReviewed runs spec.md §4.1 unmark_reviewed.
func (f *Facade) UnmarkReviewed(ctx context.Context, repoPath, name string) (*store.Session, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	sess, err := p.Sessions.UnmarkReviewed(ctx, p.Path, name)
	if err != nil {
		return nil, err
	}
	f.refreshAfterChange(ctx, p)
	return sess, nil
}

// RenameSpec runs spec.md §4.1 rename_spec.
func (f *Facade) RenameSpec(ctx context.Context, repoPath, oldName, newName string) (*store.Session, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	sess, err := p.Sessions.RenameSpec(ctx, p.Path, oldName, newName)
	if err != nil {
		return nil, err
	}
	f.refreshAfterChange(ctx, p)
	return sess, nil
}

// List runs spec.md §4.1 list_enriched.
func (f *Facade) List(ctx context.Context, repoPath string, filter session.FilterMode, sort session.SortMode) ([]EnrichedSession, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	return p.Sessions.ListEnriched(ctx, p.Path, filter, sort)
}

// ListByState is List with FilterMode derived from a session.SessionState
// instead of a bare FilterMode, matching spec.md §6's list_by_state family
// member.
func (f *Facade) ListByState(ctx context.Context, repoPath string, state store.SessionState, sort session.SortMode) ([]EnrichedSession, error) {
	filter := session.FilterAll
	switch state {
	case store.StateSpec:
		filter = session.FilterSpec
	case store.StateRunning:
		filter = session.FilterRunning
	case store.StateReviewed:
		filter = session.FilterReviewed
	}
	return f.List(ctx, repoPath, filter, sort)
}

// Get runs spec.md §6's get: a single session lookup by name.
func (f *Facade) Get(ctx context.Context, repoPath, name string) (*store.Session, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	return p.Store.GetSessionByName(ctx, p.Path, name)
}

// refreshAfterChange re-lists and publishes sessions-refreshed (spec.md
// §6 emitted events). Listing failures are logged, not surfaced: the
// mutating operation that triggered this already succeeded and should
// not be reported as failed because the follow-up refresh had trouble.
func (f *Facade) refreshAfterChange(ctx context.Context, p *project.Project) {
	enriched, err := p.Sessions.ListEnriched(ctx, p.Path, session.FilterAll, session.SortCreated)
	if err != nil {
		f.logger.Debug("sessions-refreshed listing failed", zap.String("project", p.Path), zap.Error(err))
		return
	}
	f.publishSessionsRefreshed(ctx, p, enriched)
}
