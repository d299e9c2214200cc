package facade

import (
	"context"

	"github.com/kandev/schaltwerk/internal/terminal"
)

// CreateTerminal runs spec.md §6's terminal create.
func (f *Facade) CreateTerminal(ctx context.Context, repoPath, id, cwd string, env map[string]string) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	return p.Terminals.Create(id, cwd, env, 0, 0)
}

// CreateTerminalWithSize runs spec.md §6's create_with_size.
func (f *Facade) CreateTerminalWithSize(ctx context.Context, repoPath, id, cwd string, env map[string]string, cols, rows int) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	return p.Terminals.Create(id, cwd, env, cols, rows)
}

// WriteTerminal runs spec.md §6's terminal write (fire-and-forget on an
// unknown id, spec.md §4.4/§7/§9 open question 3).
func (f *Facade) WriteTerminal(ctx context.Context, repoPath, id string, data []byte) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	p.Terminals.Write(id, data)
	return nil
}

// PasteAndSubmit runs spec.md §6's paste_and_submit / §4.4 paste_and_submit.
func (f *Facade) PasteAndSubmit(ctx context.Context, repoPath, id string, payload []byte, bracketed bool) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	p.Terminals.PasteAndSubmit(id, payload, bracketed)
	return nil
}

// ResizeTerminal runs spec.md §6's terminal resize.
func (f *Facade) ResizeTerminal(ctx context.Context, repoPath, id string, cols, rows int) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	return p.Terminals.Resize(id, cols, rows)
}

// CloseTerminal runs spec.md §6's terminal close.
func (f *Facade) CloseTerminal(ctx context.Context, repoPath, id string) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	p.Terminals.Close(id)
	return nil
}

// TerminalExists runs spec.md §6's terminal exists.
func (f *Facade) TerminalExists(ctx context.Context, repoPath, id string) (bool, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return false, err
	}
	return p.Terminals.Exists(id), nil
}

// TerminalExistsBulk runs spec.md §6's exists_bulk.
func (f *Facade) TerminalExistsBulk(ctx context.Context, repoPath string, ids []string) (map[string]bool, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	return p.Terminals.ExistsBulk(ids), nil
}

// GetTerminalBuffer runs spec.md §6's get_buffer.
func (f *Facade) GetTerminalBuffer(ctx context.Context, repoPath, id string, fromSeq *uint64) (terminal.BufferSnapshot, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return terminal.BufferSnapshot{}, err
	}
	return p.Terminals.GetBuffer(id, fromSeq), nil
}

// TerminalActivityStatus runs spec.md §6's activity_status.
func (f *Facade) TerminalActivityStatus(ctx context.Context, repoPath, id string) (hasBeenActive bool, lastActivityMs int64, err error) {
	p, rerr := f.resolveProject(repoPath)
	if rerr != nil {
		return false, 0, rerr
	}
	hasBeenActive, lastActivityMs = p.Terminals.ActivityStatus(id)
	return hasBeenActive, lastActivityMs, nil
}

// AllTerminalActivity runs spec.md §6's all_activity.
func (f *Facade) AllTerminalActivity(ctx context.Context, repoPath string) (map[string]struct {
	HasBeenActive  bool
	LastActivityMs int64
}, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	return p.Terminals.AllActivity(), nil
}

// RegisterSessionTerminals runs spec.md §6's register_session_terminals.
func (f *Facade) RegisterSessionTerminals(ctx context.Context, repoPath, sessionID string, terminalIDs []string) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	p.Terminals.RegisterSessionTerminals(p.Path, sessionID, terminalIDs)
	return nil
}

// SuspendSessionTerminals runs spec.md §6's suspend_session_terminals.
func (f *Facade) SuspendSessionTerminals(ctx context.Context, repoPath, sessionID string) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	p.Terminals.SuspendSessionTerminals(p.Path, sessionID)
	return nil
}

// ResumeSessionTerminals runs spec.md §6's resume_session_terminals.
func (f *Facade) ResumeSessionTerminals(ctx context.Context, repoPath, sessionID string) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	p.Terminals.ResumeSessionTerminals(p.Path, sessionID)
	return nil
}
