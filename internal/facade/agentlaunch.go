package facade

import (
	"context"
	"fmt"

	"github.com/kandev/schaltwerk/internal/agent"
	"github.com/kandev/schaltwerk/internal/apperr"
)

// orchestratorTerminalID is the fixed terminal id for the orchestrator
// agent launched against the main repository (spec.md §6, GLOSSARY
// "Orchestrator": "used to coordinate merges").
const orchestratorTerminalID = "orchestrator-top"

// topTerminalID derives a session's "agent top" terminal id — the one
// the PTY terminal manager gives the larger 8 MiB buffer to by id suffix
// (spec.md §4.4 Ring buffer).
func topTerminalID(sessionID string) string {
	return sessionID + "-top"
}

// LaunchOptions parametrizes start_agent_in_session/start_agent_in_orchestrator.
type LaunchOptions struct {
	AgentType       agent.Type
	Model           string
	SkipPermissions bool
	BinaryOverride  string
}

// StartAgentInSession runs spec.md §6's start_agent_in_session: builds
// the chosen agent's command line and spawns it behind a PTY rooted at
// the session's worktree. resume_allowed gates whether an on-disk agent
// session is discovered and resumed (spec.md §3 resume_allowed; §9 open
// question 2 on the "already prompted" marker governs whether
// initial_prompt is re-sent, not handled here).
func (f *Facade) StartAgentInSession(ctx context.Context, repoPath, sessionName string, opts LaunchOptions) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	sess, err := p.Store.GetSessionByName(ctx, p.Path, sessionName)
	if err != nil {
		return err
	}
	if sess.WorktreePath == "" {
		return apperr.New(apperr.Precondition, "session %q has no worktree (state=%s)", sessionName, sess.SessionState)
	}

	agentType := opts.AgentType
	if agentType == "" && sess.OriginalAgentType != nil {
		agentType = agent.Type(*sess.OriginalAgentType)
	}
	a, ok := f.agents.Get(agentType)
	if !ok {
		return apperr.New(apperr.Validation, "unknown agent type %q", agentType)
	}

	var sessionInfo *agent.SessionInfo
	if sess.ResumeAllowed {
		if info, err := a.FindSession(sess.WorktreePath); err == nil {
			sessionInfo = info
		}
	}

	prompt := ""
	if !hasExistingHistory(sessionInfo) {
		if sess.InitialPrompt != nil {
			prompt = *sess.InitialPrompt
		}
	}

	cmd := a.BuildCommand(agent.CommandOptions{
		Worktree:        sess.WorktreePath,
		Session:         sessionInfo,
		InitialPrompt:   prompt,
		SkipPermissions: opts.SkipPermissions || sess.OriginalSkipPermissions,
		Model:           opts.Model,
		BinaryOverride:  opts.BinaryOverride,
	})

	script := buildLaunchScript(sess.WorktreePath, cmd)
	id := topTerminalID(sess.ID)
	if err := p.Terminals.CreateWithApp(id, sess.WorktreePath, "/bin/sh", []string{"-c", script}, nil, 0, 0); err != nil {
		return apperr.Wrap(apperr.IO, err, "failed to spawn agent for session %q", sessionName)
	}
	p.Terminals.RegisterSessionTerminals(p.Path, sess.ID, []string{id})
	return nil
}

func hasExistingHistory(info *agent.SessionInfo) bool {
	return info != nil && info.HasHistory
}

// StartAgentInOrchestrator runs spec.md §6's
// start_agent_in_orchestrator: the orchestrator targets the main repo
// directly, never a worktree (GLOSSARY "Orchestrator").
func (f *Facade) StartAgentInOrchestrator(ctx context.Context, repoPath string, opts LaunchOptions) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}

	a, ok := f.agents.Get(opts.AgentType)
	if !ok {
		return apperr.New(apperr.Validation, "unknown agent type %q", opts.AgentType)
	}

	var sessionInfo *agent.SessionInfo
	if info, err := a.FindSession(p.Path); err == nil {
		sessionInfo = info
	}

	cmd := a.BuildCommand(agent.CommandOptions{
		Worktree:        p.Path,
		Session:         sessionInfo,
		SkipPermissions: opts.SkipPermissions,
		Model:           opts.Model,
		BinaryOverride:  opts.BinaryOverride,
	})

	script := buildLaunchScript(p.Path, cmd)
	if err := p.Terminals.CreateWithApp(orchestratorTerminalID, p.Path, "/bin/sh", []string{"-c", script}, nil, 0, 0); err != nil {
		return apperr.Wrap(apperr.IO, err, "failed to spawn orchestrator agent for %q", repoPath)
	}
	return nil
}

// StartRunScript launches a project's configured run_script behind its
// own PTY terminal, with $PORT-style placeholders resolved to a real
// allocated port (spec.md §3 ProjectConfig.run_script;
// internal/common/portutil).
func (f *Facade) StartRunScript(ctx context.Context, repoPath, sessionName string) (map[string]string, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	sess, err := p.Store.GetSessionByName(ctx, p.Path, sessionName)
	if err != nil {
		return nil, err
	}
	pc, err := p.Store.GetProjectConfig(ctx, p.Path)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to load project config for %q", p.Path)
	}
	if pc.RunScript == "" {
		return nil, apperr.New(apperr.Precondition, "project %q has no run_script configured", p.Path)
	}

	script, portEnv, err := buildRunScript(sess.WorktreePath, sess.Name, sess.Branch, pc.RunScript)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to allocate ports for run_script")
	}

	id := runScriptTerminalID(sess.ID)
	if err := p.Terminals.CreateWithApp(id, sess.WorktreePath, "/bin/sh", []string{"-c", script}, portEnv, 0, 0); err != nil {
		return nil, apperr.Wrap(apperr.IO, err, "failed to spawn run_script for session %q", sessionName)
	}
	p.Terminals.RegisterSessionTerminals(p.Path, sess.ID, []string{id})
	return portEnv, nil
}

func runScriptTerminalID(sessionID string) string {
	return fmt.Sprintf("%s-run", sessionID)
}
