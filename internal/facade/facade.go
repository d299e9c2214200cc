// Package facade implements the command facade (spec.md §4.8, §6): the
// single request/response surface the (out-of-scope) desktop shell and
// HTTP/MCP diff API would sit behind. It delegates to the session
// lifecycle engine, the merge engine, the PTY terminal manager, and the
// persistent store, translating their results into the typed requests
// and *apperr.Error-kinded responses spec.md §7 describes.
//
// Grounded on the teacher's handler-delegates-to-service layering (seen
// across internal/agentctl/server/* and cmd/kandev/*.go's wiring of one
// service per concern into a shared router) minus the HTTP transport
// itself, which spec.md §1 places out of scope.
package facade

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/kandev/schaltwerk/internal/agent"
	"github.com/kandev/schaltwerk/internal/apperr"
	"github.com/kandev/schaltwerk/internal/common/config"
	"github.com/kandev/schaltwerk/internal/common/logger"
	"github.com/kandev/schaltwerk/internal/common/portutil"
	"github.com/kandev/schaltwerk/internal/events/bus"
	"github.com/kandev/schaltwerk/internal/gitops"
	"github.com/kandev/schaltwerk/internal/merge"
	"github.com/kandev/schaltwerk/internal/project"
	"github.com/kandev/schaltwerk/internal/store"
)

// Facade is the process-wide command surface. It owns nothing a Project
// doesn't already own; its job is request shaping and fan-out across the
// project registry, not state.
type Facade struct {
	logger   *logger.Logger
	cfg      *config.Config
	projects *project.Registry
	git      *gitops.GitOps
	agents   agent.Registry

	mergeMu sync.Mutex
	merges  map[string]*merge.Engine // keyed by canonical repository path
}

// New constructs a Facade over an already-wired project Registry.
func New(log *logger.Logger, cfg *config.Config, git *gitops.GitOps, projects *project.Registry) *Facade {
	return &Facade{
		logger:   log.WithFields(),
		cfg:      cfg,
		projects: projects,
		git:      git,
		agents:   agent.NewRegistry(),
		merges:   make(map[string]*merge.Engine),
	}
}

// resolveProject canonicalizes repoPath and returns its Project, opening
// one if this is the first request against that repository (spec.md §4.7
// switch_to).
func (f *Facade) resolveProject(repoPath string) (*project.Project, error) {
	p, err := f.projects.SwitchTo(repoPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, err, "failed to open project %q", repoPath)
	}
	return p, nil
}

// mergeEngineFor returns the per-project merge Engine, constructing one
// on first use. One Engine per project is enough: its internal
// single-flight group and active-set map are already keyed by session
// name, so sessions across different repositories never contend.
func (f *Facade) mergeEngineFor(p *project.Project) *merge.Engine {
	f.mergeMu.Lock()
	defer f.mergeMu.Unlock()
	if e, ok := f.merges[p.Path]; ok {
		return e
	}
	e := merge.New(f.git)
	f.merges[p.Path] = e
	return e
}

// settingsForCreate bundles the per-repository and global defaults a
// bare create_session(name, prompt, base_branch) call needs but spec.md
// §6's slim request shape doesn't carry explicitly (branch prefix, setup
// script, default agent type, default skip_permissions).
func (f *Facade) settingsForCreate(ctx context.Context, p *project.Project) (*store.ProjectConfig, *store.AppConfig, error) {
	pc, err := p.Store.GetProjectConfig(ctx, p.Path)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, err, "failed to load project config for %q", p.Path)
	}
	ac, err := p.Store.GetAppConfig(ctx)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, err, "failed to load app config")
	}
	return pc, ac, nil
}

func repositoryName(repoPath string) string {
	return filepath.Base(filepath.Clean(repoPath))
}

// buildLaunchScript assembles the "sh -c" command string a PTY child is
// spawned with: a cd into the worktree followed by the agent's own
// argv-built command (spec.md §4.4 Shell-quoting helper). cwd is quoted
// with double quotes only when it contains whitespace; agentCmd is
// assumed to already be a complete, self-quoting shell command (every
// adapter's BuildCommand return value).
func buildLaunchScript(cwd, agentCmd string) string {
	return fmt.Sprintf("cd %s && %s", agent.QuoteCwdForShell(cwd), agentCmd)
}

// buildRunScript wraps a project's configured run_script the same way,
// additionally resolving any $PORT/${PORT}-style placeholders via
// portutil before the cd-prefixed line is built, and exporting the
// session's identifying metadata as double-quote-escaped env exports
// (spec.md §4.4 Shell-quoting helper's prompt-payload half; here applied
// to metadata instead of an initial_prompt since the run_script has no
// prompt of its own to embed).
func buildRunScript(cwd, sessionName, branch, rawScript string) (string, map[string]string, error) {
	script, portEnv, err := portutil.TransformCommand(rawScript)
	if err != nil {
		return "", nil, err
	}
	exports := fmt.Sprintf(
		`export SCHALTWERK_SESSION_NAME="%s" SCHALTWERK_BRANCH="%s"`,
		agent.EscapeForDoubleQuotes(sessionName),
		agent.EscapeForDoubleQuotes(branch),
	)
	return fmt.Sprintf("cd %s && %s && %s", agent.QuoteCwdForShell(cwd), exports, script), portEnv, nil
}

// publishSessionsRefreshed emits spec.md §6's sessions-refreshed event
// carrying the freshly enriched listing, used after any operation that
// changes which sessions list() would return.
func (f *Facade) publishSessionsRefreshed(ctx context.Context, p *project.Project, enriched []EnrichedSession) {
	if p.Events == nil {
		return
	}
	data := map[string]interface{}{"sessions": enrichedToMaps(enriched)}
	_ = p.Events.Publish(ctx, subjectSessionsRefreshed, bus.NewEvent(subjectSessionsRefreshed, "facade", data))
}

const subjectSessionsRefreshed = "sessions.refreshed"

func enrichedToMaps(items []EnrichedSession) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]interface{}{
			"name":  it.Session.Name,
			"state": string(it.Session.SessionState),
		})
	}
	return out
}
