// Package project implements the process-wide project registry (spec.md
// §4.7): canonical repository path → Project{store, terminal manager},
// with switch_to/cleanup_all/get_core_for_path.
//
// Grounded on the teacher's internal/worktree/provider.go wiring-helper
// shape, generalized from "one Manager" to "one Project per canonical
// repository path" and extended with the .git/info/exclude bookkeeping
// spec.md §4.7 calls for.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/schaltwerk/internal/common/config"
	"github.com/kandev/schaltwerk/internal/common/logger"
	"github.com/kandev/schaltwerk/internal/events/bus"
	"github.com/kandev/schaltwerk/internal/gitops"
	"github.com/kandev/schaltwerk/internal/session"
	"github.com/kandev/schaltwerk/internal/store"
	"github.com/kandev/schaltwerk/internal/terminal"
)

// Project owns one Store and one terminal Manager for a single canonical
// repository path (spec.md §4.7, §5 Shared resources).
type Project struct {
	Path      string
	Store     store.Store
	Terminals *terminal.Manager
	Sessions  *session.Engine
	Events    bus.EventBus

	closeStore func() error
}

// Registry is the process-wide canonical-path → Project map.
type Registry struct {
	logger *logger.Logger
	cfg    *config.Config
	git    *gitops.GitOps
	events bus.EventBus

	mu       sync.RWMutex
	projects map[string]*Project
	current  string
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *logger.Logger, cfg *config.Config, git *gitops.GitOps, eventBus bus.EventBus) *Registry {
	return &Registry{
		logger:   log.WithFields(zap.String("component", "project-registry")),
		cfg:      cfg,
		git:      git,
		events:   eventBus,
		projects: make(map[string]*Project),
	}
}

// SwitchTo canonicalizes path, reuses an existing Project or constructs a
// new one, marks it current, and ensures ".schaltwerk/" is present in the
// repository's .git/info/exclude (spec.md §4.7 switch_to).
func (r *Registry) SwitchTo(path string) (*Project, error) {
	canonical, err := store.CanonicalizePath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize project path %q: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.projects[canonical]; ok {
		r.current = canonical
		return p, nil
	}

	p, err := r.open(canonical)
	if err != nil {
		return nil, err
	}
	r.projects[canonical] = p
	r.current = canonical
	return p, nil
}

func (r *Registry) open(canonical string) (*Project, error) {
	dbPath := store.DatabasePath(r.cfg.Database.DataDir, canonical)
	st, closer, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open project store for %q: %w", canonical, err)
	}

	terminals := terminal.NewManager(r.logger, r.cfg.Terminal.DefaultBufferBytes, r.cfg.Terminal.AgentTopBufferBytes)
	engine := session.New(r.logger, st, r.git, r.events)

	if err := ensureScmExclude(canonical); err != nil {
		r.logger.Warn("failed to update .git/info/exclude", zap.String("project", canonical), zap.Error(err))
	}

	return &Project{
		Path:       canonical,
		Store:      st,
		Terminals:  terminals,
		Sessions:   engine,
		Events:     r.events,
		closeStore: closer,
	}, nil
}

// Current returns the most recently switched-to Project, if any.
func (r *Registry) Current() (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == "" {
		return nil, false
	}
	p, ok := r.projects[r.current]
	return p, ok
}

// GetCoreForPath resolves an arbitrary filesystem path (typically a
// session worktree path) back to its owning Project by canonical-path
// prefix match (spec.md §4.7 get_core_for_path).
func (r *Registry) GetCoreForPath(p string) (*Project, bool) {
	canonical, err := store.CanonicalizePath(p)
	if err != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Project
	for root, proj := range r.projects {
		if canonical == root || strings.HasPrefix(canonical, root+string(os.PathSeparator)) {
			if best == nil || len(proj.Path) > len(best.Path) {
				best = proj
			}
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// CleanupAll closes every project's terminals (spec.md §4.7 cleanup_all).
func (r *Registry) CleanupAll() {
	r.mu.RLock()
	projects := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		projects = append(projects, p)
	}
	r.mu.RUnlock()

	for _, p := range projects {
		p.Terminals.CleanupAll()
		if p.closeStore != nil {
			if err := p.closeStore(); err != nil {
				r.logger.Warn("failed to close project store", zap.String("project", p.Path), zap.Error(err))
			}
		}
	}
}

// ensureScmExclude appends ".schaltwerk/" to <repo>/.git/info/exclude if
// it is not already present (spec.md §4.7, §6 on-disk layout).
func ensureScmExclude(repoPath string) error {
	excludePath := filepath.Join(repoPath, ".git", "info", "exclude")

	existing, err := os.ReadFile(excludePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == ".schaltwerk/" {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(excludePath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(excludePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	prefix := ""
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		prefix = "\n"
	}
	_, err = f.WriteString(prefix + ".schaltwerk/\n")
	return err
}
