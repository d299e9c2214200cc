package facade

import (
	"context"

	"github.com/kandev/schaltwerk/internal/apperr"
	"github.com/kandev/schaltwerk/internal/store"
)

// GetAppConfig runs spec.md §6's settings get family for the singleton
// app config row (default agent_type, skip_permissions, font sizes,
// default_open_app, default_base_branch).
func (f *Facade) GetAppConfig(ctx context.Context, repoPath string) (*store.AppConfig, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	return p.Store.GetAppConfig(ctx)
}

// SetSkipPermissions runs spec.md §6's settings set skip_permissions.
func (f *Facade) SetSkipPermissions(ctx context.Context, repoPath string, skip bool) error {
	return f.updateAppConfig(ctx, repoPath, func(c *store.AppConfig) { c.SkipPermissions = skip })
}

// SetDefaultAgentType runs spec.md §6's settings set agent_type.
func (f *Facade) SetDefaultAgentType(ctx context.Context, repoPath, agentType string) error {
	return f.updateAppConfig(ctx, repoPath, func(c *store.AppConfig) { c.DefaultAgentType = agentType })
}

// SetFontSizes runs spec.md §6's settings set font_sizes.
func (f *Facade) SetFontSizes(ctx context.Context, repoPath string, terminalSize, uiSize int) error {
	return f.updateAppConfig(ctx, repoPath, func(c *store.AppConfig) {
		c.TerminalFontSize = terminalSize
		c.UIFontSize = uiSize
	})
}

// SetDefaultOpenApp runs spec.md §6's settings set for the default
// external-editor/open-app preference.
func (f *Facade) SetDefaultOpenApp(ctx context.Context, repoPath, app string) error {
	return f.updateAppConfig(ctx, repoPath, func(c *store.AppConfig) { c.DefaultOpenApp = app })
}

// SetDefaultBaseBranch runs spec.md §6's settings set default_base_branch.
func (f *Facade) SetDefaultBaseBranch(ctx context.Context, repoPath, branch string) error {
	return f.updateAppConfig(ctx, repoPath, func(c *store.AppConfig) { c.DefaultBaseBranch = branch })
}

func (f *Facade) updateAppConfig(ctx context.Context, repoPath string, mutate func(*store.AppConfig)) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	cfg, err := p.Store.GetAppConfig(ctx)
	if err != nil {
		return err
	}
	mutate(cfg)
	return p.Store.UpdateAppConfig(ctx, cfg)
}

// GetProjectConfig runs spec.md §6's settings get family for per-project
// configuration (setup_script, branch_prefix, environment_variables,
// action_buttons, run_script, last selection, filter/sort, merge
// preferences).
func (f *Facade) GetProjectConfig(ctx context.Context, repoPath string) (*store.ProjectConfig, error) {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return nil, err
	}
	return p.Store.GetProjectConfig(ctx, p.Path)
}

// SetSetupScript runs spec.md §6's settings set setup_script.
func (f *Facade) SetSetupScript(ctx context.Context, repoPath, script string) error {
	return f.updateProjectConfig(ctx, repoPath, func(c *store.ProjectConfig) { c.SetupScript = script })
}

// SetBranchPrefix runs spec.md §6's settings set branch_prefix.
func (f *Facade) SetBranchPrefix(ctx context.Context, repoPath, prefix string) error {
	if prefix == "" {
		return apperr.New(apperr.Validation, "branch prefix must not be empty")
	}
	return f.updateProjectConfig(ctx, repoPath, func(c *store.ProjectConfig) { c.BranchPrefix = prefix })
}

// SetEnvironmentVariables runs spec.md §6's settings set env vars.
func (f *Facade) SetEnvironmentVariables(ctx context.Context, repoPath string, env map[string]string) error {
	return f.updateProjectConfig(ctx, repoPath, func(c *store.ProjectConfig) { c.EnvironmentVariables = env })
}

// SetActionButtons runs spec.md §6's settings set action_buttons.
func (f *Facade) SetActionButtons(ctx context.Context, repoPath string, buttons []store.ActionButton) error {
	return f.updateProjectConfig(ctx, repoPath, func(c *store.ProjectConfig) { c.ActionButtons = buttons })
}

// SetRunScript runs spec.md §6's settings set run_script.
func (f *Facade) SetRunScript(ctx context.Context, repoPath, script string) error {
	return f.updateProjectConfig(ctx, repoPath, func(c *store.ProjectConfig) { c.RunScript = script })
}

// SetLastSelection runs spec.md §6's settings set for last selection.
func (f *Facade) SetLastSelection(ctx context.Context, repoPath, sessionName string) error {
	return f.updateProjectConfig(ctx, repoPath, func(c *store.ProjectConfig) { c.LastSelection = sessionName })
}

// SetSessionFilterAndSort runs spec.md §6's settings set for the
// persisted session filter/sort preference.
func (f *Facade) SetSessionFilterAndSort(ctx context.Context, repoPath, filterMode, sortMode string) error {
	return f.updateProjectConfig(ctx, repoPath, func(c *store.ProjectConfig) {
		c.SessionFilterMode = filterMode
		c.SessionSortMode = sortMode
	})
}

// SetMergePreferences runs spec.md §6's settings set for merge preferences.
func (f *Facade) SetMergePreferences(ctx context.Context, repoPath string, prefs store.MergePreferences) error {
	return f.updateProjectConfig(ctx, repoPath, func(c *store.ProjectConfig) { c.MergePreferences = prefs })
}

func (f *Facade) updateProjectConfig(ctx context.Context, repoPath string, mutate func(*store.ProjectConfig)) error {
	p, err := f.resolveProject(repoPath)
	if err != nil {
		return err
	}
	cfg, err := p.Store.GetProjectConfig(ctx, p.Path)
	if err != nil {
		return err
	}
	mutate(cfg)
	cfg.RepositoryPath = p.Path
	return p.Store.UpsertProjectConfig(ctx, cfg)
}
