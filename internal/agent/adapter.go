package agent

import (
	"os"
	"os/exec"
	"path/filepath"
)

// Type identifies one of the closed set of supported agents (spec.md
// §4.5, §9 "Dynamic dispatch over agents": a tagged variant, not a
// user-extensible plugin system).
type Type string

const (
	TypeClaude   Type = "claude"
	TypeCursor   Type = "cursor"
	TypeOpenCode Type = "opencode"
	TypeGemini   Type = "gemini"
	TypeCodex    Type = "codex"
)

// SessionInfo describes an on-disk agent session discovered by
// FindSession.
type SessionInfo struct {
	ID           string
	HasHistory   bool
	NativeResume bool
}

// CommandOptions parametrizes BuildCommand.
type CommandOptions struct {
	Worktree        string
	Session         *SessionInfo
	InitialPrompt   string
	SkipPermissions bool
	Model           string
	BinaryOverride  string
}

// Agent is the capability set every adapter implements (spec.md §4.5,
// §9): command construction, on-disk session discovery, and binary
// resolution. Kept intentionally small — per-agent quirks live in the
// concrete adapters, not in new interface methods.
type Agent interface {
	Type() Type

	// BuildCommand returns the shell command line used to launch the
	// agent inside opts.Worktree.
	BuildCommand(opts CommandOptions) string

	// FindSession discovers an existing on-disk agent session bound to
	// repoPath. Returns nil, nil when none exists.
	FindSession(repoPath string) (*SessionInfo, error)

	// ResolveBinary returns the path to the agent's executable, honoring
	// override if non-empty.
	ResolveBinary(override string) string
}

// Registry is the closed map of every supported agent, keyed by Type.
type Registry map[Type]Agent

// NewRegistry constructs the full closed set of adapters.
func NewRegistry() Registry {
	return Registry{
		TypeClaude:   NewClaude(),
		TypeCursor:   NewCursor(),
		TypeOpenCode: NewOpenCode(),
		TypeGemini:   NewGemini(),
		TypeCodex:    NewCodex(),
	}
}

// Get looks up an agent by type. The closed set means an unknown type is
// always a programming error upstream (config validation), never a
// user-facing one.
func (r Registry) Get(t Type) (Agent, bool) {
	a, ok := r[t]
	return a, ok
}

// resolveBinaryCandidates implements the fallback chain shared by every
// adapter (spec.md §4.5 resolve_binary): config override, then a fixed
// list of well-known install directories, then PATH, else the bare name.
func resolveBinaryCandidates(name, override string, extraDirs []string) string {
	if override != "" {
		return override
	}

	home, _ := os.UserHomeDir()
	dirs := []string{
		joinIfHome(home, ".local/bin"),
		joinIfHome(home, ".cargo/bin"),
		joinIfHome(home, "bin"),
		joinIfHome(home, "."+name+"/bin"),
		"/opt/homebrew/bin",
		"/usr/local/bin",
		"/usr/bin",
		"/bin",
	}
	dirs = append(dirs, extraDirs...)

	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}

func joinIfHome(home, rel string) string {
	if home == "" {
		return ""
	}
	return filepath.Join(home, rel)
}
