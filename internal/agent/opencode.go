package agent

import (
	"os"
	"path/filepath"
	"strings"
)

// OpenCode adapts the opencode CLI (teacher's NewOpenCode passthrough
// config), with FindSession grounded directly on original_source's
// domains/agents/opencode.rs: OpenCode stores per-project session
// metadata under ~/.local/share/opencode/project/{sanitized_path}/storage/session/info/
// and per-session message files under .../storage/message/{session_id}/.
// Every new session starts with exactly two synthetic messages, so
// has_history requires more than two message files.
type OpenCode struct{}

func NewOpenCode() *OpenCode { return &OpenCode{} }

func (a *OpenCode) Type() Type { return TypeOpenCode }

func (a *OpenCode) ResolveBinary(override string) string {
	return resolveBinaryCandidates("opencode", override, nil)
}

func (a *OpenCode) BuildCommand(opts CommandOptions) string {
	b := Cmd(a.ResolveBinary(opts.BinaryOverride))

	if opts.Session != nil && opts.Session.ID != "" {
		b = b.Resume(NewParam("-c"), opts.Session.ID, true)
	}
	b = b.Model(NewParam("--model", "{model}"), opts.Model)
	b = b.Prompt(NewParam("--prompt", "{prompt}"), opts.InitialPrompt)
	return b.Build().String()
}

// sanitizePathForOpenCode mirrors OpenCode's own directory-naming scheme:
// strip the leading slash, replace "/" with "-", but use "--" before a
// path component that starts with "." (a hidden directory).
func sanitizePathForOpenCode(path string) string {
	trimmed := strings.TrimPrefix(filepath.ToSlash(path), "/")
	components := strings.Split(trimmed, "/")

	var b strings.Builder
	for i, c := range components {
		if i > 0 {
			if strings.HasPrefix(c, ".") {
				b.WriteString("--")
				c = c[1:]
			} else {
				b.WriteString("-")
			}
		}
		b.WriteString(strings.ReplaceAll(c, ".", "-"))
	}
	return b.String()
}

func (a *OpenCode) FindSession(repoPath string) (*SessionInfo, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}
	opencodeDir := filepath.Join(home, ".local", "share", "opencode")
	sanitized := sanitizePathForOpenCode(repoPath)
	projectDir := filepath.Join(opencodeDir, "project", sanitized)

	infoDir := filepath.Join(projectDir, "storage", "session", "info")
	entries, err := os.ReadDir(infoDir)
	if err != nil || len(entries) == 0 {
		return nil, nil
	}

	var newest os.DirEntry
	var newestMod int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); mod > newestMod {
			newest = e
			newestMod = mod
		}
	}
	if newest == nil {
		return nil, nil
	}

	sessionID := strings.TrimSuffix(newest.Name(), filepath.Ext(newest.Name()))
	messageDir := filepath.Join(projectDir, "storage", "message", sessionID)
	messageCount := 0
	if msgEntries, err := os.ReadDir(messageDir); err == nil {
		messageCount = len(msgEntries)
	}

	return &SessionInfo{
		ID:           sessionID,
		HasHistory:   messageCount > 2,
		NativeResume: true,
	}, nil
}
