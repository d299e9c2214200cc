package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Claude adapts Anthropic's claude-code CLI, grounded in shape on the
// teacher's Gemini/OpenCode adapters (NewOpenCode, NewGemini) and on
// original_source's claude session-storage layout.
type Claude struct{}

func NewClaude() *Claude { return &Claude{} }

func (a *Claude) Type() Type { return TypeClaude }

func (a *Claude) ResolveBinary(override string) string {
	return resolveBinaryCandidates("claude", override, nil)
}

func (a *Claude) BuildCommand(opts CommandOptions) string {
	b := Cmd(a.ResolveBinary(opts.BinaryOverride))

	if opts.Session != nil && opts.Session.ID != "" {
		b = b.Resume(NewParam("--resume"), opts.Session.ID, false)
	}
	b = b.Model(NewParam("--model", "{model}"), opts.Model)
	if opts.SkipPermissions {
		b = b.Flag("--dangerously-skip-permissions")
	}
	b = b.Prompt(Param{}, opts.InitialPrompt)
	return b.Build().String()
}

// claudeProjectDirName mirrors claude-code's convention of sanitizing a
// working directory path into a flat project directory name under
// ~/.claude/projects.
func claudeProjectDirName(repoPath string) string {
	clean := filepath.Clean(repoPath)
	return strings.TrimLeft(strings.ReplaceAll(clean, "/", "-"), "-")
}

// FindSession looks for the most recently modified claude-code session
// transcript (a .jsonl file under ~/.claude/projects/<sanitized-path>/)
// and reports has_history based on whether it contains more than the
// single synthetic system line claude-code seeds every new session with.
func (a *Claude) FindSession(repoPath string) (*SessionInfo, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}
	dir := filepath.Join(home, ".claude", "projects", claudeProjectDirName(repoPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}

	var newest os.DirEntry
	var newestMod int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
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

	id := newest.Name()[:len(newest.Name())-len(".jsonl")]
	hasHistory := transcriptLineCount(filepath.Join(dir, newest.Name())) > 1
	return &SessionInfo{ID: id, HasHistory: hasHistory, NativeResume: true}, nil
}

func transcriptLineCount(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	count := 0
	for _, line := range splitLines(data) {
		var probe json.RawMessage
		if len(line) == 0 {
			continue
		}
		if json.Unmarshal(line, &probe) == nil {
			count++
		}
	}
	return count
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
