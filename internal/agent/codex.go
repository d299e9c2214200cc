package agent

import "strings"

// Codex adapts the OpenAI codex CLI, grounded on the teacher's
// NewCodex (model passed as "-c model=\"{model}\"", auto-approve via
// --full-auto). Two quirks are unique to Codex and documented in spec.md
// §4.5: its config historically accepted single-dash long flags
// (-model/-profile) which must be normalized to double-dash form with
// model flags reordered after profile flags, and its interactive-only
// --search flag must be stripped before shelling out to `codex exec` for
// background name generation.
type Codex struct{}

func NewCodex() *Codex { return &Codex{} }

func (a *Codex) Type() Type { return TypeCodex }

func (a *Codex) ResolveBinary(override string) string {
	return resolveBinaryCandidates("codex", override, nil)
}

func (a *Codex) BuildCommand(opts CommandOptions) string {
	b := Cmd(a.ResolveBinary(opts.BinaryOverride))
	if opts.SkipPermissions {
		b = b.Flag("--full-auto")
	}
	b = b.Model(NewParam("-c", "model=\"{model}\""), opts.Model)
	b = b.Prompt(Param{}, opts.InitialPrompt)
	return NormalizeCodexFlags(b.Build().String())
}

// NormalizeCodexFlags rewrites single-dash -model/-profile long flags to
// their double-dash form and moves any model flag to appear after a
// profile flag, matching the argument order codex's own parser expects
// (spec.md §4.5 Codex normalization).
func NormalizeCodexFlags(cmdLine string) string {
	tokens := strings.Fields(cmdLine)
	for i, t := range tokens {
		switch t {
		case "-model":
			tokens[i] = "--model"
		case "-profile":
			tokens[i] = "--profile"
		}
	}

	modelIdx := flagIndex(tokens, "--model")
	profileIdx := flagIndex(tokens, "--profile")
	if modelIdx >= 0 && profileIdx >= 0 && modelIdx < profileIdx {
		tokens = moveFlagPairAfter(tokens, modelIdx, profileIdx)
	}

	return strings.Join(tokens, " ")
}

func flagIndex(tokens []string, flag string) int {
	for i, t := range tokens {
		if t == flag {
			return i
		}
	}
	return -1
}

// moveFlagPairAfter relocates the two-token flag+value pair starting at
// idx to immediately after the pair starting at after.
func moveFlagPairAfter(tokens []string, idx, after int) []string {
	if idx+1 >= len(tokens) || after+1 >= len(tokens) {
		return tokens
	}
	pair := append([]string(nil), tokens[idx:idx+2]...)

	rest := append([]string(nil), tokens[:idx]...)
	rest = append(rest, tokens[idx+2:]...)

	profileFlag := tokens[after]
	insertAt := flagIndex(rest, profileFlag) + 2

	out := append([]string(nil), rest[:insertAt]...)
	out = append(out, pair...)
	out = append(out, rest[insertAt:]...)
	return out
}

// StripSearchFlag removes the interactive-only --search flag before
// invoking `codex exec` for background name generation.
func StripSearchFlag(cmdLine string) string {
	tokens := strings.Fields(cmdLine)
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "--search" {
			continue
		}
		out = append(out, t)
	}
	return strings.Join(out, " ")
}

// FindSession always reports no existing session: Codex resume targets a
// rollout id that this orchestrator itself tracks via SessionInfo, not an
// on-disk layout this adapter needs to rediscover independently.
func (a *Codex) FindSession(repoPath string) (*SessionInfo, error) {
	return nil, nil
}
