package agent

// Gemini adapts Google's gemini-cli, grounded on the teacher's
// NewGemini (passthrough config with --model/--prompt-interactive and a
// "--resume latest" flag).
type Gemini struct{}

func NewGemini() *Gemini { return &Gemini{} }

func (a *Gemini) Type() Type { return TypeGemini }

func (a *Gemini) ResolveBinary(override string) string {
	return resolveBinaryCandidates("gemini", override, nil)
}

func (a *Gemini) BuildCommand(opts CommandOptions) string {
	b := Cmd(a.ResolveBinary(opts.BinaryOverride))

	if opts.Session != nil && opts.Session.ID != "" {
		b = b.Resume(NewParam("--resume", "latest"), opts.Session.ID, false)
	}
	b = b.Model(NewParam("--model", "{model}"), opts.Model)
	if opts.SkipPermissions {
		b = b.Flag("--yolo")
	}
	b = b.Prompt(NewParam("--prompt-interactive", "{prompt}"), opts.InitialPrompt)
	return b.Build().String()
}

// FindSession always reports no existing session: gemini-cli's
// conversation checkpoints are keyed by an opaque hash the CLI manages
// internally, not a stable session id this adapter can discover.
func (a *Gemini) FindSession(repoPath string) (*SessionInfo, error) {
	return nil, nil
}
