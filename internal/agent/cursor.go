package agent

// Cursor adapts the cursor-agent CLI. Cursor manages its own session
// storage opaquely (no documented on-disk format to probe), so
// FindSession always reports no existing session and every launch relies
// on cursor-agent's own resume flag instead.
type Cursor struct{}

func NewCursor() *Cursor { return &Cursor{} }

func (a *Cursor) Type() Type { return TypeCursor }

func (a *Cursor) ResolveBinary(override string) string {
	return resolveBinaryCandidates("cursor-agent", override, nil)
}

func (a *Cursor) BuildCommand(opts CommandOptions) string {
	b := Cmd(a.ResolveBinary(opts.BinaryOverride))

	if opts.Session != nil && opts.Session.ID != "" {
		b = b.Resume(NewParam("--resume"), opts.Session.ID, false)
	}
	b = b.Model(NewParam("--model", "{model}"), opts.Model)
	if opts.SkipPermissions {
		b = b.Flag("--force")
	}
	b = b.Prompt(NewParam("--print", "{prompt}"), opts.InitialPrompt)
	return b.Build().String()
}

func (a *Cursor) FindSession(repoPath string) (*SessionInfo, error) {
	return nil, nil
}
