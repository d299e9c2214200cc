// Package agent implements the closed set of agent adapters (spec.md
// §4.5): claude, cursor, opencode, gemini, codex. Each adapter builds the
// shell command line that launches the agent inside a worktree, discovers
// an existing on-disk agent session for resume, and resolves the agent's
// binary path.
//
// Grounded on the teacher's internal/agent/agents package: the
// Command/Param/CmdBuilder fluent value types (agent.go, helpers.go) are
// kept nearly verbatim since they are pure, domain-agnostic plumbing;
// everything that dispatches on agent identity is rewritten against this
// spec's Agent interface.
package agent

import "strings"

// Param is a CLI flag template, e.g. NewParam("--model", "{model}"). A
// flag's argument list may contain the placeholders {model}/{prompt},
// substituted by CmdBuilder.
type Param struct {
	args []string
}

// NewParam builds a Param from literal flag parts.
func NewParam(args ...string) Param { return Param{args: args} }

// Args returns the raw flag parts.
func (p Param) Args() []string { return p.args }

// IsEmpty reports whether the param carries no flag.
func (p Param) IsEmpty() bool { return len(p.args) == 0 }

// Command is a fully built argv, with Args() returning the program name
// followed by its arguments.
type Command struct {
	args []string
}

// NewCommand builds a Command from literal argv parts.
func NewCommand(args ...string) Command { return Command{args: args} }

// Args returns the full argv, program name included.
func (c Command) Args() []string { return c.args }

// IsEmpty reports whether the command has no program name.
func (c Command) IsEmpty() bool { return len(c.args) == 0 }

// With starts a CmdBuilder seeded with this command's argv, to extend it
// with additional flags.
func (c Command) With() *CmdBuilder {
	return &CmdBuilder{args: append([]string{}, c.args...)}
}

// String renders the argv as a POSIX shell command line, quoting any
// argument that contains whitespace or shell metacharacters (spec.md §4.5
// build_command returns a shell_string).
func (c Command) String() string {
	parts := make([]string, len(c.args))
	for i, a := range c.args {
		parts[i] = shellQuote(a)
	}
	return strings.Join(parts, " ")
}

const shellSpecial = " \t\n\"'\\$`!*?[]{}()<>|;&~#"

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, shellSpecial) {
		return s
	}
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		if r == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// QuoteCwdForShell implements the cwd half of spec.md §4.4's
// shell-quoting helper: a cwd is wrapped in double quotes only when it
// contains whitespace, left bare otherwise. This is distinct from
// shellQuote above (single-quote POSIX escaping for argv parts); it is
// used where the engine builds a "cd <cwd> && ..." command string for a
// PTY shell rather than an argv.
func QuoteCwdForShell(cwd string) string {
	if strings.ContainsAny(cwd, " \t\n") {
		return `"` + cwd + `"`
	}
	return cwd
}

// EscapeForDoubleQuotes implements the prompt half of spec.md §4.4's
// shell-quoting helper: backslash-escapes ", \, \n, \r, \t, $, ` so the
// payload can be embedded inside a double-quoted shell string without
// the shell reinterpreting it.
func EscapeForDoubleQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '"', '\\', '$', '`':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CmdBuilder constructs an argv fluently.
type CmdBuilder struct {
	args []string
}

// Cmd starts building a command from a base program and arguments.
func Cmd(base ...string) *CmdBuilder {
	return &CmdBuilder{args: append([]string{}, base...)}
}

// Model appends a model flag if model is non-empty.
func (b *CmdBuilder) Model(flag Param, model string) *CmdBuilder {
	if flag.IsEmpty() || model == "" {
		return b
	}
	for _, arg := range flag.args {
		b.args = append(b.args, strings.ReplaceAll(arg, "{model}", model))
	}
	return b
}

// Resume appends a resume flag with sessionID unless nativeResume is true
// (the agent already resumed via its own on-disk session discovery) or
// sessionID/flag is empty.
func (b *CmdBuilder) Resume(flag Param, sessionID string, nativeResume bool) *CmdBuilder {
	if sessionID == "" || nativeResume || flag.IsEmpty() {
		return b
	}
	b.args = append(b.args, flag.args...)
	b.args = append(b.args, sessionID)
	return b
}

// Permissions appends a per-tool ask-user flag unless skipPermissions is
// set.
func (b *CmdBuilder) Permissions(flag string, tools []string, skipPermissions bool) *CmdBuilder {
	if skipPermissions || flag == "" || len(tools) == 0 {
		return b
	}
	for _, tool := range tools {
		b.args = append(b.args, flag, tool+":ask-user")
	}
	return b
}

// Prompt appends a prompt flag if prompt is non-empty. With an empty flag
// the prompt is appended as a positional argument.
func (b *CmdBuilder) Prompt(flag Param, prompt string) *CmdBuilder {
	if prompt == "" {
		return b
	}
	if flag.IsEmpty() {
		b.args = append(b.args, prompt)
		return b
	}
	for _, arg := range flag.args {
		b.args = append(b.args, strings.ReplaceAll(arg, "{prompt}", prompt))
	}
	return b
}

// Flag appends arbitrary flag parts verbatim.
func (b *CmdBuilder) Flag(parts ...string) *CmdBuilder {
	b.args = append(b.args, parts...)
	return b
}

// Build returns the final Command.
func (b *CmdBuilder) Build() Command {
	return Command{args: b.args}
}
