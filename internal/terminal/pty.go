package terminal

import "io"

// PtyHandle abstracts PTY operations, grounded on the teacher's
// process.PtyHandle (internal/agentctl/server/process/pty_handle.go):
// a single interface the manager programs against regardless of the
// underlying platform PTY implementation.
type PtyHandle interface {
	io.ReadWriteCloser
	// Resize changes the PTY window size.
	Resize(cols, rows uint16) error
}
