// Package terminal implements the PTY terminal manager (spec.md §4.4): a
// per-project registry of PTY-backed child processes with a bounded,
// sequence-numbered ring buffer, bracketed-paste injection, activity
// tracking, and session-scoped suspend/resume.
//
// Grounded on the teacher's internal/agentctl/server/process package —
// specifically interactive_runner.go's PTY-backed process model
// (pty.StartWithSize, a dedicated reader goroutine per process, a
// stopSignal channel, direct-output bypass of the event bus) and
// runner.go's ringBuffer eviction idiom, adapted from chunk/line
// semantics to this spec's byte/seq-number delta-fetch contract.
package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/schaltwerk/internal/common/logger"
)

const (
	defaultCols = 80
	defaultRows = 24

	// defaultBufferBytes is the default ring buffer capacity per terminal
	// (spec.md §4.4 Ring buffer).
	defaultBufferBytes int64 = 2 * 1024 * 1024
	// agentTopBufferBytes is the larger capacity given to "agent top"
	// terminals (id suffix "-top"), which print long transcripts.
	agentTopBufferBytes int64 = 8 * 1024 * 1024

	// topSuffix identifies an "agent top" terminal by its id.
	topSuffix = "-top"
)

// Terminal is one PTY-backed child process and its associated state.
type Terminal struct {
	id  string
	ptx PtyHandle
	cmd *exec.Cmd

	buffer *seqRingBuffer

	mu   sync.Mutex
	cols int
	rows int

	lastActivityMs atomic.Int64
	hasBeenActive  atomic.Bool
	suspended      atomic.Bool

	projectID string
	sessionID string

	stopOnce   sync.Once
	stopSignal chan struct{}
	done       chan struct{}
}

// OutputEvent is published to subscribers whenever bytes arrive from a PTY
// (spec.md §4.4 Event fan-out).
type OutputEvent struct {
	TerminalID string
	SeqEnd     uint64
	Bytes      []byte
}

// ExitEvent is published when a terminal's child process exits.
type ExitEvent struct {
	TerminalID string
	Code       int
	HasCode    bool
}

type subscriber struct {
	id string
	ch chan OutputEvent
}

type exitSubscriber struct {
	id string
	ch chan ExitEvent
}

// Manager is a per-project registry of Terminals, guarded by a read-write
// lock: reads (Exists, GetBuffer) are shared, writes (Create, Close) are
// exclusive (spec.md §5 Shared resources).
type Manager struct {
	logger *logger.Logger

	mu        sync.RWMutex
	terminals map[string]*Terminal

	defaultBuf int64
	topBuf     int64

	subMu    sync.Mutex
	subs     []subscriber
	exitSubs []exitSubscriber

	sessionMu sync.Mutex
	// sessionTerminals maps a (projectID, sessionID) key to the terminal ids
	// registered against it, for suspend/resume (spec.md §4.4).
	sessionTerminals map[string][]string
}

// NewManager constructs a Manager. bufferBytes/topBufferBytes of <= 0 fall
// back to the spec.md §4.4 defaults (2 MiB / 8 MiB).
func NewManager(log *logger.Logger, bufferBytes, topBufferBytes int64) *Manager {
	if bufferBytes <= 0 {
		bufferBytes = defaultBufferBytes
	}
	if topBufferBytes <= 0 {
		topBufferBytes = agentTopBufferBytes
	}
	return &Manager{
		logger:           log.WithFields(zap.String("component", "terminal-manager")),
		terminals:        make(map[string]*Terminal),
		defaultBuf:       bufferBytes,
		topBuf:           topBufferBytes,
		sessionTerminals: make(map[string][]string),
	}
}

func (m *Manager) bufferCapacity(id string) int64 {
	if len(id) >= len(topSuffix) && id[len(id)-len(topSuffix):] == topSuffix {
		return m.topBuf
	}
	return m.defaultBuf
}

// Create spawns a command in cwd behind a PTY at cols x rows (or 80x24 by
// default). A duplicate id is tolerated by closing the existing terminal
// first and recreating it (spec.md §4.4 create).
func (m *Manager) Create(id, cwd string, env map[string]string, cols, rows int) error {
	return m.CreateWithApp(id, cwd, "/bin/sh", nil, env, cols, rows)
}

// CreateWithApp spawns command/args in cwd behind a PTY. If env is
// provided it is merged onto the inherited environment, user values
// winning (spec.md §4.4 create_with_app).
func (m *Manager) CreateWithApp(id, cwd, command string, args []string, env map[string]string, cols, rows int) error {
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	m.mu.Lock()
	if existing, ok := m.terminals[id]; ok {
		m.mu.Unlock()
		m.closeTerminal(existing)
		m.mu.Lock()
	}
	m.mu.Unlock()

	cmd := exec.Command(command, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = mergeEnv(env)

	ptx, err := startPTYWithSize(cmd, cols, rows)
	if err != nil {
		return fmt.Errorf("failed to start pty for terminal %q: %w", id, err)
	}

	t := &Terminal{
		id:         id,
		ptx:        ptx,
		cmd:        cmd,
		buffer:     newSeqRingBuffer(m.bufferCapacity(id)),
		cols:       cols,
		rows:       rows,
		stopSignal: make(chan struct{}),
		done:       make(chan struct{}),
	}
	t.lastActivityMs.Store(time.Now().UnixMilli())

	m.mu.Lock()
	m.terminals[id] = t
	m.mu.Unlock()

	go m.readLoop(t)
	go m.waitLoop(t)

	m.logger.Info("terminal created",
		zap.String("terminal_id", id),
		zap.String("cwd", cwd),
		zap.Int("cols", cols),
		zap.Int("rows", rows))
	return nil
}

// mergeEnv merges extra onto the process's inherited environment, with
// extra's values winning on key collisions.
func mergeEnv(extra map[string]string) []string {
	base := os.Environ()
	if len(extra) == 0 {
		return base
	}
	result := make([]string, 0, len(base)+len(extra))
	result = append(result, base...)
	for k, v := range extra {
		result = append(result, k+"="+v)
	}
	return result
}

// Write appends data to the terminal's stdin (through the PTY). Writes to
// an unknown id succeed silently — fire-and-forget semantics mandated by
// the UI (spec.md §4.4 write, §7, §9 open question 3).
func (m *Manager) Write(id string, data []byte) {
	t, ok := m.get(id)
	if !ok {
		m.logger.Debug("write to unknown terminal ignored", zap.String("terminal_id", id))
		return
	}
	if _, err := t.ptx.Write(data); err != nil {
		m.logger.Debug("terminal write failed", zap.String("terminal_id", id), zap.Error(err))
		return
	}
	t.touch()
}

const (
	bracketedPasteStart = "\x1b[200~"
	bracketedPasteEnd   = "\x1b[201~"
)

// PasteAndSubmit injects payload verbatim, optionally wrapped in the
// bracketed-paste escape sequence, followed by a carriage return (spec.md
// §4.4 paste_and_submit, §8 invariant 5). Unknown ids are silently
// ignored, matching Write's fire-and-forget contract.
func (m *Manager) PasteAndSubmit(id string, payload []byte, bracketed bool) {
	t, ok := m.get(id)
	if !ok {
		return
	}

	var out []byte
	if bracketed {
		out = append(out, []byte(bracketedPasteStart)...)
		out = append(out, payload...)
		out = append(out, []byte(bracketedPasteEnd)...)
		out = append(out, '\r')
	} else {
		out = append(out, payload...)
		out = append(out, '\r')
	}

	if _, err := t.ptx.Write(out); err != nil {
		m.logger.Debug("paste_and_submit write failed", zap.String("terminal_id", id), zap.Error(err))
		return
	}
	t.touch()
}

// Resize updates the PTY window size. Idempotent; unknown ids are a no-op.
func (m *Manager) Resize(id string, cols, rows int) error {
	t, ok := m.get(id)
	if !ok {
		return nil
	}
	t.mu.Lock()
	t.cols = cols
	t.rows = rows
	t.mu.Unlock()
	return t.ptx.Resize(uint16(cols), uint16(rows))
}

// Close signals and tears down a terminal. Tolerant of unknown ids.
func (m *Manager) Close(id string) {
	t, ok := m.get(id)
	if !ok {
		return
	}
	m.closeTerminal(t)
}

func (m *Manager) closeTerminal(t *Terminal) {
	t.stopOnce.Do(func() { close(t.stopSignal) })
	_ = t.ptx.Close()
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}

	m.mu.Lock()
	delete(m.terminals, t.id)
	m.mu.Unlock()
}

// Exists reports whether a terminal with the given id is registered.
func (m *Manager) Exists(id string) bool {
	_, ok := m.get(id)
	return ok
}

// ExistsBulk reports existence for a batch of ids in one call.
func (m *Manager) ExistsBulk(ids []string) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, ok := m.terminals[id]
		result[id] = ok
	}
	return result
}

// BufferSnapshot is the public result of GetBuffer.
type BufferSnapshot struct {
	Data     []byte
	StartSeq uint64
	EndSeq   uint64
}

// GetBuffer returns the ring buffer contents for a terminal, either the
// full buffer or the delta since fromSeq (spec.md §4.4 get_buffer). An
// unknown id returns an empty snapshot, not an error.
func (m *Manager) GetBuffer(id string, fromSeq *uint64) BufferSnapshot {
	t, ok := m.get(id)
	if !ok {
		return BufferSnapshot{}
	}
	snap := t.buffer.snapshot(fromSeq)
	return BufferSnapshot{Data: snap.Data, StartSeq: snap.StartSeq, EndSeq: snap.EndSeq}
}

// ActivityStatus reports whether a terminal has ever produced output and
// the epoch-ms timestamp of its last activity.
func (m *Manager) ActivityStatus(id string) (hasBeenActive bool, lastActivityMs int64) {
	t, ok := m.get(id)
	if !ok {
		return false, 0
	}
	return t.hasBeenActive.Load(), t.lastActivityMs.Load()
}

// AllActivity returns the activity status for every registered terminal.
func (m *Manager) AllActivity() map[string]struct {
	HasBeenActive  bool
	LastActivityMs int64
} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]struct {
		HasBeenActive  bool
		LastActivityMs int64
	}, len(m.terminals))
	for id, t := range m.terminals {
		result[id] = struct {
			HasBeenActive  bool
			LastActivityMs int64
		}{HasBeenActive: t.hasBeenActive.Load(), LastActivityMs: t.lastActivityMs.Load()}
	}
	return result
}

func sessionKey(projectID, sessionID string) string {
	return projectID + "\x00" + sessionID
}

// RegisterSessionTerminals tags terminalIDs as belonging to (projectID,
// sessionID) for later suspend/resume (spec.md §4.4).
func (m *Manager) RegisterSessionTerminals(projectID, sessionID string, terminalIDs []string) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	key := sessionKey(projectID, sessionID)
	m.sessionTerminals[key] = append(m.sessionTerminals[key], terminalIDs...)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range terminalIDs {
		if t, ok := m.terminals[id]; ok {
			t.mu.Lock()
			t.projectID = projectID
			t.sessionID = sessionID
			t.mu.Unlock()
		}
	}
}

// SuspendSessionTerminals sets the advisory suspended flag on every
// terminal registered to (projectID, sessionID). This never changes PTY
// state — it only tells readLoop to stop publishing output events, which
// the UI uses to stop subscribing (spec.md §4.4).
func (m *Manager) SuspendSessionTerminals(projectID, sessionID string) {
	m.setSessionSuspended(projectID, sessionID, true)
}

// ResumeSessionTerminals clears the suspended flag, re-enabling delivery.
func (m *Manager) ResumeSessionTerminals(projectID, sessionID string) {
	m.setSessionSuspended(projectID, sessionID, false)
}

func (m *Manager) setSessionSuspended(projectID, sessionID string, suspended bool) {
	m.sessionMu.Lock()
	ids := append([]string(nil), m.sessionTerminals[sessionKey(projectID, sessionID)]...)
	m.sessionMu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range ids {
		if t, ok := m.terminals[id]; ok {
			t.suspended.Store(suspended)
		}
	}
}

// CleanupAll closes every registered terminal. Idempotent: calling it a
// second time closes nothing since the registry is empty (spec.md §4.4,
// §8 round-trip: cleanup_all twice in succession is a no-op the second
// time).
func (m *Manager) CleanupAll() {
	m.mu.RLock()
	all := make([]*Terminal, 0, len(m.terminals))
	for _, t := range m.terminals {
		all = append(all, t)
	}
	m.mu.RUnlock()

	for _, t := range all {
		m.closeTerminal(t)
	}
}

func (m *Manager) get(id string) (*Terminal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.terminals[id]
	return t, ok
}

func (t *Terminal) touch() {
	t.hasBeenActive.Store(true)
	t.lastActivityMs.Store(time.Now().UnixMilli())
}

// Subscribe registers a consumer for output events across all terminals
// owned by this manager. The returned unsubscribe func must be called
// exactly once. A subscriber that cannot keep up is dropped rather than
// allowed to block the PTY reader (spec.md §4.4 Event fan-out, §5).
func (m *Manager) Subscribe(bufferSize int) (<-chan OutputEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ch := make(chan OutputEvent, bufferSize)
	id := fmt.Sprintf("%p", ch)

	m.subMu.Lock()
	m.subs = append(m.subs, subscriber{id: id, ch: ch})
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				close(s.ch)
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeExit registers a consumer for terminal-exit events.
func (m *Manager) SubscribeExit(bufferSize int) (<-chan ExitEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	ch := make(chan ExitEvent, bufferSize)
	id := fmt.Sprintf("%p", ch)

	m.subMu.Lock()
	m.exitSubs = append(m.exitSubs, exitSubscriber{id: id, ch: ch})
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, s := range m.exitSubs {
			if s.id == id {
				close(s.ch)
				m.exitSubs = append(m.exitSubs[:i], m.exitSubs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) publishOutput(ev OutputEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	kept := m.subs[:0]
	for _, s := range m.subs {
		select {
		case s.ch <- ev:
			kept = append(kept, s)
		default:
			// Drop the subscriber rather than block the PTY reader (spec.md
			// §4.4, §5); its channel is closed so it sees no gap in the stream.
			close(s.ch)
		}
	}
	m.subs = kept
}

func (m *Manager) publishExit(ev ExitEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, s := range m.exitSubs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// readLoop drains a terminal's PTY into its ring buffer and fans output
// out to subscribers, grounded on the teacher's InteractiveRunner.readOutput.
func (m *Manager) readLoop(t *Terminal) {
	defer close(t.done)
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-t.stopSignal:
			return
		default:
		}

		n, err := t.ptx.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			t.buffer.append(chunk)
			t.touch()

			if !t.suspended.Load() {
				snap := t.buffer.snapshot(nil)
				m.publishOutput(OutputEvent{TerminalID: t.id, SeqEnd: snap.EndSeq, Bytes: chunk})
			}
		}
		if err != nil {
			m.logger.Debug("terminal pty read ended", zap.String("terminal_id", t.id), zap.Error(err))
			return
		}
	}
}

// waitLoop reaps the child process and publishes a terminal-exit event.
func (m *Manager) waitLoop(t *Terminal) {
	err := t.cmd.Wait()
	code := 0
	hasCode := false
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
		hasCode = true
	} else if err == nil {
		hasCode = true
	}

	t.stopOnce.Do(func() { close(t.stopSignal) })
	m.publishExit(ExitEvent{TerminalID: t.id, Code: code, HasCode: hasCode})

	m.mu.Lock()
	delete(m.terminals, t.id)
	m.mu.Unlock()
}
