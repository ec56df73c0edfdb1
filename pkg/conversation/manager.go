// Package conversation owns the canonical turn history for a voice
// conversation and enforces its lifecycle and timeout policy.
//
// A [Manager] holds at most one active conversation at a time. Starting a new
// conversation produces a fresh identifier and empty history; ending it
// freezes the state. History is append-only apart from a configurable
// maximum-length trim that evicts the oldest messages first.
//
// All exported methods are safe for concurrent use. Observer callbacks are
// invoked synchronously, in registration order, outside the manager's lock.
package conversation

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default lifecycle parameters.
const (
	defaultMaxMessages    = 100
	defaultSilenceTimeout = 30 * time.Second
	defaultMaxDuration    = 1 * time.Hour
)

// Config holds the parameters for a [Manager].
type Config struct {
	// MaxMessages caps the history length. When exceeded, the oldest
	// messages are evicted (FIFO) so that the most recent MaxMessages are
	// always retained. Defaults to 100 if zero.
	MaxMessages int

	// SilenceTimeout is the inactivity window after which the silence
	// watchdog fires. Defaults to 30s if zero; set negative to disable the
	// watchdog entirely.
	SilenceTimeout time.Duration

	// MaxDuration bounds a conversation's total lifetime as checked by
	// [Manager.IsValid]. Defaults to 1h if zero; set negative for no limit.
	// This is a caller-side policy check, not self-enforced by a timer.
	MaxDuration time.Duration

	// DisableMetadata turns off conversation metadata tracking:
	// [Manager.UpdateMetadata] becomes a no-op.
	DisableMetadata bool
}

// withDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.MaxMessages <= 0 {
		c.MaxMessages = defaultMaxMessages
	}
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = defaultSilenceTimeout
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = defaultMaxDuration
	}
	return c
}

// Manager owns the message history and lifecycle of a single active
// conversation.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    *State
	silence  *time.Timer
	timerGen int

	onStarted    []func(id string)
	onEnded      []func(final State)
	onMessage    []func(msg Message)
	onTranscript []func(seg TranscriptSegment)
	onSilence    []func()
	onCleared    []func()
}

// NewManager creates a [Manager] with the given configuration. Pass a nil
// logger to use [slog.Default].
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "conversation"),
	}
}

// OnStarted registers fn to be invoked with the new conversation ID whenever
// a conversation starts.
func (m *Manager) OnStarted(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStarted = append(m.onStarted, fn)
}

// OnEnded registers fn to be invoked with the frozen final state whenever a
// conversation ends.
func (m *Manager) OnEnded(fn func(final State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnded = append(m.onEnded, fn)
}

// OnMessage registers fn to be invoked for every message appended to history.
func (m *Manager) OnMessage(fn func(msg Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = append(m.onMessage, fn)
}

// OnTranscript registers fn to be invoked for every transcript segment
// observed while active, interim segments included. Use this for live
// caption display; only final segments also appear in history.
func (m *Manager) OnTranscript(fn func(seg TranscriptSegment)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTranscript = append(m.onTranscript, fn)
}

// OnSilence registers fn to be invoked when the silence watchdog fires.
// The watchdog fires at most once per arming and performs no state
// transition itself — the observer decides whether to end the conversation.
func (m *Manager) OnSilence(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSilence = append(m.onSilence, fn)
}

// OnCleared registers fn to be invoked when history is wiped via
// [Manager.Clear].
func (m *Manager) OnCleared(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCleared = append(m.onCleared, fn)
}

// Start begins a new conversation with a fresh identifier and empty history,
// arms the silence watchdog, and notifies OnStarted observers. Any prior
// conversation state is abandoned (it was frozen by End, or is simply
// discarded if Start is called while another conversation is active).
func (m *Manager) Start() string {
	m.mu.Lock()
	now := time.Now()
	m.state = &State{
		ID:           uuid.NewString(),
		Active:       true,
		StartedAt:    now,
		LastActivity: now,
		Metadata:     make(map[string]string),
	}
	id := m.state.ID
	m.rearmWatchdogLocked()
	started := snapshot(m.onStarted)
	m.mu.Unlock()

	for _, fn := range started {
		fn(id)
	}
	return id
}

// End freezes the active conversation, cancels the silence watchdog, and
// returns the final state snapshot. Ending an already-ended (or never
// started) conversation returns the last snapshot without firing events.
func (m *Manager) End() State {
	m.mu.Lock()
	if m.state == nil {
		m.mu.Unlock()
		return State{}
	}
	if !m.state.Active {
		final := m.snapshotLocked()
		m.mu.Unlock()
		return final
	}

	m.state.Active = false
	m.stopWatchdogLocked()
	final := m.snapshotLocked()
	ended := snapshot(m.onEnded)
	m.mu.Unlock()

	for _, fn := range ended {
		fn(final)
	}
	return final
}

// AddMessage appends a timestamped message to history. Rejected silently
// (logged, not returned as an error) when no conversation is active: late
// messages after End are an expected race in a live system, not a
// programmer error.
func (m *Manager) AddMessage(role Role, content string, metadata map[string]string) {
	m.mu.Lock()
	if m.state == nil || !m.state.Active {
		m.mu.Unlock()
		m.logger.Warn("message dropped: no active conversation", "role", role)
		return
	}
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  cloneMeta(metadata),
	}
	m.appendLocked(msg)
	observers := snapshot(m.onMessage)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(msg)
	}
}

// AddTranscript records a speech-to-text segment. Segments are ignored while
// inactive. Interim segments only notify OnTranscript observers; final
// segments additionally become a user message carrying transcript metadata,
// which guards the durable record against partial, later-corrected
// recognition output.
func (m *Manager) AddTranscript(seg TranscriptSegment) {
	m.mu.Lock()
	if m.state == nil || !m.state.Active {
		m.mu.Unlock()
		m.logger.Debug("transcript ignored: no active conversation", "segment", seg.ID)
		return
	}

	transcriptObs := snapshot(m.onTranscript)

	var msg Message
	var messageObs []func(Message)
	if seg.Final {
		meta := map[string]string{"transcript_id": seg.ID}
		if seg.Speaker != "" {
			meta["speaker"] = seg.Speaker
		}
		if seg.Confidence > 0 {
			meta["confidence"] = fmt.Sprintf("%.3f", seg.Confidence)
		}
		msg = Message{
			Role:      RoleUser,
			Content:   seg.Text,
			Timestamp: time.Now(),
			Metadata:  meta,
		}
		m.appendLocked(msg)
		messageObs = snapshot(m.onMessage)
	}
	m.mu.Unlock()

	for _, fn := range transcriptObs {
		fn(seg)
	}
	for _, fn := range messageObs {
		fn(msg)
	}
}

// ContextMessages returns the role/content history suitable for replaying to
// a language model, optionally prefixed with systemPrompt as the first entry.
func (m *Manager) ContextMessages(systemPrompt string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Message
	if systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	}
	if m.state != nil {
		for _, msg := range m.state.Messages {
			out = append(out, Message{Role: msg.Role, Content: msg.Content})
		}
	}
	return out
}

// Messages returns a defensive copy of the full message history.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	return cloneMessages(m.state.Messages)
}

// LastMessages returns a defensive copy of the most recent n messages.
func (m *Manager) LastMessages(n int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil || n <= 0 {
		return nil
	}
	msgs := m.state.Messages
	if n < len(msgs) {
		msgs = msgs[len(msgs)-n:]
	}
	return cloneMessages(msgs)
}

// State returns a defensive copy of the current conversation state, or the
// zero State if no conversation has been started.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return State{}
	}
	return m.snapshotLocked()
}

// Clear wipes message history and metadata without ending the conversation.
// Unlike [Manager.End], the conversation stays active and keeps its
// identifier. The wipe counts as activity and rearms the silence watchdog.
func (m *Manager) Clear() {
	m.mu.Lock()
	if m.state == nil || !m.state.Active {
		m.mu.Unlock()
		return
	}
	m.state.Messages = nil
	m.state.Metadata = make(map[string]string)
	m.state.LastActivity = time.Now()
	m.rearmWatchdogLocked()
	cleared := snapshot(m.onCleared)
	m.mu.Unlock()

	for _, fn := range cleared {
		fn()
	}
}

// IsValid reports whether the conversation is active and within the
// configured maximum duration. This is a caller-side policy check: a
// conversation exceeding MaxDuration is not ended automatically.
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil || !m.state.Active {
		return false
	}
	if m.cfg.MaxDuration > 0 && time.Since(m.state.StartedAt) > m.cfg.MaxDuration {
		return false
	}
	return true
}

// UpdateMetadata shallow-merges patch into the conversation's metadata.
// No-op when metadata tracking is disabled or no conversation is active.
func (m *Manager) UpdateMetadata(patch map[string]string) {
	if m.cfg.DisableMetadata {
		m.logger.Debug("metadata update ignored: tracking disabled")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil || !m.state.Active {
		return
	}
	for k, v := range patch {
		m.state.Metadata[k] = v
	}
}

// appendLocked adds msg to history, updates activity, trims the oldest
// entries past MaxMessages, and rearms the watchdog. Must be called with
// m.mu held.
func (m *Manager) appendLocked(msg Message) {
	m.state.Messages = append(m.state.Messages, msg)
	if n := len(m.state.Messages) - m.cfg.MaxMessages; n > 0 {
		m.state.Messages = m.state.Messages[n:]
	}
	m.state.LastActivity = msg.Timestamp
	m.rearmWatchdogLocked()
}

// snapshotLocked returns a deep copy of the current state.
// Must be called with m.mu held.
func (m *Manager) snapshotLocked() State {
	s := *m.state
	s.Messages = cloneMessages(m.state.Messages)
	s.Metadata = cloneMeta(m.state.Metadata)
	return s
}

// rearmWatchdogLocked replaces the single-shot silence timer. The generation
// counter guards against a stale timer firing after a rearm or End.
// Must be called with m.mu held.
func (m *Manager) rearmWatchdogLocked() {
	if m.cfg.SilenceTimeout < 0 {
		return
	}
	m.stopWatchdogLocked()
	m.timerGen++
	gen := m.timerGen
	m.silence = time.AfterFunc(m.cfg.SilenceTimeout, func() {
		m.fireSilence(gen)
	})
}

// stopWatchdogLocked cancels any pending silence timer and invalidates its
// generation. Must be called with m.mu held.
func (m *Manager) stopWatchdogLocked() {
	m.timerGen++
	if m.silence != nil {
		m.silence.Stop()
		m.silence = nil
	}
}

// fireSilence delivers the silence notification if the arming that scheduled
// it is still current and the conversation is still active.
func (m *Manager) fireSilence(gen int) {
	m.mu.Lock()
	if m.timerGen != gen || m.state == nil || !m.state.Active {
		m.mu.Unlock()
		return
	}
	observers := snapshot(m.onSilence)
	id := m.state.ID
	m.mu.Unlock()

	m.logger.Debug("silence timeout fired", "conversation", id)
	for _, fn := range observers {
		fn()
	}
}

// snapshot copies a handler list so it can be invoked outside the lock.
func snapshot[T any](fns []T) []T {
	if len(fns) == 0 {
		return nil
	}
	out := make([]T, len(fns))
	copy(out, fns)
	return out
}
