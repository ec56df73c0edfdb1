// Package agent implements the orchestration layer: it wires a conversational
// AI provider to per-session conversation state, audio buffering and lead
// extraction, fans internal events out to registered plugins, and manages
// connect / reconnect / disconnect sequencing.
//
// The agent is the composition root of the system. Components never talk to
// each other directly; every edge of the data flow (transport audio into the
// pipeline, pipeline flushes into the provider, provider transcripts into the
// conversation, conversation messages into the extractor and plugin hooks) is
// wired here.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxlead-ai/voxlead/internal/observe"
	"github.com/voxlead-ai/voxlead/internal/transport"
	"github.com/voxlead-ai/voxlead/pkg/audio"
	"github.com/voxlead-ai/voxlead/pkg/conversation"
	"github.com/voxlead-ai/voxlead/pkg/lead"
	"github.com/voxlead-ai/voxlead/pkg/plugin"
	"github.com/voxlead-ai/voxlead/pkg/provider"
)

// ErrNotConnected is returned by send operations invoked while the agent has
// no established provider connection.
var ErrNotConnected = errors.New("agent: not connected")

// Default reconnection parameters.
const (
	defaultReconnectBase = 2 * time.Second
	defaultMaxReconnects = 5
)

// reconnectTimeout bounds a single reconnection attempt.
const reconnectTimeout = 30 * time.Second

// directSessionID identifies the session owned by [Agent.Connect] itself, as
// opposed to sessions spawned per transport client.
const directSessionID = "direct"

// Config holds all dependencies needed to create an [Agent].
//
// Provider is the only required field. The component configs are passed
// through to every session's pipeline, conversation and extractor; their
// zero values select each component's documented defaults.
type Config struct {
	// Provider is the conversational AI backend. Must not be nil.
	Provider provider.Provider

	// SystemPrompt, when non-empty, is injected as the first message of
	// every new conversation.
	SystemPrompt string

	// Audio configures each session's audio pipeline.
	Audio audio.Config

	// Conversation configures each session's conversation state.
	Conversation conversation.Config

	// Lead configures each session's lead extractor.
	Lead lead.Config

	// DisableLeadExtraction turns off lead extraction entirely: no
	// per-message extraction and no final conversation replay.
	DisableLeadExtraction bool

	// ReconnectBaseDelay is the spacing unit of the linear reconnection
	// backoff: attempt n waits n × ReconnectBaseDelay. Defaults to 2s if
	// zero.
	ReconnectBaseDelay time.Duration

	// ReconnectMaxAttempts caps consecutive reconnection attempts before
	// the agent gives up. Defaults to 5 if zero.
	ReconnectMaxAttempts int

	// Metrics receives the agent's orchestration instruments: conversation
	// and reconnect counters, provider-error counters and send-latency
	// histograms. Per-event message and lead counters are recorded by the
	// metrics plugin instead, so enabling it never double-counts. When nil
	// the process-wide default instruments are used.
	Metrics *observe.Metrics
}

// registered is a plugin with its optional hooks resolved once at
// registration time, so the event paths dispatch without repeated type
// assertions.
type registered struct {
	p          plugin.Plugin
	message    plugin.MessageHook
	transcript plugin.TranscriptHook
	lead       plugin.LeadHook
	destroyer  plugin.Destroyer
}

// Agent orchestrates one provider connection and any number of concurrent
// conversation sessions.
//
// All methods are safe for concurrent use. Core state mutation happens in
// the component callbacks, which each component already serialises; the
// agent's own mutex guards only its session table, plugin list and
// connection bookkeeping.
type Agent struct {
	cfg         Config
	provider    provider.Provider
	logger      *slog.Logger
	metrics     *observe.Metrics
	baseDelay   time.Duration
	maxAttempts int

	mu               sync.Mutex
	connected        bool
	closed           bool
	direct           *session
	active           *session
	sessions         map[string]*session
	plugins          []registered
	reconnectAttempt int
	reconnectTimer   *time.Timer
	onConnected      []func()
	onError          []func(contextTag string, err error)
	onLead           []func(info lead.Info)
}

// New creates an [Agent] from the given configuration.
//
// Errors are prefixed with "agent: ".
func New(cfg Config, logger *slog.Logger) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, errors.New("agent: Provider must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	baseDelay := cfg.ReconnectBaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultReconnectBase
	}
	maxAttempts := cfg.ReconnectMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxReconnects
	}

	a := &Agent{
		cfg:         cfg,
		provider:    cfg.Provider,
		logger:      logger.With("component", "agent"),
		metrics:     metrics,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
	}

	cfg.Provider.OnTranscript(a.handleTranscript)
	cfg.Provider.OnResponse(a.handleResponse)
	cfg.Provider.OnError(func(err error) {
		a.handleError("provider", err)
	})

	return a, nil
}

// ── Observer registration ─────────────────────────────────────────────────

// OnConnected registers fn to run after every successful provider
// connection, initial and reconnect alike.
func (a *Agent) OnConnected(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onConnected = append(a.onConnected, fn)
}

// OnError registers fn to receive every provider or transport error together
// with a context tag identifying the failing subsystem.
func (a *Agent) OnError(fn func(contextTag string, err error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onError = append(a.onError, fn)
}

// OnLead registers fn to receive every lead snapshot emission. Snapshots
// re-announce accumulated state; consumers deduplicate downstream.
func (a *Agent) OnLead(fn func(info lead.Info)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLead = append(a.onLead, fn)
}

// ── Lifecycle ─────────────────────────────────────────────────────────────

// Connect initialises and connects the provider, starts the agent's direct
// conversation with the configured system prompt, marks the agent connected
// and resets the reconnection counter.
//
// Any failure in this sequence is reported through the error path and
// returned to the caller; there is no automatic retry of an initial connect.
func (a *Agent) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return nil
	}
	a.closed = false
	a.mu.Unlock()

	if err := a.provider.Initialize(ctx); err != nil {
		a.handleError("provider.initialize", err)
		return fmt.Errorf("agent: initialize provider: %w", err)
	}
	if err := a.provider.Connect(ctx); err != nil {
		a.handleError("provider.connect", err)
		return fmt.Errorf("agent: connect provider: %w", err)
	}

	s := a.newSession(directSessionID, nil)

	a.mu.Lock()
	a.direct = s
	a.active = s
	a.connected = true
	a.reconnectAttempt = 0
	a.mu.Unlock()

	convID := s.start(a.cfg.SystemPrompt)
	a.logger.Info("connected",
		"provider", a.provider.Name(),
		"conversation_id", convID,
	)
	a.notifyConnected()
	return nil
}

// Disconnect runs the final lead-extraction pass over every live session,
// emits any resulting leads, then tears down the provider connection and
// ends all conversations. Calling Disconnect when not connected is a no-op.
func (a *Agent) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil
	}
	a.connected = false
	a.closed = true
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
	closing := make([]*session, 0, len(a.sessions)+1)
	for _, s := range a.sessions {
		closing = append(closing, s)
	}
	if a.direct != nil {
		closing = append(closing, a.direct)
	}
	a.direct = nil
	a.active = nil
	a.sessions = nil
	a.mu.Unlock()

	for _, s := range closing {
		a.closeSession(s)
	}

	if err := a.provider.Disconnect(ctx); err != nil {
		return fmt.Errorf("agent: disconnect provider: %w", err)
	}
	a.logger.Info("disconnected", "provider", a.provider.Name())
	return nil
}

// Close disconnects and then destroys registered plugins in reverse
// registration order. Destroy errors are logged, not returned; the first
// disconnect error, if any, is.
func (a *Agent) Close(ctx context.Context) error {
	err := a.Disconnect(ctx)

	a.mu.Lock()
	plugins := make([]registered, len(a.plugins))
	copy(plugins, a.plugins)
	a.plugins = nil
	a.mu.Unlock()

	for i := len(plugins) - 1; i >= 0; i-- {
		reg := plugins[i]
		if reg.destroyer == nil {
			continue
		}
		if derr := reg.destroyer.Destroy(); derr != nil {
			a.logger.Warn("plugin destroy failed",
				"plugin", reg.p.Name(),
				"error", derr,
			)
		}
	}
	return err
}

// Connected reports whether the agent currently holds an established
// provider connection.
func (a *Agent) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// ── Input ─────────────────────────────────────────────────────────────────

// SendText appends a user message to the active conversation and forwards
// the text to the provider. Returns [ErrNotConnected] when no connection is
// established.
func (a *Agent) SendText(ctx context.Context, text string) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return ErrNotConnected
	}
	s := a.active
	a.mu.Unlock()

	if s != nil {
		s.conv.AddMessage(conversation.RoleUser, text, nil)
	}
	start := time.Now()
	err := a.provider.SendText(ctx, text)
	a.metrics.RecordProviderSend(ctx, "text", time.Since(start))
	if err != nil {
		a.handleError("provider.sendText", err)
		return fmt.Errorf("agent: send text: %w", err)
	}
	return nil
}

// Logger returns the logger handed to plugins at registration.
func (a *Agent) Logger() *slog.Logger {
	return a.logger.With("component", "plugin")
}

// Use registers a plugin and immediately runs its initialisation hook. The
// plugin's optional event hooks are discovered by interface assertion and
// invoked synchronously on every matching internal event from then on.
func (a *Agent) Use(p plugin.Plugin) error {
	if err := p.Initialize(a); err != nil {
		return fmt.Errorf("agent: initialize plugin %q: %w", p.Name(), err)
	}

	reg := registered{p: p}
	if h, ok := p.(plugin.MessageHook); ok {
		reg.message = h
	}
	if h, ok := p.(plugin.TranscriptHook); ok {
		reg.transcript = h
	}
	if h, ok := p.(plugin.LeadHook); ok {
		reg.lead = h
	}
	if h, ok := p.(plugin.Destroyer); ok {
		reg.destroyer = h
	}

	a.mu.Lock()
	a.plugins = append(a.plugins, reg)
	a.mu.Unlock()

	a.logger.Info("plugin registered", "plugin", p.Name())
	return nil
}

// ── Listening mode ────────────────────────────────────────────────────────

// Attach wires the agent's session lifecycle to a transport server: each
// connecting client gets its own pipeline, conversation and extractor, and a
// disconnecting client gets the same final lead-extraction pass as
// [Agent.Disconnect], scoped to that client's conversation.
func (a *Agent) Attach(srv *transport.Server) {
	srv.OnConnect(func(c *transport.Client) {
		s := a.newSession(c.ID(), c)

		a.mu.Lock()
		if a.sessions == nil {
			a.sessions = make(map[string]*session)
		}
		a.sessions[c.ID()] = s
		a.active = s
		a.mu.Unlock()

		convID := s.start(a.cfg.SystemPrompt)
		a.logger.Info("client session started",
			"session", s,
			"conversation_id", convID,
		)
	})

	srv.OnAudio(func(c *transport.Client, pcm []byte) {
		a.mu.Lock()
		s := a.sessions[c.ID()]
		if s != nil {
			a.active = s
		}
		a.mu.Unlock()
		if s == nil {
			return
		}
		s.pipeline.ProcessChunk(pcm)
	})

	srv.OnDisconnect(func(c *transport.Client) {
		a.mu.Lock()
		s := a.sessions[c.ID()]
		delete(a.sessions, c.ID())
		if s != nil && a.active == s {
			a.active = a.direct
		}
		a.mu.Unlock()
		if s == nil {
			return
		}

		a.closeSession(s)
		a.logger.Info("client session ended", "session", s)
	})
}

// Listen starts a transport server on addr, attaches the agent to it,
// performs the provider connect sequence and serves until ctx is cancelled.
// The provider connection is torn down when serving stops.
func (a *Agent) Listen(ctx context.Context, addr string, opts ...transport.Option) error {
	opts = append(opts, transport.WithMetrics(a.metrics))
	srv := transport.New(addr, a.logger, opts...)
	a.Attach(srv)

	if err := a.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
		defer cancel()
		if err := a.Disconnect(shutdownCtx); err != nil {
			a.logger.Warn("disconnect on shutdown failed", "error", err)
		}
	}()

	return srv.Run(ctx)
}

// closeSession runs the session's final lead-extraction pass and ends it.
// The replay announces qualifying snapshots through the extractor's own
// observer; the explicit announcement below covers the case where
// per-message events are disabled and the replay stays silent.
func (a *Agent) closeSession(s *session) {
	final := s.finish(!a.cfg.DisableLeadExtraction)
	if final != nil && a.cfg.Lead.DisablePerMessageEvents {
		a.notifyLead(*final)
	}
}

// ── Provider event routing ────────────────────────────────────────────────

// activeSession returns the session provider output is currently attributed
// to: the last session that produced input, falling back to the direct one.
func (a *Agent) activeSession() *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active != nil {
		return a.active
	}
	return a.direct
}

func (a *Agent) handleTranscript(seg conversation.TranscriptSegment) {
	s := a.activeSession()
	if s == nil {
		a.logger.Warn("transcript dropped, no active session", "segment_id", seg.ID)
		return
	}
	s.conv.AddTranscript(seg)
}

func (a *Agent) handleResponse(resp provider.Response) {
	s := a.activeSession()
	if s == nil {
		a.logger.Warn("response dropped, no active session")
		return
	}
	if resp.Text != "" {
		s.conv.AddMessage(conversation.RoleAssistant, resp.Text, nil)
	}
	if s.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if resp.Text != "" {
		if err := s.client.SendText(ctx, resp.Text); err != nil {
			a.handleError("transport.sendText", err)
		}
	}
	if len(resp.Audio) > 0 {
		if err := s.client.SendAudio(ctx, resp.Audio); err != nil {
			a.handleError("transport.sendAudio", err)
		}
	}
}

// ── Event fan-out ─────────────────────────────────────────────────────────

func (a *Agent) notifyConnected() {
	a.mu.Lock()
	fns := make([]func(), len(a.onConnected))
	copy(fns, a.onConnected)
	a.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// notifyMessage fans a message out to the plugin hooks. Counting happens in
// the metrics plugin, the sole recorder of the per-event instruments.
func (a *Agent) notifyMessage(msg conversation.Message) {
	for _, reg := range a.pluginSnapshot() {
		if reg.message == nil {
			continue
		}
		if err := reg.message.OnMessage(msg); err != nil {
			a.logger.Warn("plugin message hook failed",
				"plugin", reg.p.Name(),
				"error", err,
			)
		}
	}
}

func (a *Agent) notifyTranscript(seg conversation.TranscriptSegment) {
	for _, reg := range a.pluginSnapshot() {
		if reg.transcript == nil {
			continue
		}
		if err := reg.transcript.OnTranscript(seg); err != nil {
			a.logger.Warn("plugin transcript hook failed",
				"plugin", reg.p.Name(),
				"error", err,
			)
		}
	}
}

func (a *Agent) notifyLead(info lead.Info) {
	for _, reg := range a.pluginSnapshot() {
		if reg.lead == nil {
			continue
		}
		if err := reg.lead.OnLead(info); err != nil {
			a.logger.Warn("plugin lead hook failed",
				"plugin", reg.p.Name(),
				"error", err,
			)
		}
	}

	a.mu.Lock()
	fns := make([]func(lead.Info), len(a.onLead))
	copy(fns, a.onLead)
	a.mu.Unlock()
	for _, fn := range fns {
		fn(info)
	}
}

func (a *Agent) pluginSnapshot() []registered {
	a.mu.Lock()
	defer a.mu.Unlock()
	plugins := make([]registered, len(a.plugins))
	copy(plugins, a.plugins)
	return plugins
}

// ── Error handling & reconnection ─────────────────────────────────────────

// handleError is the centralised error path: log with a context tag, count,
// notify observers, and trigger the bounded reconnection policy when the
// agent held an established connection at the time of the error.
func (a *Agent) handleError(contextTag string, err error) {
	a.logger.Error("subsystem error", "context", contextTag, "error", err)
	a.metrics.RecordProviderError(context.Background(), contextTag)

	a.mu.Lock()
	fns := make([]func(string, error), len(a.onError))
	copy(fns, a.onError)
	wasConnected := a.connected
	a.mu.Unlock()

	for _, fn := range fns {
		fn(contextTag, err)
	}
	if wasConnected {
		a.scheduleReconnect()
	}
}

// scheduleReconnect arms a single pending reconnection attempt after a
// linearly increasing delay: attempt n waits n × base. Once the attempt
// counter reaches the ceiling no further attempts are scheduled.
func (a *Agent) scheduleReconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.reconnectTimer != nil {
		return
	}
	if a.reconnectAttempt >= a.maxAttempts {
		a.logger.Error("reconnection attempts exhausted",
			"max_attempts", a.maxAttempts,
		)
		return
	}
	a.reconnectAttempt++
	attempt := a.reconnectAttempt
	delay := time.Duration(attempt) * a.baseDelay
	a.metrics.RecordReconnectAttempt(context.Background())

	a.logger.Info("reconnection scheduled",
		"attempt", attempt,
		"max_attempts", a.maxAttempts,
		"delay", delay,
	)
	a.reconnectTimer = time.AfterFunc(delay, func() {
		a.reconnect(attempt)
	})
}

// reconnect performs one provider reconnection attempt. It no-ops when the
// agent was torn down while the timer was pending. Failures are logged and
// feed back into scheduling; they are never escalated to a caller.
func (a *Agent) reconnect(attempt int) {
	a.mu.Lock()
	a.reconnectTimer = nil
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
	defer cancel()

	if err := a.provider.Connect(ctx); err != nil {
		a.logger.Warn("reconnection attempt failed",
			"attempt", attempt,
			"max_attempts", a.maxAttempts,
			"error", err,
		)
		a.scheduleReconnect()
		return
	}

	a.mu.Lock()
	a.reconnectAttempt = 0
	a.mu.Unlock()

	a.logger.Info("reconnected", "attempt", attempt)
	a.notifyConnected()
}

// Compile-time interface check: the agent is the host handle plugins receive.
var _ plugin.Host = (*Agent)(nil)
