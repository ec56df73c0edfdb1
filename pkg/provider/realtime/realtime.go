// Package realtime implements the provider.Provider interface over a
// bidirectional WebSocket realtime voice API.
//
// Audio is transmitted as base64-encoded PCM16 chunks inside JSON events in
// the OpenAI Realtime wire dialect: input audio is appended with
// input_audio_buffer.append, speech recognition arrives as input audio
// transcription events, and model output is assembled from response.* deltas
// into a single Response per turn.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxlead-ai/voxlead/pkg/conversation"
	"github.com/voxlead-ai/voxlead/pkg/provider"
)

// Compile-time assertion that Provider satisfies the provider interface.
var _ provider.Provider = (*Provider)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
	defaultVoice   = "alloy"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the realtime model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithInstructions sets the system-level instructions sent with the initial
// session.update.
func WithInstructions(instructions string) Option {
	return func(p *Provider) { p.instructions = instructions }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements provider.Provider over a realtime WebSocket session.
type Provider struct {
	apiKey       string
	model        string
	baseURL      string
	instructions string
	logger       *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	voiceID string

	transcriptHandler provider.TranscriptHandler
	responseHandler   provider.ResponseHandler
	errorHandler      provider.ErrorHandler

	// Per-turn accumulation state, reset on each completed turn.
	userItemID string
	userText   string
	respText   string
	respAudio  []byte
}

// New creates a realtime Provider with the given API key and options.
// A nil logger falls back to slog.Default.
func New(apiKey string, logger *slog.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		voiceID: defaultVoice,
		logger:  logger.With("component", "provider.realtime"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name identifies this provider implementation.
func (p *Provider) Name() string { return "realtime" }

// Initialize validates the provider configuration. Safe to call repeatedly.
func (p *Provider) Initialize(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("realtime: api key required")
	}
	return nil
}

// Connect dials the realtime endpoint, configures the session and starts the
// receive loop. Returns an error when a session is already open.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.conn != nil {
		p.mu.Unlock()
		return fmt.Errorf("realtime: already connected")
	}
	p.mu.Unlock()

	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.conn = conn
	p.ctx = sessCtx
	p.cancel = sessCancel
	voice := p.voiceID
	p.mu.Unlock()

	if err := p.sendSessionUpdate(voice, p.instructions); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		return fmt.Errorf("realtime: session update: %w", err)
	}

	go p.receiveLoop(conn, sessCtx)

	return nil
}

// Disconnect closes the session. Calling Disconnect when not connected is a
// no-op.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	conn := p.conn
	cancel := p.cancel
	p.conn = nil
	p.cancel = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

// SendAudio appends a raw PCM16 chunk to the provider's input buffer.
func (p *Provider) SendAudio(ctx context.Context, chunk []byte) error {
	encoded := base64.StdEncoding.EncodeToString(chunk)
	return p.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: encoded,
	})
}

// SendText injects a user message and requests a model response.
func (p *Provider) SendText(ctx context.Context, text string) error {
	err := p.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	})
	if err != nil {
		return err
	}
	return p.writeJSON(map[string]string{"type": "response.create"})
}

// OnTranscript registers the handler for speech-to-text output.
func (p *Provider) OnTranscript(handler provider.TranscriptHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcriptHandler = handler
}

// OnResponse registers the handler for completed model responses.
func (p *Provider) OnResponse(handler provider.ResponseHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responseHandler = handler
}

// OnError registers the handler for asynchronous provider errors.
func (p *Provider) OnError(handler provider.ErrorHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorHandler = handler
}

// Voices lists the output voices of the realtime model.
func (p *Provider) Voices() []provider.Voice {
	return []provider.Voice{
		{ID: "alloy", Name: "Alloy"},
		{ID: "ash", Name: "Ash"},
		{ID: "ballad", Name: "Ballad"},
		{ID: "coral", Name: "Coral"},
		{ID: "echo", Name: "Echo"},
		{ID: "sage", Name: "Sage"},
		{ID: "shimmer", Name: "Shimmer"},
		{ID: "verse", Name: "Verse"},
	}
}

// SetVoice selects the output voice. When a session is open the change is
// pushed immediately via session.update, effective for the next model turn.
func (p *Provider) SetVoice(id string) error {
	known := false
	for _, v := range p.Voices() {
		if v.ID == id {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("realtime: %w: %q", provider.ErrUnknownVoice, id)
	}

	p.mu.Lock()
	p.voiceID = id
	connected := p.conn != nil
	p.mu.Unlock()

	if connected {
		return p.sendSessionUpdate(id, "")
	}
	return nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string            `json:"voice,omitempty"`
	Instructions            string            `json:"instructions,omitempty"`
	InputAudioFormat        string            `json:"input_audio_format"`
	OutputAudioFormat       string            `json:"output_audio_format"`
	InputAudioTranscription *transcriptionCfg `json:"input_audio_transcription,omitempty"`
}

type transcriptionCfg struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail is the nested error object in a realtime error event.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta /
	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`
	ItemID     string `json:"item_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── Wire helpers ───────────────────────────────────────────────────────────────

// sendSessionUpdate configures voice, instructions, audio formats and input
// transcription for the open session.
func (p *Provider) sendSessionUpdate(voice, instructions string) error {
	params := sessionParams{
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &transcriptionCfg{Model: "whisper-1"},
	}
	if voice != "" {
		params.Voice = voice
	}
	if instructions != "" {
		params.Instructions = instructions
	}
	return p.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message on the open
// session. Returns ErrNotConnected when no session is established.
func (p *Provider) writeJSON(v any) error {
	p.mu.Lock()
	conn := p.conn
	ctx := p.ctx
	p.mu.Unlock()

	if conn == nil {
		return provider.ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

// receiveLoop reads events from the WebSocket and dispatches them until the
// session is cancelled or the connection fails.
func (p *Provider) receiveLoop(conn *websocket.Conn, ctx context.Context) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.fireError(fmt.Errorf("realtime: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			p.logger.Debug("dropping malformed server event", "error", err)
			continue
		}

		p.handleServerEvent(&evt)
	}
}

func (p *Provider) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" {
			return
		}
		p.mu.Lock()
		if evt.ItemID != "" && evt.ItemID != p.userItemID {
			p.userItemID = evt.ItemID
			p.userText = ""
		}
		p.userText += evt.Delta
		seg := conversation.TranscriptSegment{
			ID:        p.segmentIDLocked(),
			Text:      p.userText,
			Final:     false,
			Timestamp: time.Now(),
			Speaker:   "user",
		}
		p.mu.Unlock()
		p.fireTranscript(seg)

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		p.mu.Lock()
		if evt.ItemID != "" {
			p.userItemID = evt.ItemID
		}
		seg := conversation.TranscriptSegment{
			ID:         p.segmentIDLocked(),
			Text:       evt.Transcript,
			Final:      true,
			Timestamp:  time.Now(),
			Speaker:    "user",
			Confidence: 1.0,
		}
		p.userItemID = ""
		p.userText = ""
		p.mu.Unlock()
		p.fireTranscript(seg)

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		p.mu.Lock()
		p.respAudio = append(p.respAudio, audioData...)
		p.mu.Unlock()

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		p.mu.Lock()
		p.respText += evt.Delta
		p.mu.Unlock()

	case "response.done":
		p.mu.Lock()
		resp := provider.Response{Text: p.respText, Audio: p.respAudio}
		p.respText = ""
		p.respAudio = nil
		p.mu.Unlock()

		if resp.Text == "" && len(resp.Audio) == 0 {
			return
		}
		p.fireResponse(resp)

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		p.fireError(fmt.Errorf("realtime: %s", msg))
	}
}

// segmentIDLocked returns the current user item ID, minting one when the
// event stream did not carry one. Callers must hold p.mu.
func (p *Provider) segmentIDLocked() string {
	if p.userItemID == "" {
		p.userItemID = uuid.NewString()
	}
	return p.userItemID
}

func (p *Provider) fireTranscript(seg conversation.TranscriptSegment) {
	p.mu.Lock()
	handler := p.transcriptHandler
	p.mu.Unlock()
	if handler != nil {
		handler(seg)
	}
}

func (p *Provider) fireResponse(resp provider.Response) {
	p.mu.Lock()
	handler := p.responseHandler
	p.mu.Unlock()
	if handler != nil {
		handler(resp)
	}
}

func (p *Provider) fireError(err error) {
	p.mu.Lock()
	handler := p.errorHandler
	p.mu.Unlock()
	if handler != nil {
		handler(err)
		return
	}
	p.logger.Error("provider error with no handler registered", "error", err)
}
