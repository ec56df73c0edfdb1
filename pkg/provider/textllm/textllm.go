// Package textllm implements the provider.Provider interface on top of
// github.com/mozilla-ai/any-llm-go, a unified multi-provider chat interface
// supporting OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// This is a text-only provider intended for development and chat mode: it has
// no audio path (SendAudio is a logged drop) and produces no transcripts. It
// keeps a rolling message history per connection so each completion carries
// the full conversation context.
//
// Usage:
//
//	p, err := textllm.New("openai", "gpt-4o-mini", logger, anyllm.WithAPIKey("sk-..."))
package textllm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxlead-ai/voxlead/pkg/provider"
)

// Compile-time assertion that Provider satisfies the provider interface.
var _ provider.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithSystemPrompt sets the system message prepended to every completion.
func WithSystemPrompt(prompt string) Option {
	return func(p *Provider) { p.systemPrompt = prompt }
}

// Provider implements provider.Provider by wrapping any-llm-go.
type Provider struct {
	backend      anyllmlib.Provider
	model        string
	systemPrompt string
	logger       *slog.Logger

	mu        sync.Mutex
	connected bool
	history   []anyllmlib.Message

	responseHandler provider.ResponseHandler
	errorHandler    provider.ErrorHandler
}

// New creates a Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". model is the
// specific model to use (e.g., "gpt-4o-mini"). backendOpts are any-llm-go
// configuration options; without an API key option the backend falls back to
// the relevant environment variable (OPENAI_API_KEY and friends).
func New(providerName, model string, logger *slog.Logger, opts []Option, backendOpts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("textllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("textllm: model must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := createBackend(providerName, backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("textllm: create %q backend: %w", providerName, err)
	}

	p := &Provider{
		backend: backend,
		model:   model,
		logger:  logger.With("component", "provider.textllm"),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Name identifies this provider implementation.
func (p *Provider) Name() string { return "textllm" }

// Initialize is a no-op; backend construction already happened in New.
func (p *Provider) Initialize(ctx context.Context) error { return nil }

// Connect marks the provider connected and starts a fresh message history.
// There is no long-lived network session for text completions.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return fmt.Errorf("textllm: already connected")
	}
	p.connected = true
	p.history = nil
	return nil
}

// Disconnect marks the provider disconnected and drops the message history.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.history = nil
	return nil
}

// SendAudio is not supported by a text-only backend. The chunk is dropped
// with a warning so a misconfigured audio path is visible in logs.
func (p *Provider) SendAudio(ctx context.Context, chunk []byte) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return provider.ErrNotConnected
	}
	p.logger.Warn("dropping audio chunk, text-only provider has no audio path", "bytes", len(chunk))
	return nil
}

// SendText appends the user message to the rolling history and requests a
// completion. The completion runs asynchronously; the result is delivered to
// the OnResponse handler, failures to the OnError handler.
func (p *Provider) SendText(ctx context.Context, text string) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return provider.ErrNotConnected
	}
	p.history = append(p.history, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: text,
	})
	params := p.paramsLocked()
	p.mu.Unlock()

	go p.complete(ctx, params)
	return nil
}

// complete runs one completion round and dispatches the outcome.
func (p *Provider) complete(ctx context.Context, params anyllmlib.CompletionParams) {
	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		p.fireError(fmt.Errorf("textllm: completion: %w", err))
		return
	}
	if len(resp.Choices) == 0 {
		p.fireError(fmt.Errorf("textllm: empty choices in response"))
		return
	}

	content := resp.Choices[0].Message.ContentString()

	p.mu.Lock()
	if p.connected {
		p.history = append(p.history, anyllmlib.Message{
			Role:    anyllmlib.RoleAssistant,
			Content: content,
		})
	}
	handler := p.responseHandler
	p.mu.Unlock()

	if handler != nil {
		handler(provider.Response{Text: content})
	}
}

// paramsLocked builds CompletionParams from the current history. Callers must
// hold p.mu.
func (p *Provider) paramsLocked() anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if p.systemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: p.systemPrompt,
		})
	}
	messages = append(messages, p.history...)
	return anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
}

// OnTranscript is accepted but never invoked; a text backend produces no
// speech-to-text output.
func (p *Provider) OnTranscript(handler provider.TranscriptHandler) {}

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

// Voices returns nil; a text backend has no output voices.
func (p *Provider) Voices() []provider.Voice { return nil }

// SetVoice always fails; a text backend has no output voices.
func (p *Provider) SetVoice(id string) error {
	return fmt.Errorf("textllm: %w: %q", provider.ErrUnknownVoice, id)
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
