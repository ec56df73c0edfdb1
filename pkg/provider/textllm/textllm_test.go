package textllm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voxlead-ai/voxlead/pkg/provider"
)

// newTestProvider builds a Provider against the local ollama backend, which
// needs no API key. No test here performs a live completion.
func newTestProvider(t *testing.T, opts ...Option) *Provider {
	t.Helper()
	p, err := New("ollama", "llama3", nil, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// ── Construction ──────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name         string
		providerName string
		model        string
		wantErr      string
	}{
		{name: "empty provider", providerName: "", model: "gpt-4o-mini", wantErr: "providerName"},
		{name: "empty model", providerName: "openai", model: "", wantErr: "model"},
		{name: "unsupported backend", providerName: "acme-llm", model: "m1", wantErr: "unsupported provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.providerName, tt.model, nil, nil)
			if err == nil {
				t.Fatal("New should return an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q; want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateBackend_SupportedNames(t *testing.T) {
	// Local backends construct without credentials.
	for _, name := range []string{"ollama", "llamacpp", "llamafile", "OLLAMA"} {
		if _, err := createBackend(name); err != nil {
			t.Errorf("createBackend(%q): %v", name, err)
		}
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestConnect_Disconnect(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := p.Connect(ctx); err == nil {
		t.Fatal("second Connect should return an error")
	}
	if err := p.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	// Disconnect when not connected is a no-op.
	if err := p.Disconnect(ctx); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}

func TestSend_NotConnected_ReturnsSentinel(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	if err := p.SendText(ctx, "hi"); !errors.Is(err, provider.ErrNotConnected) {
		t.Errorf("SendText error = %v; want ErrNotConnected", err)
	}
	if err := p.SendAudio(ctx, []byte{1, 2}); !errors.Is(err, provider.ErrNotConnected) {
		t.Errorf("SendAudio error = %v; want ErrNotConnected", err)
	}
}

func TestSendAudio_IsADropWhileConnected(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := p.SendAudio(ctx, []byte{1, 2, 3}); err != nil {
		t.Errorf("SendAudio should drop silently, got %v", err)
	}
}

// ── Parameters ────────────────────────────────────────────────────────────────

func TestParams_SystemPromptPrefixesHistory(t *testing.T) {
	p := newTestProvider(t, WithSystemPrompt("Qualify the caller."))
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	p.mu.Lock()
	params := p.paramsLocked()
	p.mu.Unlock()

	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d; want 1 (system only)", len(params.Messages))
	}
	if params.Messages[0].ContentString() != "Qualify the caller." {
		t.Errorf("system content = %q", params.Messages[0].ContentString())
	}
	if params.Model != "llama3" {
		t.Errorf("model = %q; want llama3", params.Model)
	}
}

// ── Voices ────────────────────────────────────────────────────────────────────

func TestVoices_Empty(t *testing.T) {
	p := newTestProvider(t)
	if got := p.Voices(); len(got) != 0 {
		t.Errorf("Voices = %v; want empty", got)
	}
	if err := p.SetVoice("alloy"); !errors.Is(err, provider.ErrUnknownVoice) {
		t.Errorf("SetVoice error = %v; want ErrUnknownVoice", err)
	}
}
