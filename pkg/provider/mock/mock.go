// Package mock provides a scriptable test double for the provider package.
//
// Tests pre-configure per-method errors, drive the registered handlers through
// EmitTranscript/EmitResponse/EmitError, and inspect recorded calls afterward.
//
// Example:
//
//	p := &mock.Provider{}
//	agent := agent.New(p, ...)
//	_ = agent.Connect(ctx)
//	p.EmitTranscript(conversation.TranscriptSegment{Text: "hello", Final: true})
package mock

import (
	"context"
	"sync"

	"github.com/voxlead-ai/voxlead/pkg/conversation"
	"github.com/voxlead-ai/voxlead/pkg/provider"
)

// SendAudioCall records a single invocation of Provider.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Provider is a mock implementation of provider.Provider.
//
// The zero value is usable: Initialize/Connect/Disconnect/Send succeed, Voices
// is empty, and all calls are recorded.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock" when empty.
	ProviderName string

	// ProviderVoices is returned by Voices.
	ProviderVoices []provider.Voice

	// --- Configurable errors ---

	// InitializeErr, if non-nil, is returned by every Initialize call.
	InitializeErr error

	// ConnectErr, if non-nil, is returned by every Connect call.
	ConnectErr error

	// ConnectErrs, if non-empty, is consumed one entry per Connect call before
	// ConnectErr is consulted. A nil entry means that attempt succeeds. Used to
	// script failure-then-recovery sequences for reconnect tests.
	ConnectErrs []error

	// DisconnectErr, if non-nil, is returned by every Disconnect call.
	DisconnectErr error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendTextErr, if non-nil, is returned by every SendText call.
	SendTextErr error

	// SetVoiceErr, if non-nil, is returned by every SetVoice call.
	SetVoiceErr error

	// --- Call records ---

	// InitializeCallCount is the number of times Initialize was called.
	InitializeCallCount int

	// ConnectCallCount is the number of times Connect was called.
	ConnectCallCount int

	// DisconnectCallCount is the number of times Disconnect was called.
	DisconnectCallCount int

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// SendTextCalls records the text of every SendText call in order.
	SendTextCalls []string

	// SetVoiceCalls records the voice ID of every SetVoice call in order.
	SetVoiceCalls []string

	transcriptHandler provider.TranscriptHandler
	responseHandler   provider.ResponseHandler
	errorHandler      provider.ErrorHandler
}

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Initialize records the call and returns InitializeErr.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InitializeCallCount++
	return p.InitializeErr
}

// Connect records the call. The next ConnectErrs entry is consumed first;
// when the script is exhausted ConnectErr applies.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCallCount++
	if len(p.ConnectErrs) > 0 {
		err := p.ConnectErrs[0]
		p.ConnectErrs = p.ConnectErrs[1:]
		return err
	}
	return p.ConnectErr
}

// Disconnect records the call and returns DisconnectErr.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DisconnectCallCount++
	return p.DisconnectErr
}

// SendAudio records the call and returns SendAudioErr.
func (p *Provider) SendAudio(ctx context.Context, chunk []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	p.SendAudioCalls = append(p.SendAudioCalls, SendAudioCall{Chunk: cp})
	return p.SendAudioErr
}

// SendText records the call and returns SendTextErr.
func (p *Provider) SendText(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendTextCalls = append(p.SendTextCalls, text)
	return p.SendTextErr
}

// OnTranscript stores the handler.
func (p *Provider) OnTranscript(handler provider.TranscriptHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcriptHandler = handler
}

// OnResponse stores the handler.
func (p *Provider) OnResponse(handler provider.ResponseHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responseHandler = handler
}

// OnError stores the handler.
func (p *Provider) OnError(handler provider.ErrorHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorHandler = handler
}

// Voices returns ProviderVoices.
func (p *Provider) Voices() []provider.Voice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderVoices
}

// SetVoice records the call and returns SetVoiceErr.
func (p *Provider) SetVoice(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SetVoiceCalls = append(p.SetVoiceCalls, id)
	return p.SetVoiceErr
}

// EmitTranscript invokes the registered transcript handler, if any.
func (p *Provider) EmitTranscript(seg conversation.TranscriptSegment) {
	p.mu.Lock()
	handler := p.transcriptHandler
	p.mu.Unlock()
	if handler != nil {
		handler(seg)
	}
}

// EmitResponse invokes the registered response handler, if any.
func (p *Provider) EmitResponse(resp provider.Response) {
	p.mu.Lock()
	handler := p.responseHandler
	p.mu.Unlock()
	if handler != nil {
		handler(resp)
	}
}

// EmitError invokes the registered error handler, if any.
func (p *Provider) EmitError(err error) {
	p.mu.Lock()
	handler := p.errorHandler
	p.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// ConnectCalls returns ConnectCallCount under the mutex, for assertions
// that run concurrently with background reconnection goroutines.
func (p *Provider) ConnectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ConnectCallCount
}

// AudioCalls returns len(SendAudioCalls) under the mutex, for assertions
// that run concurrently with pipeline flushes.
func (p *Provider) AudioCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SendAudioCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InitializeCallCount = 0
	p.ConnectCallCount = 0
	p.DisconnectCallCount = 0
	p.SendAudioCalls = nil
	p.SendTextCalls = nil
	p.SetVoiceCalls = nil
}

// Ensure Provider implements provider.Provider at compile time.
var _ provider.Provider = (*Provider)(nil)
