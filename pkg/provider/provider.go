// Package provider defines the Provider interface for conversational AI
// backends.
//
// A provider wraps a remote voice or text AI service behind a fixed surface:
// lifecycle (Initialize, Connect, Disconnect), input (SendAudio, SendText),
// callback registration for transcripts, responses and errors, and voice
// enumeration/selection. The orchestration layer never assumes more than this
// surface; any backend satisfying it is interchangeable.
//
// All implementations must be safe for concurrent use.
package provider

import (
	"context"
	"errors"

	"github.com/voxlead-ai/voxlead/pkg/conversation"
)

// ErrNotConnected is returned by send operations invoked before a successful
// Connect or after Disconnect.
var ErrNotConnected = errors.New("provider: not connected")

// ErrUnknownVoice is returned by SetVoice when the requested voice ID is not
// in the provider's Voices list.
var ErrUnknownVoice = errors.New("provider: unknown voice")

// Voice describes one selectable output voice of a provider.
type Voice struct {
	// ID is the provider-specific voice identifier passed to SetVoice.
	ID string

	// Name is a human-readable label for the voice.
	Name string
}

// Response is one unit of model output: generated text, synthesised audio,
// or both. Either field may be empty depending on the provider's modality.
type Response struct {
	// Text is the generated response text, if the provider produces text.
	Text string

	// Audio is raw PCM16 response audio, if the provider produces audio.
	Audio []byte
}

// TranscriptHandler receives speech-to-text output from the provider. Interim
// segments (Final=false) may be revised by later segments carrying the same ID.
type TranscriptHandler func(seg conversation.TranscriptSegment)

// ResponseHandler receives model responses as they complete.
type ResponseHandler func(resp Response)

// ErrorHandler receives asynchronous provider errors, for example a failure
// on the receive path that the caller did not directly trigger.
type ErrorHandler func(err error)

// Provider is the abstraction over any conversational AI backend.
//
// Handlers registered via OnTranscript/OnResponse/OnError are invoked from the
// provider's internal receive path; they must return quickly and must not call
// blocking provider methods, to avoid deadlocks. Registering a new handler
// replaces the previous one; nil clears it.
type Provider interface {
	// Name identifies the provider implementation, for logs and registries.
	Name() string

	// Initialize performs one-time setup such as credential validation or
	// capability discovery. It must be called before Connect and must be safe
	// to call more than once.
	Initialize(ctx context.Context) error

	// Connect establishes the live session with the backend. After a
	// successful Connect the provider accepts SendAudio and SendText and
	// begins delivering transcripts and responses to registered handlers.
	Connect(ctx context.Context) error

	// Disconnect tears down the live session and releases its resources.
	// Calling Disconnect when not connected is a no-op.
	Disconnect(ctx context.Context) error

	// SendAudio delivers a raw PCM16 audio chunk to the backend.
	// Returns ErrNotConnected when no session is established.
	SendAudio(ctx context.Context, chunk []byte) error

	// SendText delivers a user text message to the backend and requests a
	// model response. Returns ErrNotConnected when no session is established.
	SendText(ctx context.Context, text string) error

	// OnTranscript registers the handler for speech-to-text output.
	OnTranscript(handler TranscriptHandler)

	// OnResponse registers the handler for model responses.
	OnResponse(handler ResponseHandler)

	// OnError registers the handler for asynchronous provider errors.
	OnError(handler ErrorHandler)

	// Voices lists the output voices this provider can speak with. Providers
	// without audio output return an empty slice.
	Voices() []Voice

	// SetVoice selects the output voice for subsequent responses.
	// Returns ErrUnknownVoice if the ID is not in Voices.
	SetVoice(id string) error
}
