package audio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MessageTypeAudio tags an [Envelope] carrying base64-encoded PCM audio.
const MessageTypeAudio = "audio"

// Envelope is the JSON wire format for audio messages exchanged with
// transport clients.
type Envelope struct {
	// Type discriminates the message kind. Audio messages use [MessageTypeAudio].
	Type string `json:"type"`

	// Data is the base64-encoded PCM payload.
	Data string `json:"data"`

	// Timestamp is the sender's clock in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// ID uniquely identifies this message.
	ID string `json:"id"`
}

// NewAudioMessage wraps raw PCM bytes in a JSON audio envelope, assigning a
// fresh message ID and the current timestamp.
func NewAudioMessage(pcm []byte) ([]byte, error) {
	env := Envelope{
		Type:      MessageTypeAudio,
		Data:      base64.StdEncoding.EncodeToString(pcm),
		Timestamp: time.Now().UnixMilli(),
		ID:        uuid.NewString(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("audio: marshal envelope: %w", err)
	}
	return data, nil
}

// ParseAudioMessage extracts the PCM payload from a JSON audio envelope.
//
// Any envelope that is malformed JSON, carries a type other than
// [MessageTypeAudio], or holds undecodable base64 yields nil with a logged
// diagnostic. Audio arrives from untrusted, best-effort network clients;
// a bad message degrades gracefully per-message instead of aborting the
// session.
func ParseAudioMessage(raw []byte) []byte {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Debug("audio: discarding malformed envelope", "err", err)
		return nil
	}
	if env.Type != MessageTypeAudio {
		slog.Debug("audio: discarding non-audio envelope", "type", env.Type)
		return nil
	}
	pcm, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		slog.Debug("audio: discarding envelope with bad base64 payload", "id", env.ID, "err", err)
		return nil
	}
	return pcm
}
