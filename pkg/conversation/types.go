package conversation

import "time"

// Role identifies the author of a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// IsValid reports whether r is a recognised message role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleFunction:
		return true
	}
	return false
}

// Message is a single turn in a conversation. Messages are created only
// through a [Manager] and are immutable once appended to history.
type Message struct {
	// Role is the message author.
	Role Role

	// Content is the text content of the turn.
	Content string

	// Timestamp is when the message was appended.
	Timestamp time.Time

	// Metadata holds optional scalar annotations (transcript id, speaker,
	// confidence). May be nil.
	Metadata map[string]string
}

// TranscriptSegment is one unit of speech-to-text output from a provider.
// Interim segments are subject to revision and are never persisted into
// conversation history; only final segments become user messages.
type TranscriptSegment struct {
	// ID is the provider-assigned segment identifier.
	ID string

	// Text is the recognised speech.
	Text string

	// Final indicates whether this segment is settled (true) or an interim
	// result that may still be corrected (false).
	Final bool

	// Timestamp is when the segment was produced.
	Timestamp time.Time

	// Speaker optionally identifies the speaker when diarization is active.
	Speaker string

	// Confidence is the recognition confidence in [0, 1]. Zero when the
	// provider does not report confidence.
	Confidence float64
}

// State is the canonical record of one conversation.
type State struct {
	// ID uniquely identifies this conversation instance.
	ID string

	// Messages is the turn history in chronological order.
	Messages []Message

	// Active reports whether the conversation is still accepting messages.
	// Once false the state is frozen.
	Active bool

	// StartedAt is when the conversation began.
	StartedAt time.Time

	// LastActivity is the time of the most recent history mutation.
	LastActivity time.Time

	// Metadata holds open-ended scalar annotations for the conversation.
	Metadata map[string]string
}

// cloneMessages returns a deep copy of msgs, including metadata maps.
func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		m.Metadata = cloneMeta(m.Metadata)
		out[i] = m
	}
	return out
}

// cloneMeta returns a copy of a metadata map. Returns nil for nil input.
func cloneMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
