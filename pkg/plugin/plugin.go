// Package plugin defines the plugin contract of the orchestration layer.
//
// A plugin implements [Plugin] and any subset of the optional hook
// interfaces; the orchestrator discovers hooks by interface assertion at
// registration time. Hooks are invoked synchronously from the corresponding
// internal event. A plugin must not assume any specific invocation order
// relative to sibling plugins, and a hook error never aborts the triggering
// event — the orchestrator logs it and moves on.
package plugin

import (
	"context"
	"log/slog"

	"github.com/voxlead-ai/voxlead/pkg/conversation"
	"github.com/voxlead-ai/voxlead/pkg/lead"
)

// Host is the orchestrator handle passed to a plugin at registration. It is
// the only surface a plugin holds back into the system.
type Host interface {
	// Logger returns a structured logger scoped for plugin use.
	Logger() *slog.Logger

	// SendText forwards a user text message to the provider through the
	// orchestrator's normal send path.
	SendText(ctx context.Context, text string) error
}

// Plugin is the minimal contract every plugin fulfils.
type Plugin interface {
	// Name identifies the plugin, for logs and duplicate detection.
	Name() string

	// Initialize is called once when the plugin is registered. A non-nil
	// error aborts the registration.
	Initialize(host Host) error
}

// MessageHook receives every message appended to a conversation.
type MessageHook interface {
	OnMessage(msg conversation.Message) error
}

// TranscriptHook receives every transcript segment, interim and final.
type TranscriptHook interface {
	OnTranscript(seg conversation.TranscriptSegment) error
}

// LeadHook receives the current best lead snapshot on every qualifying
// emission. Snapshots re-announce accumulated state; implementations that
// only want novel information must deduplicate downstream.
type LeadHook interface {
	OnLead(info lead.Info) error
}

// Destroyer is implemented by plugins that hold resources needing teardown.
type Destroyer interface {
	Destroy() error
}
