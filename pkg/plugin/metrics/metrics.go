// Package metrics provides a plugin that counts conversation activity on the
// process-wide OpenTelemetry instruments.
//
// The agent records its own orchestration metrics (conversations, reconnects,
// provider errors and latencies); this plugin is the sole recorder of the
// per-event counters (messages appended, leads emitted), so registering it
// never double-counts either instrument.
package metrics

import (
	"context"

	"github.com/voxlead-ai/voxlead/internal/observe"
	"github.com/voxlead-ai/voxlead/pkg/conversation"
	"github.com/voxlead-ai/voxlead/pkg/lead"
	"github.com/voxlead-ai/voxlead/pkg/plugin"
)

// Compile-time assertions for the implemented plugin surfaces.
var (
	_ plugin.Plugin      = (*Plugin)(nil)
	_ plugin.MessageHook = (*Plugin)(nil)
	_ plugin.LeadHook    = (*Plugin)(nil)
)

// Plugin increments message and lead counters for every hook invocation.
// The zero value is not usable; construct with [New].
type Plugin struct {
	metrics *observe.Metrics
}

// New creates a metrics plugin recording on m. A nil m uses
// [observe.DefaultMetrics].
func New(m *observe.Metrics) *Plugin {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Plugin{metrics: m}
}

// Name identifies this plugin.
func (p *Plugin) Name() string { return "metrics" }

// Initialize is a no-op; the instruments are created in [New].
func (p *Plugin) Initialize(plugin.Host) error { return nil }

// OnMessage counts one appended message attributed by role.
func (p *Plugin) OnMessage(msg conversation.Message) error {
	p.metrics.RecordMessage(context.Background(), string(msg.Role))
	return nil
}

// OnLead counts one lead emission attributed by completeness.
func (p *Plugin) OnLead(info lead.Info) error {
	p.metrics.RecordLead(context.Background(), info.Complete())
	return nil
}
