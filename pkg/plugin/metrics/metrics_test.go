package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxlead-ai/voxlead/internal/observe"
	"github.com/voxlead-ai/voxlead/pkg/conversation"
	"github.com/voxlead-ai/voxlead/pkg/lead"
)

// newTestPlugin returns a plugin recording into a ManualReader so tests can
// collect and inspect the datapoints.
func newTestPlugin(t *testing.T) (*Plugin, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return New(m), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	return rm
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("metric %q has data type %T, want Sum[int64]", name, m.Data)
				}
				return sum
			}
		}
	}
	t.Fatalf("metric %q not found", name)
	return metricdata.Sum[int64]{}
}

func TestOnMessageCountsByRole(t *testing.T) {
	p, reader := newTestPlugin(t)

	msgs := []conversation.Message{
		{Role: conversation.RoleUser, Content: "hi"},
		{Role: conversation.RoleUser, Content: "my email is a@b.com"},
		{Role: conversation.RoleAssistant, Content: "noted"},
	}
	for _, msg := range msgs {
		if err := p.OnMessage(msg); err != nil {
			t.Fatalf("OnMessage() error = %v", err)
		}
	}

	sum := findSum(t, collect(t, reader), "voxlead.messages.appended")
	if len(sum.DataPoints) != 2 {
		t.Fatalf("datapoints = %d, want 2 (one per role)", len(sum.DataPoints))
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total messages = %d, want 3", total)
	}
}

func TestOnLeadCountsByCompleteness(t *testing.T) {
	p, reader := newTestPlugin(t)

	if err := p.OnLead(lead.Info{Email: "a@b.com"}); err != nil {
		t.Fatalf("OnLead() error = %v", err)
	}
	if err := p.OnLead(lead.Info{Name: "Dana", Email: "a@b.com", Phone: "+16505550001"}); err != nil {
		t.Fatalf("OnLead() error = %v", err)
	}

	sum := findSum(t, collect(t, reader), "voxlead.leads.emitted")
	if len(sum.DataPoints) != 2 {
		t.Fatalf("datapoints = %d, want 2 (complete and incomplete)", len(sum.DataPoints))
	}
}

func TestNewNilUsesDefault(t *testing.T) {
	p := New(nil)
	if p.metrics != observe.DefaultMetrics() {
		t.Error("New(nil) did not fall back to the default metrics")
	}
}
