package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/voxlead-ai/voxlead/pkg/lead"
)

type testHost struct{}

func (testHost) Logger() *slog.Logger                   { return slog.New(slog.DiscardHandler) }
func (testHost) SendText(context.Context, string) error { return nil }

// startServer runs an httptest server that decodes every delivery into out
// and responds with status.
func startServer(t *testing.T, status *atomic.Int32, out *[]payload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		var pl payload
		if err := json.Unmarshal(body, &pl); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}
		*out = append(*out, pl)
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPlugin(t *testing.T, url string, opts ...Option) *Plugin {
	t.Helper()
	p := New(url, opts...)
	if err := p.Initialize(testHost{}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return p
}

func TestInitializeRequiresURL(t *testing.T) {
	if err := New("").Initialize(testHost{}); err == nil {
		t.Fatal("Initialize() with empty URL expected error, got nil")
	}
}

func TestOnLeadDeliversPayload(t *testing.T) {
	var (
		status    atomic.Int32
		delivered []payload
	)
	status.Store(http.StatusOK)
	srv := startServer(t, &status, &delivered)
	p := newTestPlugin(t, srv.URL)

	info := lead.Info{
		Name:    "Carlos Ruiz",
		Email:   "carlos@example.com",
		Phone:   "+14155551234",
		Company: "Acme Robotics",
		Confidence: map[lead.Field]float64{
			lead.FieldEmail: 1.0,
			lead.FieldName:  0.85,
		},
	}
	if err := p.OnLead(info); err != nil {
		t.Fatalf("OnLead() error = %v", err)
	}

	if len(delivered) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(delivered))
	}
	got := delivered[0]
	if got.Name != "Carlos Ruiz" || got.Email != "carlos@example.com" || got.Phone != "+14155551234" {
		t.Errorf("payload = %+v, missing contact fields", got)
	}
	if got.Company != "Acme Robotics" {
		t.Errorf("Company = %q, want %q", got.Company, "Acme Robotics")
	}
	if got.Confidence["email"] != 1.0 || got.Confidence["name"] != 0.85 {
		t.Errorf("Confidence = %v, want email=1 name=0.85", got.Confidence)
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
}

func TestOnLeadDeduplicatesByContact(t *testing.T) {
	var (
		status    atomic.Int32
		delivered []payload
	)
	status.Store(http.StatusOK)
	srv := startServer(t, &status, &delivered)
	p := newTestPlugin(t, srv.URL)

	info := lead.Info{Name: "Sarah", Email: "sarah@example.com", Phone: "+16505550001"}
	for i := 0; i < 3; i++ {
		if err := p.OnLead(info); err != nil {
			t.Fatalf("OnLead() #%d error = %v", i, err)
		}
	}
	if len(delivered) != 1 {
		t.Fatalf("deliveries = %d, want 1 after repeated identical snapshots", len(delivered))
	}

	// A different contact is a new delivery.
	if err := p.OnLead(lead.Info{Email: "other@example.com"}); err != nil {
		t.Fatalf("OnLead() error = %v", err)
	}
	if len(delivered) != 2 {
		t.Fatalf("deliveries = %d, want 2 after distinct contact", len(delivered))
	}
}

func TestOnLeadPhoneticFallback(t *testing.T) {
	var (
		status    atomic.Int32
		delivered []payload
	)
	status.Store(http.StatusOK)
	srv := startServer(t, &status, &delivered)
	p := newTestPlugin(t, srv.URL)

	// Without email or phone the dedup key is the phonetic name, so spelling
	// variants of the same spoken name collapse to one delivery.
	if err := p.OnLead(lead.Info{Name: "Jon Smith"}); err != nil {
		t.Fatalf("OnLead() error = %v", err)
	}
	if err := p.OnLead(lead.Info{Name: "John Smith"}); err != nil {
		t.Fatalf("OnLead() error = %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("deliveries = %d, want 1 for phonetically identical names", len(delivered))
	}
}

func TestOnLeadRetriesAfterFailure(t *testing.T) {
	var (
		status    atomic.Int32
		delivered []payload
	)
	status.Store(http.StatusInternalServerError)
	srv := startServer(t, &status, &delivered)
	p := newTestPlugin(t, srv.URL)

	info := lead.Info{Email: "retry@example.com"}
	if err := p.OnLead(info); err == nil {
		t.Fatal("OnLead() expected error on 500, got nil")
	}

	// The failed key is released, so the next emission delivers again.
	status.Store(http.StatusOK)
	if err := p.OnLead(info); err != nil {
		t.Fatalf("OnLead() after failure error = %v", err)
	}
	if len(delivered) != 2 {
		t.Fatalf("deliveries = %d, want 2 (failed attempt plus retry)", len(delivered))
	}
}

func TestWithHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	p := newTestPlugin(t, srv.URL, WithHeader("Authorization", "Bearer tok"))
	if err := p.OnLead(lead.Info{Email: "h@example.com"}); err != nil {
		t.Fatalf("OnLead() error = %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok")
	}
}

func TestDedupKey(t *testing.T) {
	tests := []struct {
		name string
		a, b lead.Info
		same bool
	}{
		{
			name: "email case folded",
			a:    lead.Info{Email: "A@Example.com"},
			b:    lead.Info{Email: "a@example.com"},
			same: true,
		},
		{
			name: "phone distinguishes",
			a:    lead.Info{Email: "a@example.com", Phone: "+14155551234"},
			b:    lead.Info{Email: "a@example.com", Phone: "+16505550001"},
			same: false,
		},
		{
			name: "phonetic names collapse",
			a:    lead.Info{Name: "Katherine"},
			b:    lead.Info{Name: "Catherine"},
			same: true,
		},
		{
			name: "distinct names differ",
			a:    lead.Info{Name: "Carlos Ruiz"},
			b:    lead.Info{Name: "Sarah Chen"},
			same: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka, kb := dedupKey(tt.a), dedupKey(tt.b)
			if (ka == kb) != tt.same {
				t.Errorf("dedupKey(%+v) = %q, dedupKey(%+v) = %q, same = %v, want %v",
					tt.a, ka, tt.b, kb, ka == kb, tt.same)
			}
		})
	}
}
