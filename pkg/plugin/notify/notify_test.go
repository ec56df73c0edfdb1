package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxlead-ai/voxlead/pkg/lead"
)

type testHost struct{}

func (testHost) Logger() *slog.Logger                   { return slog.New(slog.DiscardHandler) }
func (testHost) SendText(context.Context, string) error { return nil }

func startServer(t *testing.T, out *[]slackMessage) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg slackMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode body: %v", err)
		}
		*out = append(*out, msg)
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

func TestOnLeadSkipsIncompleteLeads(t *testing.T) {
	var msgs []slackMessage
	srv := startServer(t, &msgs)
	p := newTestPlugin(t, srv.URL)

	partials := []lead.Info{
		{},
		{Name: "Sarah"},
		{Name: "Sarah", Email: "sarah@example.com"},
		{Email: "sarah@example.com", Phone: "+16505550001"},
	}
	for _, info := range partials {
		if err := p.OnLead(info); err != nil {
			t.Fatalf("OnLead(%+v) error = %v", info, err)
		}
	}
	if len(msgs) != 0 {
		t.Fatalf("notifications = %d, want 0 for incomplete leads", len(msgs))
	}
}

func TestOnLeadNotifiesOncePerContact(t *testing.T) {
	var msgs []slackMessage
	srv := startServer(t, &msgs)
	p := newTestPlugin(t, srv.URL, WithChannel("#leads"))

	info := lead.Info{
		Name:    "Carlos Ruiz",
		Email:   "carlos@example.com",
		Phone:   "+14155551234",
		Company: "Acme Robotics",
	}
	for i := 0; i < 3; i++ {
		if err := p.OnLead(info); err != nil {
			t.Fatalf("OnLead() #%d error = %v", i, err)
		}
	}

	if len(msgs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(msgs))
	}
	got := msgs[0]
	if got.Channel != "#leads" {
		t.Errorf("Channel = %q, want %q", got.Channel, "#leads")
	}
	for _, want := range []string{"Carlos Ruiz", "carlos@example.com", "+14155551234", "Acme Robotics"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("Text = %q, missing %q", got.Text, want)
		}
	}
}

func TestOnLeadRetriesAfterFailure(t *testing.T) {
	var (
		fail  = true
		count int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		if fail {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)
	p := newTestPlugin(t, srv.URL)

	info := lead.Info{Name: "Dana", Email: "dana@example.com", Phone: "+16505550001"}
	if err := p.OnLead(info); err == nil {
		t.Fatal("OnLead() expected error on 502, got nil")
	}

	fail = false
	if err := p.OnLead(info); err != nil {
		t.Fatalf("OnLead() after failure error = %v", err)
	}
	if count != 2 {
		t.Fatalf("requests = %d, want 2 (failed attempt plus retry)", count)
	}
}
