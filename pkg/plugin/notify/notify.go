// Package notify provides a plugin that posts a chat-ops notification
// (Slack-style incoming webhook) when a conversation produces a complete
// lead.
//
// Unlike the webhook plugin, which ships the raw snapshot to a machine
// consumer on every novel emission, notify is for humans: it waits for a
// complete lead (name, email and phone all present) and sends one formatted
// message per contact.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voxlead-ai/voxlead/pkg/lead"
	"github.com/voxlead-ai/voxlead/pkg/plugin"
)

// Compile-time assertions for the implemented plugin surfaces.
var (
	_ plugin.Plugin   = (*Plugin)(nil)
	_ plugin.LeadHook = (*Plugin)(nil)
)

const defaultTimeout = 10 * time.Second

// Option is a functional option for configuring a Plugin.
type Option func(*Plugin)

// WithHTTPClient overrides the HTTP client used for notifications. Primarily
// used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Plugin) { p.client = c }
}

// WithChannel overrides the destination channel of the incoming webhook.
func WithChannel(channel string) Option {
	return func(p *Plugin) { p.channel = channel }
}

// slackMessage is the incoming-webhook payload format.
type slackMessage struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Plugin posts one chat notification per complete lead.
type Plugin struct {
	url     string
	channel string
	client  *http.Client
	logger  *slog.Logger

	mu       sync.Mutex
	notified map[string]struct{}
}

// New creates a notify plugin posting to the given incoming-webhook URL.
func New(url string, opts ...Option) *Plugin {
	p := &Plugin{
		url:      url,
		client:   &http.Client{Timeout: defaultTimeout},
		notified: map[string]struct{}{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name identifies this plugin.
func (p *Plugin) Name() string { return "notify" }

// Initialize validates the configuration and captures the host logger.
func (p *Plugin) Initialize(host plugin.Host) error {
	if p.url == "" {
		return fmt.Errorf("notify: url required")
	}
	p.logger = host.Logger().With("component", "plugin.notify")
	return nil
}

// OnLead sends a notification once per complete contact. Partial snapshots
// are skipped; re-announcements of an already notified contact are skipped.
func (p *Plugin) OnLead(info lead.Info) error {
	if !info.Complete() {
		return nil
	}

	key := strings.ToLower(info.Email) + "|" + info.Phone

	p.mu.Lock()
	if _, seen := p.notified[key]; seen {
		p.mu.Unlock()
		return nil
	}
	p.notified[key] = struct{}{}
	p.mu.Unlock()

	if err := p.send(info); err != nil {
		p.mu.Lock()
		delete(p.notified, key)
		p.mu.Unlock()
		return err
	}

	p.logger.Info("lead notification sent", "email", info.Email)
	return nil
}

// send posts the formatted notification.
func (p *Plugin) send(info lead.Info) error {
	var b strings.Builder
	fmt.Fprintf(&b, ":telephone_receiver: New lead: *%s*\n", info.Name)
	fmt.Fprintf(&b, "> Email: %s\n> Phone: %s\n", info.Email, info.Phone)
	if info.Company != "" {
		fmt.Fprintf(&b, "> Company: %s\n", info.Company)
	}
	if info.Notes != "" {
		fmt.Fprintf(&b, "> Notes: %s\n", info.Notes)
	}

	data, err := json.Marshal(slackMessage{Channel: p.channel, Text: b.String()})
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: unexpected status %d", resp.StatusCode)
	}
	return nil
}
