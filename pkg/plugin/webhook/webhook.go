// Package webhook provides a plugin that delivers lead snapshots to an HTTP
// endpoint as JSON POST requests.
//
// The lead event re-announces the full accumulated snapshot on every
// qualifying message, so this plugin deduplicates before delivering: the
// primary dedup key is the email+phone composite, and when both are empty the
// fallback key is the Double Metaphone encoding of the name, which absorbs
// speech-recognition spelling variance ("Jon Smith" vs "John Smith").
package webhook

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

	"github.com/antzucaro/matchr"

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

// WithHTTPClient overrides the HTTP client used for deliveries. Primarily
// used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Plugin) { p.client = c }
}

// WithHeader adds a static header to every delivery request, for example an
// authentication token.
func WithHeader(key, value string) Option {
	return func(p *Plugin) { p.headers[key] = value }
}

// payload is the JSON body of one delivery.
type payload struct {
	Name       string             `json:"name,omitempty"`
	Email      string             `json:"email,omitempty"`
	Phone      string             `json:"phone,omitempty"`
	Company    string             `json:"company,omitempty"`
	Notes      string             `json:"notes,omitempty"`
	Confidence map[string]float64 `json:"confidence,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Plugin delivers deduplicated lead snapshots to a webhook URL.
type Plugin struct {
	url     string
	client  *http.Client
	headers map[string]string
	logger  *slog.Logger

	mu        sync.Mutex
	delivered map[string]struct{}
}

// New creates a webhook plugin posting to url.
func New(url string, opts ...Option) *Plugin {
	p := &Plugin{
		url:       url,
		client:    &http.Client{Timeout: defaultTimeout},
		headers:   map[string]string{},
		delivered: map[string]struct{}{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name identifies this plugin.
func (p *Plugin) Name() string { return "webhook" }

// Initialize validates the configuration and captures the host logger.
func (p *Plugin) Initialize(host plugin.Host) error {
	if p.url == "" {
		return fmt.Errorf("webhook: url required")
	}
	p.logger = host.Logger().With("component", "plugin.webhook")
	return nil
}

// OnLead delivers the snapshot unless its dedup key was already delivered.
func (p *Plugin) OnLead(info lead.Info) error {
	key := dedupKey(info)

	p.mu.Lock()
	if _, seen := p.delivered[key]; seen {
		p.mu.Unlock()
		return nil
	}
	p.delivered[key] = struct{}{}
	p.mu.Unlock()

	if err := p.deliver(info); err != nil {
		// Allow a retry on the next emission of the same snapshot.
		p.mu.Lock()
		delete(p.delivered, key)
		p.mu.Unlock()
		return err
	}

	p.logger.Info("lead delivered", "key", key, "complete", info.Complete())
	return nil
}

// deliver posts the snapshot to the configured URL.
func (p *Plugin) deliver(info lead.Info) error {
	body := payload{
		Name:      info.Name,
		Email:     info.Email,
		Phone:     info.Phone,
		Company:   info.Company,
		Notes:     info.Notes,
		Timestamp: time.Now(),
	}
	if len(info.Confidence) > 0 {
		body.Confidence = make(map[string]float64, len(info.Confidence))
		for field, score := range info.Confidence {
			body.Confidence[string(field)] = score
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// dedupKey returns the delivery key for a snapshot: email+phone composite
// when either is present, otherwise the phonetic encoding of the name.
func dedupKey(info lead.Info) string {
	if info.Email != "" || info.Phone != "" {
		return strings.ToLower(info.Email) + "|" + info.Phone
	}
	return "name:" + phoneticName(info.Name)
}

// phoneticName encodes each name token with Double Metaphone and joins the
// primary codes, so spelling variants of the same spoken name collapse to the
// same key.
func phoneticName(name string) string {
	tokens := strings.Fields(strings.ToLower(name))
	codes := make([]string, 0, len(tokens))
	for _, t := range tokens {
		primary, _ := matchr.DoubleMetaphone(t)
		if primary == "" {
			primary = t
		}
		codes = append(codes, primary)
	}
	return strings.Join(codes, " ")
}
