// Package translog provides a plugin that appends every conversation message
// to a plain-text transcript file, one line per message.
//
// The file is opened append-only at Initialize and closed at Destroy, so a
// single log can span many conversations and process restarts.
package translog

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/voxlead-ai/voxlead/pkg/conversation"
	"github.com/voxlead-ai/voxlead/pkg/plugin"
)

// Compile-time assertions for the implemented plugin surfaces.
var (
	_ plugin.Plugin      = (*Plugin)(nil)
	_ plugin.MessageHook = (*Plugin)(nil)
	_ plugin.Destroyer   = (*Plugin)(nil)
)

// Plugin appends conversation messages to a transcript file.
type Plugin struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New creates a transcript log plugin writing to the file at path.
func New(path string) *Plugin {
	return &Plugin{path: path}
}

// Name identifies this plugin.
func (p *Plugin) Name() string { return "translog" }

// Initialize opens the transcript file for appending.
func (p *Plugin) Initialize(host plugin.Host) error {
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("translog: open %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.file = f
	p.logger = host.Logger().With("component", "plugin.translog")
	p.mu.Unlock()
	return nil
}

// OnMessage appends one line per message: RFC3339 timestamp, role, content.
func (p *Plugin) OnMessage(msg conversation.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return fmt.Errorf("translog: not initialized")
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	line := fmt.Sprintf("%s [%s] %s\n", ts.Format(time.RFC3339), msg.Role, msg.Content)
	if _, err := p.file.WriteString(line); err != nil {
		return fmt.Errorf("translog: append: %w", err)
	}
	return nil
}

// Destroy closes the transcript file. Safe to call more than once.
func (p *Plugin) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	if err != nil {
		return fmt.Errorf("translog: close: %w", err)
	}
	return nil
}
