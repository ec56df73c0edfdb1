package leadstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxlead-ai/voxlead/pkg/lead"
	"github.com/voxlead-ai/voxlead/pkg/plugin"
)

// Compile-time assertions for the implemented plugin surfaces.
var (
	_ plugin.Plugin    = (*Plugin)(nil)
	_ plugin.LeadHook  = (*Plugin)(nil)
	_ plugin.Destroyer = (*Plugin)(nil)
)

const upsertTimeout = 5 * time.Second

// Plugin persists every lead emission through a [Store]. The store's upsert
// semantics make repeated emissions for the same contact idempotent, so the
// plugin does no deduplication of its own.
type Plugin struct {
	store  *Store
	logger *slog.Logger
}

// NewPlugin wraps an existing store. The caller retains ownership of store's
// connection pool; Destroy closes it.
func NewPlugin(store *Store) *Plugin {
	return &Plugin{store: store}
}

// Name identifies this plugin.
func (p *Plugin) Name() string { return "leadstore" }

// Initialize captures the host logger.
func (p *Plugin) Initialize(host plugin.Host) error {
	p.logger = host.Logger().With("component", "plugin.leadstore")
	return nil
}

// OnLead upserts the snapshot.
func (p *Plugin) OnLead(info lead.Info) error {
	ctx, cancel := context.WithTimeout(context.Background(), upsertTimeout)
	defer cancel()

	if err := p.store.Upsert(ctx, info); err != nil {
		return err
	}
	p.logger.Debug("lead persisted", "email", info.Email, "complete", info.Complete())
	return nil
}

// Destroy closes the underlying connection pool.
func (p *Plugin) Destroy() error {
	p.store.Close()
	return nil
}
