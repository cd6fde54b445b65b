// Package contextwindow implements the Context Window Manager: an
// append-and-trim ordered log of recent events per context key.
package contextwindow

import (
	"context"

	"github.com/Aixtrade/LLMTrigger/internal/config"
	"github.com/Aixtrade/LLMTrigger/internal/domain"
	"github.com/Aixtrade/LLMTrigger/internal/store"
)

// Manager holds no in-process state: every append and read goes
// through the Store, so concurrent appends under the same key
// serialize there.
type Manager struct {
	store         *store.Store
	maxEvents     int
	windowSeconds int
}

// New returns a Manager bounded by cfg.
func New(ss *store.Store, cfg config.ContextConfig) *Manager {
	return &Manager{store: ss, maxEvents: cfg.MaxEvents, windowSeconds: cfg.WindowSeconds}
}

// Append inserts event into its context key's window, trims by count
// and age, and refreshes the key's TTL.
func (m *Manager) Append(ctx context.Context, event domain.Event) error {
	return m.store.AppendContext(ctx, event.ContextKey, event, m.maxEvents, m.windowSeconds)
}

// Read returns the window's events in ascending timestamp order.
func (m *Manager) Read(ctx context.Context, contextKey string) ([]domain.Event, error) {
	return m.store.ReadContext(ctx, contextKey)
}
