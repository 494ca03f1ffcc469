// Package localcache persists the unread engine's local state. The two maps
// live under fixed keys so the layout matches what the web panel keeps in
// browser storage.
package localcache

import (
	"context"
	"sync"

	"github.com/matheus3301/wppcrm/internal/unread"
)

// Well-known keys of the two persisted mappings.
const (
	KeyUnreadCounts = "whatsapp_unread_counts"
	KeyLastSeen     = "whatsapp_last_seen_messages"
)

// Memory keeps the state in process. Used in tests and when persistence is
// disabled.
type Memory struct {
	mu    sync.Mutex
	state unread.State
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{state: unread.NewState()}
}

func (m *Memory) Load(context.Context) (unread.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

func (m *Memory) Save(_ context.Context, s unread.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.Clone()
	return nil
}
