package unread

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppcrm/internal/snapshot"
)

// Store persists State between sessions.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// Engine owns the local unread state for one instance. It is the only
// writer of the local cache, which it persists at checkpoints: after each
// reconcile, after an open, and when the daemon stops.
type Engine struct {
	mu           sync.Mutex
	state        State
	open         string
	localActions map[string]time.Time
	guard        time.Duration

	store Store
	log   *zap.Logger
	now   func() time.Time
}

// NewEngine creates an engine persisting through store. guard bounds how long
// a local open or close outranks the backend-of-record.
func NewEngine(store Store, guard time.Duration, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		state:        NewState(),
		localActions: make(map[string]time.Time),
		guard:        guard,
		store:        store,
		log:          log,
		now:          time.Now,
	}
}

// Load replaces the in-memory state with the persisted one.
func (e *Engine) Load(ctx context.Context) error {
	s, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load unread cache: %w", err)
	}
	e.mu.Lock()
	e.state = s.Clone()
	e.mu.Unlock()
	return nil
}

// Checkpoint persists the current state.
func (e *Engine) Checkpoint(ctx context.Context) error {
	e.mu.Lock()
	s := e.state.Clone()
	e.mu.Unlock()
	if err := e.store.Save(ctx, s); err != nil {
		return fmt.Errorf("save unread cache: %w", err)
	}
	return nil
}

func (e *Engine) checkpoint(ctx context.Context) {
	if err := e.Checkpoint(ctx); err != nil {
		e.log.Warn("unread checkpoint failed", zap.Error(err))
	}
}

// Reconcile runs one reconcile pass over snap and returns the summaries to
// publish. Persistence failures are logged, never returned.
func (e *Engine) Reconcile(ctx context.Context, snap []snapshot.Summary, auth Authority) []snapshot.Summary {
	e.mu.Lock()
	opts := Options{
		Open:         e.open,
		LocalActions: maps.Clone(e.localActions),
		Guard:        e.guard,
		Now:          e.now(),
	}
	next, out := Reconcile(e.state, snap, auth, opts)
	e.state = next
	e.pruneActions(opts.Now)
	e.mu.Unlock()

	e.checkpoint(ctx)
	return out
}

// pruneActions forgets local actions older than the guard. Caller holds mu.
func (e *Engine) pruneActions(now time.Time) {
	for jid, at := range e.localActions {
		if now.Sub(at) >= e.guard && jid != e.open {
			delete(e.localActions, jid)
		}
	}
}

// MarkOpen records jid as the open conversation and zeroes its local
// counter. It returns the previously open conversation, if any. Idempotent.
func (e *Engine) MarkOpen(ctx context.Context, jid string) (previous string) {
	e.mu.Lock()
	now := e.now()
	previous = e.open
	if previous != "" && previous != jid {
		e.localActions[previous] = now
	}
	e.open = jid
	e.state.Counts[jid] = 0
	e.localActions[jid] = now
	e.mu.Unlock()

	e.checkpoint(ctx)
	if previous == jid {
		return ""
	}
	return previous
}

// MarkClosed clears the open conversation if it is jid, or any open
// conversation when jid is empty. Counters are untouched. It returns the JID
// that was closed, or "" when nothing changed.
func (e *Engine) MarkClosed(jid string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open == "" || (jid != "" && jid != e.open) {
		return ""
	}
	closed := e.open
	e.open = ""
	e.localActions[closed] = e.now()
	return closed
}

// Open returns the currently open conversation.
func (e *Engine) Open() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// Counts returns a copy of the local counters.
func (e *Engine) Counts() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.state.Counts)
}

// State returns a copy of the full local state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}
