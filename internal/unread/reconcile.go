// Package unread decides the unread count shown for every conversation by
// merging the locally inferred counter with the backend-of-record.
package unread

import (
	"maps"
	"sort"
	"time"

	"github.com/matheus3301/wppcrm/internal/snapshot"
)

// State is the locally inferred unread state: a counter and the newest
// message timestamp already processed, both keyed by remote JID.
type State struct {
	Counts   map[string]int   `json:"counts"`
	LastSeen map[string]int64 `json:"lastSeen"`
}

// NewState returns an empty state.
func NewState() State {
	return State{Counts: map[string]int{}, LastSeen: map[string]int64{}}
}

// Clone returns a deep copy; nil maps become empty ones.
func (s State) Clone() State {
	out := NewState()
	maps.Copy(out.Counts, s.Counts)
	maps.Copy(out.LastSeen, s.LastSeen)
	return out
}

// Authority is the backend-of-record's view for one cycle. When OK is false
// the fetch failed and only local counts are used.
type Authority struct {
	Counts    map[string]int
	OK        bool
	FetchedAt time.Time
}

// Options carries the presence context of a reconcile pass.
type Options struct {
	// Open is the conversation currently open in the UI, if any.
	Open string
	// LocalActions holds the time of the latest open or close per JID.
	LocalActions map[string]time.Time
	// Guard is how long a local action outranks the backend-of-record.
	Guard time.Duration
	Now   time.Time
}

// localWins reports whether a recent local action must override the
// authoritative count for jid. That is the case when the action happened
// at or after the authoritative read, or still falls inside the guard.
func (o Options) localWins(jid string, auth Authority) bool {
	at, ok := o.LocalActions[jid]
	if !ok {
		return false
	}
	if !at.Before(auth.FetchedAt) {
		return true
	}
	return o.Guard > 0 && o.Now.Sub(at) < o.Guard
}

// Reconcile folds snap into prev and returns the next state along with the
// summaries carrying their display counts, sorted for presentation. It does
// not modify prev or snap.
//
// A conversation seen for the first time only records its timestamp. After
// that, each poll whose latest message is newer than the recorded one and
// was not sent by us adds exactly one to the local counter, unless the
// conversation is open. The display value prefers the authoritative count,
// then the local one.
func Reconcile(prev State, snap []snapshot.Summary, auth Authority, opts Options) (State, []snapshot.Summary) {
	next := prev.Clone()
	out := make([]snapshot.Summary, len(snap))
	copy(out, snap)

	for i := range out {
		s := &out[i]
		id := s.RemoteID
		open := id == opts.Open

		seen, tracked := next.LastSeen[id]
		switch {
		case !tracked:
			next.LastSeen[id] = s.LastMessageTimestamp
		case s.LastMessageTimestamp > seen:
			if !s.LastMessageIsSelf && !open {
				next.Counts[id]++
			}
			next.LastSeen[id] = s.LastMessageTimestamp
		}
		if open {
			next.Counts[id] = 0
		}

		display := next.Counts[id]
		if authCount, ok := auth.Counts[id]; auth.OK && ok && !opts.localWins(id, auth) {
			display = max(authCount, 0)
			next.Counts[id] = display
		}
		if open {
			display = 0
		}
		s.UnreadCount = display
	}

	Sort(out)
	return next, out
}

// Sort orders conversations with unread messages first, then by latest
// message, newest first. Equal keys keep their relative order.
func Sort(list []snapshot.Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		ui, uj := list[i].UnreadCount > 0, list[j].UnreadCount > 0
		if ui != uj {
			return ui
		}
		return list[i].LastMessageTimestamp > list[j].LastMessageTimestamp
	})
}
