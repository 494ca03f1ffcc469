// Package presence drives the chat list of one gateway instance: it pairs the
// instance, polls its chats, reconciles unread counts and tracks which
// conversation is open.
package presence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/snapshot"
	"github.com/matheus3301/wppcrm/internal/status"
	"github.com/matheus3301/wppcrm/internal/store"
	"github.com/matheus3301/wppcrm/internal/unread"
)

// ErrMissingRemoteJID is returned by Open when no conversation is named.
var ErrMissingRemoteJID = errors.New("remoteJid is required")

// errNoQRCode means the gateway neither reported the instance open nor
// returned pairing material.
var errNoQRCode = errors.New("gateway returned no pairing code")

// Gateway is the subset of the gateway client the store uses.
type Gateway interface {
	FetchInstances(ctx context.Context) (*gateway.Response, error)
	Chats(ctx context.Context, instance string) (*gateway.Response, error)
	ConnectionState(ctx context.Context, instance string) (string, error)
	QRCode(ctx context.Context, instance string) (*gateway.QRCode, error)
	ProfilePicture(ctx context.Context, instance, number string) (string, error)
	Logout(ctx context.Context, instance string) error
}

// Authority reads the backend-of-record unread counts.
type Authority interface {
	UnreadCounts() (map[string]int, error)
}

// StateSetter writes the open flag to the backend-of-record.
type StateSetter interface {
	SetState(remoteJID string, open bool) (*store.Conversation, error)
}

// Options configures the polling loops.
type Options struct {
	Instance           string
	ChatsInterval      time.Duration
	PairingInterval    time.Duration
	PairingMaxAttempts int
	AvatarConcurrency  int
}

// DeviceLimitNotice is the payload of instance.device_limit events.
type DeviceLimitNotice struct {
	Instance string `json:"instance"`
	Attempts int    `json:"attempts"`
}

// Store owns the published chat list and the loops that refresh it. At most
// one loop runs at a time, and at most one poll cycle is in flight.
type Store struct {
	gw      Gateway
	auth    Authority
	chats   StateSetter
	engine  *unread.Engine
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options

	mu       sync.Mutex
	snapshot []snapshot.Summary
	avatars  map[string]string
	qr       *gateway.QRCode
	cancel   context.CancelFunc
	done     chan struct{}

	// generation is bumped whenever running loops are superseded. A cycle
	// started under an older generation drops its results.
	generation atomic.Uint64
	inFlight   atomic.Bool
	background sync.WaitGroup
}

// New creates a presence store.
func New(gw Gateway, auth Authority, chats StateSetter, engine *unread.Engine, machine *status.Machine, b *bus.Bus, logger *zap.Logger, opts Options) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AvatarConcurrency <= 0 {
		opts.AvatarConcurrency = 1
	}
	return &Store{
		gw:      gw,
		auth:    auth,
		chats:   chats,
		engine:  engine,
		machine: machine,
		bus:     b,
		logger:  logger.With(zap.String("instance", opts.Instance)),
		opts:    opts,
		avatars: make(map[string]string),
	}
}

// Instance returns the instance this store polls.
func (s *Store) Instance() string {
	return s.opts.Instance
}

// Status returns the connection state.
func (s *Store) Status() status.State {
	return s.machine.Current()
}

// Connect starts chat polling when the instance is already open, or requests
// a pairing code and starts pairing polling otherwise. It is a no-op while
// connected or awaiting a scan.
func (s *Store) Connect(ctx context.Context) error {
	switch s.machine.Current() {
	case status.Connected, status.AwaitingQR:
		return nil
	}
	if err := s.machine.Transition(status.Connecting); err != nil {
		return err
	}

	resp, err := s.gw.FetchInstances(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("fetch instances: %w", err))
	}
	inst, found := snapshot.Find(snapshot.NormalizeInstances(resp.Body), s.opts.Instance)
	if found && inst.Open() {
		s.logger.Info("instance already connected")
		return s.startChats()
	}

	qr, err := s.gw.QRCode(ctx, s.opts.Instance)
	if err != nil {
		return s.fail(fmt.Errorf("request qr code: %w", err))
	}
	if qr.Empty() {
		// Connecting can race with a scan done elsewhere.
		state, err := s.gw.ConnectionState(ctx, s.opts.Instance)
		if err == nil && state == "open" {
			return s.startChats()
		}
		return s.fail(errNoQRCode)
	}

	s.mu.Lock()
	s.qr = qr
	s.mu.Unlock()
	if err := s.machine.Transition(status.AwaitingQR); err != nil {
		return err
	}
	s.logger.Info("awaiting qr scan")
	s.startLoop(s.runPairing)
	return nil
}

func (s *Store) startChats() error {
	if err := s.machine.Transition(status.Connected); err != nil {
		return err
	}
	s.startLoop(s.runChats)
	return nil
}

func (s *Store) fail(err error) error {
	s.logger.Warn("connect failed", zap.Error(err))
	_ = s.machine.Transition(status.Error)
	return err
}

// QR returns the pending pairing code, or nil when not pairing.
func (s *Store) QR() *gateway.QRCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qr
}

// startLoop replaces the running loop with fn under a new generation.
func (s *Store) startLoop(fn func(ctx context.Context, gen uint64)) {
	s.stopLoop()
	gen := s.generation.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		fn(ctx, gen)
	}()
}

// stopLoop cancels the running loop and waits for it to return. It must not
// be called from the loop goroutine.
func (s *Store) stopLoop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Store) current(gen uint64) bool {
	return s.generation.Load() == gen
}

// runPairing polls the connection state until the instance opens or the
// attempt cap is reached.
func (s *Store) runPairing(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.opts.PairingInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= s.opts.PairingMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		state, err := s.gw.ConnectionState(ctx, s.opts.Instance)
		if err != nil {
			s.logger.Debug("pairing poll failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if !s.current(gen) {
			return
		}
		if state == "open" {
			s.mu.Lock()
			s.qr = nil
			s.mu.Unlock()
			if err := s.machine.Transition(status.Connected); err != nil {
				s.logger.Warn("pairing finished in unexpected state", zap.Error(err))
				return
			}
			s.logger.Info("instance paired", zap.Int("attempts", attempt))
			s.runChats(ctx, gen)
			return
		}
	}

	if !s.current(gen) {
		return
	}
	s.mu.Lock()
	s.qr = nil
	s.mu.Unlock()
	s.logger.Warn("pairing gave up, device limit suspected", zap.Int("attempts", s.opts.PairingMaxAttempts))
	if err := s.machine.Transition(status.DeviceLimit); err != nil {
		s.logger.Warn("device limit transition", zap.Error(err))
	}
	s.bus.Emit(bus.KindInstanceDeviceLimit, DeviceLimitNotice{Instance: s.opts.Instance, Attempts: s.opts.PairingMaxAttempts})
}

// runChats runs a cycle immediately and then on every tick. Cycles run off
// the ticker goroutine so a slow one makes later ticks skip instead of pile up.
func (s *Store) runChats(ctx context.Context, gen uint64) {
	var cycles sync.WaitGroup
	defer cycles.Wait()

	tick := func() {
		if !s.inFlight.CompareAndSwap(false, true) {
			s.logger.Debug("poll cycle still in flight, skipping tick")
			return
		}
		cycles.Add(1)
		go func() {
			defer cycles.Done()
			defer s.inFlight.Store(false)
			s.cycle(ctx, gen)
		}()
	}

	tick()
	ticker := time.NewTicker(s.opts.ChatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// cycle fetches, normalizes, reconciles and publishes one snapshot, then
// resolves missing avatars for the next publish.
func (s *Store) cycle(ctx context.Context, gen uint64) {
	resp, err := s.gw.Chats(ctx, s.opts.Instance)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("fetch chats failed", zap.Error(err))
		}
		return
	}
	summaries := snapshot.Normalize(resp.Body)

	auth := unread.Authority{FetchedAt: time.Now()}
	counts, err := s.auth.UnreadCounts()
	if err != nil {
		s.logger.Warn("authoritative unread fetch failed, using local counts", zap.Error(err))
	} else {
		auth.Counts, auth.OK = counts, true
	}

	if !s.current(gen) {
		s.logger.Debug("discarding superseded poll result")
		return
	}
	out := s.engine.Reconcile(ctx, summaries, auth)
	if !s.publish(gen, out) {
		return
	}
	s.resolveAvatars(ctx, gen, out)
}

// publish stores list as the current snapshot and announces it. It reports
// false when gen has been superseded.
func (s *Store) publish(gen uint64, list []snapshot.Summary) bool {
	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return false
	}
	for i := range list {
		if list[i].AvatarURL == "" {
			list[i].AvatarURL = s.avatars[list[i].RemoteID]
		}
	}
	s.snapshot = list
	out := slices.Clone(list)
	s.mu.Unlock()

	s.bus.Emit(bus.KindChatsSnapshot, out)
	return true
}

func (s *Store) resolveAvatars(ctx context.Context, gen uint64, list []snapshot.Summary) {
	s.mu.Lock()
	var missing []string
	for _, c := range list {
		if _, tried := s.avatars[c.RemoteID]; !tried && c.AvatarURL == "" && !c.IsGroup() {
			missing = append(missing, c.RemoteID)
		}
	}
	s.mu.Unlock()
	if len(missing) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.AvatarConcurrency)
	for _, jid := range missing {
		g.Go(func() error {
			url, err := s.gw.ProfilePicture(gctx, s.opts.Instance, gateway.NumberFromJID(jid))
			if err != nil {
				s.logger.Debug("avatar lookup failed", zap.String("remote_jid", jid), zap.Error(err))
				if gctx.Err() != nil {
					return nil
				}
			}
			if !s.current(gen) {
				return nil
			}
			s.mu.Lock()
			s.avatars[jid] = url
			s.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// Snapshot returns a copy of the last published chat list.
func (s *Store) Snapshot() []snapshot.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.snapshot)
}

// Open marks jid as the open conversation. The local counter drops to zero
// and the list is republished at once; the backend-of-record is updated in
// the background.
func (s *Store) Open(ctx context.Context, jid string) error {
	if jid == "" {
		return ErrMissingRemoteJID
	}
	if previous := s.engine.MarkOpen(ctx, jid); previous != "" {
		s.setStateAsync(previous, false)
	}
	s.republish()
	s.setStateAsync(jid, true)
	return nil
}

// Close clears the open conversation and returns its JID, or "" when none
// was open. Counters are left alone.
func (s *Store) Close() string {
	closed := s.engine.MarkClosed("")
	if closed != "" {
		s.setStateAsync(closed, false)
	}
	return closed
}

// OpenConversation returns the currently open conversation.
func (s *Store) OpenConversation() string {
	return s.engine.Open()
}

func (s *Store) setStateAsync(jid string, open bool) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.chats.SetState(jid, open); err != nil {
			s.logger.Warn("chat state update failed", zap.String("remote_jid", jid), zap.Bool("open", open), zap.Error(err))
		}
	}()
}

// republish zeroes the open conversation in the current list and announces
// it again without waiting for the next poll.
func (s *Store) republish() {
	open := s.engine.Open()
	s.mu.Lock()
	list := slices.Clone(s.snapshot)
	for i := range list {
		if list[i].RemoteID == open {
			list[i].UnreadCount = 0
		}
	}
	unread.Sort(list)
	s.snapshot = list
	out := slices.Clone(list)
	s.mu.Unlock()

	s.bus.Emit(bus.KindChatsSnapshot, out)
}

// Disconnect logs the instance out, stops every loop and clears the
// published list. Local teardown happens even when the logout call fails.
func (s *Store) Disconnect(ctx context.Context) error {
	s.generation.Add(1)
	s.stopLoop()

	err := s.gw.Logout(ctx, s.opts.Instance)
	if err != nil {
		s.logger.Warn("gateway logout failed", zap.Error(err))
	}
	if closed := s.engine.MarkClosed(""); closed != "" {
		s.setStateAsync(closed, false)
	}

	s.mu.Lock()
	s.snapshot = nil
	s.qr = nil
	s.mu.Unlock()

	if terr := s.machine.Transition(status.Disconnected); terr != nil {
		s.logger.Warn("disconnect transition", zap.Error(terr))
	}
	s.bus.Emit(bus.KindChatsSnapshot, []snapshot.Summary{})
	return err
}

// Stop halts polling without logging out and persists the local cache.
func (s *Store) Stop(ctx context.Context) {
	s.generation.Add(1)
	s.stopLoop()
	s.background.Wait()
	if err := s.engine.Checkpoint(ctx); err != nil {
		s.logger.Warn("final unread checkpoint failed", zap.Error(err))
	}
}
