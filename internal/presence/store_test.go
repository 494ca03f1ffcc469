package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/localcache"
	"github.com/matheus3301/wppcrm/internal/snapshot"
	"github.com/matheus3301/wppcrm/internal/status"
	"github.com/matheus3301/wppcrm/internal/store"
	"github.com/matheus3301/wppcrm/internal/unread"
)

const (
	jidA = "5511111@s.whatsapp.net"
	jidB = "5522222@s.whatsapp.net"
)

func chat(jid, name string, ts int64) string {
	return fmt.Sprintf(`{"remoteJid":%q,"name":%q,"lastMessage":{"key":{"remoteJid":%q,"fromMe":false},"message":{"conversation":"oi"},"messageTimestamp":%d}}`, jid, name, jid, ts)
}

type fakeGateway struct {
	mu        sync.Mutex
	open      bool
	state     string
	chats     string
	block     chan struct{}
	chatCalls int
	pics      map[string]string
	picCalls  int
	logouts   int
}

func (f *fakeGateway) FetchInstances(context.Context) (*gateway.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := "close"
	if f.open {
		st = "open"
	}
	return &gateway.Response{Body: json.RawMessage(`[{"name":"crm-turbo","connectionStatus":"` + st + `"}]`), Success: true}, nil
}

func (f *fakeGateway) Chats(context.Context, string) (*gateway.Response, error) {
	f.mu.Lock()
	f.chatCalls++
	block, body := f.block, f.chats
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return &gateway.Response{Body: json.RawMessage(body), Success: true}, nil
}

func (f *fakeGateway) ConnectionState(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeGateway) QRCode(context.Context, string) (*gateway.QRCode, error) {
	return &gateway.QRCode{Code: "2@abc", PairingCode: "WZYEH1YY"}, nil
}

func (f *fakeGateway) ProfilePicture(_ context.Context, _, number string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.picCalls++
	if url, ok := f.pics[number]; ok {
		return url, nil
	}
	return "", errors.New("no picture")
}

func (f *fakeGateway) Logout(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.open = false
	return nil
}

func (f *fakeGateway) set(fn func(f *fakeGateway)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls
}

type fakeAuthority struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (a *fakeAuthority) UnreadCounts() (map[string]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out, nil
}

type stateCall struct {
	jid  string
	open bool
}

type fakeSetter struct {
	mu    sync.Mutex
	calls []stateCall
}

func (s *fakeSetter) SetState(jid string, open bool) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, stateCall{jid, open})
	return nil, nil
}

func (s *fakeSetter) recorded() []stateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stateCall(nil), s.calls...)
}

type fixture struct {
	store  *Store
	gw     *fakeGateway
	auth   *fakeAuthority
	setter *fakeSetter
	bus    *bus.Bus
}

func newFixture(t *testing.T, gw *fakeGateway, opts Options) *fixture {
	t.Helper()
	b := bus.New()
	auth := &fakeAuthority{counts: map[string]int{}}
	setter := &fakeSetter{}
	engine := unread.NewEngine(localcache.NewMemory(), 10*time.Second, nil)
	opts.Instance = "crm-turbo"
	if opts.ChatsInterval == 0 {
		opts.ChatsInterval = time.Hour
	}
	if opts.PairingInterval == 0 {
		opts.PairingInterval = time.Hour
	}
	s := New(gw, auth, setter, engine, status.NewMachine(b, "crm-turbo"), b, nil, opts)
	t.Cleanup(func() { s.Stop(context.Background()) })
	return &fixture{store: s, gw: gw, auth: auth, setter: setter, bus: b}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nextSnapshot(t *testing.T, ch <-chan bus.Event) []snapshot.Summary {
	t.Helper()
	select {
	case evt := <-ch:
		list, ok := evt.Payload.([]snapshot.Summary)
		if !ok {
			t.Fatalf("payload = %T", evt.Payload)
		}
		return list
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
		return nil
	}
}

func TestConnectOpenInstancePublishesSnapshot(t *testing.T) {
	gw := &fakeGateway{open: true, chats: `[` + chat(jidA, "Alice", 100) + `,` + chat(jidB, "Bob", 200) + `]`}
	f := newFixture(t, gw, Options{})
	f.auth.counts[jidA] = 2

	ch, unsub := f.bus.Subscribe("chats.", 10)
	defer unsub()

	if err := f.store.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.store.Status(); got != status.Connected {
		t.Fatalf("status = %s, want CONNECTED", got)
	}

	list := nextSnapshot(t, ch)
	if len(list) != 2 {
		t.Fatalf("got %d chats, want 2", len(list))
	}
	if list[0].RemoteID != jidA || list[0].UnreadCount != 2 {
		t.Errorf("first = %+v, want Alice with authoritative count 2", list[0])
	}
	if list[1].RemoteID != jidB || list[1].UnreadCount != 0 {
		t.Errorf("second = %+v", list[1])
	}
	if len(f.store.Snapshot()) != 2 {
		t.Error("Snapshot() should return the published list")
	}
}

func TestConnectIsNoopWhileConnected(t *testing.T) {
	gw := &fakeGateway{open: true, chats: `[]`}
	f := newFixture(t, gw, Options{})
	ctx := context.Background()

	if err := f.store.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first cycle", func() bool { return gw.calls() == 1 })
	if err := f.store.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := gw.calls(); n != 1 {
		t.Errorf("chat calls = %d, want 1 (second Connect must not restart polling)", n)
	}
}

func TestPairingCompletesAndStartsPolling(t *testing.T) {
	gw := &fakeGateway{state: "connecting", chats: `[` + chat(jidA, "Alice", 100) + `]`}
	f := newFixture(t, gw, Options{PairingInterval: 5 * time.Millisecond, PairingMaxAttempts: 200})

	if err := f.store.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.store.Status(); got != status.AwaitingQR {
		t.Fatalf("status = %s, want AWAITING_QR", got)
	}
	if qr := f.store.QR(); qr == nil || qr.PairingCode != "WZYEH1YY" {
		t.Fatalf("QR() = %+v", qr)
	}

	gw.set(func(g *fakeGateway) { g.state = "open" })
	waitFor(t, "connected", func() bool { return f.store.Status() == status.Connected })
	waitFor(t, "first snapshot", func() bool { return len(f.store.Snapshot()) == 1 })
	if f.store.QR() != nil {
		t.Error("QR should be cleared once paired")
	}
}

func TestPairingExhaustionReportsDeviceLimit(t *testing.T) {
	gw := &fakeGateway{state: "connecting"}
	f := newFixture(t, gw, Options{PairingInterval: 2 * time.Millisecond, PairingMaxAttempts: 3})

	ch, unsub := f.bus.Subscribe(bus.KindInstanceDeviceLimit, 1)
	defer unsub()

	if err := f.store.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		notice := evt.Payload.(DeviceLimitNotice)
		if notice.Attempts != 3 || notice.Instance != "crm-turbo" {
			t.Errorf("notice = %+v", notice)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no device limit event")
	}
	waitFor(t, "device limit state", func() bool { return f.store.Status() == status.DeviceLimit })
	if gw.calls() != 0 {
		t.Error("chat polling must not start when pairing gives up")
	}
}

func TestInFlightCycleSkipsTicks(t *testing.T) {
	block := make(chan struct{})
	gw := &fakeGateway{open: true, chats: `[]`, block: block}
	f := newFixture(t, gw, Options{ChatsInterval: 2 * time.Millisecond})

	if err := f.store.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := gw.calls(); n != 1 {
		t.Errorf("chat calls while blocked = %d, want 1", n)
	}
	close(block)
	waitFor(t, "polling to resume", func() bool { return gw.calls() > 1 })
}

func TestDisconnectDiscardsInFlightResult(t *testing.T) {
	block := make(chan struct{})
	gw := &fakeGateway{open: true, chats: `[` + chat(jidA, "Alice", 100) + `]`, block: block}
	f := newFixture(t, gw, Options{})

	if err := f.store.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "cycle to start", func() bool { return gw.calls() == 1 })

	done := make(chan error, 1)
	go func() { done <- f.store.Disconnect(context.Background()) }()
	// Let Disconnect supersede the cycle before its response arrives.
	time.Sleep(20 * time.Millisecond)
	close(block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if got := f.store.Snapshot(); len(got) != 0 {
		t.Errorf("snapshot = %+v, want empty after disconnect", got)
	}
	if got := f.store.Status(); got != status.Disconnected {
		t.Errorf("status = %s, want DISCONNECTED", got)
	}
	if n := len(f.store.engine.State().LastSeen); n != 0 {
		t.Errorf("stale result reached reconciliation: %d tracked chats", n)
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.logouts != 1 {
		t.Errorf("logouts = %d, want 1", gw.logouts)
	}
}

func TestAuthorityFailureDegradesToLocal(t *testing.T) {
	gw := &fakeGateway{open: true, chats: `[` + chat(jidA, "Alice", 100) + `]`}
	f := newFixture(t, gw, Options{ChatsInterval: 5 * time.Millisecond})
	f.auth.err = errors.New("database is locked")

	if err := f.store.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first snapshot", func() bool { return len(f.store.Snapshot()) == 1 })

	gw.set(func(g *fakeGateway) { g.chats = `[` + chat(jidA, "Alice", 200) + `]` })
	waitFor(t, "local increment", func() bool {
		s := f.store.Snapshot()
		return len(s) == 1 && s[0].UnreadCount == 1
	})
}

func TestAvatarsAppliedOnNextPublish(t *testing.T) {
	gw := &fakeGateway{
		open:  true,
		chats: `[` + chat(jidA, "Alice", 100) + `,` + chat(jidB, "Bob", 50) + `]`,
		pics:  map[string]string{"5511111": "https://pps.whatsapp.net/a.jpg"},
	}
	f := newFixture(t, gw, Options{ChatsInterval: 5 * time.Millisecond, AvatarConcurrency: 2})

	if err := f.store.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "avatar", func() bool {
		s := f.store.Snapshot()
		return len(s) == 2 && s[0].AvatarURL == "https://pps.whatsapp.net/a.jpg"
	})
	waitFor(t, "later cycles", func() bool { return gw.calls() >= 3 })

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.picCalls != 2 {
		t.Errorf("picture lookups = %d, want 2 (failed lookups are not retried)", gw.picCalls)
	}
}

func TestOpenZeroesAndNotifiesBackend(t *testing.T) {
	gw := &fakeGateway{open: true, chats: `[` + chat(jidA, "Alice", 100) + `,` + chat(jidB, "Bob", 200) + `]`}
	f := newFixture(t, gw, Options{})
	f.auth.counts[jidA] = 3
	ctx := context.Background()

	ch, unsub := f.bus.Subscribe("chats.", 10)
	defer unsub()

	if err := f.store.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if list := nextSnapshot(t, ch); list[0].RemoteID != jidA || list[0].UnreadCount != 3 {
		t.Fatalf("first snapshot = %+v", list)
	}

	if err := f.store.Open(ctx, jidA); err != nil {
		t.Fatal(err)
	}
	list := nextSnapshot(t, ch)
	for _, c := range list {
		if c.UnreadCount != 0 {
			t.Errorf("%s unread = %d after open, want 0", c.RemoteID, c.UnreadCount)
		}
	}
	if list[0].RemoteID != jidB {
		t.Errorf("order = %s first, want newest chat once nothing is unread", list[0].RemoteID)
	}

	if err := f.store.Open(ctx, jidB); err != nil {
		t.Fatal(err)
	}
	if closed := f.store.Close(); closed != jidB {
		t.Errorf("Close() = %q, want %q", closed, jidB)
	}
	if closed := f.store.Close(); closed != "" {
		t.Errorf("second Close() = %q, want empty", closed)
	}

	f.store.Stop(ctx)
	want := map[stateCall]bool{{jidA, true}: true, {jidA, false}: true, {jidB, true}: true, {jidB, false}: true}
	got := f.setter.recorded()
	if len(got) != len(want) {
		t.Fatalf("state calls = %+v", got)
	}
	for _, c := range got {
		if !want[c] {
			t.Errorf("unexpected state call %+v", c)
		}
	}
}

func TestOpenRequiresJID(t *testing.T) {
	f := newFixture(t, &fakeGateway{}, Options{})
	if err := f.store.Open(context.Background(), ""); !errors.Is(err, ErrMissingRemoteJID) {
		t.Errorf("err = %v, want ErrMissingRemoteJID", err)
	}
}
