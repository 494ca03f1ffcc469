package chatstate

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *store.DB, jid string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, _, err := db.IngestInbound(&store.InboundMessage{RemoteJID: jid, Text: "m"}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRequestOpenDefaultsTrue(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"remoteJid":"a"}`, true},
		{`{"remoteJid":"a","isOpen":true}`, true},
		{`{"remoteJid":"a","isOpen":false}`, false},
	}
	for _, tt := range tests {
		var r Request
		if err := json.Unmarshal([]byte(tt.body), &r); err != nil {
			t.Fatal(err)
		}
		if r.Open() != tt.want {
			t.Errorf("%s: Open() = %v, want %v", tt.body, r.Open(), tt.want)
		}
	}
}

func TestSetStateOpenZeroesUnread(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe("conversation.", 10)
	defer unsub()

	s := NewService(db, b, nil)
	seed(t, db, "a@s.whatsapp.net", 3)

	conv, err := s.SetState("a@s.whatsapp.net", true)
	if err != nil {
		t.Fatal(err)
	}
	if !conv.IsOpen || conv.UnreadCount != 0 {
		t.Errorf("conv = %+v, want open with 0 unread", conv)
	}
	if evt := <-ch; evt.Kind != bus.KindConversationUpdated {
		t.Errorf("event = %q", evt.Kind)
	}
}

func TestSetStateCloseKeepsCounters(t *testing.T) {
	db := testDB(t)
	s := NewService(db, bus.New(), nil)
	seed(t, db, "a@s.whatsapp.net", 2)

	conv, err := s.SetState("a@s.whatsapp.net", false)
	if err != nil {
		t.Fatal(err)
	}
	if conv.IsOpen || conv.UnreadCount != 2 {
		t.Errorf("conv = %+v, want closed with 2 unread", conv)
	}
}

func TestSetStateErrors(t *testing.T) {
	s := NewService(testDB(t), bus.New(), nil)

	if _, err := s.SetState("", true); err != ErrMissingRemoteJID {
		t.Errorf("err = %v, want ErrMissingRemoteJID", err)
	}
	conv, err := s.SetState("ghost@s.whatsapp.net", true)
	if err != nil || conv != nil {
		t.Errorf("unknown conversation: conv=%v err=%v, want nil/nil", conv, err)
	}
}

func TestSetStateConcurrentConversations(t *testing.T) {
	db := testDB(t)
	s := NewService(db, bus.New(), nil)
	jids := []string{"1@s.whatsapp.net", "2@s.whatsapp.net", "3@s.whatsapp.net"}
	for _, j := range jids {
		seed(t, db, j, 2)
	}

	var wg sync.WaitGroup
	for _, j := range jids {
		wg.Add(1)
		go func(jid string) {
			defer wg.Done()
			if _, err := s.SetState(jid, true); err != nil {
				t.Error(err)
			}
		}(j)
	}
	wg.Wait()

	counts, err := db.UnreadCounts()
	if err != nil {
		t.Fatal(err)
	}
	for _, j := range jids {
		if counts[j] != 0 {
			t.Errorf("%s unread = %d, want 0", j, counts[j])
		}
	}
}
