package status

import (
	"testing"

	"github.com/matheus3301/wppcrm/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil, "crm-turbo")
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
	if m.Instance() != "crm-turbo" {
		t.Errorf("instance = %q", m.Instance())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connecting, AwaitingQR},
		{AwaitingQR, Connected},
		{AwaitingQR, DeviceLimit},
		{Connected, AwaitingQR},
		{Connected, Disconnected},
		{DeviceLimit, Connecting},
		{Error, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil, "i")
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connected},
		{Disconnected, AwaitingQR},
		{Connecting, DeviceLimit},
		{DeviceLimit, Connected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil, "i")
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want unchanged %s", m.Current(), tt.from)
			}
		})
	}
}

func TestEveryStateCanDisconnect(t *testing.T) {
	for _, s := range []State{Connecting, AwaitingQR, Connected, DeviceLimit, Error} {
		m := NewMachine(nil, "i")
		walkTo(t, m, s)
		if err := m.Transition(Disconnected); err != nil {
			t.Errorf("%s -> DISCONNECTED: %v", s, err)
		}
	}
}

func TestSameStateIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("instance.", 10)
	defer unsub()

	m := NewMachine(b, "i")
	if err := m.Transition(Disconnected); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %v", evt)
	default:
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("instance.", 10)
	defer unsub()

	m := NewMachine(b, "crm-turbo")
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindInstanceStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindInstanceStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting || change.Instance != "crm-turbo" {
		t.Errorf("change = %+v", change)
	}
}

// TestPairingLifecycle walks the first-run QR flow up to a connected instance.
func TestPairingLifecycle(t *testing.T) {
	m := NewMachine(nil, "i")
	for _, s := range []State{Connecting, AwaitingQR, Connected} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if !m.Current().Polling() {
		t.Error("Connected should enable polling")
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected: {},
		Connecting:   {Connecting},
		AwaitingQR:   {Connecting, AwaitingQR},
		Connected:    {Connecting, Connected},
		DeviceLimit:  {Connecting, AwaitingQR, DeviceLimit},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
