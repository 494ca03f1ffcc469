package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppcrm/internal/bus"
)

// State is the connection state of one gateway instance as seen by the daemon.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	AwaitingQR   State = "AWAITING_QR"
	Connected    State = "CONNECTED"
	// DeviceLimit means pairing polling gave up without the instance ever
	// reporting open. The usual cause is the account's linked-device limit.
	DeviceLimit State = "DEVICE_LIMIT"
	Error       State = "ERROR"
)

// validTransitions defines allowed state transitions. Every state may fall
// back to Disconnected so teardown never depends on where the instance was.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Error},
	Connecting:   {Connected, AwaitingQR, Disconnected, Error},
	AwaitingQR:   {Connected, DeviceLimit, Disconnected, Error},
	Connected:    {AwaitingQR, Disconnected, Error},
	DeviceLimit:  {Connecting, Disconnected},
	Error:        {Connecting, Disconnected},
}

// Polling reports whether chat polling should run in s.
func (s State) Polling() bool { return s == Connected }

// Machine tracks and enforces instance connection state transitions.
type Machine struct {
	mu       sync.RWMutex
	current  State
	instance string
	bus      *bus.Bus
}

// NewMachine creates a state machine for instance, starting Disconnected.
func NewMachine(b *bus.Bus, instance string) *Machine {
	return &Machine{
		current:  Disconnected,
		instance: instance,
		bus:      b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Instance returns the instance name the machine tracks.
func (m *Machine) Instance() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instance
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// A transition to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	instance := m.instance
	m.mu.Unlock()

	m.bus.Emit(bus.KindInstanceStatus, StatusChange{Instance: instance, From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	Instance string `json:"instance"`
	From     State  `json:"from"`
	To       State  `json:"to"`
}
