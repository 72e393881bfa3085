package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tupski/wa-monitor/internal/bus"
)

// State is the monitor's connection state as shown by wamonctl and /healthz.
type State string

const (
	Booting      State = "BOOTING"
	Pairing      State = "PAIRING"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Disconnected State = "DISCONNECTED"
	LoggedOut    State = "LOGGED_OUT"
	Error        State = "ERROR"
)

var validTransitions = map[State][]State{
	Booting:      {Pairing, Connecting, Error},
	Pairing:      {Connecting, Error},
	Connecting:   {Connected, Pairing, Disconnected, Error},
	Connected:    {Disconnected, LoggedOut, Error},
	Disconnected: {Connecting, Connected, Error},
	LoggedOut:    {Pairing, Error},
	Error:        {Booting},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Connected reports whether the source is usable.
func (m *Machine) Connected() bool {
	return m.Current() == Connected
}

// Transition attempts to move to a new state. Moving to the current state is
// a no-op. Returns error if the transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	if m.bus != nil {
		m.bus.Emit(bus.KindSessionStatus, StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
