package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/courier-im/courier/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Stopping     State = "STOPPING"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions. Stopping is reachable
// from everywhere: logout and shutdown must never be blocked by the machine.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Stopping, Error},
	AuthRequired: {Connecting, Stopping, Error},
	Connecting:   {Syncing, Ready, AuthRequired, Reconnecting, Stopping, Error},
	Syncing:      {Ready, Reconnecting, Degraded, Stopping, Error},
	Ready:        {Syncing, Reconnecting, Degraded, AuthRequired, Stopping, Error},
	Reconnecting: {Connecting, Degraded, Stopping, Error},
	Degraded:     {Connecting, Reconnecting, Ready, Stopping, Error},
	Stopping:     {},
	Error:        {Booting, Stopping},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.KindSessionStatusChanged, StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
