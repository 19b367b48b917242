// Package status tracks the daemon's runtime state.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/smsdesk/smsdesk/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting  State = "BOOTING"
	Idle     State = "IDLE"
	Syncing  State = "SYNCING"
	Degraded State = "DEGRADED"
	Error    State = "ERROR"
)

// validTransitions defines allowed state transitions. Degraded means
// the last provider pull failed but the daemon keeps serving local
// reads and retries on the next tick.
var validTransitions = map[State][]State{
	Booting:  {Idle, Error},
	Idle:     {Syncing, Degraded, Error},
	Syncing:  {Idle, Degraded, Error},
	Degraded: {Syncing, Idle, Error},
	Error:    {Booting},
}

// Machine tracks and enforces daemon state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}

// NewMachine creates a state machine starting in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid; transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "daemon.status_changed",
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}
