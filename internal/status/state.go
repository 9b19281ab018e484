package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/mirror/internal/bus"
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

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Idle, Error},
	Idle:     {Syncing, Error},
	Syncing:  {Idle, Degraded, Error},
	Degraded: {Syncing, Idle, Error},
	Error:    {Booting},
}

// StatusChanged is the bus event kind published on every transition.
const StatusChanged = "status.changed"

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	detail  string
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

// Detail returns the reason recorded with the last transition, if any.
func (m *Machine) Detail() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detail
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	return m.TransitionWithDetail(to, "")
}

// TransitionWithDetail is Transition with a human-readable reason, typically the
// error that degraded the daemon.
func (m *Machine) TransitionWithDetail(to State, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.detail = detail
	m.bus.Emit(StatusChanged, StatusChange{From: from, To: to, Detail: detail})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From   State
	To     State
	Detail string
}
