package status

import (
	"testing"

	"github.com/matheus3301/mirror/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Idle},
		{Booting, Error},
		{Idle, Syncing},
		{Syncing, Idle},
		{Syncing, Degraded},
		{Degraded, Syncing},
		{Degraded, Idle},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			// Walk to the "from" state.
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

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Syncing); err == nil {
		t.Error("Transition(BOOTING -> SYNCING) should fail")
	}
	walkTo(t, m, Syncing)
	if err := m.Transition(Syncing); err == nil {
		t.Error("Transition(SYNCING -> SYNCING) should fail; overlapping runs must not nest")
	}
	if m.Current() != Syncing {
		t.Errorf("state = %s, want SYNCING (should not have changed)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("status.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Idle); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != StatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, StatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Idle {
		t.Errorf("change = %v -> %v, want BOOTING -> IDLE", change.From, change.To)
	}
}

// TestDegradedRecovers simulates a failed sync followed by a successful one:
// IDLE → SYNCING → DEGRADED → SYNCING → IDLE
func TestDegradedRecovers(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Idle)

	if err := m.Transition(Syncing); err != nil {
		t.Fatal(err)
	}
	if err := m.TransitionWithDetail(Degraded, "list chats: status 502"); err != nil {
		t.Fatal(err)
	}
	if m.Detail() != "list chats: status 502" {
		t.Errorf("detail = %q", m.Detail())
	}
	for _, s := range []State{Syncing, Idle} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Detail() != "" {
		t.Errorf("detail = %q after recovery, want cleared", m.Detail())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:  {},
		Idle:     {Idle},
		Syncing:  {Idle, Syncing},
		Degraded: {Idle, Syncing, Degraded},
		Error:    {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
