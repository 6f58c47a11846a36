package txn

import (
	"fmt"
)

// Phase is the position of the controller inside a write/read transaction.
type Phase uint8

const (
	Idle Phase = iota
	WriteInFlight
	AwaitingRead
	ReadInFlight
)

var phaseNames = map[Phase]string{
	Idle:          "Idle",
	WriteInFlight: "WriteInFlight",
	AwaitingRead:  "AwaitingRead",
	ReadInFlight:  "ReadInFlight",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", p)
}

// Event drives the phase machine.
type Event uint8

const (
	EventWrite Event = iota
	EventWriteDone
	EventRead
	EventReadDone
	EventFail
	EventReset
)

var eventNames = map[Event]string{
	EventWrite:     "Write",
	EventWriteDone: "WriteDone",
	EventRead:      "Read",
	EventReadDone:  "ReadDone",
	EventFail:      "Fail",
	EventReset:     "Reset",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(%d)", e)
}

// transitions lists the legal edges. Reset is accepted everywhere and is
// handled separately.
var transitions = map[Phase]map[Event]Phase{
	Idle: {
		EventWrite: WriteInFlight,
	},
	WriteInFlight: {
		EventWriteDone: AwaitingRead,
		EventFail:      Idle,
	},
	AwaitingRead: {
		// A command without a response may be followed by another write.
		EventWrite: WriteInFlight,
		EventRead:  ReadInFlight,
	},
	ReadInFlight: {
		EventReadDone: Idle,
		EventFail:     Idle,
	},
}

// ErrInvalidTransition is returned when an event is not legal in the current
// phase.
type ErrInvalidTransition struct {
	From  Phase
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("txn: %s not allowed in phase %s", e.Event, e.From)
}

// Next returns the phase reached by applying ev in phase p.
func Next(p Phase, ev Event) (Phase, error) {
	if ev == EventReset {
		return Idle, nil
	}
	row, ok := transitions[p]
	if !ok {
		return p, fmt.Errorf("txn: unknown phase %d", p)
	}
	next, ok := row[ev]
	if !ok {
		return p, &ErrInvalidTransition{From: p, Event: ev}
	}
	return next, nil
}

// Machine tracks the phase of the single open transaction. It performs no
// I/O.
type Machine struct {
	phase Phase
}

// NewMachine creates a machine in Idle.
func NewMachine() *Machine {
	return &Machine{phase: Idle}
}

// Phase reports the current phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// Can reports whether ev is legal now without applying it.
func (m *Machine) Can(ev Event) bool {
	_, err := Next(m.phase, ev)
	return err == nil
}

// Apply advances the machine. On error the phase is unchanged.
func (m *Machine) Apply(ev Event) (Phase, error) {
	next, err := Next(m.phase, ev)
	if err != nil {
		return m.phase, err
	}
	m.phase = next
	return next, nil
}

// Reset returns the machine to Idle.
func (m *Machine) Reset() {
	m.phase = Idle
}
