package gpib

import (
	"fmt"
	"sort"
	"time"
)

// Op captures one primitive executed on a SimLink.
type Op struct {
	Name string
	Addr Address
	Flag bool
	Data []byte
}

func (o Op) String() string {
	switch o.Name {
	case "talker", "listener":
		return fmt.Sprintf("%s %d", o.Name, o.Addr)
	case "configure":
		return fmt.Sprintf("configure %d controller=%t", o.Addr, o.Flag)
	case "ren", "nrfd":
		return fmt.Sprintf("%s %t", o.Name, o.Flag)
	case "write", "read":
		return fmt.Sprintf("%s %q", o.Name, o.Data)
	}
	return o.Name
}

// ReadHook lets tests replace what the bus returns for a read.
type ReadHook func(talker Address) ([]byte, error)

// SimLink is an in-memory bus useful for unit tests and for running the CLI
// without hardware. It tracks Talker/Listener addressing the way devices on a
// real bus would see it and records every primitive it executes.
type SimLink struct {
	InfoData LinkInfo

	// Alive is what Ping reports.
	Alive bool

	// Fail injects an error for the named primitive ("write", "read",
	// "talker", ...).
	Fail map[string]error

	OnRead ReadHook

	ops        []Op
	address    Address
	controller bool
	talker     *Address
	listeners  map[Address]struct{}
	ren        bool
	nrfd       bool
	ifcPulses  int
	violations []string
	instrument *Instrument
	closed     bool
}

// NewSimLink constructs a live simulator with an optional instrument attached.
func NewSimLink(info LinkInfo, inst *Instrument) *SimLink {
	return &SimLink{
		InfoData:   info,
		Alive:      true,
		listeners:  make(map[Address]struct{}),
		instrument: inst,
	}
}

// Instrument returns the simulated device on the bus, if any.
func (s *SimLink) Instrument() *Instrument {
	return s.instrument
}

// Ops returns a copy of every primitive executed so far.
func (s *SimLink) Ops() []Op {
	return append([]Op(nil), s.ops...)
}

// OpNames returns the rendered primitive log, convenient for comparisons.
func (s *SimLink) OpNames() []string {
	names := make([]string, len(s.ops))
	for i, op := range s.ops {
		names[i] = op.String()
	}
	return names
}

// ResetOps clears the primitive log without touching bus state.
func (s *SimLink) ResetOps() {
	s.ops = nil
}

// Talker returns the currently addressed Talker.
func (s *SimLink) Talker() (Address, bool) {
	if s.talker == nil {
		return 0, false
	}
	return *s.talker, true
}

// Listeners returns the addressed Listeners in ascending order.
func (s *SimLink) Listeners() []Address {
	out := make([]Address, 0, len(s.listeners))
	for a := range s.listeners {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Remote reports whether REN is asserted.
func (s *SimLink) Remote() bool { return s.ren }

// NRFD reports whether NRFD is held asserted by the controller.
func (s *SimLink) NRFD() bool { return s.nrfd }

// IFCPulses reports how many times IFC was pulsed.
func (s *SimLink) IFCPulses() int { return s.ifcPulses }

// Closed reports whether Close was called.
func (s *SimLink) Closed() bool { return s.closed }

// Violations lists bus rule breaches observed, such as a second Talker being
// addressed while another one still holds the role.
func (s *SimLink) Violations() []string {
	return append([]string(nil), s.violations...)
}

func (s *SimLink) record(op Op) error {
	s.ops = append(s.ops, op)
	if err := s.Fail[op.Name]; err != nil {
		return err
	}
	return nil
}

func (s *SimLink) Info() (LinkInfo, error) {
	return s.InfoData, nil
}

func (s *SimLink) Ping() bool {
	s.ops = append(s.ops, Op{Name: "ping"})
	return s.Alive
}

func (s *SimLink) Configure(addr Address, controller bool) error {
	if err := s.record(Op{Name: "configure", Addr: addr, Flag: controller}); err != nil {
		return err
	}
	if err := addr.Validate(); err != nil {
		return err
	}
	s.address = addr
	s.controller = controller
	// All lines released.
	s.talker = nil
	s.listeners = make(map[Address]struct{})
	s.ren = false
	s.nrfd = false
	return nil
}

func (s *SimLink) AssertIFC(pulse time.Duration) error {
	if err := s.record(Op{Name: "ifc"}); err != nil {
		return err
	}
	if !s.controller {
		return fmt.Errorf("sim: IFC requires system controller role")
	}
	s.ifcPulses++
	s.talker = nil
	s.listeners = make(map[Address]struct{})
	return nil
}

func (s *SimLink) SetREN(enable bool) error {
	if err := s.record(Op{Name: "ren", Flag: enable}); err != nil {
		return err
	}
	s.ren = enable
	if s.instrument != nil && !enable {
		s.instrument.Remote = false
	}
	return nil
}

func (s *SimLink) SetNRFD(assert bool) error {
	if err := s.record(Op{Name: "nrfd", Flag: assert}); err != nil {
		return err
	}
	s.nrfd = assert
	return nil
}

func (s *SimLink) SendDCL() error {
	if err := s.record(Op{Name: "dcl"}); err != nil {
		return err
	}
	if s.instrument != nil {
		s.instrument.clear()
	}
	return nil
}

func (s *SimLink) SendSDC() error {
	if err := s.record(Op{Name: "sdc"}); err != nil {
		return err
	}
	if len(s.listeners) == 0 {
		return fmt.Errorf("sim: SDC with no listener addressed")
	}
	if s.instrument != nil {
		if _, ok := s.listeners[s.instrument.Address]; ok {
			s.instrument.clear()
		}
	}
	return nil
}

func (s *SimLink) SetTalker(addr Address) error {
	if err := s.record(Op{Name: "talker", Addr: addr}); err != nil {
		return err
	}
	if s.talker != nil && *s.talker != addr {
		s.violations = append(s.violations,
			fmt.Sprintf("talker %d addressed while %d still talking", addr, *s.talker))
	}
	s.talker = addr.Ptr()
	return nil
}

func (s *SimLink) SetListener(addr Address) error {
	if err := s.record(Op{Name: "listener", Addr: addr}); err != nil {
		return err
	}
	s.listeners[addr] = struct{}{}
	return nil
}

func (s *SimLink) Untalk() error {
	if err := s.record(Op{Name: "untalk"}); err != nil {
		return err
	}
	s.talker = nil
	return nil
}

func (s *SimLink) Unlisten() error {
	if err := s.record(Op{Name: "unlisten"}); err != nil {
		return err
	}
	s.listeners = make(map[Address]struct{})
	return nil
}

func (s *SimLink) Write(payload []byte) error {
	if err := s.record(Op{Name: "write", Data: append([]byte(nil), payload...)}); err != nil {
		return err
	}
	if s.talker == nil || *s.talker != s.address {
		return fmt.Errorf("sim: write while bridge is not the talker")
	}
	if s.instrument != nil {
		if _, ok := s.listeners[s.instrument.Address]; ok {
			s.instrument.Remote = s.instrument.Remote || s.ren
			s.instrument.receive(payload)
		}
	}
	return nil
}

func (s *SimLink) Read() ([]byte, error) {
	if err := s.record(Op{Name: "read"}); err != nil {
		return nil, err
	}
	if _, ok := s.listeners[s.address]; !ok {
		return nil, fmt.Errorf("sim: read while bridge is not a listener")
	}
	if s.talker == nil {
		return nil, ErrTimeout
	}
	if s.OnRead != nil {
		return s.OnRead(*s.talker)
	}
	if s.instrument == nil || s.instrument.Address != *s.talker {
		return nil, ErrTimeout
	}
	return s.instrument.send(), nil
}

func (s *SimLink) Close() error {
	s.ops = append(s.ops, Op{Name: "close"})
	s.closed = true
	return nil
}
