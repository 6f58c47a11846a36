package controller

import (
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/gpib"
	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/txn"
	"github.com/sirupsen/logrus"
)

// State is a snapshot of the bus roles the controller has asserted.
type State struct {
	CICAddress    gpib.Address
	Controller    bool // true once initialised as Controller-In-Charge
	Initialized   bool
	RemoteEnabled bool

	CurrentTalker   *gpib.Address // nil when no Talker is addressed
	CurrentListener *gpib.Address // nil when no Listener is addressed

	Phase txn.Phase
	Peer  *gpib.Address // device of the open transaction, if any
}

func (s State) clone() State {
	out := s
	out.CurrentTalker = copyAddr(s.CurrentTalker)
	out.CurrentListener = copyAddr(s.CurrentListener)
	out.Peer = copyAddr(s.Peer)
	return out
}

// String renders the state on one line for logs and the console.
func (s State) String() string {
	return fmt.Sprintf("cic=%d controller=%t initialized=%t remote=%t talker=%s listener=%s phase=%s peer=%s",
		s.CICAddress, s.Controller, s.Initialized, s.RemoteEnabled,
		describePeer(s.CurrentTalker), describePeer(s.CurrentListener), s.Phase, describePeer(s.Peer))
}

func copyAddr(a *gpib.Address) *gpib.Address {
	if a == nil {
		return nil
	}
	return a.Ptr()
}

// Recorder receives operation outcomes, typically to feed metrics.
type Recorder interface {
	ObserveOperation(op string, took time.Duration, err error)
	ObserveBytes(dir gpib.Direction, n int)
	ObservePing(alive bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, time.Duration, error) {}
func (nopRecorder) ObserveBytes(gpib.Direction, int)              {}
func (nopRecorder) ObservePing(bool)                              {}

// DefaultIFCPulse is how long IFC is held during initialisation. IEEE-488
// requires at least 100µs; the bridge works in milliseconds.
const DefaultIFCPulse = time.Millisecond

// Option customises a Controller.
type Option func(*Controller)

// WithCICAddress sets the controller's own bus address.
func WithCICAddress(addr gpib.Address) Option {
	return func(c *Controller) { c.state.CICAddress = addr }
}

// WithTargetAddress sets the device addressed by a selected device clear.
func WithTargetAddress(addr gpib.Address) Option {
	return func(c *Controller) { c.target = addr }
}

// WithLogger routes bus step logging to log.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = log }
}

// WithRecorder reports operation outcomes to rec.
func WithRecorder(rec Recorder) Option {
	return func(c *Controller) { c.rec = rec }
}

// WithIFCPulse overrides the IFC pulse length.
func WithIFCPulse(d time.Duration) Option {
	return func(c *Controller) { c.ifcPulse = d }
}
