package controller

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/gpib"
	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/txn"
	"github.com/sirupsen/logrus"
)

// Controller is the bus-role controller. It owns the Controller-In-Charge
// role and sequences Talker/Listener addressing around every write and read
// it issues through a gpib.Link.
//
// A Controller serves a single session. Operations never interleave: one
// entered while another is still running fails with gpib.ErrMisuse.
type Controller struct {
	link     gpib.Link
	log      logrus.FieldLogger
	rec      Recorder
	target   gpib.Address
	ifcPulse time.Duration

	state   State
	machine *txn.Machine
	busy    atomic.Bool

	// nrfdHeld is true from a successful NRFD assert until its release,
	// whether or not Initialize got any further.
	nrfdHeld bool
}

// New builds a controller on top of link. The bus is untouched until
// Initialize is called.
func New(link gpib.Link, opts ...Option) (*Controller, error) {
	if link == nil {
		return nil, fmt.Errorf("controller: link is nil")
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Controller{
		link:     link,
		log:      discard,
		rec:      nopRecorder{},
		target:   gpib.DefaultTargetAddress,
		ifcPulse: DefaultIFCPulse,
		state:    State{CICAddress: gpib.DefaultCICAddress},
		machine:  txn.NewMachine(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.state.CICAddress.Validate(); err != nil {
		return nil, fmt.Errorf("controller: CIC address: %w", err)
	}
	if err := c.target.Validate(); err != nil {
		return nil, fmt.Errorf("controller: target address: %w", err)
	}
	if c.state.CICAddress == c.target {
		return nil, fmt.Errorf("controller: CIC and target share address %d", c.target)
	}
	return c, nil
}

// State returns a copy of the current role state.
func (c *Controller) State() State {
	s := c.state.clone()
	s.Phase = c.machine.Phase()
	return s
}

// Target returns the configured instrument address.
func (c *Controller) Target() gpib.Address {
	return c.target
}

// Link returns the underlying bus link.
func (c *Controller) Link() gpib.Link {
	return c.link
}

func (c *Controller) enter(op string) error {
	if !c.busy.CompareAndSwap(false, true) {
		return gpib.Misuse(op, "overlaps another bus operation in progress")
	}
	return nil
}

func (c *Controller) leave() {
	c.busy.Store(false)
}

func (c *Controller) observe(op string, start time.Time, err error) {
	c.rec.ObserveOperation(op, time.Since(start), err)
	if err != nil {
		c.log.WithField("op", op).WithError(err).Debug("bus operation failed")
	}
}

// Ping asks the bridge whether it is alive. A false result is not an error:
// a stalled bridge may still recover during Initialize.
func (c *Controller) Ping() bool {
	if err := c.enter("ping"); err != nil {
		c.log.WithError(err).Warn("ping skipped")
		return false
	}
	defer c.leave()

	alive := c.link.Ping()
	c.rec.ObservePing(alive)
	c.log.WithField("alive", alive).Debug("ping")
	return alive
}

// Initialize claims the bus. It configures the bridge at the CIC address,
// releases every line, holds NRFD so the target pauses while setup
// completes and, when acting as controller, pulses IFC to take CIC status.
// All role state is reset, so calling it again is safe.
func (c *Controller) Initialize(asController bool) (err error) {
	const op = "initialize"
	if err := c.enter(op); err != nil {
		return err
	}
	defer c.leave()
	start := time.Now()
	defer func() { c.observe(op, start, err) }()

	c.machine.Reset()
	c.state = State{CICAddress: c.state.CICAddress}

	if err := c.link.Configure(c.state.CICAddress, asController); err != nil {
		return gpib.WrapLink("configure", err)
	}
	// Configure leaves every bus line released.
	c.nrfdHeld = false
	if err := c.link.SetNRFD(true); err != nil {
		return gpib.WrapLink("assert NRFD", err)
	}
	c.nrfdHeld = true
	if asController {
		if err := c.link.AssertIFC(c.ifcPulse); err != nil {
			return gpib.WrapLink("pulse IFC", err)
		}
	}

	c.state.Initialized = true
	c.state.Controller = asController
	c.log.WithFields(logrus.Fields{
		"cic":        c.state.CICAddress,
		"controller": asController,
	}).Debug("bus initialized")
	return nil
}

// SetRemote asserts or releases REN. REN stays as set until changed here or
// until Initialize runs again; role addressing is untouched.
func (c *Controller) SetRemote(enable bool) (err error) {
	const op = "set_remote"
	if err := c.enter(op); err != nil {
		return err
	}
	defer c.leave()
	start := time.Now()
	defer func() { c.observe(op, start, err) }()

	if err := c.requireController(op); err != nil {
		return err
	}
	if err := c.link.SetREN(enable); err != nil {
		return gpib.WrapLink("set REN", err)
	}
	c.state.RemoteEnabled = enable
	c.log.WithField("ren", enable).Debug("remote enable")
	return nil
}

// Clear resets instruments. With busWide it sends DCL to every device;
// otherwise it sends SDC to the configured target only.
func (c *Controller) Clear(busWide bool) (err error) {
	const op = "clear"
	if err := c.enter(op); err != nil {
		return err
	}
	defer c.leave()
	start := time.Now()
	defer func() { c.observe(op, start, err) }()

	if err := c.requireController(op); err != nil {
		return err
	}
	// A pending response is discarded by the device being cleared.
	c.machine.Reset()
	c.state.Peer = nil

	if busWide {
		if err := c.link.SendDCL(); err != nil {
			return gpib.WrapLink("send DCL", err)
		}
		c.log.Debug("device clear (DCL)")
		return nil
	}
	return c.clearSelected(c.target)
}

// ClearDevice sends SDC to addr.
func (c *Controller) ClearDevice(addr gpib.Address) (err error) {
	const op = "clear_device"
	if err := c.enter(op); err != nil {
		return err
	}
	defer c.leave()
	start := time.Now()
	defer func() { c.observe(op, start, err) }()

	if err := c.requireController(op); err != nil {
		return err
	}
	if err := c.checkPeer(op, addr); err != nil {
		return err
	}
	c.machine.Reset()
	c.state.Peer = nil
	return c.clearSelected(addr)
}

// clearSelected addresses addr as the only Listener, sends SDC and then
// unlistens so the cleared device does not stay addressed.
func (c *Controller) clearSelected(addr gpib.Address) error {
	if err := c.unaddress(); err != nil {
		return err
	}
	if err := c.link.SetListener(addr); err != nil {
		return gpib.WrapLink("set listener", err)
	}
	c.state.CurrentListener = addr.Ptr()

	if err := c.link.SendSDC(); err != nil {
		return gpib.WrapLink("send SDC", err)
	}
	if err := c.link.Unlisten(); err != nil {
		return gpib.WrapLink("unlisten", err)
	}
	c.state.CurrentListener = nil
	c.log.WithField("addr", addr).Debug("selected device clear (SDC)")
	return nil
}

// Close leaves the bus in a non-asserting state as far as the bridge allows
// and releases the link. Every step is attempted; failures are joined.
func (c *Controller) Close() error {
	if err := c.enter("close"); err != nil {
		return err
	}
	defer c.leave()

	var errs []error
	if c.state.Initialized && c.state.Controller {
		if err := c.link.Untalk(); err != nil {
			errs = append(errs, gpib.WrapLink("untalk", err))
		} else {
			c.state.CurrentTalker = nil
		}
		if err := c.link.Unlisten(); err != nil {
			errs = append(errs, gpib.WrapLink("unlisten", err))
		} else {
			c.state.CurrentListener = nil
		}
		if err := c.link.SetREN(false); err != nil {
			errs = append(errs, gpib.WrapLink("release REN", err))
		} else {
			c.state.RemoteEnabled = false
		}
	}
	if c.nrfdHeld {
		if err := c.link.SetNRFD(false); err != nil {
			errs = append(errs, gpib.WrapLink("release NRFD", err))
		} else {
			c.nrfdHeld = false
		}
	}
	c.machine.Reset()
	c.state.Peer = nil
	c.state.Initialized = false

	if err := c.link.Close(); err != nil {
		errs = append(errs, gpib.WrapLink("close", err))
	}
	return errors.Join(errs...)
}

func (c *Controller) requireController(op string) error {
	if !c.state.Initialized {
		return gpib.Misuse(op, "bus not initialized")
	}
	if !c.state.Controller {
		return gpib.Misuse(op, "not controller-in-charge")
	}
	return nil
}

func (c *Controller) checkPeer(op string, addr gpib.Address) error {
	if err := addr.Validate(); err != nil {
		return gpib.Misuse(op, "%v", err)
	}
	if addr == c.state.CICAddress {
		return gpib.Misuse(op, "address %d is the controller itself", addr)
	}
	return nil
}
