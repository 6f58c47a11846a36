package controller

import (
	"errors"
	"time"

	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/gpib"
	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/txn"
	"github.com/sirupsen/logrus"
)

// DirectedWrite addresses the controller as Talker and addr as Listener, then
// sends payload. On success the transaction waits for DirectedRead.
// Transport failures are returned as *gpib.LinkError and are not retried.
func (c *Controller) DirectedWrite(addr gpib.Address, payload []byte) (err error) {
	const op = "directed_write"
	if err := c.enter(op); err != nil {
		return err
	}
	defer c.leave()
	start := time.Now()
	defer func() { c.observe(op, start, err) }()

	return c.directedWrite(op, addr, payload)
}

// DirectedRead addresses addr as Talker and the controller as Listener, then
// reads until the bridge's terminator. It must follow a DirectedWrite to the
// same address. The bridge's single-byte no-data sentinel comes back as an
// empty slice; any other payload is returned unchanged.
func (c *Controller) DirectedRead(addr gpib.Address) (data []byte, err error) {
	const op = "directed_read"
	if err := c.enter(op); err != nil {
		return nil, err
	}
	defer c.leave()
	start := time.Now()
	defer func() { c.observe(op, start, err) }()

	return c.directedRead(op, addr)
}

// Query writes command to addr and reads the reply with no other operation
// able to run in between.
func (c *Controller) Query(addr gpib.Address, command string) (reply string, err error) {
	const op = "query"
	if err := c.enter(op); err != nil {
		return "", err
	}
	defer c.leave()
	start := time.Now()
	defer func() { c.observe(op, start, err) }()

	if err := c.directedWrite(op, addr, []byte(command)); err != nil {
		return "", err
	}
	data, err := c.directedRead(op, addr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Controller) directedWrite(op string, addr gpib.Address, payload []byte) error {
	if err := c.requireController(op); err != nil {
		return err
	}
	if err := c.checkPeer(op, addr); err != nil {
		return err
	}
	if err := c.advance(op, txn.EventWrite); err != nil {
		return err
	}
	c.state.Peer = addr.Ptr()

	if err := c.assignRoles(gpib.ControllerTalks, addr); err != nil {
		return c.abort(err)
	}
	if err := c.link.Write(payload); err != nil {
		return c.abort(gpib.WrapLink("write", err))
	}
	c.rec.ObserveBytes(gpib.ControllerTalks, len(payload))

	if err := c.advance(op, txn.EventWriteDone); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"addr": addr, "bytes": len(payload)}).Debug("write complete")
	return nil
}

func (c *Controller) directedRead(op string, addr gpib.Address) ([]byte, error) {
	if err := c.requireController(op); err != nil {
		return nil, err
	}
	if err := c.checkPeer(op, addr); err != nil {
		return nil, err
	}
	if c.machine.Phase() != txn.AwaitingRead {
		return nil, gpib.Misuse(op, "read from %d without a preceding write (phase %s)", addr, c.machine.Phase())
	}
	if c.state.Peer == nil || *c.state.Peer != addr {
		return nil, gpib.Misuse(op, "read from %d but the open transaction is with %s", addr, describePeer(c.state.Peer))
	}
	if err := c.advance(op, txn.EventRead); err != nil {
		return nil, err
	}

	if err := c.assignRoles(gpib.InstrumentTalks, addr); err != nil {
		return nil, c.abort(err)
	}
	data, err := c.link.Read()
	if err != nil {
		return nil, c.abort(gpib.WrapLink("read", err))
	}
	c.rec.ObserveBytes(gpib.InstrumentTalks, len(data))

	if err := c.advance(op, txn.EventReadDone); err != nil {
		return nil, err
	}
	c.state.Peer = nil

	if len(data) == 0 || gpib.IsNoData(data) {
		c.log.WithField("addr", addr).Debug("read complete, no data")
		return []byte{}, nil
	}
	c.log.WithFields(logrus.Fields{"addr": addr, "bytes": len(data)}).Debug("read complete")
	return data, nil
}

// assignRoles unaddresses everyone, then addresses the Talker and Listener
// for dir. The Talker is only set once no other Talker is addressed.
func (c *Controller) assignRoles(dir gpib.Direction, peer gpib.Address) error {
	talker, listener := dir.Roles(c.state.CICAddress, peer)

	if err := c.unaddress(); err != nil {
		return err
	}
	if err := c.link.SetTalker(talker); err != nil {
		return gpib.WrapLink("set talker", err)
	}
	c.state.CurrentTalker = talker.Ptr()

	if err := c.link.SetListener(listener); err != nil {
		return gpib.WrapLink("set listener", err)
	}
	c.state.CurrentListener = listener.Ptr()

	c.log.WithFields(logrus.Fields{
		"direction": dir,
		"talker":    talker,
		"listener":  listener,
	}).Debug("roles assigned")
	return nil
}

// unaddress sends UNT and UNL, clearing the role fields as each succeeds.
func (c *Controller) unaddress() error {
	if err := c.link.Untalk(); err != nil {
		return gpib.WrapLink("untalk", err)
	}
	c.state.CurrentTalker = nil

	if err := c.link.Unlisten(); err != nil {
		return gpib.WrapLink("unlisten", err)
	}
	c.state.CurrentListener = nil
	return nil
}

func (c *Controller) advance(op string, ev txn.Event) error {
	if _, err := c.machine.Apply(ev); err != nil {
		var invalid *txn.ErrInvalidTransition
		if errors.As(err, &invalid) {
			return gpib.Misuse(op, "%v", err)
		}
		return err
	}
	return nil
}

// abort closes the open transaction after a failure and returns err.
func (c *Controller) abort(err error) error {
	if _, ferr := c.machine.Apply(txn.EventFail); ferr != nil {
		c.machine.Reset()
	}
	c.state.Peer = nil
	return err
}

func describePeer(p *gpib.Address) string {
	if p == nil {
		return "nobody"
	}
	return p.String()
}
