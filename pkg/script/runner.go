package script

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/controller"
	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/gpib"
	"github.com/sirupsen/logrus"
)

// Bus is the subset of controller.Controller a script drives.
type Bus interface {
	Ping() bool
	Initialize(asController bool) error
	SetRemote(enable bool) error
	Clear(busWide bool) error
	ClearDevice(addr gpib.Address) error
	DirectedWrite(addr gpib.Address, payload []byte) error
	DirectedRead(addr gpib.Address) ([]byte, error)
	Query(addr gpib.Address, command string) (string, error)
	State() controller.State
	Target() gpib.Address
}

// Runner executes parsed scripts against a bus.
type Runner struct {
	bus Bus
	out io.Writer
	log logrus.FieldLogger

	// Sleep is replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner printing replies to out.
func NewRunner(bus Bus, out io.Writer, log logrus.FieldLogger) *Runner {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Runner{bus: bus, out: out, log: log, Sleep: sleepCtx}
}

// Run executes statements in order and stops at the first failure. The
// error names the offending line.
func (r *Runner) Run(ctx context.Context, s *Script) error {
	for _, st := range s.Statements {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Exec(ctx, st); err != nil {
			return fmt.Errorf("line %d: %w", st.Pos.Line, err)
		}
	}
	return nil
}

// Exec executes a single statement.
func (r *Runner) Exec(ctx context.Context, st *Statement) error {
	target := r.bus.Target()

	switch {
	case st.Ping:
		if r.bus.Ping() {
			fmt.Fprintln(r.out, "bridge alive")
		} else {
			fmt.Fprintln(r.out, "bridge not responding")
		}
		return nil

	case st.Init != nil:
		return r.bus.Initialize(st.Init.AsController())

	case st.Remote != nil:
		return r.bus.SetRemote(st.Remote.Enable())

	case st.Clear != nil:
		if st.Clear.Addr == nil {
			return r.bus.Clear(st.Clear.BusWide())
		}
		if st.Clear.BusWide() {
			return fmt.Errorf("only \"clear device\" takes an address")
		}
		addr, err := st.Clear.Addr.Resolve(target)
		if err != nil {
			return err
		}
		return r.bus.ClearDevice(addr)

	case st.Write != nil:
		addr, err := st.Write.Addr.Resolve(target)
		if err != nil {
			return err
		}
		return r.bus.DirectedWrite(addr, []byte(st.Write.Text))

	case st.Read != nil:
		addr, err := st.Read.Addr.Resolve(target)
		if err != nil {
			return err
		}
		data, err := r.bus.DirectedRead(addr)
		if err != nil {
			return err
		}
		r.print(string(data))
		return nil

	case st.Query != nil:
		addr, err := st.Query.Addr.Resolve(target)
		if err != nil {
			return err
		}
		reply, err := r.bus.Query(addr, st.Query.Text)
		if err != nil {
			return err
		}
		r.print(reply)
		return nil

	case st.Sleep != nil:
		d, err := time.ParseDuration(st.Sleep.Duration)
		if err != nil {
			return err
		}
		r.log.WithField("duration", d).Debug("sleep")
		return r.Sleep(ctx, d)

	case st.State:
		fmt.Fprintln(r.out, r.bus.State())
		return nil
	}

	return fmt.Errorf("empty statement")
}

// print writes a reply with trailing line endings removed; empty replies
// print nothing.
func (r *Runner) print(reply string) {
	reply = strings.TrimRight(reply, "\r\n")
	if reply == "" {
		return
	}
	fmt.Fprintln(r.out, reply)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
