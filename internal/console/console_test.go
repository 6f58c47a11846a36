package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/controller"
	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/gpib"
)

func newTestConsole(t *testing.T, input string) (*Console, *gpib.SimLink, *bytes.Buffer) {
	t.Helper()
	inst := gpib.NewInstrument(0x0a, "HP54600B,0,A.01.02")
	inst.Responses["TIMEBASE?"] = "1.000E-03"
	sim := gpib.NewSimLink(gpib.LinkInfo{Name: "sim"}, inst)
	ctl, err := controller.New(sim)
	if err != nil {
		t.Fatalf("controller.New failed: %v", err)
	}
	if err := ctl.Initialize(true); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	var out bytes.Buffer
	con, err := New(ctl, strings.NewReader(input), &out, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return con, sim, &out
}

func TestConsoleQueries(t *testing.T) {
	con, _, out := newTestConsole(t, "ID?\n\ntimebase?\nRUN\n")

	if err := con.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := "gpib> HP54600B,0,A.01.02\n" +
		"gpib> " + // blank line
		"gpib> 1.000E-03\n" +
		"gpib> " + // RUN has no reply
		"gpib> \n"
	if out.String() != want {
		t.Errorf("output = %q\nwant %q", out.String(), want)
	}
}

func TestConsoleMetaCommands(t *testing.T) {
	con, sim, out := newTestConsole(t, ":remote on\n:clear device\n:state\n")

	if err := con.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !sim.Remote() {
		t.Error(":remote on did not assert REN")
	}
	if sim.Instrument().Clears() != 1 {
		t.Errorf("Clears() = %d, want 1", sim.Instrument().Clears())
	}
	if !strings.Contains(out.String(), "remote=true") {
		t.Errorf(":state output missing: %q", out.String())
	}
}

func TestConsoleContinuesAfterErrors(t *testing.T) {
	con, _, out := newTestConsole(t, ":read\n:bogus\nID?\n")

	if err := con.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n := strings.Count(out.String(), DefaultPrompt+"error: "); n != 2 {
		t.Errorf("printed %d errors, want 2: %q", n, out.String())
	}
	if !strings.Contains(out.String(), "HP54600B") {
		t.Errorf("query after errors did not run: %q", out.String())
	}
}

func TestConsoleQuit(t *testing.T) {
	con, sim, _ := newTestConsole(t, ":quit\nID?\n")

	if err := con.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := sim.Instrument().Received(); len(got) != 0 {
		t.Errorf("input after :quit was sent: %v", got)
	}
}

func TestConsoleStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	inst := gpib.NewInstrument(0x0a, "DEV")
	ctl, err := controller.New(gpib.NewSimLink(gpib.LinkInfo{}, inst))
	if err != nil {
		t.Fatalf("controller.New failed: %v", err)
	}
	con, err := New(ctl, pr, io.Discard, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- con.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("tty gone") }

func TestConsoleInputError(t *testing.T) {
	ctl, err := controller.New(gpib.NewSimLink(gpib.LinkInfo{}, nil))
	if err != nil {
		t.Fatalf("controller.New failed: %v", err)
	}
	con, err := New(ctl, failingReader{}, io.Discard, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	con.SetPrompt("> ")

	if err := con.Run(context.Background()); err == nil {
		t.Fatal("Run swallowed the input error")
	}
}
