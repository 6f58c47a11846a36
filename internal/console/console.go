package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/script"
	"github.com/sirupsen/logrus"
)

// DefaultPrompt is printed before each input line.
const DefaultPrompt = "gpib> "

// MetaPrefix marks a line as a script statement rather than instrument text.
const MetaPrefix = ":"

// Console is an interactive session with one instrument. Plain lines are
// queried against the target; lines starting with ':' run as script
// statements (":remote off", ":clear device", ":state").
type Console struct {
	bus    script.Bus
	runner *script.Runner
	parser *script.Parser
	in     io.Reader
	out    io.Writer
	log    logrus.FieldLogger
	prompt string
}

// New creates a console reading from in and printing replies to out.
func New(bus script.Bus, in io.Reader, out io.Writer, log logrus.FieldLogger) (*Console, error) {
	parser, err := script.NewParser()
	if err != nil {
		return nil, err
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Console{
		bus:    bus,
		runner: script.NewRunner(bus, out, log),
		parser: parser,
		in:     in,
		out:    out,
		log:    log,
		prompt: DefaultPrompt,
	}, nil
}

// SetPrompt replaces the input prompt.
func (c *Console) SetPrompt(p string) {
	c.prompt = p
}

// Run reads lines until end of input, ":quit" or ctx is cancelled. Bus errors
// are printed and the session continues; only an input error is returned.
func (c *Console) Run(ctx context.Context) error {
	lines, inputErr := c.readLines(ctx)

	for {
		fmt.Fprint(c.out, c.prompt)

		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(c.out)
				return *inputErr
			}
			if c.handle(ctx, line) {
				return nil
			}
		}
	}
}

// handle processes one input line and reports whether the session is over.
func (c *Console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if meta, ok := strings.CutPrefix(line, MetaPrefix); ok {
		switch strings.TrimSpace(meta) {
		case "quit", "exit":
			return true
		}
		s, err := c.parser.ParseString(meta)
		if err != nil {
			c.report(line, err)
			return false
		}
		if err := c.runner.Run(ctx, s); err != nil {
			c.report(line, err)
		}
		return false
	}

	reply, err := c.bus.Query(c.bus.Target(), line)
	if err != nil {
		c.report(line, err)
		return false
	}
	if reply = strings.TrimSpace(reply); reply != "" {
		fmt.Fprintln(c.out, reply)
	}
	return false
}

func (c *Console) report(line string, err error) {
	c.log.WithField("input", line).WithError(err).Debug("console command failed")
	fmt.Fprintf(c.out, "error: %v\n", err)
}

// readLines feeds input lines to the loop. The channel closes at end of
// input; the error it leaves behind is nil for a clean EOF.
func (c *Console) readLines(ctx context.Context) (<-chan string, *error) {
	lines := make(chan string)
	var scanErr error

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr = sc.Err()
	}()

	return lines, &scanErr
}
