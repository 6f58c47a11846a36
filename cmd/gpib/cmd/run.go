package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/script"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Run a bus script",
	Long: `Execute the statements in FILE in order, stopping at the first error.
The script starts from an unclaimed bus, so it usually begins with "init".

Statements:
  ping                          check the bridge
  init [controller|device]      claim the bus
  remote on|off                 assert or release REN
  clear [bus|device [ADDR]]     DCL to everyone or SDC to one device
  write [ADDR] "TEXT"           send TEXT without reading back
  read [ADDR]                   read the reply to the last write
  query [ADDR] "TEXT"           write and read in one step
  sleep DURATION                pause, e.g. 250ms
  state                         print controller state

ADDR defaults to --target and may be decimal (leading zeros allowed) or 0x hex. '#' starts a comment.`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runScript(cmd *cobra.Command, args []string) error {
	parser, err := script.NewParser()
	if err != nil {
		return err
	}
	s, err := parser.ParseFile(args[0])
	if err != nil {
		return err
	}
	log.WithField("statements", len(s.Statements)).Debug("script parsed")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctl, closeCtl, err := openController(ctx)
	if err != nil {
		return err
	}
	defer closeCtl()

	runner := script.NewRunner(ctl, os.Stdout, log)
	if err := runner.Run(ctx, s); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}
