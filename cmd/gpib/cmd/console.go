package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OpenTraceLab/OpenTraceGPIB/internal/console"
	"github.com/spf13/cobra"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive session with an instrument",
	Long: `Claim the bus, enable remote mode, clear all devices and identify the target
instrument, then read commands from stdin. Each line is sent to the target and
its reply printed. Lines starting with ':' are bus statements, for example
":remote off", ":clear device", ":write 0x16 \"RUN\"" or ":state".

End the session with Ctrl-D, Ctrl-C or ":quit".`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctl, closeCtl, err := openController(ctx)
	if err != nil {
		return err
	}
	defer closeCtl()

	if _, err := bringUp(ctl); err != nil {
		return err
	}

	con, err := console.New(ctl, cmd.InOrStdin(), os.Stdout, log)
	if err != nil {
		return err
	}
	con.SetPrompt(cfg.Console.Prompt)
	return con.Run(ctx)
}
