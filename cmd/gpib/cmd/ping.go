package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the bridge answers",
	Long: `Send a ping to the bridge without touching the bus and report whether it
answered. Exits non-zero when it did not.`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctl, closeCtl, err := openController(ctx)
	if err != nil {
		return err
	}
	defer closeCtl()

	info, err := ctl.Link().Info()
	if err != nil {
		log.WithError(err).Debug("bridge info unavailable")
	}
	if !ctl.Ping() {
		return fmt.Errorf("no response from %s", describeLink(info))
	}

	fmt.Printf("%s is alive\n", describeLink(info))
	if verbose && info.Firmware != "" {
		fmt.Printf("  Firmware: %s\n", info.Firmware)
	}
	return nil
}
