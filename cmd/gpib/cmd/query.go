package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query TEXT...",
	Short: "Send one command to the instrument and print its reply",
	Long: `Bring the bus up as the console does, send TEXT to the target instrument
and print the reply. Arguments are joined with spaces.

Examples:
  gpib query "ID?"
  gpib query --target 22 "*IDN?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reply, err := queryOnce(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if reply != "" {
		fmt.Println(reply)
	}
	return nil
}

// queryOnce brings the bus up, sends text to the target and releases the bus
// again, also when ctx is cancelled part way.
func queryOnce(ctx context.Context, text string) (string, error) {
	ctl, closeCtl, err := openController(ctx)
	if err != nil {
		return "", err
	}
	defer closeCtl()

	if _, err := bringUp(ctl); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	reply, err := ctl.Query(ctl.Target(), text)
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}
	return strings.TrimSpace(reply), nil
}
