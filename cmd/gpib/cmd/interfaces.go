package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/gpib"
	"github.com/spf13/cobra"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List available GPIB bridges",
	Long: `Scan the host for serial ports and USB boards that can carry the Agipibi
firmware and print a summary. Use this to find the --device to pass to other
commands.`,
	Args: cobra.NoArgs,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	infos, err := gpib.DiscoverInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No interfaces found.")
		return nil
	}

	fmt.Println("Detected GPIB interfaces:")
	for _, iface := range infos {
		fmt.Printf("  - %s [%s]", iface.Label(), iface.Kind)
		if iface.VendorID != 0 || iface.ProductID != 0 {
			fmt.Printf(" (VID:PID %04X:%04X)", iface.VendorID, iface.ProductID)
		}
		if iface.Path != "" && iface.Path != iface.Label() {
			fmt.Printf(" at %s", iface.Path)
		}
		fmt.Println()
	}

	return nil
}

func describeLink(info gpib.LinkInfo) string {
	switch {
	case info.Port != "":
		return fmt.Sprintf("%s on %s", info.Name, info.Port)
	case info.Name != "":
		return info.Name
	default:
		return "bridge"
	}
}
