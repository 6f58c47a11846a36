package cmd

import (
	"fmt"
	"os"

	"github.com/OpenTraceLab/OpenTraceGPIB/internal/config"
	"github.com/OpenTraceLab/OpenTraceGPIB/internal/logging"
	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/gpib"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile     string
	devicePath  string
	adapterType string
	baudRate    int
	cicAddr     uint8
	targetAddr  uint8
	metricsAddr string
	verbose     bool
	quiet       bool

	// Resolved in PersistentPreRunE
	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gpib",
	Short: "GPIB controller for Agipibi Arduino bridges",
	Long: `Drive an IEEE-488 bus through an Agipibi bridge: claim Controller-In-Charge,
address Talkers and Listeners around every transfer and talk to instruments
interactively or from scripts.

Examples:
  gpib console -d /dev/ttyUSB0                 # Interactive session with the instrument at 0x0a
  gpib query --target 22 "*IDN?"               # One-shot query
  gpib run setup.gpib                          # Run a bus script
  gpib console --adapter simulator             # Try it without hardware`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML configuration file")
	flags.StringVarP(&devicePath, "device", "d", "/dev/ttyUSB0", "serial device of the bridge")
	flags.StringVarP(&adapterType, "adapter", "a", "agipibi", "bus adapter: agipibi or simulator")
	flags.IntVar(&baudRate, "baud", 115200, "serial baud rate")
	flags.Uint8Var(&cicAddr, "cic", 0x00, "controller's own bus address")
	flags.Uint8Var(&targetAddr, "target", 0x0a, "instrument address")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "errors only")
}

// loadSettings merges the config file with flags set on the command line and
// builds the logger.
func loadSettings(cmd *cobra.Command, args []string) error {
	c := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		c = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		c.Link.Device = devicePath
	}
	if flags.Changed("adapter") {
		c.Link.Adapter = adapterType
	}
	if flags.Changed("baud") {
		c.Link.BaudRate = baudRate
	}
	if flags.Changed("cic") {
		c.Bus.CIC = gpib.Address(cicAddr)
	}
	if flags.Changed("target") {
		c.Bus.Target = gpib.Address(targetAddr)
	}
	if flags.Changed("metrics-addr") {
		c.Metrics.Addr = metricsAddr
	}
	if err := c.Validate(); err != nil {
		return err
	}

	v := logging.Normal
	switch {
	case verbose:
		v = logging.Verbose
	case quiet:
		v = logging.Quiet
	}
	l, err := logging.New(c.Log, v)
	if err != nil {
		return err
	}

	cfg, log = c, l
	return nil
}
