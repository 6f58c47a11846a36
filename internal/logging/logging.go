package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/OpenTraceLab/OpenTraceGPIB/internal/config"
	"github.com/sirupsen/logrus"
)

// Verbosity adjusts the configured level from command-line flags.
type Verbosity int

const (
	Normal  Verbosity = iota
	Verbose           // -v: debug
	Quiet             // -q: errors only
)

// New builds the process logger. Output goes to stderr so replies on
// stdout stay clean.
func New(cfg config.LogConfig, v Verbosity) (*logrus.Logger, error) {
	return NewWithOutput(cfg, v, os.Stderr)
}

// NewWithOutput is New with an explicit destination.
func NewWithOutput(cfg config.LogConfig, v Verbosity, out io.Writer) (*logrus.Logger, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	switch v {
	case Verbose:
		level = logrus.DebugLevel
	case Quiet:
		level = logrus.ErrorLevel
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	default:
		return nil, fmt.Errorf("log format: unknown format %q", cfg.Format)
	}

	return log, nil
}
