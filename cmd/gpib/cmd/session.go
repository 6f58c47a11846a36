package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceGPIB/internal/metrics"
	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/controller"
	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/gpib"
)

// simIdentity is what the simulated instrument answers to ID? and *IDN?.
const simIdentity = "OpenTraceGPIB,SIM-488,0,0.3.0"

// createLink opens the configured bus adapter.
func createLink() (gpib.Link, error) {
	switch cfg.Link.Adapter {
	case "simulator", "sim":
		log.Debug("using simulator adapter")
		info := gpib.LinkInfo{
			Name:     "GPIB Simulator",
			Vendor:   "OpenTraceLab",
			Model:    "Sim-488",
			Firmware: "v0.3.0",
		}
		inst := gpib.NewInstrument(cfg.Bus.Target, simIdentity)
		inst.Responses["TIMEBASE?"] = "1.000E-03"
		inst.Responses["*OPC?"] = "1"
		return gpib.NewSimLink(info, inst), nil

	case "agipibi":
		log.WithField("device", cfg.Link.Device).Debug("opening Agipibi bridge")
		link, err := gpib.OpenAgipibiLink(cfg.Link.Device, cfg.SerialOptions())
		if err != nil {
			return nil, err
		}
		return link, nil

	default:
		return nil, fmt.Errorf("unknown adapter type: %s", cfg.Link.Adapter)
	}
}

// openController builds a controller on the configured link, with metrics
// exported while ctx is live when an address is configured. The returned
// close function releases the bus and the link.
func openController(ctx context.Context) (*controller.Controller, func(), error) {
	link, err := createLink()
	if err != nil {
		return nil, nil, err
	}

	opts := []controller.Option{
		controller.WithCICAddress(cfg.Bus.CIC),
		controller.WithTargetAddress(cfg.Bus.Target),
		controller.WithIFCPulse(cfg.Bus.IFCPulse),
		controller.WithLogger(log),
	}
	if cfg.Metrics.Addr != "" {
		rec := metrics.NewRecorder()
		opts = append(opts, controller.WithRecorder(rec))
		go func() {
			if err := rec.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.WithError(err).Error("metrics endpoint failed")
			}
		}()
	}

	ctl, err := controller.New(link, opts...)
	if err != nil {
		link.Close()
		return nil, nil, err
	}

	closeFn := func() {
		if err := ctl.Close(); err != nil {
			log.WithError(err).Warn("release bus")
		}
	}
	return ctl, closeFn, nil
}

// bringUp claims the bus the way an operator expects before talking to an
// instrument: ping, become CIC, assert REN, clear every device, then ask
// the target who it is.
func bringUp(ctl *controller.Controller) (string, error) {
	if ctl.Ping() {
		log.Info("bridge is alive")
	} else {
		log.Warn("no response to ping, you should reset the board")
	}

	if err := ctl.Initialize(true); err != nil {
		return "", fmt.Errorf("initialize bus: %w", err)
	}
	if err := ctl.SetRemote(true); err != nil {
		return "", fmt.Errorf("enable remote: %w", err)
	}
	if err := ctl.Clear(true); err != nil {
		return "", fmt.Errorf("clear bus: %w", err)
	}

	if cfg.Bus.Identify == "" {
		return "", nil
	}
	log.Info("get instrument ID")
	id, err := ctl.Query(ctl.Target(), cfg.Bus.Identify)
	if err != nil {
		return "", fmt.Errorf("identify instrument: %w", err)
	}
	id = strings.TrimSpace(id)
	log.WithField("id", id).Info("instrument identified")
	return id, nil
}
