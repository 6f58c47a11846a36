package gpib

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"
)

// InterfaceKind categorizes bridge families.
type InterfaceKind string

const (
	InterfaceKindAgipibi InterfaceKind = "agipibi"
	InterfaceKindSerial  InterfaceKind = "serial"
	InterfaceKindSim     InterfaceKind = "simulator"
)

// InterfaceInfo describes a detected bridge or serial port.
type InterfaceInfo struct {
	Kind        InterfaceKind
	Description string
	VendorID    uint16
	ProductID   uint16
	Serial      string
	Path        string
}

// Label returns a user-friendly description for the interface.
func (i InterfaceInfo) Label() string {
	if i.Description != "" {
		return i.Description
	}
	if i.Path != "" {
		return i.Path
	}
	return fmt.Sprintf("Interface %04X:%04X", i.VendorID, i.ProductID)
}

type knownUSBDevice struct {
	VendorID    uint16
	ProductID   uint16
	Description string
}

// Boards the Agipibi firmware is known to run on, or the USB-serial chips they
// carry.
var knownBridgeVIDPIDs = []knownUSBDevice{
	{VendorID: 0x2341, ProductID: 0x0043, Description: "Arduino Uno"},
	{VendorID: 0x2341, ProductID: 0x0001, Description: "Arduino Uno (legacy)"},
	{VendorID: 0x2341, ProductID: 0x0010, Description: "Arduino Mega 2560"},
	{VendorID: 0x2341, ProductID: 0x0042, Description: "Arduino Mega 2560 R3"},
	{VendorID: 0x2A03, ProductID: 0x0043, Description: "Arduino Uno (arduino.org)"},
	{VendorID: 0x0403, ProductID: 0x6001, Description: "FTDI FT232R (Arduino Duemilanove)"},
	{VendorID: 0x1A86, ProductID: 0x7523, Description: "CH340 (Arduino clone)"},
}

func classifyIDs(vid, pid uint16) (knownUSBDevice, bool) {
	for _, known := range knownBridgeVIDPIDs {
		if vid == known.VendorID && pid == known.ProductID {
			return known, true
		}
	}
	return knownUSBDevice{}, false
}

// DiscoverInterfaces lists serial ports and flags those that sit on a known
// bridge board. USB bridges with no serial node yet (missing driver, no
// permission) are reported from a raw USB scan. The simulator entry is always
// last so the CLI can be exercised without hardware.
func DiscoverInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	var results []InterfaceInfo
	seen := make(map[[2]uint16]bool)

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	for _, port := range ports {
		info := classifySerialPort(port)
		if info.Kind == InterfaceKindAgipibi {
			seen[[2]uint16{info.VendorID, info.ProductID}] = true
		}
		results = append(results, info)
	}

	usb := gousb.NewContext()
	defer usb.Close()

	_, err = usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		vid, pid := uint16(desc.Vendor), uint16(desc.Product)
		if seen[[2]uint16{vid, pid}] {
			return false
		}
		if known, ok := classifyIDs(vid, pid); ok {
			results = append(results, InterfaceInfo{
				Kind:        InterfaceKindAgipibi,
				Description: known.Description + " (no serial port)",
				VendorID:    vid,
				ProductID:   pid,
			})
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return results, err
	}

	results = append(results, InterfaceInfo{
		Kind:        InterfaceKindSim,
		Description: "Simulator (no hardware)",
	})

	return results, nil
}

func classifySerialPort(port *enumerator.PortDetails) InterfaceInfo {
	info := InterfaceInfo{
		Kind: InterfaceKindSerial,
		Path: port.Name,
	}
	if !port.IsUSB {
		return info
	}

	info.VendorID = parseHexID(port.VID)
	info.ProductID = parseHexID(port.PID)
	info.Serial = port.SerialNumber
	if known, ok := classifyIDs(info.VendorID, info.ProductID); ok {
		info.Kind = InterfaceKindAgipibi
		info.Description = fmt.Sprintf("%s on %s", known.Description, port.Name)
	} else if port.Product != "" {
		info.Description = fmt.Sprintf("%s on %s", port.Product, port.Name)
	}
	return info
}

func parseHexID(s string) uint16 {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}
