package gpib

import (
	"testing"

	"go.bug.st/serial/enumerator"
)

func TestClassifySerialPort(t *testing.T) {
	tests := []struct {
		name     string
		port     enumerator.PortDetails
		wantKind InterfaceKind
		wantDesc string
	}{
		{
			name:     "arduino uno",
			port:     enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
			wantKind: InterfaceKindAgipibi,
			wantDesc: "Arduino Uno on /dev/ttyACM0",
		},
		{
			name:     "ch340 clone, upper case ids",
			port:     enumerator.PortDetails{Name: "COM4", IsUSB: true, VID: "1A86", PID: "7523"},
			wantKind: InterfaceKindAgipibi,
			wantDesc: "CH340 (Arduino clone) on COM4",
		},
		{
			name:     "unknown usb serial",
			port:     enumerator.PortDetails{Name: "/dev/ttyUSB1", IsUSB: true, VID: "10c4", PID: "ea60", Product: "CP2102"},
			wantKind: InterfaceKindSerial,
			wantDesc: "CP2102 on /dev/ttyUSB1",
		},
		{
			name:     "native uart",
			port:     enumerator.PortDetails{Name: "/dev/ttyS0"},
			wantKind: InterfaceKindSerial,
			wantDesc: "/dev/ttyS0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := tt.port
			info := classifySerialPort(&port)
			if info.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", info.Kind, tt.wantKind)
			}
			if info.Label() != tt.wantDesc {
				t.Errorf("Label() = %q, want %q", info.Label(), tt.wantDesc)
			}
		})
	}
}

func TestParseHexID(t *testing.T) {
	tests := []struct {
		in   string
		want uint16
	}{
		{"2341", 0x2341},
		{"0x0403", 0x0403},
		{"1A86", 0x1a86},
		{"", 0},
		{"zz", 0},
	}
	for _, tt := range tests {
		if got := parseHexID(tt.in); got != tt.want {
			t.Errorf("parseHexID(%q) = 0x%04X, want 0x%04X", tt.in, got, tt.want)
		}
	}
}

func TestInterfaceLabelFallback(t *testing.T) {
	info := InterfaceInfo{VendorID: 0x2341, ProductID: 0x0043}
	if got := info.Label(); got != "Interface 2341:0043" {
		t.Errorf("Label() = %q", got)
	}
}
