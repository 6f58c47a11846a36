package gpib

import "fmt"

// Address is a GPIB primary address.
type Address uint8

const (
	// MaxAddress is the highest primary address a device may use. 31 is
	// reserved for the UNT/UNL commands.
	MaxAddress Address = 30

	// DefaultCICAddress is the address the bridge claims as Controller-In-Charge.
	DefaultCICAddress Address = 0x00
	// DefaultTargetAddress is the address of the instrument on the bus.
	DefaultTargetAddress Address = 0x0a
)

// Validate reports whether the address is inside the primary address space.
func (a Address) Validate() error {
	if a > MaxAddress {
		return fmt.Errorf("gpib: address %d out of range [0, %d]", a, MaxAddress)
	}
	return nil
}

func (a Address) String() string {
	return fmt.Sprintf("%d", uint8(a))
}

// Ptr returns a pointer to a copy of the address, for optional state fields.
func (a Address) Ptr() *Address {
	return &a
}

// Direction describes which side of a transaction drives data onto the bus.
type Direction uint8

const (
	// ControllerTalks addresses the controller as Talker and the peer as Listener.
	ControllerTalks Direction = iota
	// InstrumentTalks addresses the peer as Talker and the controller as Listener.
	InstrumentTalks
)

func (d Direction) String() string {
	switch d {
	case ControllerTalks:
		return "ControllerTalks"
	case InstrumentTalks:
		return "InstrumentTalks"
	}
	return fmt.Sprintf("Direction(%d)", d)
}

// Roles returns the Talker and Listener for a transaction between the
// controller at cic and the device at peer.
func (d Direction) Roles(cic, peer Address) (talker, listener Address) {
	if d == InstrumentTalks {
		return peer, cic
	}
	return cic, peer
}

// Sentinel is the byte the bridge firmware sends when the Talker had nothing
// to say.
const Sentinel byte = 0xFF

// IsNoData reports whether a read payload is the bridge's "no data" marker.
//
// Only the exact single byte payload {0xFF} qualifies. An instrument that
// legitimately answers with that one byte cannot be told apart from an empty
// response; longer payloads containing 0xFF are always real data.
func IsNoData(payload []byte) bool {
	return len(payload) == 1 && payload[0] == Sentinel
}
