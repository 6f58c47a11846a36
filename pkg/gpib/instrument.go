package gpib

import (
	"strings"
)

// Instrument is a simulated talker/listener device attached to a SimLink.
// It answers queries from a lookup table and returns the bridge's no-data
// sentinel when it has nothing queued.
type Instrument struct {
	Address Address
	ID      string

	// Responses maps an upper-cased query to its reply. "ID?" and "*IDN?"
	// answer with ID unless overridden here.
	Responses map[string]string

	// Remote is set once a command arrives while REN is asserted.
	Remote bool

	received []string
	output   []byte
	clears   int
}

// NewInstrument creates a simulated device at addr identifying itself as id.
func NewInstrument(addr Address, id string) *Instrument {
	return &Instrument{
		Address:   addr,
		ID:        id,
		Responses: make(map[string]string),
	}
}

// Received returns every command the device accepted as Listener.
func (i *Instrument) Received() []string {
	return append([]string(nil), i.received...)
}

// Clears reports how many DCL/SDC messages reached the device.
func (i *Instrument) Clears() int {
	return i.clears
}

// Pending reports whether the device has output queued.
func (i *Instrument) Pending() bool {
	return len(i.output) > 0
}

func (i *Instrument) receive(payload []byte) {
	cmd := strings.TrimSpace(string(payload))
	i.received = append(i.received, cmd)

	key := strings.ToUpper(cmd)
	if reply, ok := i.Responses[key]; ok {
		i.output = []byte(reply + "\r\n")
		return
	}
	switch key {
	case "ID?", "*IDN?":
		i.output = []byte(i.ID + "\r\n")
	}
}

func (i *Instrument) send() []byte {
	if len(i.output) == 0 {
		return []byte{Sentinel}
	}
	out := i.output
	i.output = nil
	return out
}

func (i *Instrument) clear() {
	i.clears++
	i.output = nil
}
