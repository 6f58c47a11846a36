package gpib

import "time"

// LinkInfo describes the bridge a Link talks to.
type LinkInfo struct {
	Name     string
	Vendor   string
	Model    string
	Firmware string
	Port     string
	BaudRate int
	Notes    string
}

// Link abstracts the microcontroller bridge that drives the physical bus.
// Implementations only execute line-level primitives; role ordering belongs
// to the controller.
type Link interface {
	Info() (LinkInfo, error)
	Ping() bool

	Configure(addr Address, controller bool) error
	AssertIFC(pulse time.Duration) error
	SetREN(enable bool) error
	SetNRFD(assert bool) error
	SendDCL() error
	SendSDC() error

	SetTalker(addr Address) error
	SetListener(addr Address) error
	Untalk() error
	Unlisten() error

	Write(payload []byte) error
	Read() ([]byte, error)

	Close() error
}
