package gpib

import (
	"fmt"
	"sync"
	"time"
)

// AgipibiLink implements the Link interface for the Arduino-based Agipibi
// bridge.
type AgipibiLink struct {
	transport *SerialTransport
	protocol  *AgipibiProtocol

	info LinkInfo

	mu sync.Mutex // Protect concurrent access
}

// OpenAgipibiLink opens the serial device and queries the firmware.
func OpenAgipibiLink(path string, opts SerialOptions) (*AgipibiLink, error) {
	transport, err := OpenSerialTransport(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge: %w", err)
	}
	return NewAgipibiLink(transport), nil
}

// NewAgipibiLink wraps an open transport.
func NewAgipibiLink(transport *SerialTransport) *AgipibiLink {
	link := &AgipibiLink{
		transport: transport,
		protocol:  NewAgipibiProtocol(),
		info: LinkInfo{
			Name:     "Agipibi bridge",
			Vendor:   "Arduino",
			Model:    "Agipibi",
			Port:     transport.Path(),
			BaudRate: transport.BaudRate(),
		},
	}
	return link
}

// Info returns bridge details, including the firmware string when the bridge
// answers.
func (a *AgipibiLink) Info() (LinkInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.info.Firmware != "" {
		return a.info, nil
	}

	firmware, err := a.readInfo()
	if err != nil {
		_ = a.transport.Discard()
		return a.info, err
	}
	a.info.Firmware = firmware
	return a.info, nil
}

func (a *AgipibiLink) readInfo() (string, error) {
	if err := a.transport.Write(a.protocol.EncodeSimple(CmdInfo)); err != nil {
		return "", err
	}
	head, err := a.transport.ReadN(2)
	if err != nil {
		return "", err
	}
	body, err := a.transport.ReadN(int(head[1]))
	if err != nil {
		return "", err
	}
	return a.protocol.DecodeInfo(append(head, body...))
}

// Ping checks that the firmware is responsive. Any failure reads as false.
func (a *AgipibiLink) Ping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	resp, err := a.transport.WriteRead(a.protocol.EncodePing(), 2)
	if err != nil || !a.protocol.DecodePing(resp) {
		// Leave no half-read or stale reply behind for the next command.
		_ = a.transport.Discard()
		return false
	}
	return true
}

// command sends a control frame and checks its acknowledgement
func (a *AgipibiLink) command(frame []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	resp, err := a.transport.WriteRead(frame, 2)
	if err == nil {
		err = a.protocol.DecodeAck(frame[0], resp)
	}
	if err != nil {
		// A late or mismatched ack would otherwise answer the next command.
		_ = a.transport.Discard()
	}
	return err
}

func (a *AgipibiLink) Configure(addr Address, controller bool) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	return a.command(a.protocol.EncodeInit(addr, controller))
}

func (a *AgipibiLink) AssertIFC(pulse time.Duration) error {
	return a.command(a.protocol.EncodeIFC(pulse))
}

func (a *AgipibiLink) SetREN(enable bool) error {
	return a.command(a.protocol.EncodeFlag(CmdREN, enable))
}

func (a *AgipibiLink) SetNRFD(assert bool) error {
	return a.command(a.protocol.EncodeFlag(CmdNRFD, assert))
}

func (a *AgipibiLink) SendDCL() error {
	return a.command(a.protocol.EncodeSimple(CmdDCL))
}

func (a *AgipibiLink) SendSDC() error {
	return a.command(a.protocol.EncodeSimple(CmdSDC))
}

func (a *AgipibiLink) SetTalker(addr Address) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	return a.command(a.protocol.EncodeAddress(CmdTalker, addr))
}

func (a *AgipibiLink) SetListener(addr Address) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	return a.command(a.protocol.EncodeAddress(CmdListener, addr))
}

func (a *AgipibiLink) Untalk() error {
	return a.command(a.protocol.EncodeSimple(CmdUntalk))
}

func (a *AgipibiLink) Unlisten() error {
	return a.command(a.protocol.EncodeSimple(CmdUnlisten))
}

// Write transmits the payload as one or more write frames
func (a *AgipibiLink) Write(payload []byte) error {
	for _, frame := range a.protocol.EncodeWrite(payload) {
		if err := a.command(frame); err != nil {
			return err
		}
	}
	return nil
}

// Read asks the bridge to receive from the current Talker and returns the
// bytes up to the frame terminator.
func (a *AgipibiLink) Read() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.transport.Write(a.protocol.EncodeSimple(CmdRead)); err != nil {
		return nil, err
	}
	data, err := a.transport.ReadUntil(ReadTerminator)
	if err != nil {
		_ = a.transport.Discard()
		return nil, err
	}
	return data, nil
}

// Close releases the serial port
func (a *AgipibiLink) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transport.Close()
}
