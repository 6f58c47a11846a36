package gpib

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Agipibi bridge command IDs
const (
	CmdPing     = 0x01
	CmdInit     = 0x02
	CmdIFC      = 0x03
	CmdREN      = 0x04
	CmdNRFD     = 0x05
	CmdDCL      = 0x06
	CmdSDC      = 0x07
	CmdTalker   = 0x08
	CmdListener = 0x09
	CmdUntalk   = 0x0A
	CmdUnlisten = 0x0B
	CmdWrite    = 0x0C
	CmdRead     = 0x0D
	CmdInfo     = 0x0E
)

// Status codes
const (
	StatusOK          = 0x00
	StatusBusError    = 0x01
	StatusNotCIC      = 0x02
	StatusBadArgument = 0x03
)

const (
	// PingReply is the byte the firmware answers a ping with.
	PingReply = 'A'

	// ReadTerminator ends every read frame; the firmware translates EOI to it.
	ReadTerminator = '\n'

	// MaxWriteChunk is the largest payload a single write frame carries.
	MaxWriteChunk = 255
)

var statusText = map[byte]string{
	StatusBusError:    "bus error",
	StatusNotCIC:      "bridge is not controller-in-charge",
	StatusBadArgument: "bad argument",
}

// AgipibiProtocol handles encoding/decoding of bridge commands
type AgipibiProtocol struct{}

// NewAgipibiProtocol creates a new protocol handler
func NewAgipibiProtocol() *AgipibiProtocol {
	return &AgipibiProtocol{}
}

// EncodePing builds a liveness probe
func (p *AgipibiProtocol) EncodePing() []byte {
	return []byte{CmdPing}
}

// DecodePing reports whether the reply is a valid ping answer
func (p *AgipibiProtocol) DecodePing(resp []byte) bool {
	return len(resp) >= 2 && resp[0] == CmdPing && resp[1] == PingReply
}

// EncodeInit builds the bus initialisation command
func (p *AgipibiProtocol) EncodeInit(addr Address, controller bool) []byte {
	return []byte{CmdInit, byte(addr), boolByte(controller)}
}

// EncodeIFC builds an IFC pulse command; the duration is sent in whole
// milliseconds, big endian.
func (p *AgipibiProtocol) EncodeIFC(pulse time.Duration) []byte {
	ms := pulse.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	if ms > 0xFFFF {
		ms = 0xFFFF
	}
	cmd := []byte{CmdIFC, 0, 0}
	binary.BigEndian.PutUint16(cmd[1:], uint16(ms))
	return cmd
}

// EncodeFlag builds a single-flag command such as REN or NRFD
func (p *AgipibiProtocol) EncodeFlag(cmd byte, on bool) []byte {
	return []byte{cmd, boolByte(on)}
}

// EncodeAddress builds a talker or listener addressing command
func (p *AgipibiProtocol) EncodeAddress(cmd byte, addr Address) []byte {
	return []byte{cmd, byte(addr)}
}

// EncodeSimple builds a command without arguments
func (p *AgipibiProtocol) EncodeSimple(cmd byte) []byte {
	return []byte{cmd}
}

// EncodeWrite splits a payload into write frames of at most MaxWriteChunk
// bytes. An empty payload still produces one (empty) frame.
func (p *AgipibiProtocol) EncodeWrite(payload []byte) [][]byte {
	var frames [][]byte
	for {
		n := len(payload)
		if n > MaxWriteChunk {
			n = MaxWriteChunk
		}
		frame := make([]byte, 0, n+2)
		frame = append(frame, CmdWrite, byte(n))
		frame = append(frame, payload[:n]...)
		frames = append(frames, frame)

		payload = payload[n:]
		if len(payload) == 0 {
			return frames
		}
	}
}

// DecodeAck validates the [cmd, status] acknowledgement of a control command
func (p *AgipibiProtocol) DecodeAck(cmd byte, resp []byte) error {
	if len(resp) < 2 {
		return fmt.Errorf("response too short")
	}
	if resp[0] != cmd {
		return fmt.Errorf("invalid command ID: 0x%02X, want 0x%02X", resp[0], cmd)
	}
	if resp[1] != StatusOK {
		if text, ok := statusText[resp[1]]; ok {
			return fmt.Errorf("command 0x%02X failed: %s", cmd, text)
		}
		return fmt.Errorf("command 0x%02X failed: status 0x%02X", cmd, resp[1])
	}
	return nil
}

// DecodeInfo parses the firmware identification reply
func (p *AgipibiProtocol) DecodeInfo(resp []byte) (string, error) {
	if len(resp) < 2 {
		return "", fmt.Errorf("response too short")
	}
	if resp[0] != CmdInfo {
		return "", fmt.Errorf("invalid command ID: 0x%02X", resp[0])
	}

	length := int(resp[1])
	if len(resp) < 2+length {
		return "", fmt.Errorf("incomplete info string")
	}

	return string(resp[2 : 2+length]), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
