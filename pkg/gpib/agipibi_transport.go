package gpib

import (
	"bytes"
	"fmt"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 115200

	// DefaultReadTimeout bounds how long a read waits for the terminator.
	DefaultReadTimeout = 5 * time.Second

	// DefaultSettleDelay covers the Arduino bootloader, which runs after the
	// port toggles DTR on open.
	DefaultSettleDelay = 2 * time.Second

	// MaxReadSize caps a single read frame.
	MaxReadSize = 64 * 1024
)

// Port is the subset of serial.Port the transport needs.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// SerialTransport handles framed communication with the bridge over a serial
// port.
type SerialTransport struct {
	port    Port
	path    string
	baud    int
	timeout time.Duration

	// rx holds bytes received past the end of the previous frame.
	rx []byte
}

// SerialOptions configures OpenSerialTransport.
type SerialOptions struct {
	BaudRate    int
	ReadTimeout time.Duration
	SettleDelay time.Duration
}

func (o SerialOptions) withDefaults() SerialOptions {
	if o.BaudRate == 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// OpenSerialTransport opens the serial device at path.
func OpenSerialTransport(path string, opts SerialOptions) (*SerialTransport, error) {
	opts = opts.withDefaults()

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if opts.SettleDelay > 0 {
		time.Sleep(opts.SettleDelay)
	}

	t, err := NewSerialTransport(port, opts.ReadTimeout)
	if err != nil {
		port.Close()
		return nil, err
	}
	t.path = path
	t.baud = opts.BaudRate
	return t, nil
}

// NewSerialTransport wraps an already opened port.
func NewSerialTransport(port Port, timeout time.Duration) (*SerialTransport, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	// Drop any boot banner the firmware printed.
	if err := port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("reset input buffer: %w", err)
	}
	return &SerialTransport{port: port, timeout: timeout}, nil
}

// Write sends a complete command frame
func (t *SerialTransport) Write(frame []byte) error {
	for len(frame) > 0 {
		n, err := t.port.Write(frame)
		if err != nil {
			return fmt.Errorf("serial write failed: %w", err)
		}
		frame = frame[n:]
	}
	return nil
}

// fill performs one port read into rx. A zero-length read means the port's
// read timeout expired.
func (t *SerialTransport) fill() error {
	buf := make([]byte, 64)
	n, err := t.port.Read(buf)
	if err != nil {
		return fmt.Errorf("serial read failed: %w", err)
	}
	if n == 0 {
		return ErrTimeout
	}
	t.rx = append(t.rx, buf[:n]...)
	return nil
}

// ReadN receives exactly n bytes
func (t *SerialTransport) ReadN(n int) ([]byte, error) {
	for len(t.rx) < n {
		if err := t.fill(); err != nil {
			return nil, err
		}
	}
	out := append([]byte(nil), t.rx[:n]...)
	t.rx = t.rx[n:]
	return out, nil
}

// ReadUntil receives bytes up to and excluding the terminator
func (t *SerialTransport) ReadUntil(term byte) ([]byte, error) {
	for {
		if i := bytes.IndexByte(t.rx, term); i >= 0 {
			out := append([]byte(nil), t.rx[:i]...)
			t.rx = t.rx[i+1:]
			return out, nil
		}
		if len(t.rx) > MaxReadSize {
			t.rx = nil
			return nil, fmt.Errorf("read frame exceeds %d bytes", MaxReadSize)
		}
		if err := t.fill(); err != nil {
			return nil, err
		}
	}
}

// WriteRead performs a command/acknowledge exchange with a fixed-size reply
func (t *SerialTransport) WriteRead(cmd []byte, replyLen int) ([]byte, error) {
	if err := t.Write(cmd); err != nil {
		return nil, err
	}
	return t.ReadN(replyLen)
}

// Discard drops any bytes buffered from a previous exchange
func (t *SerialTransport) Discard() error {
	t.rx = nil
	return t.port.ResetInputBuffer()
}

// Path returns the device path, empty when the port was supplied directly.
func (t *SerialTransport) Path() string {
	return t.path
}

// BaudRate returns the configured speed.
func (t *SerialTransport) BaudRate() int {
	return t.baud
}

// Timeout returns the read window.
func (t *SerialTransport) Timeout() time.Duration {
	return t.timeout
}

// Close releases the serial port
func (t *SerialTransport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
