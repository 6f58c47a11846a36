package gpib

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeFirmware emulates the bridge on the far side of a serial port by
// decoding each frame and replaying it against a SimLink.
type fakeFirmware struct {
	bus    *SimLink
	rx     []byte
	chunk  int // max bytes handed out per Read, 0 = unlimited
	closed bool
	silent bool // never answer
	frames [][]byte
}

func newFakeFirmware(bus *SimLink) *fakeFirmware {
	return &fakeFirmware{bus: bus, chunk: 3}
}

func (f *fakeFirmware) SetReadTimeout(time.Duration) error { return nil }

func (f *fakeFirmware) ResetInputBuffer() error {
	f.rx = nil
	return nil
}

func (f *fakeFirmware) Close() error {
	f.closed = true
	return nil
}

func (f *fakeFirmware) Read(p []byte) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("port closed")
	}
	if len(f.rx) == 0 {
		return 0, nil // read timeout
	}
	n := len(p)
	if f.chunk > 0 && n > f.chunk {
		n = f.chunk
	}
	n = copy(p[:n], f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeFirmware) Write(p []byte) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("port closed")
	}
	frame := append([]byte(nil), p...)
	f.frames = append(f.frames, frame)
	if f.silent {
		return len(p), nil
	}
	f.handle(frame)
	return len(p), nil
}

func (f *fakeFirmware) ack(cmd byte, err error) {
	status := byte(StatusOK)
	if err != nil {
		status = StatusBusError
	}
	f.rx = append(f.rx, cmd, status)
}

func (f *fakeFirmware) handle(frame []byte) {
	cmd := frame[0]
	switch cmd {
	case CmdPing:
		if f.bus.Ping() {
			f.rx = append(f.rx, CmdPing, PingReply)
		}
	case CmdInfo:
		fw := "agipibi-fw 0.3"
		f.rx = append(f.rx, CmdInfo, byte(len(fw)))
		f.rx = append(f.rx, fw...)
	case CmdInit:
		f.ack(cmd, f.bus.Configure(Address(frame[1]), frame[2] == 1))
	case CmdIFC:
		ms := binary.BigEndian.Uint16(frame[1:])
		f.ack(cmd, f.bus.AssertIFC(time.Duration(ms)*time.Millisecond))
	case CmdREN:
		f.ack(cmd, f.bus.SetREN(frame[1] == 1))
	case CmdNRFD:
		f.ack(cmd, f.bus.SetNRFD(frame[1] == 1))
	case CmdDCL:
		f.ack(cmd, f.bus.SendDCL())
	case CmdSDC:
		f.ack(cmd, f.bus.SendSDC())
	case CmdTalker:
		f.ack(cmd, f.bus.SetTalker(Address(frame[1])))
	case CmdListener:
		f.ack(cmd, f.bus.SetListener(Address(frame[1])))
	case CmdUntalk:
		f.ack(cmd, f.bus.Untalk())
	case CmdUnlisten:
		f.ack(cmd, f.bus.Unlisten())
	case CmdWrite:
		n := int(frame[1])
		f.ack(cmd, f.bus.Write(frame[2:2+n]))
	case CmdRead:
		data, err := f.bus.Read()
		if err != nil {
			return // nothing on the wire: host times out
		}
		f.rx = append(f.rx, data...)
		if len(data) == 0 || data[len(data)-1] != ReadTerminator {
			f.rx = append(f.rx, ReadTerminator)
		}
	}
}

func newTestAgipibi(t *testing.T) (*AgipibiLink, *fakeFirmware) {
	t.Helper()
	bus := NewSimLink(LinkInfo{}, NewInstrument(10, "FLUKE,8842A,0,V1"))
	fw := newFakeFirmware(bus)
	transport, err := NewSerialTransport(fw, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSerialTransport failed: %v", err)
	}
	return NewAgipibiLink(transport), fw
}

func TestAgipibiPing(t *testing.T) {
	link, fw := newTestAgipibi(t)

	if !link.Ping() {
		t.Fatal("Ping() = false with live firmware")
	}

	fw.bus.Alive = false
	if link.Ping() {
		t.Fatal("Ping() = true with firmware that does not answer")
	}
	// A missed ping must not desynchronise later commands.
	fw.bus.Alive = true
	if !link.Ping() {
		t.Fatal("Ping() = false after recovery")
	}
}

func TestAgipibiInfo(t *testing.T) {
	link, _ := newTestAgipibi(t)

	info, err := link.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Firmware != "agipibi-fw 0.3" {
		t.Fatalf("Firmware = %q", info.Firmware)
	}
}

func TestAgipibiTransaction(t *testing.T) {
	link, fw := newTestAgipibi(t)

	steps := []func() error{
		func() error { return link.Configure(0, true) },
		func() error { return link.SetNRFD(true) },
		func() error { return link.AssertIFC(time.Millisecond) },
		func() error { return link.SetREN(true) },
		func() error { return link.SendDCL() },
		func() error { return link.Untalk() },
		func() error { return link.Unlisten() },
		func() error { return link.SetTalker(0) },
		func() error { return link.SetListener(10) },
		func() error { return link.Write([]byte("ID?")) },
		func() error { return link.Untalk() },
		func() error { return link.Unlisten() },
		func() error { return link.SetTalker(10) },
		func() error { return link.SetListener(0) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	data, err := link.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "FLUKE,8842A,0,V1\r" {
		t.Fatalf("Read = %q", data)
	}
	if got := fw.bus.Instrument().Received(); len(got) != 1 || got[0] != "ID?" {
		t.Fatalf("instrument received %v", got)
	}
}

func TestAgipibiReadSentinel(t *testing.T) {
	link, fw := newTestAgipibi(t)
	fw.bus.OnRead = func(Address) ([]byte, error) { return []byte{Sentinel}, nil }

	for _, step := range []func() error{
		func() error { return link.Configure(0, true) },
		func() error { return link.SetTalker(10) },
		func() error { return link.SetListener(0) },
	} {
		if err := step(); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
	}

	data, err := link.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !IsNoData(data) {
		t.Fatalf("Read = % X, want sentinel", data)
	}
}

func TestAgipibiReadTimeout(t *testing.T) {
	link, _ := newTestAgipibi(t)

	if err := link.Configure(0, true); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := link.SetListener(0); err != nil {
		t.Fatalf("SetListener failed: %v", err)
	}
	// No talker addressed: nobody drives the bus.
	_, err := link.Read()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Read error = %v, want ErrTimeout", err)
	}
}

func TestAgipibiNegativeAck(t *testing.T) {
	link, fw := newTestAgipibi(t)
	fw.bus.Fail = map[string]error{"sdc": fmt.Errorf("no listener")}

	if err := link.Configure(0, true); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := link.SendSDC(); err == nil {
		t.Fatal("SendSDC succeeded despite NAK")
	}
	// The next command still lines up with its reply.
	if err := link.SendDCL(); err != nil {
		t.Fatalf("SendDCL after NAK failed: %v", err)
	}
}

func TestAgipibiResyncsAfterStrayBytes(t *testing.T) {
	tests := []struct {
		name  string
		first func(*AgipibiLink) bool // true when the call succeeded
	}{
		{"command", func(l *AgipibiLink) bool { return l.Untalk() == nil }},
		{"ping", func(l *AgipibiLink) bool { return l.Ping() }},
		{"info", func(l *AgipibiLink) bool { _, err := l.Info(); return err == nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, fw := newTestAgipibi(t)
			if err := link.Configure(0, true); err != nil {
				t.Fatalf("Configure failed: %v", err)
			}

			fw.rx = append(fw.rx, 0x42) // noise ahead of the next reply
			if tt.first(link) {
				t.Fatal("call succeeded on a misaligned reply")
			}

			if !tt.first(link) {
				t.Fatal("same call failed after the stray byte was dropped")
			}
			if !link.Ping() {
				t.Fatal("Ping() = false after resync")
			}
			if err := link.Unlisten(); err != nil {
				t.Fatalf("Unlisten after resync failed: %v", err)
			}
		})
	}
}

func TestAgipibiRecoversFromSplitReply(t *testing.T) {
	link, fw := newTestAgipibi(t)
	// An embedded terminator ends the read early and leaves "B\n" queued.
	fw.bus.OnRead = func(Address) ([]byte, error) { return []byte("A\nB"), nil }

	for _, step := range []func() error{
		func() error { return link.Configure(0, true) },
		func() error { return link.SetTalker(10) },
		func() error { return link.SetListener(0) },
	} {
		if err := step(); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
	}

	data, err := link.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "A" {
		t.Fatalf("Read = %q, want %q", data, "A")
	}

	// The leftover costs at most the next command.
	_ = link.Untalk()
	for i := 0; i < 3; i++ {
		if err := link.Untalk(); err != nil {
			t.Fatalf("Untalk #%d after split reply failed: %v", i, err)
		}
	}
	if !link.Ping() {
		t.Fatal("Ping() = false after split reply")
	}
	if err := link.Unlisten(); err != nil {
		t.Fatalf("Unlisten after split reply failed: %v", err)
	}
}

func TestAgipibiLongWriteIsChunked(t *testing.T) {
	link, fw := newTestAgipibi(t)

	for _, step := range []func() error{
		func() error { return link.Configure(0, true) },
		func() error { return link.SetTalker(0) },
		func() error { return link.SetListener(10) },
	} {
		if err := step(); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
	}
	fw.frames = nil

	payload := bytes.Repeat([]byte("A"), 600)
	if err := link.Write(payload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(fw.frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(fw.frames))
	}
}

func TestAgipibiRejectsBadAddress(t *testing.T) {
	link, fw := newTestAgipibi(t)

	if err := link.SetTalker(31); err == nil {
		t.Fatal("SetTalker(31) succeeded")
	}
	if len(fw.frames) != 0 {
		t.Fatalf("frames sent for invalid address: %v", fw.frames)
	}
}

func TestAgipibiSilentBridge(t *testing.T) {
	link, fw := newTestAgipibi(t)
	fw.silent = true

	if err := link.Untalk(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Untalk error = %v, want ErrTimeout", err)
	}
}

func TestAgipibiClose(t *testing.T) {
	link, fw := newTestAgipibi(t)

	if err := link.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !fw.closed {
		t.Fatal("port not closed")
	}
}

func TestSerialTransportReadUntilKeepsRemainder(t *testing.T) {
	fw := &fakeFirmware{chunk: 4}
	transport, err := NewSerialTransport(fw, time.Millisecond)
	if err != nil {
		t.Fatalf("NewSerialTransport failed: %v", err)
	}
	fw.rx = []byte("one\ntwo\n")

	first, err := transport.ReadUntil('\n')
	if err != nil || string(first) != "one" {
		t.Fatalf("first frame = %q, %v", first, err)
	}
	second, err := transport.ReadUntil('\n')
	if err != nil || string(second) != "two" {
		t.Fatalf("second frame = %q, %v", second, err)
	}
	if _, err := transport.ReadUntil('\n'); !errors.Is(err, ErrTimeout) {
		t.Fatalf("third read error = %v, want ErrTimeout", err)
	}
}
