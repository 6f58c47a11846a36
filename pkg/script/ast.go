package script

import (
	"fmt"
	"strconv"

	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/gpib"
	"github.com/alecthomas/participle/v2/lexer"
)

// Script is a sequence of bus statements
type Script struct {
	Statements []*Statement `@@*`
}

// Statement is one bus operation
type Statement struct {
	Pos lexer.Position

	Ping   bool    `  @"ping"`
	Init   *Init   `| @@`
	Remote *Remote `| @@`
	Clear  *Clear  `| @@`
	Write  *Write  `| @@`
	Read   *Read   `| @@`
	Query  *Query  `| @@`
	Sleep  *Sleep  `| @@`
	State  bool    `| @"state"`
}

// Init claims the bus
// Example: init controller
type Init struct {
	Mode string `"init" @( "controller" | "device" )?`
}

// AsController reports whether the statement initialises as CIC (the default).
func (i *Init) AsController() bool {
	return i.Mode != "device"
}

// Remote toggles REN
// Example: remote on
type Remote struct {
	Mode string `"remote" @( "on" | "off" )`
}

// Enable reports whether REN should be asserted.
func (r *Remote) Enable() bool {
	return r.Mode == "on"
}

// Clear sends DCL (bus, the default) or SDC (device). A device clear goes to
// the target unless an address follows.
// Example: clear device 0x16
type Clear struct {
	Scope string   `"clear" @( "bus" | "device" )?`
	Addr  *Address `@@?`
}

// BusWide reports whether every device is cleared.
func (c *Clear) BusWide() bool {
	return c.Scope != "device"
}

// Write sends text to a device without reading back
// Example: write 0x0a "RUN"
type Write struct {
	Addr *Address `"write" @@?`
	Text string   `@String`
}

// Read completes a transaction opened by Write
type Read struct {
	Addr *Address `"read" @@?`
}

// Query writes text and reads the reply
// Example: query "ID?"
type Query struct {
	Addr *Address `"query" @@?`
	Text string   `@String`
}

// Sleep pauses the script
// Example: sleep 250ms
type Sleep struct {
	Duration string `"sleep" @Duration`
}

// Address is a decimal or 0x-prefixed primary address
type Address struct {
	Value string `@( Hex | Int )`
}

// Resolve converts the literal, falling back to def when a is nil.
func (a *Address) Resolve(def gpib.Address) (gpib.Address, error) {
	if a == nil {
		return def, nil
	}
	var (
		v   uint64
		err error
	)
	// Leading zeros are decimal; only the 0x prefix selects hex.
	if digits, ok := cutHexPrefix(a.Value); ok {
		v, err = strconv.ParseUint(digits, 16, 8)
	} else {
		v, err = strconv.ParseUint(a.Value, 10, 8)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", a.Value)
	}
	addr := gpib.Address(v)
	if err := addr.Validate(); err != nil {
		return 0, err
	}
	return addr, nil
}

func cutHexPrefix(s string) (string, bool) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:], true
	}
	return s, false
}
