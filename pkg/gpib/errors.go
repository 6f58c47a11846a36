package gpib

import (
	"errors"
	"fmt"
)

var (
	// ErrLink marks transport failures: missing device, rejected command,
	// broken serial link.
	ErrLink = errors.New("gpib: link error")

	// ErrTimeout is returned when no terminator arrives within the read window.
	ErrTimeout = errors.New("gpib: read timeout")

	// ErrMisuse marks a caller contract violation, such as reading without a
	// preceding write.
	ErrMisuse = errors.New("gpib: protocol misuse")
)

// LinkError wraps a transport failure together with the bus primitive that
// triggered it.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("gpib: %s: link error: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrLink) match any LinkError.
func (e *LinkError) Is(target error) bool { return target == ErrLink }

// MisuseError reports an operation the controller refused to perform.
type MisuseError struct {
	Op     string
	Reason string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("gpib: %s: %s", e.Op, e.Reason)
}

func (e *MisuseError) Is(target error) bool { return target == ErrMisuse }

// Misuse builds a MisuseError with a formatted reason.
func Misuse(op, format string, args ...any) error {
	return &MisuseError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// WrapLink converts an error returned by a Link into the controller's error
// taxonomy. Timeouts keep their identity so callers can tell them apart from
// hard transport failures.
func WrapLink(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("gpib: %s: %w", op, err)
	}
	var le *LinkError
	if errors.As(err, &le) {
		return err
	}
	return &LinkError{Op: op, Err: err}
}
