package serial

import (
	"errors"
	"fmt"
)

// Link and usage errors. Every one of them is fatal to the operation that
// returned it; callers match them with errors.Is.
var (
	ErrPortNotFound      = errors.New("no such serial port")
	ErrPortInUse         = errors.New("serial port is currently in use")
	ErrUnsupportedConfig = errors.New("unsupported serial port settings")
	ErrStreamUnavailable = errors.New("serial port stream unavailable")
	ErrTooManyListeners  = errors.New("data listener already registered")
	ErrPortNotOpen       = errors.New("serial port is not open")
	ErrPortOpen          = errors.New("serial port is open")
	ErrInterrupted       = errors.New("interrupted while waiting for data")
)

// PortError ties a failure to the operation and the port it happened on
type PortError struct {
	Op   string
	Port string
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// wrapPortError returns err unchanged when it already names a port
func wrapPortError(op, port string, err error) error {
	var pe *PortError
	if errors.As(err, &pe) {
		return err
	}
	return &PortError{Op: op, Port: port, Err: err}
}
