package serial

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	bugst "go.bug.st/serial"
)

// PortConfig contains serial line settings. Device identity lives on the
// transport, not here.
type PortConfig struct {
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      string // "none", "odd", "even", "mark", "space"
	FlowControl string // "none", "rtscts", "xonxoff"
}

// DefaultPortConfig returns 115200 8N1 without flow control
func DefaultPortConfig() PortConfig {
	return PortConfig{
		BaudRate:    115200,
		DataBits:    8,
		StopBits:    1,
		Parity:      "none",
		FlowControl: "none",
	}
}

// Validate checks that the settings can be expressed at all
func (c PortConfig) Validate() error {
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrUnsupportedConfig, c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("%w: data bits %d", ErrUnsupportedConfig, c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("%w: stop bits %d", ErrUnsupportedConfig, c.StopBits)
	}
	switch strings.ToLower(c.Parity) {
	case "", "none", "odd", "even", "mark", "space":
	default:
		return fmt.Errorf("%w: parity %q", ErrUnsupportedConfig, c.Parity)
	}
	switch strings.ToLower(c.FlowControl) {
	case "", "none", "rtscts", "xonxoff":
	default:
		return fmt.Errorf("%w: flow control %q", ErrUnsupportedConfig, c.FlowControl)
	}
	return nil
}

// Port is the physical link a Transport drives
type Port interface {
	io.ReadWriteCloser

	// Drain waits until all output has been transmitted
	Drain() error
}

// Opener opens the physical port behind a transport
type Opener func(device string, cfg PortConfig) (Port, error)

// RealPort implements Port using go.bug.st/serial
type RealPort struct {
	port   bugst.Port
	device string
}

// OpenPort opens device with cfg. Failures are classified into the
// package's link errors.
func OpenPort(device string, cfg PortConfig) (Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fc := strings.ToLower(cfg.FlowControl); fc != "" && fc != "none" {
		return nil, fmt.Errorf("%w: flow control %q not available on this driver", ErrUnsupportedConfig, cfg.FlowControl)
	}

	mode := &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: convertStopBits(cfg.StopBits),
		Parity:   convertParity(cfg.Parity),
	}

	port, err := bugst.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", classifyOpenError(err), err)
	}

	return &RealPort{port: port, device: device}, nil
}

// Read blocks until at least one byte arrives or the port is closed
func (p *RealPort) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// Write writes data to the serial port
func (p *RealPort) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Drain waits until all output has been transmitted
func (p *RealPort) Drain() error {
	return p.port.Drain()
}

// Close closes the serial port and unblocks a pending Read
func (p *RealPort) Close() error {
	return p.port.Close()
}

// Device returns the device path
func (p *RealPort) Device() string {
	return p.device
}

// ListPorts returns the names of the serial ports present on the system
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

func classifyOpenError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrPortNotFound
	}

	var code bugst.PortErrorCode
	var portErr *bugst.PortError
	var portErrValue bugst.PortError
	switch {
	case errors.As(err, &portErr):
		code = portErr.Code()
	case errors.As(err, &portErrValue):
		code = portErrValue.Code()
	default:
		return ErrStreamUnavailable
	}

	switch code {
	case bugst.PortNotFound:
		return ErrPortNotFound
	case bugst.PortBusy:
		return ErrPortInUse
	case bugst.InvalidSpeed, bugst.InvalidDataBits, bugst.InvalidParity,
		bugst.InvalidStopBits, bugst.InvalidSerialPort:
		return ErrUnsupportedConfig
	default:
		return ErrStreamUnavailable
	}
}

func convertStopBits(bits int) bugst.StopBits {
	switch bits {
	case 2:
		return bugst.TwoStopBits
	default:
		return bugst.OneStopBit
	}
}

func convertParity(parity string) bugst.Parity {
	switch strings.ToLower(parity) {
	case "odd":
		return bugst.OddParity
	case "even":
		return bugst.EvenParity
	case "mark":
		return bugst.MarkParity
	case "space":
		return bugst.SpaceParity
	default:
		return bugst.NoParity
	}
}
