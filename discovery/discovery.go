// Package discovery finds the serial port a device is attached to.
//
// Port naming differs per platform, so the policy is a Locator value chosen
// by the embedding application and handed to the device layer.
package discovery

import (
	"errors"
	"fmt"
	"strings"

	"pinlink/serial"
)

var (
	// ErrNoPort is returned when no listed port matches the locator's policy
	ErrNoPort = errors.New("no candidate serial port found")
	// ErrUnsupportedOS is returned by ForOS for platforms without a policy
	ErrUnsupportedOS = errors.New("no port discovery policy for operating system")
)

// Locator lists serial ports and picks the likely device among them
type Locator interface {
	ListPorts() ([]string, error)
	GuessPort(names []string) (string, bool)
}

// PrefixLocator guesses the first port whose name starts with one of
// Prefixes, in list order
type PrefixLocator struct {
	Prefixes []string
	List     func() ([]string, error)
}

// ListPorts returns the ports reported by List
func (l *PrefixLocator) ListPorts() ([]string, error) {
	return l.List()
}

// GuessPort returns the first name carrying one of the prefixes
func (l *PrefixLocator) GuessPort(names []string) (string, bool) {
	for _, name := range names {
		for _, prefix := range l.Prefixes {
			if strings.HasPrefix(name, prefix) {
				return name, true
			}
		}
	}
	return "", false
}

// ProbeLocator guesses the first port that can be opened and closed again
type ProbeLocator struct {
	List  func() ([]string, error)
	Probe func(name string) error
}

// ListPorts returns the ports reported by List
func (l *ProbeLocator) ListPorts() ([]string, error) {
	return l.List()
}

// GuessPort returns the first name whose probe succeeds
func (l *ProbeLocator) GuessPort(names []string) (string, bool) {
	for _, name := range names {
		if err := l.Probe(name); err == nil {
			return name, true
		}
	}
	return "", false
}

// Linux matches USB serial adapters and CDC/ACM boards
func Linux() *PrefixLocator {
	return &PrefixLocator{
		Prefixes: []string{"/dev/ttyUSB", "/dev/ttyACM"},
		List:     listCharDevices,
	}
}

// Darwin matches FTDI-style usbserial and native usbmodem ports
func Darwin() *PrefixLocator {
	return &PrefixLocator{
		Prefixes: []string{"/dev/tty.usbserial", "/dev/tty.usbmodem", "/dev/cu.usbserial", "/dev/cu.usbmodem"},
		List:     serial.ListPorts,
	}
}

// Windows has no naming convention for USB ports, so each COM port is
// opened and closed until one works
func Windows() *ProbeLocator {
	return &ProbeLocator{
		List:  serial.ListPorts,
		Probe: probe,
	}
}

// ForOS returns the locator for a GOOS value
func ForOS(goos string) (Locator, error) {
	switch goos {
	case "linux":
		return Linux(), nil
	case "darwin":
		return Darwin(), nil
	case "windows":
		return Windows(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, goos)
	}
}

// Guess lists the ports and returns the locator's pick
func Guess(l Locator) (string, error) {
	names, err := l.ListPorts()
	if err != nil {
		return "", err
	}
	name, ok := l.GuessPort(names)
	if !ok {
		return "", fmt.Errorf("%w among %d port(s)", ErrNoPort, len(names))
	}
	return name, nil
}

func probe(name string) error {
	port, err := serial.OpenPort(name, serial.DefaultPortConfig())
	if err != nil {
		return err
	}
	return port.Close()
}

func listCharDevices() ([]string, error) {
	names, err := serial.ListPorts()
	if err != nil {
		return nil, err
	}
	devices := make([]string, 0, len(names))
	for _, name := range names {
		if isCharDevice(name) {
			devices = append(devices, name)
		}
	}
	return devices, nil
}
