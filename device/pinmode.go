package device

import (
	"fmt"
	"strings"
)

// PinMode is the direction a digital pin is configured for
type PinMode byte

const (
	Input  PinMode = 'I'
	Output PinMode = 'O'
)

// String returns the wire character
func (m PinMode) String() string {
	return string(rune(m))
}

// ParsePinMode accepts i, o, input or output in any case
func ParsePinMode(s string) (PinMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "i", "in", "input":
		return Input, nil
	case "o", "out", "output":
		return Output, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPinMode, s)
	}
}

func (m PinMode) valid() bool {
	return m == Input || m == Output
}
