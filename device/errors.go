package device

import "errors"

var (
	// ErrFirmwareMismatch means something answered the probe with the wrong token
	ErrFirmwareMismatch = errors.New("device present but running incompatible firmware")
	// ErrHandshakeTimeout means no answer arrived within the configured attempts
	ErrHandshakeTimeout = errors.New("no handshake response from device")
	// ErrMalformedResponse means a response line could not be decoded
	ErrMalformedResponse = errors.New("malformed response from device")
	// ErrNotConnected is returned by pin operations before a successful Connect
	ErrNotConnected = errors.New("device not connected")
	// ErrInvalidPin is returned for negative pin numbers
	ErrInvalidPin = errors.New("invalid pin number")
	// ErrInvalidPinMode is returned by ParsePinMode
	ErrInvalidPinMode = errors.New("invalid pin mode")
)
