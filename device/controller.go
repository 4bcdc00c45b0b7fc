// Package device speaks the pin I/O protocol to a microcontroller over a
// serial.Transport: it runs the probe/ack handshake, encodes pin commands
// and decodes their responses.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"pinlink/discovery"
	"pinlink/serial"
)

// Link is the line transport a Controller drives. *serial.Transport
// implements it.
type Link interface {
	Name() string
	Open() error
	Close() error
	WriteLine(s string) error
	ReadLineContext(ctx context.Context) (string, error)
	Available() int
	Discard() int
	Stats() serial.StatsSnapshot
	Err() error
	Done() <-chan struct{}
}

// State represents the controller's connection state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// Handshake holds the probe/ack exchange parameters
type Handshake struct {
	Attempts int
	Interval time.Duration
	Probe    string
	Ack      string
}

// DefaultHandshake returns the firmware's stock handshake: probe "99",
// ack "11", 20 attempts 250ms apart.
//
// Every attempt waits one Interval before looking for an answer, so a silent
// device fails Connect after Attempts*Interval (5s by default), not twice
// that.
func DefaultHandshake() Handshake {
	return Handshake{
		Attempts: 20,
		Interval: 250 * time.Millisecond,
		Probe:    "99",
		Ack:      "11",
	}
}

type options struct {
	handshake     Handshake
	logger        *slog.Logger
	transportOpts []serial.TransportOption
}

// Option configures a Controller
type Option func(*options)

// WithHandshake overrides the handshake parameters. Zero fields keep their
// defaults.
func WithHandshake(h Handshake) Option {
	return func(o *options) {
		def := DefaultHandshake()
		if h.Attempts <= 0 {
			h.Attempts = def.Attempts
		}
		if h.Interval <= 0 {
			h.Interval = def.Interval
		}
		if h.Probe == "" {
			h.Probe = def.Probe
		}
		if h.Ack == "" {
			h.Ack = def.Ack
		}
		o.handshake = h
	}
}

// WithLogger sets the controller logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTransportOptions passes options through to the serial.Transport built
// by NewForPort and Discover
func WithTransportOptions(opts ...serial.TransportOption) Option {
	return func(o *options) {
		o.transportOpts = append(o.transportOpts, opts...)
	}
}

func buildOptions(opts []Option) options {
	o := options{
		handshake: DefaultHandshake(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Controller drives one device over one Link. Command exchanges are
// serialised, so a Controller may be shared between goroutines.
type Controller struct {
	link      Link
	handshake Handshake
	base      *slog.Logger

	// mu serialises Connect, Disconnect and every command exchange
	mu     sync.Mutex
	logger *slog.Logger

	connected   atomic.Bool
	state       atomic.String
	session     atomic.String
	connectedAt atomic.Time
	lastErr     atomic.Error

	// emu guards ended, which is closed when the current session ends
	emu   sync.Mutex
	ended chan struct{}
}

// New creates a disconnected controller over link
func New(link Link, opts ...Option) *Controller {
	o := buildOptions(opts)
	c := &Controller{
		link:      link,
		handshake: o.handshake,
		base:      o.logger.With("port", link.Name()),
	}
	c.logger = c.base
	c.state.Store(string(StateDisconnected))
	c.ended = make(chan struct{})
	close(c.ended)
	return c
}

// NewForPort creates a controller over a new serial.Transport for the named
// port
func NewForPort(name string, opts ...Option) *Controller {
	o := buildOptions(opts)
	topts := append([]serial.TransportOption{serial.WithLogger(o.logger)}, o.transportOpts...)
	return New(serial.NewTransport(name, topts...), opts...)
}

// Discover guesses the device port through locator and creates a
// controller for it
func Discover(locator discovery.Locator, opts ...Option) (*Controller, error) {
	name, err := discovery.Guess(locator)
	if err != nil {
		return nil, fmt.Errorf("failed to discover device port: %w", err)
	}
	return NewForPort(name, opts...), nil
}

// Port returns the name of the underlying port
func (c *Controller) Port() string {
	return c.link.Name()
}

// Handshake returns the handshake parameters in use
func (c *Controller) Handshake() Handshake {
	return c.handshake
}

// IsConnected reports whether the last Connect succeeded and the session
// has neither been disconnected nor lost to a link fault since
func (c *Controller) IsConnected() bool {
	return c.connected.Load() && c.link.Err() == nil
}

// State returns the current connection state
func (c *Controller) State() State {
	s := State(c.state.Load())
	if s == StateConnected && c.link.Err() != nil {
		return StateFailed
	}
	return s
}

// Done returns a channel that is closed when the current session ends,
// through Disconnect or a failure
func (c *Controller) Done() <-chan struct{} {
	c.emu.Lock()
	defer c.emu.Unlock()
	return c.ended
}

// Err returns the failure that ended the last session, or nil if it is
// still running or was ended by Disconnect
func (c *Controller) Err() error {
	return c.lastErr.Load()
}

// Session returns the id assigned by the last successful handshake
func (c *Controller) Session() string {
	return c.session.Load()
}

// Uptime returns how long the controller has been connected
func (c *Controller) Uptime() time.Duration {
	if !c.IsConnected() {
		return 0
	}
	return time.Since(c.connectedAt.Load())
}

// Stats returns the link counters
func (c *Controller) Stats() serial.StatsSnapshot {
	return c.link.Stats()
}

// setState is called with mu held
func (c *Controller) setState(s State) {
	old := State(c.state.Load())
	c.state.Store(string(s))
	if old != s {
		c.logger.Debug("Controller state changed", "from", old, "to", s)
	}
}

// Connect opens the link and runs the handshake. It returns nil straight
// away if the controller is already connected. On failure the link is
// closed again and Connect may be retried. A session lost to a link fault
// is ended and a new one started.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		err := c.link.Err()
		if err == nil {
			return nil
		}
		c.abandon(err)
	}

	c.logger = c.base
	c.setState(StateConnecting)

	if err := c.link.Open(); err != nil {
		c.setState(StateFailed)
		return err
	}

	if err := c.runHandshake(ctx); err != nil {
		if cerr := c.link.Close(); cerr != nil {
			c.logger.Warn("Failed to close link after handshake failure", "error", cerr)
		}
		c.setState(StateFailed)
		c.logger.Error("Handshake failed", "error", err)
		return err
	}

	session := uuid.NewString()
	ended := make(chan struct{})
	c.emu.Lock()
	c.ended = ended
	c.emu.Unlock()

	c.lastErr.Store(nil)
	c.session.Store(session)
	c.connectedAt.Store(time.Now())
	c.connected.Store(true)
	c.logger = c.base.With("session", session)
	c.setState(StateConnected)
	c.logger.Info("Device connected")

	go c.watch(c.link.Done(), ended)
	return nil
}

// watch ends the session when the link records a fault
func (c *Controller) watch(fault <-chan struct{}, ended chan struct{}) {
	select {
	case <-fault:
	case <-ended:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Done() == ended && c.connected.Load() {
		c.abandon(c.link.Err())
	}
}

// endSession closes the session's Done channel. Caller holds mu.
func (c *Controller) endSession() {
	c.emu.Lock()
	defer c.emu.Unlock()
	select {
	case <-c.ended:
	default:
		close(c.ended)
	}
}

// abandon ends a session whose exchange failed part way. The device may
// still send the lost response, so the link is closed and only a new
// handshake puts commands and responses back in step. Caller holds mu.
func (c *Controller) abandon(err error) {
	c.connected.Store(false)
	c.lastErr.Store(err)
	if cerr := c.link.Close(); cerr != nil {
		c.logger.Warn("Failed to close link", "error", cerr)
	}
	c.setState(StateFailed)
	c.logger.Error("Session lost", "error", err)
	c.logger = c.base
	c.endSession()
}

func (c *Controller) runHandshake(ctx context.Context) error {
	h := c.handshake
	for attempt := 1; attempt <= h.Attempts; attempt++ {
		if err := c.link.WriteLine(h.Probe); err != nil {
			return err
		}
		if err := sleep(ctx, h.Interval); err != nil {
			return c.opError("connect", fmt.Errorf("%w: %w", serial.ErrInterrupted, err))
		}

		if c.link.Available() == 0 {
			c.logger.Debug("No handshake response", "attempt", attempt, "attempts", h.Attempts)
			continue
		}

		line, err := c.readAnswer(ctx, h.Interval)
		if err != nil {
			return err
		}
		if line != h.Ack {
			return c.opError("connect", fmt.Errorf("%w: expected %q, got %q", ErrFirmwareMismatch, h.Ack, line))
		}

		if err := sleep(ctx, h.Interval); err != nil {
			return c.opError("connect", fmt.Errorf("%w: %w", serial.ErrInterrupted, err))
		}
		if n := c.link.Discard(); n > 0 {
			c.logger.Debug("Discarded bytes after handshake", "bytes", n)
		}
		c.logger.Debug("Handshake acknowledged", "attempt", attempt)
		return nil
	}
	return c.opError("connect", fmt.Errorf("%w after %d attempts", ErrHandshakeTimeout, h.Attempts))
}

// readAnswer reads the handshake reply. Bytes are already buffered, so a
// line that does not complete within one interval is treated as a foreign
// protocol rather than waited on forever.
func (c *Controller) readAnswer(ctx context.Context, limit time.Duration) (string, error) {
	lineCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	line, err := c.link.ReadLineContext(lineCtx)
	if err == nil {
		return line, nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return "", c.opError("connect", fmt.Errorf("%w: unterminated response", ErrFirmwareMismatch))
	}
	return "", err
}

// Disconnect closes the link. The controller can be connected again later.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	uptime := c.Uptime()
	err := c.link.Close()
	c.connected.Store(false)
	c.setState(StateDisconnected)
	c.logger.Info("Device disconnected", "uptime", uptime.Round(time.Millisecond))
	c.logger = c.base
	c.endSession()
	return err
}

// DigitalRead returns the level of a digital pin
func (c *Controller) DigitalRead(pin int) (bool, error) {
	return c.DigitalReadContext(context.Background(), pin)
}

// DigitalReadContext is DigitalRead with the response wait bounded by ctx
func (c *Controller) DigitalReadContext(ctx context.Context, pin int) (bool, error) {
	line, err := c.query(ctx, "digital read", pin, fmt.Sprintf("dr%d", pin))
	if err != nil {
		return false, err
	}
	if line == "" {
		return false, c.opError("digital read", fmt.Errorf("%w: empty line", ErrMalformedResponse))
	}
	return line[0] != '0', nil
}

// DigitalWrite drives a digital pin high or low
func (c *Controller) DigitalWrite(pin int, value bool) error {
	v := 0
	if value {
		v = 1
	}
	return c.command("digital write", pin, fmt.Sprintf("dw%d,%d", pin, v))
}

// AnalogRead returns the raw converter reading of an analog pin
func (c *Controller) AnalogRead(pin int) (int, error) {
	return c.AnalogReadContext(context.Background(), pin)
}

// AnalogReadContext is AnalogRead with the response wait bounded by ctx
func (c *Controller) AnalogReadContext(ctx context.Context, pin int) (int, error) {
	line, err := c.query(ctx, "analog read", pin, fmt.Sprintf("ar%d", pin))
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(line)
	if err != nil {
		return 0, c.opError("analog read", fmt.Errorf("%w: %q is not a number", ErrMalformedResponse, line))
	}
	return v, nil
}

// AnalogWrite sets the PWM duty of a pin
func (c *Controller) AnalogWrite(pin, value int) error {
	return c.command("analog write", pin, fmt.Sprintf("aw%d,%d", pin, value))
}

// SetPinMode configures a pin as input or output
func (c *Controller) SetPinMode(pin int, mode PinMode) error {
	if !mode.valid() {
		return c.opError("pin mode", fmt.Errorf("%w: %q", ErrInvalidPinMode, mode.String()))
	}
	return c.command("pin mode", pin, fmt.Sprintf("pm%d,%s", pin, mode))
}

func (c *Controller) command(op string, pin int, cmd string) error {
	if pin < 0 {
		return c.opError(op, fmt.Errorf("%w: %d", ErrInvalidPin, pin))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		return c.opError(op, ErrNotConnected)
	}
	if err := c.link.WriteLine(cmd); err != nil {
		c.abandon(err)
		return err
	}
	c.logger.Debug("Command sent", "command", cmd)
	return nil
}

func (c *Controller) query(ctx context.Context, op string, pin int, cmd string) (string, error) {
	if pin < 0 {
		return "", c.opError(op, fmt.Errorf("%w: %d", ErrInvalidPin, pin))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		return "", c.opError(op, ErrNotConnected)
	}
	if err := c.link.WriteLine(cmd); err != nil {
		c.abandon(err)
		return "", err
	}
	line, err := c.link.ReadLineContext(ctx)
	if err != nil {
		c.abandon(err)
		return "", err
	}
	c.logger.Debug("Command answered", "command", cmd, "response", line)
	return line, nil
}

func (c *Controller) opError(op string, err error) error {
	return &serial.PortError{Op: op, Port: c.link.Name(), Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
