package serial

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"pinlink/ringbuf"
)

// readChunk is how many bytes the listener pulls from the port per read
const readChunk = 256

// Transport owns the open/closed lifecycle of one serial port. A listener
// goroutine feeds received bytes into a ring buffer; ReadChar and ReadLine
// block on that buffer until data arrives.
//
// Transport is safe for concurrent use.
type Transport struct {
	name    string
	opener  Opener
	logger  *slog.Logger
	bufSize int

	// mu guards everything below plus the ring buffer
	mu       sync.Mutex
	cfg      PortConfig
	buf      *ringbuf.Buffer
	wait     chan struct{}
	port     Port
	fault    error
	faulted  chan struct{}
	listener chan struct{}

	// wmu serialises outbound writes without holding mu
	wmu sync.Mutex

	stats Stats
}

// TransportOption configures a Transport
type TransportOption func(*Transport)

// WithOpener replaces the physical port opener (default OpenPort)
func WithOpener(open Opener) TransportOption {
	return func(t *Transport) {
		t.opener = open
	}
}

// WithLogger sets the logger; the port name is attached to every record
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithBufferSize sets the receive buffer capacity
func WithBufferSize(size int) TransportOption {
	return func(t *Transport) {
		t.bufSize = size
	}
}

// WithConfig sets the initial line settings
func WithConfig(cfg PortConfig) TransportOption {
	return func(t *Transport) {
		t.cfg = cfg
	}
}

// NewTransport creates a closed transport bound to the named port
func NewTransport(name string, opts ...TransportOption) *Transport {
	t := &Transport{
		name:    name,
		opener:  OpenPort,
		logger:  slog.Default(),
		bufSize: ringbuf.DefaultSize,
		cfg:     DefaultPortConfig(),
		wait:    make(chan struct{}),
		faulted: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("port", name)
	t.buf = ringbuf.New(t.bufSize)
	return t
}

// Name returns the port name the transport was created with
func (t *Transport) Name() string {
	return t.name
}

// Config returns the line settings applied on the next Open
func (t *Transport) Config() PortConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// SetConfig replaces the line settings. Only allowed while closed.
func (t *Transport) SetConfig(cfg PortConfig) error {
	if err := cfg.Validate(); err != nil {
		return &PortError{Op: "configure", Port: t.name, Err: err}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return &PortError{Op: "configure", Port: t.name, Err: ErrPortOpen}
	}
	t.cfg = cfg
	return nil
}

// IsOpen reports whether the transport currently holds a port
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Open opens the port with the stored settings and starts receiving
func (t *Transport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return &PortError{Op: "open", Port: t.name, Err: ErrTooManyListeners}
	}
	if err := t.cfg.Validate(); err != nil {
		return &PortError{Op: "open", Port: t.name, Err: err}
	}

	port, err := t.opener(t.name, t.cfg)
	if err != nil {
		t.logger.Debug("Open failed", "error", err)
		return wrapPortError("open", t.name, err)
	}

	t.buf.Reset()
	t.fault = nil
	t.faulted = make(chan struct{})
	t.port = port
	t.listener = make(chan struct{})
	go t.listen(port, t.listener)

	t.stats.opened()
	t.logger.Info("Serial port opened",
		"baud_rate", t.cfg.BaudRate,
		"data_bits", t.cfg.DataBits,
		"stop_bits", t.cfg.StopBits,
		"parity", t.cfg.Parity,
	)
	return nil
}

// Close releases the port and wakes any blocked reader. Closing a closed
// transport is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	port := t.port
	listener := t.listener
	if port == nil {
		t.mu.Unlock()
		return nil
	}
	t.port = nil
	t.listener = nil
	t.signal()
	t.mu.Unlock()

	err := port.Close()
	<-listener

	t.logger.Info("Serial port closed")
	if err != nil {
		return &PortError{Op: "close", Port: t.name, Err: err}
	}
	return nil
}

// listen is the data-arrival side: it hands every batch read from port to
// receive until the port fails or is closed.
func (t *Transport) listen(port Port, done chan struct{}) {
	defer close(done)

	chunk := make([]byte, readChunk)
	for {
		n, err := port.Read(chunk)
		if n > 0 && !t.receive(port, chunk[:n]) {
			return
		}
		if err != nil {
			t.linkFailed(port, err)
			return
		}
	}
}

// receive stores one batch and wakes readers once. It never waits on
// anything but mu; an overflow is recorded as a fatal fault.
func (t *Transport) receive(port Port, p []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != port {
		return false
	}

	n, err := t.buf.Write(p)
	t.stats.bytesReceived.Add(int64(n))
	if err != nil {
		t.stats.overflows.Inc()
		t.setFault(&PortError{Op: "receive", Port: t.name, Err: err})
		t.logger.Error("Receive buffer overflow",
			"capacity", t.buf.Cap(),
			"dropped", len(p)-n,
		)
	}
	t.signal()
	return err == nil
}

func (t *Transport) linkFailed(port Port, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Read errors after Close are expected
	if t.port != port {
		return
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	t.setFault(&PortError{Op: "receive", Port: t.name, Err: fmt.Errorf("%w: %w", ErrStreamUnavailable, err)})
	t.logger.Error("Serial link failed", "error", err)
	t.signal()
}

// setFault records the first fault of the current session. Caller holds mu.
func (t *Transport) setFault(err error) {
	if t.fault != nil {
		return
	}
	t.fault = err
	close(t.faulted)
}

// Err returns the fault that stopped the receive side since the last Open,
// or nil
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fault
}

// Done returns a channel that is closed when the current session records a
// fault. Close does not close it.
func (t *Transport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.faulted
}

// signal wakes every goroutine waiting on the current wait channel.
// Caller holds mu.
func (t *Transport) signal() {
	close(t.wait)
	t.wait = make(chan struct{})
}

// Available returns the number of received bytes not yet read
func (t *Transport) Available() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Len()
}

// Discard drops every buffered byte and returns how many were dropped
func (t *Transport) Discard() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.buf.Len()
	t.buf.Reset()
	return n
}

// Peek returns a copy of the buffered bytes for diagnostics
func (t *Transport) Peek() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Peek()
}

// ReadChar blocks until a byte is available and returns it. There is no
// timeout; Close interrupts the wait.
func (t *Transport) ReadChar() (byte, error) {
	return t.ReadCharContext(context.Background())
}

// ReadCharContext is ReadChar with the wait bounded by ctx
func (t *Transport) ReadCharContext(ctx context.Context) (byte, error) {
	woken := false
	for {
		t.mu.Lock()
		if t.fault != nil {
			err := t.fault
			t.mu.Unlock()
			return 0, err
		}
		if t.buf.Len() > 0 {
			c, err := t.buf.Get()
			t.mu.Unlock()
			if err != nil {
				return 0, &PortError{Op: "read", Port: t.name, Err: err}
			}
			return c, nil
		}
		if t.port == nil {
			t.mu.Unlock()
			if woken {
				return 0, &PortError{Op: "read", Port: t.name, Err: ErrInterrupted}
			}
			return 0, &PortError{Op: "read", Port: t.name, Err: ErrPortNotOpen}
		}
		wait := t.wait
		t.mu.Unlock()

		select {
		case <-wait:
			woken = true
		case <-ctx.Done():
			return 0, &PortError{Op: "read", Port: t.name, Err: fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())}
		}
	}
}

// ReadLine reads up to the next line terminator and returns the line
// without it. CRLF and LF end a line; a CR followed by anything else also
// ends it and the following byte is left for the next read.
func (t *Transport) ReadLine() (string, error) {
	return t.ReadLineContext(context.Background())
}

// ReadLineContext is ReadLine with every wait bounded by ctx
func (t *Transport) ReadLineContext(ctx context.Context) (string, error) {
	var sb strings.Builder
	for {
		c, err := t.ReadCharContext(ctx)
		if err != nil {
			return "", err
		}
		switch c {
		case '\r':
			next, err := t.ReadCharContext(ctx)
			if err != nil {
				return "", err
			}
			if next != '\n' {
				if err := t.unread(next); err != nil {
					return "", err
				}
			}
			t.stats.linesRead.Inc()
			return sb.String(), nil
		case '\n':
			t.stats.linesRead.Inc()
			return sb.String(), nil
		default:
			sb.WriteByte(c)
		}
	}
}

func (t *Transport) unread(c byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.buf.PushBack(c); err != nil {
		return &PortError{Op: "read", Port: t.name, Err: err}
	}
	return nil
}

// Write sends s and waits until it has been transmitted
func (t *Transport) Write(s string) error {
	return t.send("write", []byte(s))
}

// WriteLine sends s followed by a line feed
func (t *Transport) WriteLine(s string) error {
	return t.send("write", []byte(s+"\n"))
}

func (t *Transport) send(op string, data []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	t.mu.Lock()
	port := t.port
	fault := t.fault
	t.mu.Unlock()

	if port == nil {
		return &PortError{Op: op, Port: t.name, Err: ErrPortNotOpen}
	}
	if fault != nil {
		return fault
	}

	n, err := port.Write(data)
	t.stats.bytesSent.Add(int64(n))
	if err != nil {
		return &PortError{Op: op, Port: t.name, Err: fmt.Errorf("%w: %w", ErrStreamUnavailable, err)}
	}
	if err := port.Drain(); err != nil {
		t.logger.Warn("Failed to drain port", "error", err)
	}

	t.logger.Debug("Sent", "bytes", n, "data", strings.TrimRight(string(data), "\r\n"))
	return nil
}

// Stats returns the transport's traffic counters
func (t *Transport) Stats() StatsSnapshot {
	snap := t.stats.Snapshot()
	snap.Buffered = t.Available()
	return snap
}
