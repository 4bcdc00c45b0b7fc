package serial

import (
	"errors"
	"strings"
	"sync"
)

var errMockClosed = errors.New("mock port closed")

// MockPort implements Port as a scripted in-memory device for tests.
// Inbound bytes come from Feed or from a responder installed with OnWrite.
type MockPort struct {
	mu        sync.Mutex
	device    string
	isOpen    bool
	closed    chan struct{}
	unplugged chan struct{}
	readErr   error
	inbound   chan []byte
	pending   []byte
	writes    [][]byte
	writeErr  error
	openErr   error
	responder func(data []byte) []byte
	opens     int
}

// NewMockPort creates an open mock port
func NewMockPort(device string) *MockPort {
	return &MockPort{
		device:  device,
		isOpen:  true,
		closed:    make(chan struct{}),
		unplugged: make(chan struct{}),
		inbound:   make(chan []byte, 1024),
		writes:    make([][]byte, 0),
	}
}

// Opener returns an Opener that reopens this mock on every call
func (p *MockPort) Opener() Opener {
	return func(device string, cfg PortConfig) (Port, error) {
		p.mu.Lock()
		err := p.openErr
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		p.Reopen()
		return p, nil
	}
}

// Read blocks until inbound data is fed, the port is closed or Fail is
// called
func (p *MockPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if !p.isOpen {
		p.mu.Unlock()
		return 0, errMockClosed
	}
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.pending) > 0 {
		n := copy(buf, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	closed := p.closed
	unplugged := p.unplugged
	p.mu.Unlock()

	select {
	case data := <-p.inbound:
		p.mu.Lock()
		n := copy(buf, data)
		p.pending = append(p.pending, data[n:]...)
		p.mu.Unlock()
		return n, nil
	case <-closed:
		return 0, errMockClosed
	case <-unplugged:
		p.mu.Lock()
		defer p.mu.Unlock()
		return 0, p.readErr
	}
}

// Fail makes pending and future reads return err, as when the device is
// unplugged. Reopen clears it.
func (p *MockPort) Fail(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr == nil {
		close(p.unplugged)
	}
	p.readErr = err
}

// Write records data and, when a responder is installed, feeds its reply
func (p *MockPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	if !p.isOpen {
		p.mu.Unlock()
		return 0, errMockClosed
	}
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return 0, err
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	p.writes = append(p.writes, dataCopy)
	responder := p.responder
	p.mu.Unlock()

	if responder != nil {
		if reply := responder(dataCopy); len(reply) > 0 {
			p.Feed(reply)
		}
	}
	return len(data), nil
}

// Drain is a no-op for the mock port
func (p *MockPort) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isOpen {
		return errMockClosed
	}
	return nil
}

// Close closes the mock port and unblocks Read
func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isOpen {
		p.isOpen = false
		close(p.closed)
	}
	return nil
}

// Reopen reopens a closed mock port, dropping undelivered inbound data
func (p *MockPort) Reopen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isOpen {
		p.isOpen = true
		p.closed = make(chan struct{})
	}
	if p.readErr != nil {
		p.readErr = nil
		p.unplugged = make(chan struct{})
	}
	p.pending = nil
	for {
		select {
		case <-p.inbound:
		default:
			p.opens++
			return
		}
	}
}

// Feed queues bytes for the reader as if the device had sent them
func (p *MockPort) Feed(data []byte) {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	p.inbound <- dataCopy
}

// FeedString queues s for the reader
func (p *MockPort) FeedString(s string) {
	p.Feed([]byte(s))
}

// OnWrite installs a responder called with every write; a non-empty
// return value is fed back as inbound data
func (p *MockPort) OnWrite(responder func(data []byte) []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = responder
}

// Device returns the mock device path
func (p *MockPort) Device() string {
	return p.device
}

// IsOpen returns true if the mock port is open
func (p *MockPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isOpen
}

// Opens returns how many times Reopen has run
func (p *MockPort) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// GetWrites returns all individual write operations
func (p *MockPort) GetWrites() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([][]byte, len(p.writes))
	for i, w := range p.writes {
		result[i] = make([]byte, len(w))
		copy(result[i], w)
	}
	return result
}

// WrittenLines returns every write as a string with the line feed removed
func (p *MockPort) WrittenLines() []string {
	writes := p.GetWrites()
	lines := make([]string, len(writes))
	for i, w := range writes {
		lines[i] = strings.TrimSuffix(string(w), "\n")
	}
	return lines
}

// Reset clears all recorded writes
func (p *MockPort) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = make([][]byte, 0)
}

// SetWriteError sets an error to be returned on subsequent writes
func (p *MockPort) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// SetOpenError makes the Opener fail with err
func (p *MockPort) SetOpenError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr = err
}
