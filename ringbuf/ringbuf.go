// Package ringbuf implements the fixed-capacity byte FIFO that sits between
// the serial listener and blocking line readers.
//
// A Buffer is not safe for concurrent use. The owning transport guards it
// with its own lock.
package ringbuf

import "errors"

// DefaultSize is the capacity used when New is given a non-positive size
const DefaultSize = 1024

var (
	// ErrFull is returned when inserting into a buffer that holds Cap bytes
	ErrFull = errors.New("ring buffer full")
	// ErrUnderflow is returned when reading from an empty buffer
	ErrUnderflow = errors.New("ring buffer underflow")
)

// Buffer is a fixed-capacity FIFO of bytes with one-step push-back
type Buffer struct {
	data  []byte
	head  int
	tail  int
	count int
}

// New creates a buffer holding at most size bytes
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{data: make([]byte, size)}
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	return b.count
}

// Cap returns the fixed capacity
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Free returns how many more bytes fit before the buffer is full
func (b *Buffer) Free() int {
	return len(b.data) - b.count
}

// Put appends c at the tail
func (b *Buffer) Put(c byte) error {
	if b.count == len(b.data) {
		return ErrFull
	}
	b.data[b.tail] = c
	b.tail++
	if b.tail == len(b.data) {
		b.tail = 0
	}
	b.count++
	return nil
}

// Write appends p byte by byte. On overflow the bytes that fit stay
// inserted and the count of those bytes is returned with ErrFull.
func (b *Buffer) Write(p []byte) (int, error) {
	for i, c := range p {
		if err := b.Put(c); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// Get removes and returns the byte at the head
func (b *Buffer) Get() (byte, error) {
	if b.count == 0 {
		return 0, ErrUnderflow
	}
	c := b.data[b.head]
	b.head++
	if b.head == len(b.data) {
		b.head = 0
	}
	b.count--
	return c, nil
}

// PushBack stores c in front of the head so the next Get returns it.
// Calling it right after Get undoes that Get.
func (b *Buffer) PushBack(c byte) error {
	if b.count == len(b.data) {
		return ErrFull
	}
	b.head--
	if b.head < 0 {
		b.head = len(b.data) - 1
	}
	b.data[b.head] = c
	b.count++
	return nil
}

// Peek returns a copy of the buffered bytes in read order
func (b *Buffer) Peek() []byte {
	out := make([]byte, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}
	return out
}

// Reset discards everything buffered
func (b *Buffer) Reset() {
	b.head = 0
	b.tail = 0
	b.count = 0
}

func (b *Buffer) String() string {
	return string(b.Peek())
}
