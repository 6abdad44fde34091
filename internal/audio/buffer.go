package audio

import (
	"sync"
)

// RingBuffer is a fixed-capacity, thread-safe byte queue. The dictation
// controller uses it to hold microphone audio that arrives while a
// recognition session is still starting, so the first words are not lost.
// When full, new data is dropped and the oldest audio is kept.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	start   int
	length  int
	dropped int64
}

// NewRingBuffer creates a new ring buffer with the specified capacity
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write appends data and returns the number of bytes stored
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(rb.buf) - rb.length
	if n > len(data) {
		n = len(data)
	}
	rb.dropped += int64(len(data) - n)

	end := (rb.start + rb.length) % len(rb.buf)
	first := copy(rb.buf[end:], data[:n])
	copy(rb.buf, data[first:n])
	rb.length += n

	return n
}

func (rb *RingBuffer) read(data []byte) int {
	n := rb.length
	if n > len(data) {
		n = len(data)
	}

	first := copy(data[:n], rb.buf[rb.start:])
	copy(data[first:n], rb.buf)
	rb.start = (rb.start + n) % len(rb.buf)
	rb.length -= n

	return n
}

// Drain returns everything buffered and empties the buffer
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.length == 0 {
		return nil
	}
	out := make([]byte, rb.length)
	rb.read(out)
	return out
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.length
}

// Dropped returns how many bytes were rejected because the buffer was full
func (rb *RingBuffer) Dropped() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Clear empties the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.start = 0
	rb.length = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	return rb.Available() == 0
}
