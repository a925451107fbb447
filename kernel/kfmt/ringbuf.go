package kfmt

import "io"

// ringBufferSize defines the size of the ring buffer that stores early
// Printf output. It must always be a power of 2.
const ringBufferSize = 4096

// ringBuffer is a fixed-size circular buffer used for capturing output
// generated before a sink is attached. When the buffer fills up the oldest
// data is overwritten so that the most recent diagnostics are retained.
type ringBuffer struct {
	buffer  [ringBufferSize]byte
	rIndex  int
	wIndex  int
	pending int
}

// Write writes len(p) bytes from p to the ring buffer, overwriting the
// oldest unread data once the buffer is full.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.pending == ringBufferSize {
			rb.rIndex = rb.wIndex
		} else {
			rb.pending++
		}
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p and consumes them from the buffer. A
// drained buffer reports io.EOF so that an io.Copy drain terminates.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.pending == 0 {
		return 0, io.EOF
	}

	var n int
	for n < len(p) && rb.pending > 0 {
		p[n] = rb.buffer[rb.rIndex]
		rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		rb.pending--
		n++
	}

	return n, nil
}
