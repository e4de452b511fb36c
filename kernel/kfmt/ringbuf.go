package kfmt

import "io"

// earlyBufferSize is the capacity of the buffer holding output logged
// before a sink is attached. It must be a power of 2.
const earlyBufferSize = 4096

// ringBuffer keeps the most recent earlyBufferSize bytes written to it.
type ringBuffer struct {
	data [earlyBufferSize]byte

	// start indexes the oldest buffered byte; size counts buffered bytes.
	start, size int
}

// Write implements io.Writer. It never fails; once the buffer is full the
// oldest bytes are dropped.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.data[(rb.start+rb.size)&(earlyBufferSize-1)] = b
		if rb.size < earlyBufferSize-1 {
			rb.size++
		} else {
			rb.start = (rb.start + 1) & (earlyBufferSize - 1)
		}
	}
	return len(p), nil
}

// Read implements io.Reader and returns io.EOF once the buffer is drained.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.size == 0 {
		return 0, io.EOF
	}

	end := rb.start + rb.size
	if end > earlyBufferSize {
		end = earlyBufferSize
	}

	n := copy(p, rb.data[rb.start:end])
	rb.start = (rb.start + n) & (earlyBufferSize - 1)
	rb.size -= n
	return n, nil
}

// Len returns the number of buffered bytes.
func (rb *ringBuffer) Len() int {
	return rb.size
}
