package fs

import (
	"bytes"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"gvisor.dev/gvisor/pkg/sync"
)

// DefaultSocketBufferSize is the number of bytes a socket pair buffers in
// each direction.
const DefaultSocketBufferSize = 0x50000

// channel is a bounded byte queue shared by the two ends of a socket pair.
type channel struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	capacity int

	writerClosed bool
	readerClosed bool
}

// SocketEnd is one end of a socket pair. Data written to one end is read
// from the other.
type SocketEnd struct {
	in  *channel
	out *channel
}

// NewSocketPair returns two connected socket ends that buffer up to capacity
// bytes in each direction.
func NewSocketPair(capacity int) (*SocketEnd, *SocketEnd) {
	ab := &channel{capacity: capacity}
	ba := &channel{capacity: capacity}
	return &SocketEnd{in: ba, out: ab}, &SocketEnd{in: ab, out: ba}
}

// Read implements File.
func (s *SocketEnd) Read(p []byte) (int, *kernel.Error) {
	c := s.in
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf.Len() == 0 {
		if c.writerClosed {
			return 0, nil
		}
		return 0, ErrWouldBlock
	}

	n, _ := c.buf.Read(p)
	return n, nil
}

// Write implements File. A write that does not fit in the free space of the
// buffer is truncated; a write to a full buffer fails with ErrWouldBlock.
func (s *SocketEnd) Write(p []byte) (int, *kernel.Error) {
	c := s.out
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readerClosed {
		return 0, ErrBrokenPipe
	}

	free := c.capacity - c.buf.Len()
	if free <= 0 {
		return 0, ErrWouldBlock
	}

	if len(p) > free {
		p = p[:free]
	}
	n, _ := c.buf.Write(p)
	return n, nil
}

// Poll implements File.
func (s *SocketEnd) Poll(events PollEvent) PollEvent {
	var ready PollEvent

	if events&PollIn != 0 {
		s.in.mu.Lock()
		if s.in.buf.Len() > 0 || s.in.writerClosed {
			ready |= PollIn
		}
		s.in.mu.Unlock()
	}

	if events&PollOut != 0 {
		s.out.mu.Lock()
		if s.out.buf.Len() < s.out.capacity {
			ready |= PollOut
		}
		s.out.mu.Unlock()
	}

	return ready
}

// Release implements File.
func (s *SocketEnd) Release() {
	s.in.mu.Lock()
	s.in.readerClosed = true
	s.in.mu.Unlock()

	s.out.mu.Lock()
	s.out.writerClosed = true
	s.out.mu.Unlock()
}
