package mm

import (
	"sync/atomic"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
)

var errTrackerReleased = &kernel.Error{Module: "mm", Message: "frame tracker released more times than it was cloned"}

// FrameTracker tracks the owners of a physical frame. Every holder of a
// tracker owns one reference; the frame goes back to its allocator when the
// last reference is released. Copy-on-write uses the reference count to tell
// whether a faulting page is still shared.
type FrameTracker struct {
	frame Frame
	alloc FrameAllocator
	refs  atomic.Int32
}

// NewFrameTracker wraps an already allocated frame. The returned tracker holds
// a single reference.
func NewFrameTracker(alloc FrameAllocator, frame Frame) *FrameTracker {
	t := &FrameTracker{frame: frame, alloc: alloc}
	t.refs.Store(1)
	return t
}

// AllocTracked allocates a frame and returns a tracker for it.
func AllocTracked(alloc FrameAllocator) (*FrameTracker, *kernel.Error) {
	frame, err := alloc.AllocFrame()
	if err != nil {
		return nil, err
	}
	return NewFrameTracker(alloc, frame), nil
}

// Frame returns the tracked frame.
func (t *FrameTracker) Frame() Frame {
	return t.frame
}

// Data returns the contents of the tracked frame.
func (t *FrameTracker) Data() []byte {
	return t.alloc.FrameData(t.frame)
}

// Clone adds a reference and returns the tracker.
func (t *FrameTracker) Clone() *FrameTracker {
	t.refs.Add(1)
	return t
}

// Refs returns the number of live references.
func (t *FrameTracker) Refs() int {
	return int(t.refs.Load())
}

// Release drops a reference, freeing the frame when none remain.
func (t *FrameTracker) Release() {
	switch refs := t.refs.Add(-1); {
	case refs == 0:
		t.alloc.FreeFrame(t.frame)
	case refs < 0:
		panic(errTrackerReleased)
	}
}
