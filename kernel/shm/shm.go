// Package shm implements System V style shared memory segments. A segment
// owns a set of frames and stays registered under its key until it has been
// marked deleted and its last mapping is detached.
package shm

import (
	"sync/atomic"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/kfmt"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm"
	"gvisor.dev/gvisor/pkg/abi/linux"
	"gvisor.dev/gvisor/pkg/abi/linux/errno"
	"gvisor.dev/gvisor/pkg/sync"
)

var (
	// ErrNoSegment is returned when a key has no segment and IPC_CREAT
	// was not requested.
	ErrNoSegment = &kernel.Error{Module: "shm", Message: "no shared memory segment for key", Errno: errno.ENOENT}

	// ErrSegmentExists is returned when IPC_CREAT|IPC_EXCL targets an
	// existing key.
	ErrSegmentExists = &kernel.Error{Module: "shm", Message: "shared memory segment exists", Errno: errno.EEXIST}

	// ErrInvalidSize is returned for zero sized segments.
	ErrInvalidSize = &kernel.Error{Module: "shm", Message: "invalid shared memory segment size", Errno: errno.EINVAL}
)

// Segment is a shared memory segment.
type Segment struct {
	key      uintptr
	size     uintptr
	trackers []*mm.FrameTracker

	mu       sync.Mutex
	mappings int
	deleted  bool
	removed  bool
}

// Key returns the key the segment is registered under.
func (s *Segment) Key() uintptr { return s.key }

// Size returns the requested size of the segment in bytes.
func (s *Segment) Size() uintptr { return s.size }

// Frames returns the frames backing the segment in page order.
func (s *Segment) Frames() []mm.Frame {
	frames := make([]mm.Frame, len(s.trackers))
	for i, t := range s.trackers {
		frames[i] = t.Frame()
	}
	return frames
}

// Mappings returns the number of attached mappings.
func (s *Segment) Mappings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappings
}

// Deleted returns true if the segment has been marked for deletion.
func (s *Segment) Deleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// Mapping is a per-task attachment of a segment.
type Mapping struct {
	reg      *Registry
	seg      *Segment
	start    uintptr
	detached atomic.Bool
}

// Segment returns the attached segment.
func (m *Mapping) Segment() *Segment { return m.seg }

// Start returns the virtual address the segment is mapped at.
func (m *Mapping) Start() uintptr { return m.start }

// Clone returns a new mapping of the same segment at the same address. It is
// used when a forked child inherits the attachments of its parent.
func (m *Mapping) Clone() *Mapping {
	m.seg.mu.Lock()
	m.seg.mappings++
	m.seg.mu.Unlock()
	return &Mapping{reg: m.reg, seg: m.seg, start: m.start}
}

// Detach drops the mapping. Detaching a mapping more than once has no effect.
func (m *Mapping) Detach() {
	if m.detached.Swap(true) {
		return
	}

	s := m.seg
	s.mu.Lock()
	s.mappings--
	remove := s.shouldRemoveLocked()
	s.mu.Unlock()

	if remove {
		m.reg.remove(s)
	}
}

// shouldRemoveLocked reports whether the caller must remove the segment. It
// returns true at most once per segment.
func (s *Segment) shouldRemoveLocked() bool {
	if s.removed || !s.deleted || s.mappings != 0 {
		return false
	}
	s.removed = true
	return true
}

// Registry maps keys to segments.
type Registry struct {
	mu       sync.Mutex
	segments map[uintptr]*Segment
	alloc    mm.FrameAllocator
	keyBase  uintptr
	log      kfmt.Logger
}

// NewRegistry returns an empty registry allocating frames from alloc.
func NewRegistry(alloc mm.FrameAllocator) *Registry {
	return &Registry{
		segments: make(map[uintptr]*Segment),
		alloc:    alloc,
		keyBase:  1,
		log:      kfmt.Logger{Module: "shm"},
	}
}

// SetKeyBase sets the lowest key selected for IPC_PRIVATE requests.
func (r *Registry) SetKeyBase(base uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if base == 0 {
		base = 1
	}
	r.keyBase = base
}

// Get returns the key of the segment registered under key, creating it if
// flags contain IPC_CREAT. A zero key selects one past the largest key in
// use, or the key base if that is larger.
func (r *Registry) Get(key, size uintptr, flags uint32) (uintptr, *kernel.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key == 0 {
		key = r.keyBase - 1
		for k := range r.segments {
			if k > key {
				key = k
			}
		}
		key++
	}

	if seg, ok := r.segments[key]; ok && !seg.Deleted() {
		if flags&linux.IPC_CREAT != 0 && flags&linux.IPC_EXCL != 0 {
			return 0, ErrSegmentExists
		}
		return key, nil
	}

	if flags&linux.IPC_CREAT == 0 {
		return 0, ErrNoSegment
	}

	if size == 0 {
		return 0, ErrInvalidSize
	}

	pages := mm.PageCount(size)
	trackers := make([]*mm.FrameTracker, 0, pages)
	for i := uintptr(0); i < pages; i++ {
		t, err := mm.AllocTracked(r.alloc)
		if err != nil {
			for _, t := range trackers {
				t.Release()
			}
			return 0, err
		}
		trackers = append(trackers, t)
	}

	r.segments[key] = &Segment{key: key, size: size, trackers: trackers}
	r.log.Debugf("created segment %d (%d pages)", key, pages)
	return key, nil
}

// Lookup returns the live segment registered under key.
func (r *Registry) Lookup(key uintptr) (*Segment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seg, ok := r.segments[key]
	return seg, ok
}

// Attach creates a mapping of the segment at start. It fails if the segment
// does not exist or has been marked deleted.
func (r *Registry) Attach(key, start uintptr) (*Mapping, bool) {
	seg, ok := r.Lookup(key)
	if !ok {
		return nil, false
	}

	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.deleted {
		return nil, false
	}

	seg.mappings++
	return &Mapping{reg: r, seg: seg, start: start}, true
}

// MarkDeleted flags the segment for removal. A segment with no mappings is
// removed immediately; otherwise removal happens when the last mapping is
// detached.
func (r *Registry) MarkDeleted(key uintptr) bool {
	seg, ok := r.Lookup(key)
	if !ok {
		return false
	}

	seg.mu.Lock()
	seg.deleted = true
	remove := seg.shouldRemoveLocked()
	seg.mu.Unlock()

	if remove {
		r.remove(seg)
	}
	return true
}

// Len returns the number of registered segments.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.segments)
}

func (r *Registry) remove(seg *Segment) {
	r.mu.Lock()
	if r.segments[seg.key] == seg {
		delete(r.segments, seg.key)
	}
	r.mu.Unlock()

	for _, t := range seg.trackers {
		t.Release()
	}
	r.log.Debugf("removed segment %d", seg.key)
}
