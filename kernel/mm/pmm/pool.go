// Package pmm contains a bitmap physical frame allocator over a fixed arena of
// memory. It backs the frame allocator contract used by copy-on-write and
// shared memory.
package pmm

import (
	"math/bits"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm"
	"gvisor.dev/gvisor/pkg/abi/linux/errno"
	"gvisor.dev/gvisor/pkg/sync"
)

var (
	errOutOfMemory   = &kernel.Error{Module: "pmm", Message: "out of memory", Errno: errno.ENOMEM}
	errInvalidFrame  = &kernel.Error{Module: "pmm", Message: "frame does not belong to this pool"}
	errDoubleFree    = &kernel.Error{Module: "pmm", Message: "frame is not allocated"}
	errEmptyPoolSize = &kernel.Error{Module: "pmm", Message: "pool must contain at least one frame"}
)

// Pool implements a physical frame allocator that tracks frame reservations
// using a bitmap. Frame numbers start at startFrame; frame contents live in a
// contiguous arena.
type Pool struct {
	mu sync.Mutex

	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame mm.Frame

	// frameCount is the number of frames managed by the pool.
	frameCount uint32

	// freeCount tracks the available frames so fully allocated pools can
	// be detected without scanning the bitmap.
	freeCount uint32

	// freeBitmap tracks used/free frames; a set bit marks a reserved frame.
	freeBitmap []uint64

	arena []byte
}

// NewPool creates a pool managing frameCount frames starting at startFrame.
func NewPool(startFrame mm.Frame, frameCount uint32) (*Pool, *kernel.Error) {
	if frameCount == 0 {
		return nil, errEmptyPoolSize
	}

	return &Pool{
		startFrame: startFrame,
		frameCount: frameCount,
		freeCount:  frameCount,
		freeBitmap: make([]uint64, (frameCount+63)>>6),
		arena:      make([]byte, uintptr(frameCount)*mm.PageSize),
	}, nil
}

// AllocFrame reserves the lowest free frame and clears its contents.
func (p *Pool) AllocFrame() (mm.Frame, *kernel.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freeCount == 0 {
		return mm.InvalidFrame, errOutOfMemory
	}

	for blockIndex, block := range p.freeBitmap {
		if block == ^uint64(0) {
			continue
		}

		bitIndex := uint32(blockIndex<<6) + uint32(bits.TrailingZeros64(^block))
		if bitIndex >= p.frameCount {
			break
		}

		p.freeBitmap[blockIndex] |= 1 << (bitIndex & 63)
		p.freeCount--

		frame := p.startFrame + mm.Frame(bitIndex)
		kernel.Memset(p.data(bitIndex), 0)
		return frame, nil
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame releases a frame previously returned by AllocFrame. Freeing a
// frame that is not reserved is a fatal error.
func (p *Pool) FreeFrame(frame mm.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bitIndex, err := p.index(frame)
	if err != nil {
		panic(err)
	}

	mask := uint64(1) << (bitIndex & 63)
	if p.freeBitmap[bitIndex>>6]&mask == 0 {
		panic(errDoubleFree)
	}

	p.freeBitmap[bitIndex>>6] &^= mask
	p.freeCount++
}

// FrameData returns the contents of frame.
func (p *Pool) FrameData(frame mm.Frame) []byte {
	bitIndex, err := p.index(frame)
	if err != nil {
		panic(err)
	}
	return p.data(bitIndex)
}

// FreeCount returns the number of unreserved frames.
func (p *Pool) FreeCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeCount
}

// Reserved reports whether frame is currently allocated.
func (p *Pool) Reserved(frame mm.Frame) bool {
	bitIndex, err := p.index(frame)
	if err != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeBitmap[bitIndex>>6]&(1<<(bitIndex&63)) != 0
}

func (p *Pool) index(frame mm.Frame) (uint32, *kernel.Error) {
	if frame < p.startFrame || frame >= p.startFrame+mm.Frame(p.frameCount) {
		return 0, errInvalidFrame
	}
	return uint32(frame - p.startFrame), nil
}

func (p *Pool) data(bitIndex uint32) []byte {
	start := uintptr(bitIndex) * mm.PageSize
	return p.arena[start : start+mm.PageSize : start+mm.PageSize]
}
