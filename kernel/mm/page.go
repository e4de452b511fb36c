// Package mm defines the page and frame abstractions shared by the virtual
// memory code and the task executor, together with the contract the executor
// requires from a physical frame allocator.
package mm

import (
	"math"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
)

const (
	// PageShift is equal to log2(PageSize).
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to the given physical
// address. Addresses that are not page-aligned are rounded down to the frame
// that contains them.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(PageSize - 1)) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. Addresses that are not page-aligned are rounded down to the page
// that contains them.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(PageSize - 1)) >> PageShift)
}

// PageCount returns the number of pages needed to hold size bytes.
func PageCount(size uintptr) uintptr {
	return (size + PageSize - 1) >> PageShift
}

// FrameAllocator is implemented by physical memory allocators.
type FrameAllocator interface {
	// AllocFrame reserves a zero-filled physical frame.
	AllocFrame() (Frame, *kernel.Error)

	// FreeFrame returns a frame to the allocator.
	FreeFrame(Frame)

	// FrameData returns the contents of an allocated frame. The returned
	// slice is PageSize bytes long and aliases physical memory.
	FrameData(Frame) []byte
}

// CopyFrame copies the contents of src into dst.
func CopyFrame(alloc FrameAllocator, dst, src Frame) {
	kernel.Memcopy(alloc.FrameData(src), alloc.FrameData(dst))
}
