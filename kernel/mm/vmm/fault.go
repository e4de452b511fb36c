package vmm

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm"
	"gvisor.dev/gvisor/pkg/abi/linux/errno"
)

// ErrUnrecoverableFault is returned when a page fault does not target a
// copy-on-write page.
var ErrUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault", Errno: errno.EFAULT}

// IsCopyOnWrite returns true if page is mapped read-only with the
// copy-on-write flag set.
func IsCopyOnWrite(space AddressSpace, page mm.Page) bool {
	_, flags, ok := space.Lookup(page)
	return ok && flags&FlagRW == 0 && flags&FlagCopyOnWrite != 0
}

// CopyOnWrite resolves a write fault on a copy-on-write page: a new frame is
// allocated, the contents of the shared frame are copied into it and the
// page is remapped read-write to the copy. The new frame is returned so the
// caller can take ownership of it.
func CopyOnWrite(space AddressSpace, alloc mm.FrameAllocator, page mm.Page) (mm.Frame, *kernel.Error) {
	frame, flags, ok := space.Lookup(page)
	if !ok || flags&FlagRW != 0 || flags&FlagCopyOnWrite == 0 {
		return mm.InvalidFrame, ErrUnrecoverableFault
	}

	copy, err := alloc.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}
	mm.CopyFrame(alloc, copy, frame)

	if err = space.Map(page, copy, (flags|FlagRW)&^FlagCopyOnWrite); err != nil {
		alloc.FreeFrame(copy)
		return mm.InvalidFrame, err
	}
	return copy, nil
}

// MakeWritable flags a copy-on-write page as read-write in place. It is used
// once the faulting task is the last owner of the shared frame.
func MakeWritable(space AddressSpace, page mm.Page) *kernel.Error {
	frame, flags, ok := space.Lookup(page)
	if !ok {
		return ErrInvalidMapping
	}
	return space.Map(page, frame, (flags|FlagRW)&^FlagCopyOnWrite)
}

// DescribeFault returns a human readable reason for an access fault.
func DescribeFault(write, present bool) string {
	switch {
	case !write && !present:
		return "read from non-present page"
	case !write && present:
		return "page protection violation (read)"
	case write && !present:
		return "write to non-present page"
	default:
		return "page protection violation (write)"
	}
}
