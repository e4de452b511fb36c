package task

import (
	"encoding/binary"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/vmm"
)

// CopyOut writes data to user memory at addr. Faults on copy-on-write or
// stack pages are resolved through the kernel trap path and the copy is
// retried.
func (t *UserTask) CopyOut(h hal.Hart, addr uintptr, data []byte) *kernel.Error {
	return t.access(h, addr, uintptr(len(data)), func(space *vmm.Table) *vmm.Fault {
		return space.Write(addr, data)
	})
}

// CopyIn reads len(buf) bytes of user memory at addr.
func (t *UserTask) CopyIn(h hal.Hart, addr uintptr, buf []byte) *kernel.Error {
	return t.access(h, addr, uintptr(len(buf)), func(space *vmm.Table) *vmm.Fault {
		return space.Read(addr, buf)
	})
}

// PrepareWrite makes every page of [addr, addr+size) writable without
// changing its contents. Copy-on-write and stack faults are resolved as a
// store to the page would resolve them.
func (t *UserTask) PrepareWrite(h hal.Hart, addr, size uintptr) *kernel.Error {
	if size == 0 {
		return nil
	}

	first, last := mm.PageFromAddress(addr), mm.PageFromAddress(addr+size-1)
	return t.access(h, addr, size, func(space *vmm.Table) *vmm.Fault {
		for page := first; page <= last; page++ {
			if _, flags, ok := space.Lookup(page); !ok || flags&vmm.FlagRW == 0 {
				return &vmm.Fault{Addr: max(page.Address(), addr), Write: true, Present: ok}
			}
		}
		return nil
	})
}

// access runs op with the address space lock held by t. A fault raised by op
// is handed to KernelInterrupt, which re-acquires the lock as the same owner.
func (t *UserTask) access(h hal.Hart, addr, size uintptr, op func(*vmm.Table) *vmm.Fault) *kernel.Error {
	owner := uint64(t.ID())
	t.mem.lock.Lock(owner)
	defer t.mem.lock.Unlock(owner)

	// Each retry resolves at most one page of the range.
	retries := int(mm.PageCount(size)) + 1
	for attempt := 0; ; attempt++ {
		fault := op(t.mem.table)
		if fault == nil {
			return nil
		}
		if attempt == retries || !t.k.resolvable(t, fault.Addr) {
			return ErrFault
		}

		t.k.KernelInterrupt(h, t.Context(), hal.FaultTrap(fault))
	}
}

// ReadUint32 reads a little-endian 32-bit word from user memory.
func (t *UserTask) ReadUint32(h hal.Hart, addr uintptr) (uint32, *kernel.Error) {
	var buf [4]byte
	if err := t.CopyIn(h, addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint32 writes a little-endian 32-bit word to user memory.
func (t *UserTask) WriteUint32(h hal.Hart, addr uintptr, v uint32) *kernel.Error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return t.CopyOut(h, addr, buf[:])
}

// ReadUint64 reads a little-endian 64-bit word from user memory.
func (t *UserTask) ReadUint64(h hal.Hart, addr uintptr) (uint64, *kernel.Error) {
	var buf [8]byte
	if err := t.CopyIn(h, addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteUint64 writes a little-endian 64-bit word to user memory.
func (t *UserTask) WriteUint64(h hal.Hart, addr uintptr, v uint64) *kernel.Error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return t.CopyOut(h, addr, buf[:])
}
