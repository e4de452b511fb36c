// Package vmm defines the address-space contract consumed by the executor
// together with a map-backed page table implementation and the copy-on-write
// fault resolution logic.
package vmm

import (
	"fmt"
	"sort"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm"
	"gvisor.dev/gvisor/pkg/abi/linux/errno"
	"gvisor.dev/gvisor/pkg/sync"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page", Errno: errno.EFAULT}
)

// Fault describes a memory access that the page table did not allow. The
// trap layer turns it into a page fault trap.
type Fault struct {
	// Addr is the faulting virtual address.
	Addr uintptr

	// Write is set for store accesses.
	Write bool

	// Present is set if the page was mapped but the access violated its
	// protection flags.
	Present bool
}

// Error implements the error interface.
func (f *Fault) Error() string {
	access := "read"
	if f.Write {
		access = "write"
	}
	if f.Present {
		return fmt.Sprintf("page protection violation (%s) at 0x%x", access, f.Addr)
	}
	return fmt.Sprintf("%s from non-present page at 0x%x", access, f.Addr)
}

// AddressSpace is the page table abstraction required by the executor.
type AddressSpace interface {
	// Map establishes a mapping between a virtual page and a physical
	// frame, replacing any existing mapping.
	Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error

	// Unmap removes the mapping for page.
	Unmap(page mm.Page) *kernel.Error

	// Lookup returns the frame and flags page is mapped to.
	Lookup(page mm.Page) (mm.Frame, PageTableEntryFlag, bool)

	// Read copies len(p) bytes starting at vaddr into p.
	Read(vaddr uintptr, p []byte) *Fault

	// Write copies p into memory starting at vaddr. Writes to pages
	// without FlagRW fail with a Fault.
	Write(vaddr uintptr, p []byte) *Fault
}

// Table is an AddressSpace backed by a map from page to page table entry.
// Frame contents are accessed through the frame allocator.
type Table struct {
	mu      sync.RWMutex
	alloc   mm.FrameAllocator
	entries map[mm.Page]pageTableEntry
}

// NewTable creates an empty address space whose frames belong to alloc.
func NewTable(alloc mm.FrameAllocator) *Table {
	return &Table{
		alloc:   alloc,
		entries: make(map[mm.Page]pageTableEntry),
	}
}

// Map implements AddressSpace.
func (t *Table) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var pte pageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags(flags | FlagPresent)

	t.mu.Lock()
	t.entries[page] = pte
	t.mu.Unlock()
	return nil
}

// Unmap implements AddressSpace.
func (t *Table) Unmap(page mm.Page) *kernel.Error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[page]; !ok {
		return ErrInvalidMapping
	}
	delete(t.entries, page)
	return nil
}

// Lookup implements AddressSpace.
func (t *Table) Lookup(page mm.Page) (mm.Frame, PageTableEntryFlag, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pte, ok := t.entries[page]
	if !ok {
		return mm.InvalidFrame, 0, false
	}
	return pte.Frame(), pte.Flags(), true
}

// Translate returns the physical address that vaddr maps to.
func (t *Table) Translate(vaddr uintptr) (uintptr, *kernel.Error) {
	frame, _, ok := t.Lookup(mm.PageFromAddress(vaddr))
	if !ok {
		return 0, ErrInvalidMapping
	}
	return frame.Address() + (vaddr & (mm.PageSize - 1)), nil
}

// Pages returns the mapped pages in ascending order.
func (t *Table) Pages() []mm.Page {
	t.mu.RLock()
	pages := make([]mm.Page, 0, len(t.entries))
	for page := range t.entries {
		pages = append(pages, page)
	}
	t.mu.RUnlock()

	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

// Read implements AddressSpace.
func (t *Table) Read(vaddr uintptr, p []byte) *Fault {
	return t.access(vaddr, p, false)
}

// Write implements AddressSpace.
func (t *Table) Write(vaddr uintptr, p []byte) *Fault {
	return t.access(vaddr, p, true)
}

func (t *Table) access(vaddr uintptr, p []byte, write bool) *Fault {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for len(p) > 0 {
		pte, ok := t.entries[mm.PageFromAddress(vaddr)]
		switch {
		case !ok:
			return &Fault{Addr: vaddr, Write: write}
		case write && !pte.HasFlags(FlagRW):
			return &Fault{Addr: vaddr, Write: write, Present: true}
		}

		offset := vaddr & (mm.PageSize - 1)
		data := t.alloc.FrameData(pte.Frame())[offset:]

		var n int
		if write {
			n = copy(data, p)
		} else {
			n = copy(p, data)
		}
		p = p[n:]
		vaddr += uintptr(n)
	}

	return nil
}
