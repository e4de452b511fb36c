package vmm

import "github.com/Byte-OS/ByteOS-sub001/kernel/mm"

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent is set when the page is mapped.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUser is set if user-mode code may access the page.
	FlagUser

	// FlagExec is set if code in the page may be executed.
	FlagExec

	// FlagCopyOnWrite marks a read-only page whose frame is shared. A
	// write to it is resolved by the page fault path.
	FlagCopyOnWrite

	// FlagShared marks pages backed by a shared memory segment. Shared
	// pages are never duplicated by copy-on-write.
	FlagShared
)

const (
	// FlagsUserRWX is used for private user pages.
	FlagsUserRWX = FlagPresent | FlagRW | FlagUser | FlagExec

	// FlagsUserRX is used for pages shared copy-on-write after a fork.
	FlagsUserRX = FlagPresent | FlagUser | FlagExec

	ptePhysPageMask = ^uintptr(mm.PageSize - 1)
	pteFlagsMask    = uintptr(mm.PageSize - 1)
)

// pageTableEntry describes a page table entry. These entries encode a
// physical frame address and a set of flags.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Flags returns the flags stored in the entry.
func (pte pageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uintptr(pte) & pteFlagsMask)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}
