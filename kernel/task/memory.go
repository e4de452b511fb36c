package task

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/vmm"
	ksync "github.com/Byte-OS/ByteOS-sub001/kernel/sync"
)

// MemType classifies a memory area.
type MemType uint8

const (
	// MemCode holds program text.
	MemCode MemType = iota

	// MemData holds program data and the heap.
	MemData

	// MemStack holds the user stack. Stack pages are allocated lazily
	// when the stack grows into the stack window.
	MemStack

	// MemMmap holds anonymous mappings.
	MemMmap

	// MemShared holds shared memory attachments. Shared pages are never
	// copied on write.
	MemShared
)

// shmBase is the lowest address used when attaching shared memory without a
// caller supplied address.
const shmBase = 0x40000000

// mapTrack associates a virtual page with the frame backing it.
type mapTrack struct {
	page    mm.Page
	tracker *mm.FrameTracker
}

// memArea is a group of pages of the same type.
type memArea struct {
	mtype  MemType
	start  uintptr
	length uintptr
	tracks []mapTrack
}

// MemorySpace is the address space of a process. Its lock is keyed by task
// id so that a fault raised while a task holds the lock can be resolved on
// behalf of the same task.
type MemorySpace struct {
	lock  ksync.OwnerLock
	table *vmm.Table
	alloc mm.FrameAllocator
	areas []*memArea
}

func newMemorySpace(alloc mm.FrameAllocator) *MemorySpace {
	return &MemorySpace{
		table: vmm.NewTable(alloc),
		alloc: alloc,
	}
}

// Table returns the page table of the address space.
func (m *MemorySpace) Table() *vmm.Table {
	return m.table
}

// allocLocked allocates and maps count private pages starting at start.
func (m *MemorySpace) allocLocked(start mm.Page, mtype MemType, count int) *kernel.Error {
	tracks := make([]mapTrack, 0, count)
	for i := 0; i < count; i++ {
		tracker, err := mm.AllocTracked(m.alloc)
		if err != nil {
			for _, track := range tracks {
				_ = m.table.Unmap(track.page)
				track.tracker.Release()
			}
			return err
		}

		page := start + mm.Page(i)
		_ = m.table.Map(page, tracker.Frame(), vmm.FlagsUserRWX)
		tracks = append(tracks, mapTrack{page: page, tracker: tracker})
	}

	// Stack pages are faulted in one at a time; keep them in one area.
	if mtype == MemStack {
		for _, area := range m.areas {
			if area.mtype == MemStack {
				area.tracks = append(area.tracks, tracks...)
				return nil
			}
		}
	}

	m.areas = append(m.areas, &memArea{
		mtype:  mtype,
		start:  start.Address(),
		length: uintptr(count) * mm.PageSize,
		tracks: tracks,
	})
	return nil
}

// findTrackLocked returns the private mapping for page. Newer areas shadow
// older ones.
func (m *MemorySpace) findTrackLocked(page mm.Page) *mapTrack {
	for i := len(m.areas) - 1; i >= 0; i-- {
		area := m.areas[i]
		if area.mtype == MemShared {
			continue
		}

		for j := range area.tracks {
			if area.tracks[j].page == page {
				return &area.tracks[j]
			}
		}
	}
	return nil
}

// forkLocked shares every private page of m with child. Both sides are mapped
// read-only with the copy-on-write flag; the first write to a page by either
// side gives the writer its own copy.
func (m *MemorySpace) forkLocked(child *MemorySpace) {
	for _, area := range m.areas {
		if area.mtype == MemShared {
			continue
		}

		clone := &memArea{
			mtype:  area.mtype,
			start:  area.start,
			length: area.length,
			tracks: make([]mapTrack, len(area.tracks)),
		}
		for i, track := range area.tracks {
			clone.tracks[i] = mapTrack{page: track.page, tracker: track.tracker.Clone()}
			_ = m.table.Map(track.page, track.tracker.Frame(), vmm.FlagsUserRX|vmm.FlagCopyOnWrite)
			_ = child.table.Map(track.page, track.tracker.Frame(), vmm.FlagsUserRX|vmm.FlagCopyOnWrite)
		}
		child.areas = append(child.areas, clone)
	}
}

// mapSharedLocked maps the frames of a shared memory segment at start.
func (m *MemorySpace) mapSharedLocked(start uintptr, frames []mm.Frame) {
	area := &memArea{
		mtype:  MemShared,
		start:  start,
		length: uintptr(len(frames)) * mm.PageSize,
	}
	for i, frame := range frames {
		page := mm.PageFromAddress(start) + mm.Page(i)
		_ = m.table.Map(page, frame, vmm.FlagsUserRWX|vmm.FlagShared)
		area.tracks = append(area.tracks, mapTrack{page: page})
	}
	m.areas = append(m.areas, area)
}

// unmapSharedLocked removes the shared area starting at start.
func (m *MemorySpace) unmapSharedLocked(start uintptr) bool {
	for i, area := range m.areas {
		if area.mtype != MemShared || area.start != start {
			continue
		}

		for _, track := range area.tracks {
			_ = m.table.Unmap(track.page)
		}
		m.areas = append(m.areas[:i], m.areas[i+1:]...)
		return true
	}
	return false
}

// lastFreeAddrLocked returns the first address above every non-stack area,
// never lower than shmBase.
func (m *MemorySpace) lastFreeAddrLocked() uintptr {
	last := uintptr(shmBase)
	for _, area := range m.areas {
		if area.mtype == MemStack {
			continue
		}
		if end := area.start + area.length; end > last {
			last = end
		}
	}
	return (last + mm.PageSize - 1) &^ (mm.PageSize - 1)
}

// releaseLocked unmaps every area and drops the frame references it holds.
func (m *MemorySpace) releaseLocked() {
	for _, area := range m.areas {
		for _, track := range area.tracks {
			_ = m.table.Unmap(track.page)
			if track.tracker != nil {
				track.tracker.Release()
			}
		}
	}
	m.areas = nil
}
