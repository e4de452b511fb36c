package task

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"gvisor.dev/gvisor/pkg/sync"
)

// FutexTable records the tasks blocked on each futex address of a process.
// An address only has an entry while at least one task waits on it.
type FutexTable struct {
	mu      sync.Mutex
	waiters map[uintptr][]executor.ID
}

// NewFutexTable returns an empty futex table.
func NewFutexTable() *FutexTable {
	return &FutexTable{waiters: make(map[uintptr][]executor.ID)}
}

// Enqueue blocks task id on addr.
func (ft *FutexTable) Enqueue(addr uintptr, id executor.ID) {
	ft.mu.Lock()
	ft.waiters[addr] = append(ft.waiters[addr], id)
	ft.mu.Unlock()
}

// Wake releases up to n waiters of addr in FIFO order and returns the number
// of released tasks.
func (ft *FutexTable) Wake(addr uintptr, n int) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.takeLocked(addr, n))
}

// Requeue wakes up to wake waiters of addr and moves up to requeue of the
// remaining waiters to addr2. It returns the number of woken tasks.
func (ft *FutexTable) Requeue(addr uintptr, wake int, addr2 uintptr, requeue int) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	woken := len(ft.takeLocked(addr, wake))
	if moved := ft.takeLocked(addr, requeue); len(moved) != 0 {
		ft.waiters[addr2] = append(ft.waiters[addr2], moved...)
	}
	return woken
}

// Contains returns true if task id waits on any address.
func (ft *FutexTable) Contains(id executor.ID) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	for _, ids := range ft.waiters {
		for _, waiter := range ids {
			if waiter == id {
				return true
			}
		}
	}
	return false
}

// Remove drops task id from every wait queue. It returns false if the task
// was not waiting.
func (ft *FutexTable) Remove(id executor.ID) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	found := false
	for addr, ids := range ft.waiters {
		kept := ids[:0]
		for _, waiter := range ids {
			if waiter == id {
				found = true
				continue
			}
			kept = append(kept, waiter)
		}

		if len(kept) == 0 {
			delete(ft.waiters, addr)
		} else {
			ft.waiters[addr] = kept
		}
	}
	return found
}

// Waiters returns the number of tasks blocked on addr.
func (ft *FutexTable) Waiters(addr uintptr) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.waiters[addr])
}

func (ft *FutexTable) takeLocked(addr uintptr, n int) []executor.ID {
	ids := ft.waiters[addr]
	if n > len(ids) {
		n = len(ids)
	}
	if n <= 0 {
		return nil
	}

	taken := append([]executor.ID(nil), ids[:n]...)
	if n == len(ids) {
		delete(ft.waiters, addr)
	} else {
		ft.waiters[addr] = ids[n:]
	}
	return taken
}
