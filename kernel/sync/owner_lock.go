package sync

import (
	"sync/atomic"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"gvisor.dev/gvisor/pkg/sync"
)

// NoOwner is the owner id that never holds an OwnerLock.
const NoOwner = 0

var errNotOwner = &kernel.Error{Module: "sync", Message: "owner lock released by a context that does not hold it"}

// OwnerLock is a mutual exclusion lock that records which execution context
// (a task id) holds it. The holder may acquire it again; each Lock must be
// balanced by an Unlock from the same owner.
//
// A page fault raised on behalf of a task while that task's own future holds
// the lock is resolved by re-acquiring the lock as the same owner instead of
// forcibly unlocking it.
type OwnerLock struct {
	mu    sync.Mutex
	owner atomic.Uint64
	depth int
}

// Lock acquires the lock for owner, blocking while another owner holds it.
func (l *OwnerLock) Lock(owner uint64) {
	if owner != NoOwner && l.owner.Load() == owner {
		l.depth++
		return
	}

	l.mu.Lock()
	l.owner.Store(owner)
	l.depth = 1
}

// TryLock attempts to acquire the lock for owner without blocking.
func (l *OwnerLock) TryLock(owner uint64) bool {
	if owner != NoOwner && l.owner.Load() == owner {
		l.depth++
		return true
	}

	if !l.mu.TryLock() {
		return false
	}
	l.owner.Store(owner)
	l.depth = 1
	return true
}

// Unlock releases one level of acquisition held by owner. Releasing a lock
// that owner does not hold is a fatal error.
func (l *OwnerLock) Unlock(owner uint64) {
	if l.owner.Load() != owner || l.depth == 0 {
		panic(errNotOwner)
	}

	l.depth--
	if l.depth == 0 {
		l.owner.Store(NoOwner)
		l.mu.Unlock()
	}
}

// HeldBy reports whether owner currently holds the lock.
func (l *OwnerLock) HeldBy(owner uint64) bool {
	return owner != NoOwner && l.owner.Load() == owner
}
