// Package sync provides the lock primitives used by the executor: a spinlock
// for short hart-local critical sections and an ownership-tracking lock that
// lets the task holding it re-acquire it from a nested trap handler.
package sync

import (
	"runtime"
	"sync/atomic"
)

// spinBudget is the number of failed acquisition attempts after which a
// spinning hart calls yieldFn.
const spinBudget = 64

// yieldFn is swapped by tests.
var yieldFn = runtime.Gosched

// Spinlock is a busy-waiting mutual exclusion lock. It is not re-entrant:
// acquiring a lock already held by the caller spins forever. The zero value
// is an unlocked lock.
type Spinlock struct {
	held atomic.Bool
}

// Acquire spins until the lock is taken.
func (l *Spinlock) Acquire() {
	for attempts := 1; !l.TryToAcquire(); attempts++ {
		if attempts%spinBudget == 0 {
			yieldFn()
		}
	}
}

// TryToAcquire takes the lock if it is free and reports whether it did.
func (l *Spinlock) TryToAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release frees the lock. Releasing a free lock has no effect.
func (l *Spinlock) Release() {
	l.held.Store(false)
}
