package sync

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	const (
		harts = 8
		iters = 500
	)

	var (
		sl      Spinlock
		wg      sync.WaitGroup
		counter int
	)

	wg.Add(harts)
	for i := 0; i < harts; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				sl.Acquire()
				counter++
				sl.Release()
			}
		}()
	}
	wg.Wait()

	if exp := harts * iters; counter != exp {
		t.Fatalf("expected counter to be %d; got %d", exp, counter)
	}
}

func TestSpinlockYieldsWhileContended(t *testing.T) {
	var (
		sl     Spinlock
		yields atomic.Int32
	)

	defer func(orig func()) { yieldFn = orig }(yieldFn)
	yieldFn = func() {
		// Let the waiter in after it has yielded a few times.
		if yields.Add(1) == 3 {
			sl.Release()
		}
		runtime.Gosched()
	}

	sl.Acquire()
	if sl.TryToAcquire() {
		t.Fatal("expected TryToAcquire to fail while the lock is held")
	}

	sl.Acquire()
	if got := yields.Load(); got != 3 {
		t.Fatalf("expected the waiter to yield 3 times; got %d", got)
	}

	sl.Release()
	if !sl.TryToAcquire() {
		t.Fatal("expected TryToAcquire to succeed after Release")
	}
}
