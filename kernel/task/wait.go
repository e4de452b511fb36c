package task

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
)

// AnyChild makes WaitPid match every child.
const AnyChild = -1

// WaitPid completes with the first child of parent whose exit code is set
// and whose id is target, or any child if target is AnyChild.
func WaitPid(parent *UserTask, target int64) executor.Future[*UserTask] {
	return executor.FutureFunc[*UserTask](func(*executor.PollContext) (*UserTask, bool) {
		return parent.exitedChild(target)
	})
}

func (t *UserTask) exitedChild(target int64) (*UserTask, bool) {
	for _, child := range t.Children() {
		if target != AnyChild && int64(child.ID()) != target {
			continue
		}
		if _, ok := child.ExitCode(); ok {
			return child, true
		}
	}
	return nil, false
}

// HasChild returns true if t has a child matching target.
func (t *UserTask) HasChild(target int64) bool {
	for _, child := range t.Children() {
		if target == AnyChild || int64(child.ID()) == target {
			return true
		}
	}
	return false
}

// WaitFutex completes once t is no longer queued in table. If a signal
// interrupts the wait first, t is removed from the table and the future
// completes with ErrInterrupted.
func WaitFutex(t *UserTask, table *FutexTable) executor.Future[*kernel.Error] {
	return executor.FutureFunc[*kernel.Error](func(*executor.PollContext) (*kernel.Error, bool) {
		if !table.Contains(t.ID()) {
			return nil, true
		}
		if t.interrupted() {
			table.Remove(t.ID())
			return ErrInterrupted, true
		}
		return nil, false
	})
}

// NextTick completes once clock reaches deadline milliseconds.
func NextTick(clock hal.Clock, deadline uint64) executor.Future[struct{}] {
	return executor.FutureFunc[struct{}](func(*executor.PollContext) (struct{}, bool) {
		return struct{}{}, clock.NowMillis() >= deadline
	})
}

// WaitSignal completes once a signal that would interrupt t is pending.
func WaitSignal(t *UserTask) executor.Future[struct{}] {
	return executor.FutureFunc[struct{}](func(*executor.PollContext) (struct{}, bool) {
		return struct{}{}, t.interrupted()
	})
}
