// Package signal tracks pending signals and signal dispositions for user
// tasks. Signal numbers and sets follow the Linux ABI: bit n-1 of a set
// stands for signal n.
package signal

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"gvisor.dev/gvisor/pkg/abi/linux"
	"gvisor.dev/gvisor/pkg/abi/linux/errno"
	"gvisor.dev/gvisor/pkg/bits"
)

// ErrInvalidSignal is raised for signal numbers outside 1..64.
var ErrInvalidSignal = &kernel.Error{Module: "signal", Message: "signal number out of range", Errno: errno.EINVAL}

// rtSignalCap is the maximum number of queued instances of a realtime signal.
const rtSignalCap = 32

func mustBeValid(sig linux.Signal) {
	if !sig.IsValid() {
		panic(ErrInvalidSignal)
	}
}

// List is the set of pending signals of a task. The zero value is an empty
// list. List is not safe for concurrent use.
type List struct {
	pending linux.SignalSet
}

// Add marks sig as pending.
func (l *List) Add(sig linux.Signal) {
	mustBeValid(sig)
	l.pending |= linux.SignalSetOf(sig)
}

// Remove clears sig.
func (l *List) Remove(sig linux.Signal) {
	mustBeValid(sig)
	l.pending &^= linux.SignalSetOf(sig)
}

// Has returns true if sig is pending.
func (l *List) Has(sig linux.Signal) bool {
	mustBeValid(sig)
	return l.pending&linux.SignalSetOf(sig) != 0
}

// HasAny returns true if at least one signal is pending.
func (l *List) HasAny() bool {
	return l.pending != 0
}

// Set returns the pending signals as a signal set.
func (l *List) Set() linux.SignalSet {
	return l.pending
}

// TryPeek returns the lowest numbered pending signal without clearing it.
func (l *List) TryPeek() (linux.Signal, bool) {
	lowest := bits.TrailingZeros64(uint64(l.pending))
	if lowest >= linux.SignalMaximum {
		return 0, false
	}
	return linux.Signal(lowest + 1), true
}

// TakeOne clears and returns the lowest numbered pending signal.
func (l *List) TakeOne() (linux.Signal, bool) {
	sig, ok := l.TryPeek()
	if ok {
		l.Remove(sig)
	}
	return sig, ok
}

// Mask returns the subset of pending signals not blocked by mask.
func (l *List) Mask(mask linux.SignalSet) List {
	return List{pending: l.pending &^ mask}
}

// Queue counts the extra instances of realtime signals that arrived while
// the signal was already pending.
type Queue struct {
	counts [linux.NumRTSignals]uint32
}

// Enqueue records sig in list. A realtime signal that is already pending is
// counted so that it fires again after the current instance is handled.
func (q *Queue) Enqueue(list *List, sig linux.Signal) {
	if list.Has(sig) && sig.IsRealtime() {
		if idx := sig - linux.FirstRTSignal; q.counts[idx] < rtSignalCap {
			q.counts[idx]++
		}
		return
	}
	list.Add(sig)
}

// Rearm re-adds sig to list if more instances of it are queued. It must be
// called after sig has been handled and removed from list.
func (q *Queue) Rearm(list *List, sig linux.Signal) {
	if !sig.IsRealtime() {
		return
	}

	if idx := sig - linux.FirstRTSignal; q.counts[idx] > 0 {
		q.counts[idx]--
		list.Add(sig)
	}
}

// Queued returns the number of extra instances of sig.
func (q *Queue) Queued(sig linux.Signal) int {
	if !sig.IsRealtime() {
		return 0
	}
	return int(q.counts[sig-linux.FirstRTSignal])
}
