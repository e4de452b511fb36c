package task

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

// entryState is a state of the user task control loop.
type entryState uint8

const (
	stateCheckSignal entryState = iota
	stateReEnterUser
	statePostTrapDispatch
	stateMaybeYield
	stateExited
)

var entryStateNames = [...]string{"check-signal", "re-enter-user", "post-trap-dispatch", "maybe-yield", "exited"}

// String implements fmt.Stringer.
func (s entryState) String() string {
	if int(s) < len(entryStateNames) {
		return entryStateNames[s]
	}
	return "unknown"
}

// userEntry is the body of a user task. Each pass handles pending signals,
// runs user code until the next trap and dispatches it. A task that handled
// ForcedYieldThreshold traps in a row yields to the other runnable tasks.
type userEntry struct {
	t     *UserTask
	state entryState

	delivery *signalDelivery
	dispatch *trapDispatch
	yield    *executor.Yield
	times    int
}

func newUserEntry(t *UserTask) *userEntry {
	return &userEntry{t: t}
}

// Poll implements executor.Future.
func (e *userEntry) Poll(cx *executor.PollContext) (struct{}, bool) {
	t := e.t
	for {
		switch e.state {
		case stateCheckSignal:
			if e.delivery != nil {
				if _, ok := e.delivery.Poll(cx); !ok {
					return struct{}{}, false
				}
				t.finishSignal(e.delivery.sig)
				e.delivery = nil
			}

			if t.exited() {
				e.state = stateExited
				continue
			}

			t.checkTimer()
			if sig, ok := t.nextSignal(); ok {
				e.delivery = newSignalDelivery(t, sig)
				continue
			}
			e.state = stateReEnterUser

		case stateReEnterUser:
			trap := cx.Hart.EnterUser(t.mem.table, t.Context())
			e.dispatch = newTrapDispatch(t, trap)
			e.state = statePostTrapDispatch

		case statePostTrapDispatch:
			flow, ok := e.dispatch.Poll(cx)
			if !ok {
				return struct{}{}, false
			}
			e.dispatch = nil

			if flow == flowBreak && !t.exited() {
				// rt_sigreturn outside of a signal handler.
				t.k.log.Warnf("task %d: sigreturn without a signal frame", t.ID())
				t.ExitWithSignal(linux.SIGSEGV)
			}
			e.state = stateMaybeYield

		case stateMaybeYield:
			if e.yield != nil {
				if _, ok := e.yield.Poll(cx); !ok {
					return struct{}{}, false
				}
				e.yield = nil
				e.state = stateCheckSignal
				continue
			}

			e.times++
			if e.times >= t.k.params.ForcedYieldThreshold {
				e.times = 0
				e.yield = executor.YieldNow()
				continue
			}
			e.state = stateCheckSignal

		case stateExited:
			t.finish(cx.Hart)
			return struct{}{}, true
		}
	}
}
