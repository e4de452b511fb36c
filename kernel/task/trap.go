package task

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

// controlFlow tells the control loop whether to keep running user code.
type controlFlow uint8

const (
	flowContinue controlFlow = iota
	flowBreak
)

// trapSignals maps user traps that cannot be resolved to the signal
// delivered to the offending task.
var trapSignals = map[hal.TrapKind]linux.Signal{
	hal.TrapBreakpoint:         linux.SIGTRAP,
	hal.TrapIllegalInstruction: linux.SIGILL,
	hal.TrapException:          linux.SIGBUS,
	hal.TrapUnknown:            linux.SIGSEGV,
}

// trapDispatch handles one trap raised by user code.
type trapDispatch struct {
	t       *UserTask
	trap    hal.Trap
	syscall executor.Future[uintptr]
}

func newTrapDispatch(t *UserTask, trap hal.Trap) *trapDispatch {
	return &trapDispatch{t: t, trap: trap}
}

// Poll implements executor.Future.
func (d *trapDispatch) Poll(cx *executor.PollContext) (controlFlow, bool) {
	if d.syscall != nil {
		return d.pollSyscall(cx)
	}

	t := d.t
	switch d.trap.Kind {
	case hal.TrapSyscall:
		regs := t.Context()
		num := regs.SyscallNumber()
		if num == SigreturnNumber {
			return flowBreak, true
		}

		regs.SyscallOK()
		d.syscall = t.k.sys.Syscall(t.k, t, num, regs.SyscallArgs())
		return d.pollSyscall(cx)
	case hal.TrapStorePageFault, hal.TrapLoadPageFault, hal.TrapInstructionPageFault:
		if !t.k.UserFault(t, d.trap) {
			t.k.log.Debugf("task %d: unresolved %s", t.ID(), d.trap)
			t.SendSignal(linux.SIGSEGV)
		}
	case hal.TrapExternalInterrupt:
		t.k.irq.Dispatch(d.trap.IRQ)
	case hal.TrapTimer:
	default:
		sig, ok := trapSignals[d.trap.Kind]
		if !ok {
			sig = linux.SIGSEGV
		}
		t.k.log.Debugf("task %d: %s raises signal %d", t.ID(), d.trap, sig)
		t.SendSignal(sig)
	}
	return flowContinue, true
}

// pollSyscall drives a syscall future. A pending syscall is abandoned when
// the task exits or a signal that must be handled arrives; the latter
// returns EINTR to user code.
func (d *trapDispatch) pollSyscall(cx *executor.PollContext) (controlFlow, bool) {
	t := d.t
	if ret, ok := d.syscall.Poll(cx); ok {
		t.Context().SetRet(ret)
		return flowContinue, true
	}

	switch {
	case t.exited():
		return flowBreak, true
	case t.interrupted():
		t.Context().SetRet(kernel.Ret(0, ErrInterrupted))
		return flowContinue, true
	}
	return flowContinue, false
}

// trapLoop re-enters user mode until a trap handler breaks out of the loop
// or the task exits. It is the body run while a signal handler executes.
type trapLoop struct {
	t        *UserTask
	dispatch *trapDispatch
	yield    *executor.Yield
	times    int
}

// Poll implements executor.Future.
func (l *trapLoop) Poll(cx *executor.PollContext) (struct{}, bool) {
	for {
		if l.yield != nil {
			if _, ok := l.yield.Poll(cx); !ok {
				return struct{}{}, false
			}
			l.yield = nil
		}

		if l.t.exited() {
			return struct{}{}, true
		}

		if l.dispatch == nil {
			trap := cx.Hart.EnterUser(l.t.mem.table, l.t.Context())
			l.dispatch = newTrapDispatch(l.t, trap)
		}

		flow, ok := l.dispatch.Poll(cx)
		if !ok {
			return struct{}{}, false
		}
		l.dispatch = nil
		if flow == flowBreak {
			return struct{}{}, true
		}

		l.times++
		if l.times >= l.t.k.params.ForcedYieldThreshold {
			l.times = 0
			l.yield = executor.YieldNow()
		}
	}
}
