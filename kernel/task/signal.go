package task

import (
	"encoding/binary"

	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/signal"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

// Layout of the riscv64 ucontext pushed on the user stack for a handler.
const (
	ucontextSigmaskOffset = 40
	ucontextGregsOffset   = 176
	ucontextSize          = 960

	// signalRedZone is skipped below the interrupted stack pointer.
	signalRedZone = 128
)

// signalDelivery runs the action of one signal. Handlers run in user mode on
// a frame pushed below the interrupted stack; the nested trap loop ends when
// the handler calls rt_sigreturn, after which the interrupted context and
// mask are restored.
type signalDelivery struct {
	t   *UserTask
	sig linux.Signal

	started  bool
	saved    hal.Context
	frame    uintptr
	loop     trapLoop
	finished bool
}

func newSignalDelivery(t *UserTask, sig linux.Signal) *signalDelivery {
	return &signalDelivery{t: t, sig: sig}
}

// Poll implements executor.Future.
func (d *signalDelivery) Poll(cx *executor.PollContext) (struct{}, bool) {
	if d.finished {
		return struct{}{}, true
	}

	if !d.started {
		d.started = true
		if !d.setup(cx.Hart) {
			d.finished = true
			return struct{}{}, true
		}
	}

	if _, ok := d.loop.Poll(cx); !ok {
		return struct{}{}, false
	}

	if !d.t.exited() {
		d.restore(cx.Hart)
	}
	d.finished = true
	return struct{}{}, true
}

// setup applies the action of the signal. It returns true if a handler
// frame was pushed and the nested loop must run.
func (d *signalDelivery) setup(h hal.Hart) bool {
	t := d.t
	act := t.SigAction(d.sig)

	switch t.disposition(d.sig) {
	case signal.DispositionTerminate:
		t.k.log.Debugf("task %d terminated by signal %d", t.ID(), d.sig)
		t.ExitWithSignal(d.sig)
		return false
	case signal.DispositionIgnore:
		return false
	}

	t.mu.Lock()
	cx := t.tcb.cx
	oldMask := t.tcb.sigmask
	newMask := oldMask | act.Mask
	if act.Flags&linux.SA_NODEFER == 0 {
		newMask |= linux.SignalSetOf(d.sig)
	}
	t.tcb.sigmask = newMask &^ unmaskable
	t.mu.Unlock()

	d.saved = cx.Clone()
	sp := (cx.SP() - signalRedZone - ucontextSize) &^ 0xf
	d.frame = sp

	var frame [ucontextSize]byte
	binary.LittleEndian.PutUint64(frame[ucontextSigmaskOffset:], uint64(oldMask))
	binary.LittleEndian.PutUint64(frame[ucontextGregsOffset:], uint64(cx.PC()))
	for i := 1; i < hal.NumRegs; i++ {
		binary.LittleEndian.PutUint64(frame[ucontextGregsOffset+8*i:], uint64(cx.Reg(i)))
	}
	if err := t.CopyOut(h, sp, frame[:]); err != nil {
		t.k.log.Warnf("task %d: cannot push signal frame at 0x%x", t.ID(), sp)
		t.ExitWithSignal(linux.SIGSEGV)
		return false
	}

	cx.SetSP(sp)
	cx.SetPC(uintptr(act.Handler))
	cx.SetRA(uintptr(act.Restorer))
	cx.SetArg(0, uintptr(d.sig))
	cx.SetArg(1, 0)
	cx.SetArg(2, sp)

	d.loop = trapLoop{t: t}
	return true
}

// restore reinstates the interrupted context. The program counter and mask
// come from the frame so a handler may rewrite them.
func (d *signalDelivery) restore(h hal.Hart) {
	t := d.t

	var frame [ucontextSize]byte
	if err := t.CopyIn(h, d.frame, frame[:]); err != nil {
		t.ExitWithSignal(linux.SIGSEGV)
		return
	}
	mask := linux.SignalSet(binary.LittleEndian.Uint64(frame[ucontextSigmaskOffset:]))
	pc := uintptr(binary.LittleEndian.Uint64(frame[ucontextGregsOffset:]))

	t.mu.Lock()
	t.tcb.sigmask = mask &^ unmaskable
	cx := t.tcb.cx
	t.mu.Unlock()

	cx.CopyFrom(d.saved)
	cx.SetPC(pc)
}
