// Package task implements user tasks on top of the executor: process and
// thread control blocks, the per-task control loop that re-enters user mode,
// signal delivery, futex waits and the copy-on-write fault path.
package task

import (
	"weak"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/fs"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/shm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/signal"
	"gvisor.dev/gvisor/pkg/abi/linux"
	"gvisor.dev/gvisor/pkg/abi/linux/errno"
	"gvisor.dev/gvisor/pkg/sync"
)

var (
	// ErrInterrupted is returned by blocking operations abandoned because
	// a signal became deliverable.
	ErrInterrupted = &kernel.Error{Module: "task", Message: "interrupted system call", Errno: errno.EINTR}

	// ErrFault is returned when a user buffer cannot be accessed.
	ErrFault = &kernel.Error{Module: "task", Message: "bad user address", Errno: errno.EFAULT}

	// ErrNoChild is returned when waiting on a task without matching children.
	ErrNoChild = &kernel.Error{Module: "task", Message: "no child processes", Errno: errno.ECHILD}
)

// unmaskable holds the signals that can never be blocked.
var unmaskable = linux.MakeSignalSet(linux.SIGKILL, linux.SIGSTOP)

// numRLimits covers every RLIMIT_* resource.
const numRLimits = 16

// itimer is the ITIMER_REAL state of a process, in milliseconds.
type itimer struct {
	interval uint64
	next     uint64
	last     uint64
}

// pcb is the state shared by all threads of a process.
type pcb struct {
	mu       sync.Mutex
	files    *fs.FileTable
	children []*UserTask
	threads  []*UserTask
	actions  signal.ActionTable
	futex    *FutexTable
	shms     []*shm.Mapping
	rlimits  [numRLimits]linux.RLimit
	heapBase uintptr
	heap     uintptr
	timer    itimer
	exitSig  linux.Signal
	exitCode int
	exited   bool
	released bool
}

// tcb is the per thread state.
type tcb struct {
	cx             hal.Context
	sigmask        linux.SignalSet
	signals        signal.List
	rtQueue        signal.Queue
	clearChildTID  uintptr
	threadExited   bool
	threadExitCode int
}

// UserTask is a thread running in user mode. Threads of the same process
// share their address space and process control block.
type UserTask struct {
	task   *executor.Task
	k      *Kernel
	tgid   executor.ID
	parent weak.Pointer[UserTask]
	mem    *MemorySpace
	pcb    *pcb

	mu  sync.Mutex
	tcb tcb

	hartMu   sync.Mutex
	lastHart int
}

// NewUserTask creates the main thread of a new process whose standard
// streams are bound to the console device. The task is not scheduled until
// it is passed to Kernel.Spawn.
func (k *Kernel) NewUserTask(parent *UserTask) (*UserTask, *kernel.Error) {
	files, err := fs.NewStdioTable(k.params.FileTableSize, k.opener, k.params.ConsolePath)
	if err != nil {
		return nil, err
	}

	p := &pcb{files: files, futex: NewFutexTable(), exitSig: linux.SIGCHLD}
	p.rlimits[linux.RLIMIT_NOFILE] = linux.RLimit{Cur: uint64(k.params.FileTableSize), Max: uint64(k.params.FileTableSize)}
	p.rlimits[linux.RLIMIT_STACK] = linux.RLimit{Cur: uint64(k.params.StackTop - k.params.StackBottom), Max: linux.RLimInfinity}

	t := k.newTask(p, newMemorySpace(k.frames), parent, 0)
	t.tcb.cx = hal.NewRegisters(0, k.params.StackTop)
	if parent != nil {
		parent.pcb.mu.Lock()
		parent.pcb.children = append(parent.pcb.children, t)
		parent.pcb.mu.Unlock()
	}
	return t, nil
}

// newTask allocates a task id and links the task to its process. A zero
// tgid makes the new task the leader of its own thread group.
func (k *Kernel) newTask(p *pcb, mem *MemorySpace, parent *UserTask, tgid executor.ID) *UserTask {
	t := &UserTask{
		k:        k,
		mem:      mem,
		pcb:      p,
		lastHart: -1,
	}
	if parent != nil {
		t.parent = weak.Make(parent)
	}
	t.task = executor.NewTask(k.exec.AllocID(), executor.KindUser, t)

	t.tgid = tgid
	if tgid == 0 {
		t.tgid = t.task.ID()
	}

	p.mu.Lock()
	p.threads = append(p.threads, t)
	p.mu.Unlock()
	return t
}

// BeforeRun implements executor.Extension.
func (t *UserTask) BeforeRun(h hal.Hart) {
	t.hartMu.Lock()
	t.lastHart = h.ID()
	t.hartMu.Unlock()
}

// LastHart returns the hart that last polled the task or -1.
func (t *UserTask) LastHart() int {
	t.hartMu.Lock()
	defer t.hartMu.Unlock()
	return t.lastHart
}

// ID returns the thread id.
func (t *UserTask) ID() executor.ID { return t.task.ID() }

// ProcessID returns the id of the thread group leader.
func (t *UserTask) ProcessID() executor.ID { return t.tgid }

// Task returns the executor task of the thread.
func (t *UserTask) Task() *executor.Task { return t.task }

// Kernel returns the kernel the task belongs to.
func (t *UserTask) Kernel() *Kernel { return t.k }

// Memory returns the address space of the task.
func (t *UserTask) Memory() *MemorySpace { return t.mem }

// Parent returns the parent task if it is still alive.
func (t *UserTask) Parent() (*UserTask, bool) {
	p := t.parent.Value()
	return p, p != nil
}

// Context returns the saved user register context.
func (t *UserTask) Context() hal.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tcb.cx
}

// Files returns the file table of the process.
func (t *UserTask) Files() *fs.FileTable {
	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()
	return t.pcb.files
}

// Futex returns the futex table of the process.
func (t *UserTask) Futex() *FutexTable {
	return t.pcb.futex
}

// Children returns a snapshot of the children of the process.
func (t *UserTask) Children() []*UserTask {
	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()
	return append([]*UserTask(nil), t.pcb.children...)
}

// SetClearChildTID records the address cleared and woken on thread exit.
func (t *UserTask) SetClearChildTID(addr uintptr) {
	t.mu.Lock()
	t.tcb.clearChildTID = addr
	t.mu.Unlock()
}

// SetExitSignal sets the signal sent to the parent when the process exits.
// A zero signal disables the notification.
func (t *UserTask) SetExitSignal(sig linux.Signal) {
	t.pcb.mu.Lock()
	t.pcb.exitSig = sig
	t.pcb.mu.Unlock()
}

// RLimit returns the limit for resource.
func (t *UserTask) RLimit(resource int) (linux.RLimit, bool) {
	if resource < 0 || resource >= numRLimits {
		return linux.RLimit{}, false
	}
	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()
	return t.pcb.rlimits[resource], true
}

// SetRLimit replaces the limit for resource and returns the previous one.
func (t *UserTask) SetRLimit(resource int, limit linux.RLimit) (linux.RLimit, bool) {
	if resource < 0 || resource >= numRLimits {
		return linux.RLimit{}, false
	}
	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()
	old := t.pcb.rlimits[resource]
	t.pcb.rlimits[resource] = limit
	return old, true
}

// SetTimer arms ITIMER_REAL so that SIGALRM fires value milliseconds from
// now and every interval milliseconds afterwards. A zero value disarms it.
// The remaining time and interval of the previous setting are returned.
func (t *UserTask) SetTimer(interval, value uint64) (oldInterval, oldValue uint64) {
	now := t.k.clock.NowMillis()

	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()

	timer := &t.pcb.timer
	oldInterval = timer.interval
	if timer.next > timer.last && timer.next > now {
		oldValue = timer.next - now
	}

	timer.interval = interval
	if value == 0 {
		timer.next = 0
		timer.last = 0
		return oldInterval, oldValue
	}
	timer.next = now + value
	timer.last = now
	return oldInterval, oldValue
}

// checkTimer raises SIGALRM once the real interval timer expires.
func (t *UserTask) checkTimer() {
	now := t.k.clock.NowMillis()

	t.pcb.mu.Lock()
	timer := &t.pcb.timer
	fired := timer.next > timer.last && now >= timer.next
	if fired {
		timer.last = timer.next
		if timer.interval != 0 {
			timer.next += timer.interval
		}
	}
	t.pcb.mu.Unlock()

	if fired {
		t.SendSignal(linux.SIGALRM)
	}
}

// Brk moves the program break to addr and returns the new break. A zero or
// out of range address leaves the break unchanged.
func (t *UserTask) Brk(addr uintptr) uintptr {
	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()

	if addr == 0 || addr < t.pcb.heapBase || addr <= t.pcb.heap {
		return t.pcb.heap
	}

	mapped := (t.pcb.heap + mm.PageSize - 1) &^ (mm.PageSize - 1)
	if addr > mapped {
		count := int(mm.PageCount(addr - mapped))
		owner := uint64(t.ID())
		t.mem.lock.Lock(owner)
		err := t.mem.allocLocked(mm.PageFromAddress(mapped), MemData, count)
		t.mem.lock.Unlock(owner)
		if err != nil {
			return t.pcb.heap
		}
	}
	t.pcb.heap = addr
	return addr
}

// SetHeapBase places the program break at base.
func (t *UserTask) SetHeapBase(base uintptr) {
	t.pcb.mu.Lock()
	t.pcb.heapBase = base
	t.pcb.heap = base
	t.pcb.mu.Unlock()
}

// Alloc maps count fresh pages at addr.
func (t *UserTask) Alloc(addr uintptr, mtype MemType, count int) *kernel.Error {
	owner := uint64(t.ID())
	t.mem.lock.Lock(owner)
	defer t.mem.lock.Unlock(owner)
	return t.mem.allocLocked(mm.PageFromAddress(addr), mtype, count)
}

// Load copies data into already mapped memory ignoring page protections.
// It is used by program loaders before the task first runs.
func (t *UserTask) Load(addr uintptr, data []byte) *kernel.Error {
	owner := uint64(t.ID())
	t.mem.lock.Lock(owner)
	defer t.mem.lock.Unlock(owner)

	for len(data) != 0 {
		page := mm.PageFromAddress(addr)
		track := t.mem.findTrackLocked(page)
		if track == nil {
			return ErrFault
		}

		offset := addr - page.Address()
		n := copy(track.tracker.Data()[offset:], data)
		data = data[n:]
		addr += uintptr(n)
	}
	return nil
}

// Fork creates a child process that shares the memory of t copy-on-write.
// The child resumes from the same context with a zero return value; a
// non-zero stack replaces its stack pointer.
func (t *UserTask) Fork(stack uintptr, exitSignal linux.Signal) *UserTask {
	parent := t.pcb
	parent.mu.Lock()
	p := &pcb{
		files:    parent.files.Clone(),
		actions:  parent.actions,
		futex:    NewFutexTable(),
		rlimits:  parent.rlimits,
		heapBase: parent.heapBase,
		heap:     parent.heap,
		exitSig:  exitSignal,
	}
	for _, m := range parent.shms {
		p.shms = append(p.shms, m.Clone())
	}
	parent.mu.Unlock()

	child := t.k.newTask(p, newMemorySpace(t.k.frames), t, 0)

	owner := uint64(t.ID())
	t.mem.lock.Lock(owner)
	t.mem.forkLocked(child.mem)
	for _, m := range p.shms {
		child.mem.mapSharedLocked(m.Start(), m.Segment().Frames())
	}
	t.mem.lock.Unlock(owner)

	t.mu.Lock()
	cx := t.tcb.cx.Clone()
	child.tcb.sigmask = t.tcb.sigmask
	t.mu.Unlock()

	cx.SetRet(0)
	if stack != 0 {
		cx.SetSP(stack)
	}
	child.tcb.cx = cx

	parent.mu.Lock()
	parent.children = append(parent.children, child)
	parent.mu.Unlock()

	t.k.log.Debugf("task %d forked child %d", t.ID(), child.ID())
	return child
}

// CloneThread creates a new thread in the process of t. The thread shares
// the address space, file table and signal actions of t.
func (t *UserTask) CloneThread(stack uintptr) *UserTask {
	parent, _ := t.Parent()
	thread := t.k.newTask(t.pcb, t.mem, parent, t.tgid)

	t.mu.Lock()
	cx := t.tcb.cx.Clone()
	thread.tcb.sigmask = t.tcb.sigmask
	t.mu.Unlock()

	cx.SetRet(0)
	if stack != 0 {
		cx.SetSP(stack)
	}
	thread.tcb.cx = cx

	t.k.log.Debugf("task %d cloned thread %d", t.ID(), thread.ID())
	return thread
}

// Exit sets the exit code of the process. Only the first call has an
// effect. Every thread observes the exit at its next check and leaves its
// control loop.
func (t *UserTask) Exit(code int) {
	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()

	if t.pcb.exited {
		return
	}
	t.pcb.exited = true
	t.pcb.exitCode = code
	t.k.log.Debugf("process %d exited with code %d", t.tgid, code)
}

// ExitWithSignal terminates the process as if killed by sig.
func (t *UserTask) ExitWithSignal(sig linux.Signal) {
	t.Exit(128 + int(sig))
}

// ThreadExit ends the calling thread. The process exits with code once its
// last thread is gone.
func (t *UserTask) ThreadExit(code int) {
	t.mu.Lock()
	if !t.tcb.threadExited {
		t.tcb.threadExited = true
		t.tcb.threadExitCode = code
	}
	t.mu.Unlock()
}

// ExitCode returns the exit code of the process once it has been set.
func (t *UserTask) ExitCode() (int, bool) {
	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()
	return t.pcb.exitCode, t.pcb.exited
}

// exited returns true once the thread must leave its control loop.
func (t *UserTask) exited() bool {
	if _, ok := t.ExitCode(); ok {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tcb.threadExited
}

// finish runs once the control loop of the thread ends. It clears and wakes
// the child tid word, and tears the process down when the last thread is
// gone.
func (t *UserTask) finish(h hal.Hart) {
	t.mu.Lock()
	clearTID := t.tcb.clearChildTID
	code := t.tcb.threadExitCode
	t.mu.Unlock()

	if clearTID != 0 {
		var zero [4]byte
		if t.CopyOut(h, clearTID, zero[:]) == nil {
			t.k.FutexWake(t, clearTID, 1)
		}
	}

	p := t.pcb
	p.mu.Lock()
	for i, thread := range p.threads {
		if thread == t {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			break
		}
	}
	last := len(p.threads) == 0 && !p.released
	if last {
		p.released = true
		if !p.exited {
			p.exited = true
			p.exitCode = code
		}
	}
	p.mu.Unlock()

	if last {
		t.releaseProcess()
	}
	if t.ID() != t.tgid {
		t.Release()
	}
}

// releaseProcess frees the resources of an exited process and notifies its
// parent.
func (t *UserTask) releaseProcess() {
	p := t.pcb
	p.mu.Lock()
	files := p.files
	shms := p.shms
	exitSignal := p.exitSig
	p.shms = nil
	p.children = nil
	p.mu.Unlock()

	files.CloseAll()
	owner := uint64(t.ID())
	t.mem.lock.Lock(owner)
	for _, m := range shms {
		t.mem.unmapSharedLocked(m.Start())
		m.Detach()
	}
	t.mem.releaseLocked()
	t.mem.lock.Unlock(owner)

	parent, ok := t.Parent()
	switch {
	case !ok:
		t.k.log.Debugf("process %d has no parent to notify", t.tgid)
	case exitSignal != 0:
		parent.SendSignal(exitSignal)
	}
}

// Reap removes an exited child from the children of t and drops it from the
// task table. It returns false if child was already reaped by another thread
// of the process.
func (t *UserTask) Reap(child *UserTask) bool {
	t.pcb.mu.Lock()
	found := false
	for i, c := range t.pcb.children {
		if c == child {
			t.pcb.children = append(t.pcb.children[:i], t.pcb.children[i+1:]...)
			found = true
			break
		}
	}
	t.pcb.mu.Unlock()

	if found {
		child.Release()
	}
	return found
}

// Release drops the task from the task table. Later lookups by id fail.
func (t *UserTask) Release() {
	t.k.exec.Table().Release(t.ID())
}

// SendSignal marks sig pending for the thread.
func (t *UserTask) SendSignal(sig linux.Signal) {
	t.mu.Lock()
	t.tcb.rtQueue.Enqueue(&t.tcb.signals, sig)
	t.mu.Unlock()
}

// HasSignal returns true if any signal is pending, masked or not.
func (t *UserTask) HasSignal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tcb.signals.HasAny()
}

// PendingSignals returns the set of pending signals.
func (t *UserTask) PendingSignals() linux.SignalSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tcb.signals.Set()
}

// SignalMask returns the blocked signal set.
func (t *UserTask) SignalMask() linux.SignalSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tcb.sigmask
}

// SetSignalMask replaces the blocked signal set and returns the previous
// one. SIGKILL and SIGSTOP cannot be blocked.
func (t *UserTask) SetSignalMask(mask linux.SignalSet) linux.SignalSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.tcb.sigmask
	t.tcb.sigmask = mask &^ unmaskable
	return old
}

// SigAction returns the action installed for sig.
func (t *UserTask) SigAction(sig linux.Signal) linux.SigAction {
	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()
	return t.pcb.actions.Get(sig)
}

// SetSigAction installs act for sig and returns the previous action.
func (t *UserTask) SetSigAction(sig linux.Signal, act linux.SigAction) linux.SigAction {
	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()
	return t.pcb.actions.Set(sig, act)
}

func (t *UserTask) disposition(sig linux.Signal) signal.Disposition {
	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()
	return t.pcb.actions.Disposition(sig)
}

// nextSignal returns the lowest numbered pending signal that is not blocked.
func (t *UserTask) nextSignal() (linux.Signal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deliverable := t.tcb.signals.Mask(t.tcb.sigmask)
	return deliverable.TryPeek()
}

// finishSignal clears sig after it has been handled, re-arming it if more
// realtime instances are queued.
func (t *UserTask) finishSignal(sig linux.Signal) {
	t.mu.Lock()
	t.tcb.signals.Remove(sig)
	t.tcb.rtQueue.Rearm(&t.tcb.signals, sig)
	t.mu.Unlock()
}

// interrupted returns true if a pending signal would run a handler or kill
// the process. Ignored signals never interrupt blocking operations.
func (t *UserTask) interrupted() bool {
	t.mu.Lock()
	deliverable := t.tcb.signals.Mask(t.tcb.sigmask)
	t.mu.Unlock()

	for {
		sig, ok := deliverable.TakeOne()
		if !ok {
			return false
		}
		if t.disposition(sig) != signal.DispositionIgnore {
			return true
		}
	}
}

// AttachShm maps a shared memory segment at start, or at the first free
// address above every other area when start is zero. It returns the address
// of the mapping.
func (t *UserTask) AttachShm(key, start uintptr) (uintptr, bool) {
	owner := uint64(t.ID())
	t.mem.lock.Lock(owner)
	defer t.mem.lock.Unlock(owner)

	if start == 0 {
		start = t.mem.lastFreeAddrLocked()
	}
	m, ok := t.k.shm.Attach(key, start)
	if !ok {
		return 0, false
	}
	t.mem.mapSharedLocked(start, m.Segment().Frames())

	t.pcb.mu.Lock()
	t.pcb.shms = append(t.pcb.shms, m)
	t.pcb.mu.Unlock()
	return start, true
}

// DetachShm removes the shared memory mapping starting at start.
func (t *UserTask) DetachShm(start uintptr) bool {
	t.pcb.mu.Lock()
	var m *shm.Mapping
	for i, candidate := range t.pcb.shms {
		if candidate.Start() == start {
			m = candidate
			t.pcb.shms = append(t.pcb.shms[:i], t.pcb.shms[i+1:]...)
			break
		}
	}
	t.pcb.mu.Unlock()
	if m == nil {
		return false
	}

	owner := uint64(t.ID())
	t.mem.lock.Lock(owner)
	t.mem.unmapSharedLocked(start)
	t.mem.lock.Unlock(owner)
	m.Detach()
	return true
}
