package task

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/fs"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal/emu"
	"github.com/Byte-OS/ByteOS-sub001/kernel/irq"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/pmm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/vmm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/shm"
	"gvisor.dev/gvisor/pkg/abi/linux"
	"gvisor.dev/gvisor/pkg/abi/linux/errno"
)

const (
	testText = 0x10000
	testData = 0x20000

	// numbers understood by testSyscalls
	testSysExit  = 93
	testSysBlock = 400
	testSysTrace = 401
)

type syscallFunc func(k *Kernel, t *UserTask, num uintptr, args [hal.SyscallArgCount]uintptr) executor.Future[uintptr]

func (fn syscallFunc) Syscall(k *Kernel, t *UserTask, num uintptr, args [hal.SyscallArgCount]uintptr) executor.Future[uintptr] {
	return fn(k, t, num, args)
}

// testSyscalls implements exit, a call that never completes and a call that
// records the id of its caller.
func testSyscalls(trace *[]executor.ID) SyscallTable {
	return syscallFunc(func(_ *Kernel, t *UserTask, num uintptr, args [hal.SyscallArgCount]uintptr) executor.Future[uintptr] {
		switch num {
		case testSysExit:
			t.ThreadExit(int(int32(args[0])))
			return executor.Ready[uintptr](0)
		case testSysBlock:
			return executor.FutureFunc[uintptr](func(*executor.PollContext) (uintptr, bool) { return 0, false })
		case testSysTrace:
			*trace = append(*trace, t.ID())
			return executor.Ready[uintptr](0)
		}
		return executor.Ready(kernel.Ret(0, &kernel.Error{Module: "test", Errno: errno.ENOSYS}))
	})
}

type testEnv struct {
	k     *Kernel
	hart  *emu.Hart
	pool  *pmm.Pool
	clock *hal.ManualClock
	out   bytes.Buffer
	trace []executor.ID
}

func newTestEnv(t *testing.T, params Params) *testEnv {
	pool, err := pmm.NewPool(0, 64)
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{hart: emu.NewHart(0), pool: pool, clock: &hal.ManualClock{}}
	devices := fs.NewDeviceFS()
	devices.Register(fs.ConsolePath, fs.NewConsole(&env.out), false)

	env.k = New(Deps{
		Executor: executor.New(executor.NewTaskTable()),
		Clock:    env.clock,
		Frames:   pool,
		Shm:      shm.NewRegistry(pool),
		IRQ:      irq.NewGate(),
		Opener:   devices,
		Syscalls: testSyscalls(&env.trace),
	}, params)
	return env
}

// process creates a process running prog with one data page at testData.
func (env *testEnv) process(t *testing.T, prog *emu.Program) *UserTask {
	if prog != nil {
		if err := env.hart.Load(prog); err != nil {
			t.Fatal(err)
		}
	}

	ut, err := env.k.NewUserTask(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = ut.Alloc(testData, MemData, 1); err != nil {
		t.Fatal(err)
	}
	if prog != nil {
		ut.Context().SetPC(prog.Base())
	}
	return ut
}

func (env *testEnv) readData(t *testing.T, ut *UserTask, off uintptr) uint64 {
	var buf [8]byte
	if fault := ut.Memory().Table().Read(testData+off, buf[:]); fault != nil {
		t.Fatal(fault)
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func TestUserTaskExit(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	free := env.pool.FreeCount()

	prog := emu.NewProgram(testText).Syscall(testSysExit, 7)
	ut := env.process(t, prog)
	env.k.Spawn(ut)
	env.k.Executor().RunUntilIdle(env.hart)

	if code, ok := ut.ExitCode(); !ok || code != 7 {
		t.Fatalf("expected exit code 7; got %d, %t", code, ok)
	}

	if got := env.pool.FreeCount(); got != free {
		t.Fatalf("expected the process memory to be released; %d frames free, expected %d", got, free)
	}

	if ut.LastHart() != env.hart.ID() {
		t.Fatalf("expected the task to record hart %d; got %d", env.hart.ID(), ut.LastHart())
	}

	// The leader stays visible until its parent reaps it
	if _, ok := env.k.Lookup(ut.ID()); !ok {
		t.Fatal("expected an unreaped process to stay in the task table")
	}
	ut.Release()
	if _, ok := env.k.Lookup(ut.ID()); ok {
		t.Fatal("expected lookup to fail after release")
	}
}

func TestForkCopyOnWrite(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	parent := env.process(t, nil)
	if err := parent.Load(testData, []byte{0xaa}); err != nil {
		t.Fatal(err)
	}

	child := parent.Fork(0, linux.SIGCHLD)
	if ret := child.Context().Arg(0); ret != 0 {
		t.Fatalf("expected the child to observe a zero return value; got %d", ret)
	}
	if got := parent.Children(); len(got) != 1 || got[0] != child {
		t.Fatalf("expected the child to be linked to its parent; got %v", got)
	}

	page := mm.PageFromAddress(testData)
	for _, ut := range []*UserTask{parent, child} {
		if !vmm.IsCopyOnWrite(ut.Memory().Table(), page) {
			t.Fatalf("expected task %d to map the data page copy-on-write", ut.ID())
		}
	}

	// First writer gets a private copy
	if !env.k.UserFault(parent, storeFault(testData)) {
		t.Fatal("expected the parent fault to be resolved")
	}
	if fault := parent.Memory().Table().Write(testData, []byte{0xbb}); fault != nil {
		t.Fatalf("expected the parent write to succeed; got %v", fault)
	}

	parentFrame, _, _ := parent.Memory().Table().Lookup(page)
	childFrame, _, _ := child.Memory().Table().Lookup(page)
	if parentFrame == childFrame {
		t.Fatal("expected the parent to own a private copy of the page")
	}
	if got := env.readData(t, child, 0); got != 0xaa {
		t.Fatalf("expected the child to keep the original contents; got 0x%x", got)
	}

	// The last owner is made writable in place
	if !env.k.UserFault(child, storeFault(testData)) {
		t.Fatal("expected the child fault to be resolved")
	}
	if frame, flags, _ := child.Memory().Table().Lookup(page); frame != childFrame || flags&vmm.FlagRW == 0 {
		t.Fatalf("expected the child to keep frame %d writable; got %d with flags %d", childFrame, frame, flags)
	}
}

func storeFault(addr uintptr) hal.Trap {
	return hal.Trap{Kind: hal.TrapStorePageFault, Addr: addr}
}

func TestUserFaultStackWindow(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	ut := env.process(t, nil)

	params := env.k.Params()
	if !env.k.UserFault(ut, storeFault(params.StackTop-8)) {
		t.Fatal("expected a stack fault to allocate a page")
	}
	if _, _, ok := ut.Memory().Table().Lookup(mm.PageFromAddress(params.StackTop - 8)); !ok {
		t.Fatal("expected the stack page to be mapped")
	}

	for _, addr := range []uintptr{params.StackTop, params.StackBottom - 1, 0x100} {
		if env.k.UserFault(ut, storeFault(addr)) {
			t.Fatalf("expected a fault at 0x%x to be unresolvable", addr)
		}
	}
}

func TestUserFaultOnPermittedMapping(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	ut := env.process(t, nil)
	child := ut.Fork(0, linux.SIGCHLD)

	specs := []struct {
		kind   hal.TrapKind
		expCoW bool
	}{
		// The private copy allows every access once made writable.
		{hal.TrapLoadPageFault, false},
		{hal.TrapInstructionPageFault, false},
		{hal.TrapStorePageFault, true},
		{hal.TrapStorePageFault, false},
	}

	for specIndex, spec := range specs {
		got := env.k.UserFault(child, hal.Trap{Kind: spec.kind, Addr: testData})
		if got != spec.expCoW {
			t.Fatalf("[spec %d] expected %s to be resolved: %t; got %t", specIndex, spec.kind, spec.expCoW, got)
		}
	}

	if _, flags, _ := child.Memory().Table().Lookup(mm.PageFromAddress(testData)); flags&vmm.FlagRW == 0 {
		t.Fatal("expected the store to leave the page writable")
	}
}

func TestRepeatedFaultRaisesSIGSEGV(t *testing.T) {
	env := newTestEnv(t, DefaultParams())

	// Jumping into the data page faults on every fetch although the page
	// is mapped executable.
	prog := emu.NewProgram(testText).
		Li(5, testData).
		Jr(5)
	ut := env.process(t, prog)
	env.k.Spawn(ut)

	for polls := 0; polls < 1000 && env.k.Executor().RunOnce(env.hart); polls++ {
	}

	if code, ok := ut.ExitCode(); !ok || code != 128+int(linux.SIGSEGV) {
		t.Fatalf("expected the task to be killed by SIGSEGV; got %d, %t", code, ok)
	}
}

func TestUserPageFaultRaisesSIGSEGV(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	prog := emu.NewProgram(testText).
		Li(5, 0x300000).
		Sd(5, 5, 0)
	ut := env.process(t, prog)
	env.k.Spawn(ut)
	env.k.Executor().RunUntilIdle(env.hart)

	if code, _ := ut.ExitCode(); code != 128+int(linux.SIGSEGV) {
		t.Fatalf("expected the task to be killed by SIGSEGV; got exit code %d", code)
	}
}

func TestSignalHandlerDelivery(t *testing.T) {
	env := newTestEnv(t, DefaultParams())

	var (
		ut             *UserTask
		gotSP          uintptr
		gotHandlerMask linux.SignalSet
		gotStored      uint64
	)
	prog := emu.NewProgram(testText).
		Label("main").
		Exec(func(m *emu.Machine) {
			// The data page is gone once the process exits.
			var buf [8]byte
			_ = m.Space.Read(testData, buf[:])
			gotStored = binary.LittleEndian.Uint64(buf[:])
		}).
		Syscall(testSysExit, 0).
		Label("handler").
		Exec(func(m *emu.Machine) {
			gotSP = m.Cx.Arg(2)
			gotHandlerMask = ut.SignalMask()
		}).
		Li(5, testData).
		Sd(hal.RegA0, 5, 0).
		Ret().
		Label("restorer").
		Syscall(SigreturnNumber)
	ut = env.process(t, prog)

	handler, _ := prog.Addr("handler")
	restorer, _ := prog.Addr("restorer")
	ut.SetSigAction(linux.SIGUSR1, linux.SigAction{Handler: uint64(handler), Restorer: uint64(restorer)})
	ut.SendSignal(linux.SIGUSR1)

	env.k.Spawn(ut)
	env.k.Executor().RunUntilIdle(env.hart)

	if gotStored != uint64(linux.SIGUSR1) {
		t.Fatalf("expected the handler to store the signal number; got %d", gotStored)
	}
	if gotSP == 0 || gotSP%16 != 0 || gotSP >= env.k.Params().StackTop {
		t.Fatalf("expected an aligned signal frame below the stack top; got 0x%x", gotSP)
	}
	if gotHandlerMask&linux.SignalSetOf(linux.SIGUSR1) == 0 {
		t.Fatalf("expected SIGUSR1 to be blocked while its handler runs; got mask %x", gotHandlerMask)
	}
	if code, ok := ut.ExitCode(); !ok || code != 0 {
		t.Fatalf("expected main to resume and exit with 0; got %d, %t", code, ok)
	}
	if ut.HasSignal() {
		t.Fatal("expected the delivered signal to be cleared")
	}
	if ut.SignalMask() != 0 {
		t.Fatalf("expected the signal mask to be restored; got %x", ut.SignalMask())
	}
}

func TestDefaultSignalDisposition(t *testing.T) {
	specs := []struct {
		sig     linux.Signal
		expCode int
	}{
		{linux.SIGUSR1, 128 + int(linux.SIGUSR1)},
		{linux.SIGCHLD, 3},
	}

	for _, spec := range specs {
		env := newTestEnv(t, DefaultParams())
		ut := env.process(t, emu.NewProgram(testText).Syscall(testSysExit, 3))
		ut.SendSignal(spec.sig)
		env.k.Spawn(ut)
		env.k.Executor().RunUntilIdle(env.hart)

		if code, _ := ut.ExitCode(); code != spec.expCode {
			t.Fatalf("signal %d: expected exit code %d; got %d", spec.sig, spec.expCode, code)
		}
	}
}

func TestBlockedSyscallInterruptedBySignal(t *testing.T) {
	env := newTestEnv(t, DefaultParams())

	var gotRet uintptr
	prog := emu.NewProgram(testText).
		Syscall(testSysBlock).
		Exec(func(m *emu.Machine) { gotRet = m.Cx.Arg(0) }).
		Syscall(testSysExit, 0).
		Label("handler").
		Ret().
		Label("restorer").
		Syscall(SigreturnNumber)
	ut := env.process(t, prog)
	handler, _ := prog.Addr("handler")
	restorer, _ := prog.Addr("restorer")
	ut.SetSigAction(linux.SIGUSR2, linux.SigAction{Handler: uint64(handler), Restorer: uint64(restorer)})

	env.k.Spawn(ut)
	exec := env.k.Executor()
	for i := 0; i < 3; i++ {
		exec.RunOnce(env.hart)
	}
	if _, ok := ut.ExitCode(); ok {
		t.Fatal("expected the task to stay blocked")
	}

	// Ignored signals do not interrupt the call
	ut.SendSignal(linux.SIGCHLD)
	exec.RunOnce(env.hart)
	if _, ok := ut.ExitCode(); ok {
		t.Fatal("expected an ignored signal to leave the call blocked")
	}

	ut.SendSignal(linux.SIGUSR2)
	exec.RunUntilIdle(env.hart)

	if exp := kernel.Ret(0, ErrInterrupted); gotRet != exp {
		t.Fatalf("expected the blocked call to return EINTR; got %d", int64(gotRet))
	}
	if code, ok := ut.ExitCode(); !ok || code != 0 {
		t.Fatalf("expected a clean exit; got %d, %t", code, ok)
	}
}

func TestForcedYield(t *testing.T) {
	params := DefaultParams()
	params.ForcedYieldThreshold = 3
	env := newTestEnv(t, params)

	prog := emu.NewProgram(testText).
		Label("loop").
		Syscall(testSysTrace).
		J("loop")
	a := env.process(t, prog)
	b := env.process(t, nil)
	b.Context().SetPC(prog.Base())

	env.k.Spawn(a)
	env.k.Spawn(b)
	exec := env.k.Executor()
	for i := 0; i < 3; i++ {
		exec.RunOnce(env.hart)
	}

	exp := []executor.ID{a.ID(), a.ID(), a.ID(), b.ID(), b.ID(), b.ID(), a.ID(), a.ID(), a.ID()}
	if len(env.trace) != len(exp) {
		t.Fatalf("expected %d traced calls; got %v", len(exp), env.trace)
	}
	for i := range exp {
		if env.trace[i] != exp[i] {
			t.Fatalf("expected trace %v; got %v", exp, env.trace)
		}
	}

	a.Exit(0)
	b.Exit(0)
	exec.RunUntilIdle(env.hart)
	if exec.Pending() != 0 {
		t.Fatal("expected exited tasks to leave the ready queue")
	}
}


func TestCheckTimer(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	ut := env.process(t, nil)
	alarm := linux.SignalSetOf(linux.SIGALRM)

	ut.SetTimer(50, 100)
	env.clock.Advance(99)
	ut.checkTimer()
	if ut.PendingSignals()&alarm != 0 {
		t.Fatal("expected no SIGALRM before the deadline")
	}

	env.clock.Advance(1)
	ut.checkTimer()
	if ut.PendingSignals()&alarm == 0 {
		t.Fatal("expected SIGALRM once the deadline passed")
	}
	ut.finishSignal(linux.SIGALRM)

	// The interval re-arms the timer
	env.clock.Advance(50)
	ut.checkTimer()
	if ut.PendingSignals()&alarm == 0 {
		t.Fatal("expected SIGALRM after the interval")
	}
	ut.finishSignal(linux.SIGALRM)

	if interval, value := ut.SetTimer(0, 0); interval != 50 || value != 50 {
		t.Fatalf("expected the previous setting to be 50/50; got %d/%d", interval, value)
	}
	env.clock.Advance(1000)
	ut.checkTimer()
	if ut.HasSignal() {
		t.Fatal("expected a disarmed timer to stay silent")
	}
}

func TestWaitPid(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	parent := env.process(t, nil)
	c1 := parent.Fork(0, linux.SIGCHLD)
	c2 := parent.Fork(0, linux.SIGCHLD)
	cx := &executor.PollContext{Hart: env.hart}

	anyChild := WaitPid(parent, AnyChild)
	if _, ok := anyChild.Poll(cx); ok {
		t.Fatal("expected the wait to be pending while no child exited")
	}

	c2.Exit(9)
	if got, ok := anyChild.Poll(cx); !ok || got != c2 {
		t.Fatalf("expected the wait to yield the exited child %d; got %v", c2.ID(), got)
	}

	first := WaitPid(parent, int64(c1.ID()))
	if _, ok := first.Poll(cx); ok {
		t.Fatal("expected a wait on a running child to be pending")
	}
	c1.Exit(1)
	if got, ok := first.Poll(cx); !ok || got != c1 {
		t.Fatalf("expected the wait to yield child %d; got %v", c1.ID(), got)
	}

	if !parent.Reap(c2) {
		t.Fatal("expected the first reap to claim the child")
	}
	if parent.HasChild(int64(c2.ID())) {
		t.Fatal("expected a reaped child to be unlinked")
	}
	if parent.Reap(c2) {
		t.Fatal("expected a second reap of the same child to fail")
	}
	if _, ok := env.k.Lookup(c2.ID()); ok {
		t.Fatal("expected a reaped child to leave the task table")
	}
}

func TestWaitFutex(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	ut := env.process(t, nil)
	table := ut.Futex()
	cx := &executor.PollContext{Hart: env.hart}

	table.Enqueue(0x100, ut.ID())
	wait := WaitFutex(ut, table)
	for i := 0; i < 3; i++ {
		if _, ok := wait.Poll(cx); ok {
			t.Fatal("expected the wait to be pending before a wake")
		}
	}

	if got := env.k.FutexWake(ut, 0x100, 1); got != 1 {
		t.Fatalf("expected 1 woken task; got %d", got)
	}
	if err, ok := wait.Poll(cx); !ok || err != nil {
		t.Fatalf("expected the wait to complete after the wake; got %v, %t", err, ok)
	}

	table.Enqueue(0x100, ut.ID())
	wait = WaitFutex(ut, table)
	ut.SendSignal(linux.SIGUSR1)
	if err, ok := wait.Poll(cx); !ok || err != ErrInterrupted {
		t.Fatalf("expected the wait to be interrupted; got %v, %t", err, ok)
	}
	if table.Contains(ut.ID()) {
		t.Fatal("expected an interrupted waiter to leave the table")
	}
}

func TestNextTickAndWaitSignal(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	ut := env.process(t, nil)
	cx := &executor.PollContext{Hart: env.hart}

	env.clock.Set(10)
	tick := NextTick(env.clock, 15)
	if _, ok := tick.Poll(cx); ok {
		t.Fatal("expected the tick to be pending before the deadline")
	}
	env.clock.Advance(5)
	if _, ok := tick.Poll(cx); !ok {
		t.Fatal("expected the tick to complete at the deadline")
	}

	sig := WaitSignal(ut)
	ut.SendSignal(linux.SIGCHLD)
	if _, ok := sig.Poll(cx); ok {
		t.Fatal("expected an ignored signal not to complete the wait")
	}
	ut.SendSignal(linux.SIGTERM)
	if _, ok := sig.Poll(cx); !ok {
		t.Fatal("expected SIGTERM to complete the wait")
	}
}

func TestKernelInterruptWithoutTask(t *testing.T) {
	env := newTestEnv(t, DefaultParams())

	defer func() {
		if err := recover(); err != errFaultOutsideTask {
			t.Fatalf("expected a kernel panic with errFaultOutsideTask; got %v", err)
		}
	}()

	env.k.KernelInterrupt(env.hart, hal.NewRegisters(0x1000, 0), hal.Trap{Kind: hal.TrapStorePageFault, Addr: 0xdead})
	t.Fatal("expected KernelInterrupt to panic")
}

func TestKernelInterruptUnexpectedTrap(t *testing.T) {
	specs := []hal.TrapKind{hal.TrapIllegalInstruction, hal.TrapSyscall, hal.TrapUnknown}

	for specIndex, kind := range specs {
		func() {
			env := newTestEnv(t, DefaultParams())
			defer func() {
				if err := recover(); err != errUnexpectedKernelTrap {
					t.Fatalf("[spec %d] expected a kernel panic with errUnexpectedKernelTrap; got %v", specIndex, err)
				}
			}()

			env.k.KernelInterrupt(env.hart, hal.NewRegisters(0x1000, 0), hal.Trap{Kind: kind})
			t.Fatalf("[spec %d] expected KernelInterrupt to panic", specIndex)
		}()
	}

	// Timer ticks taken in kernel mode are harmless.
	env := newTestEnv(t, DefaultParams())
	env.k.KernelInterrupt(env.hart, hal.NewRegisters(0x1000, 0), hal.Trap{Kind: hal.TrapTimer})
}

func TestKernelInterruptDispatchesIRQ(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	gate := irq.NewGate()
	env.k.irq = gate

	var got uint32
	gate.Handle(5, func(irq uint32) { got = irq })
	env.k.KernelInterrupt(env.hart, hal.NewRegisters(0, 0), hal.Trap{Kind: hal.TrapExternalInterrupt, IRQ: 5})
	if got != 5 {
		t.Fatalf("expected irq 5 to be dispatched; got %d", got)
	}
}

func TestThreadExitClearsChildTID(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	prog := emu.NewProgram(testText).Syscall(testSysExit, 0)
	leader := env.process(t, prog)
	if err := leader.Load(testData, []byte{0xff, 0xff, 0xff, 0xff}); err != nil {
		t.Fatal(err)
	}

	thread := leader.CloneThread(0)
	if thread.ProcessID() != leader.ID() {
		t.Fatalf("expected the thread to join process %d; got %d", leader.ID(), thread.ProcessID())
	}
	thread.SetClearChildTID(testData)
	leader.Futex().Enqueue(testData, leader.ID())

	env.k.Spawn(thread)
	env.k.Executor().RunUntilIdle(env.hart)

	if got := env.readData(t, leader, 0); got != 0 {
		t.Fatalf("expected the child tid word to be cleared; got 0x%x", got)
	}
	if got := leader.Futex().Waiters(testData); got != 0 {
		t.Fatalf("expected the waiter to be woken; got %d waiters", got)
	}
	if _, ok := env.k.Lookup(thread.ID()); ok {
		t.Fatal("expected the exited thread to leave the task table")
	}
	if _, ok := leader.ExitCode(); ok {
		t.Fatal("expected the process to outlive one of its threads")
	}
}

func TestShmAttachAcrossFork(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	ut := env.process(t, nil)

	key, err := env.k.Shm().Get(0, mm.PageSize, linux.IPC_CREAT)
	if err != nil {
		t.Fatal(err)
	}
	addr, ok := ut.AttachShm(key, 0)
	if !ok || addr != shmBase {
		t.Fatalf("expected the segment to be attached at 0x%x; got 0x%x, %t", uintptr(shmBase), addr, ok)
	}
	if fault := ut.Memory().Table().Write(addr, []byte{1}); fault != nil {
		t.Fatalf("expected shared memory to be writable; got %v", fault)
	}

	child := ut.Fork(0, linux.SIGCHLD)
	seg, _ := env.k.Shm().Lookup(key)
	if got := seg.Mappings(); got != 2 {
		t.Fatalf("expected 2 mappings after fork; got %d", got)
	}

	page := mm.PageFromAddress(addr)
	parentFrame, _, _ := ut.Memory().Table().Lookup(page)
	childFrame, flags, _ := child.Memory().Table().Lookup(page)
	if childFrame != parentFrame || flags&vmm.FlagShared == 0 || flags&vmm.FlagCopyOnWrite != 0 {
		t.Fatalf("expected the child to share frame %d; got %d with flags %d", parentFrame, childFrame, flags)
	}

	if !ut.DetachShm(addr) || ut.DetachShm(addr) {
		t.Fatal("expected exactly one successful detach")
	}
	env.k.Shm().MarkDeleted(key)
	if _, ok := env.k.Shm().Lookup(key); !ok {
		t.Fatal("expected the segment to survive while the child maps it")
	}

	child.finish(env.hart)
	if _, ok := env.k.Shm().Lookup(key); ok {
		t.Fatal("expected the segment to be removed after the last detach")
	}
}

func TestBrk(t *testing.T) {
	env := newTestEnv(t, DefaultParams())
	ut := env.process(t, nil)
	ut.SetHeapBase(0x30000)

	specs := []struct {
		addr, exp uintptr
	}{
		{0, 0x30000},
		{0x30010, 0x30010},
		{0x20000, 0x30010},
		{0x32000, 0x32000},
	}
	for i, spec := range specs {
		if got := ut.Brk(spec.addr); got != spec.exp {
			t.Fatalf("[spec %d] expected break 0x%x; got 0x%x", i, spec.exp, got)
		}
	}

	for _, addr := range []uintptr{0x30000, 0x31000} {
		if _, _, ok := ut.Memory().Table().Lookup(mm.PageFromAddress(addr)); !ok {
			t.Fatalf("expected heap page 0x%x to be mapped", addr)
		}
	}
}
