package task

import (
	"bytes"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/fs"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/irq"
	"github.com/Byte-OS/ByteOS-sub001/kernel/kfmt"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/vmm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/shm"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

var (
	errFaultOutsideTask     = &kernel.Error{Module: "task", Message: "page fault outside task context"}
	errUnexpectedKernelTrap = &kernel.Error{Module: "task", Message: "unexpected trap in kernel mode"}
)

// SigreturnNumber is the rt_sigreturn syscall number. The control loop
// intercepts it to leave a signal handler.
const SigreturnNumber = 139

// SyscallTable runs system calls on behalf of user tasks. The returned
// future completes with the raw value stored in the return register.
type SyscallTable interface {
	Syscall(k *Kernel, t *UserTask, num uintptr, args [hal.SyscallArgCount]uintptr) executor.Future[uintptr]
}

// Params holds the tunables of the task subsystem.
type Params struct {
	// ForcedYieldThreshold is the number of consecutive traps handled
	// for a task before it is forced to yield.
	ForcedYieldThreshold int

	// FileTableSize is the capacity of each process file table.
	FileTableSize int

	// StackBottom and StackTop delimit the window in which stack pages
	// are allocated on first touch.
	StackBottom uintptr
	StackTop    uintptr

	// ConsolePath is the device bound to the standard streams.
	ConsolePath string
}

// DefaultParams returns the default tunables.
func DefaultParams() Params {
	return Params{
		ForcedYieldThreshold: 50,
		FileTableSize:        fs.DefaultTableSize,
		StackBottom:          0x7ff00000,
		StackTop:             0x7ffff000,
		ConsolePath:          fs.ConsolePath,
	}
}

// Deps lists the collaborators of the task subsystem.
type Deps struct {
	Executor *executor.Executor
	Clock    hal.Clock
	Frames   mm.FrameAllocator
	Shm      *shm.Registry
	IRQ      *irq.Gate
	Opener   fs.Opener
	Syscalls SyscallTable
}

// Kernel ties user tasks to the executor and the rest of the kernel
// services.
type Kernel struct {
	exec   *executor.Executor
	clock  hal.Clock
	frames mm.FrameAllocator
	shm    *shm.Registry
	irq    *irq.Gate
	opener fs.Opener
	sys    SyscallTable
	params Params
	log    kfmt.Logger
}

// New creates a kernel from its collaborators.
func New(deps Deps, params Params) *Kernel {
	return &Kernel{
		exec:   deps.Executor,
		clock:  deps.Clock,
		frames: deps.Frames,
		shm:    deps.Shm,
		irq:    deps.IRQ,
		opener: deps.Opener,
		sys:    deps.Syscalls,
		params: params,
		log:    kfmt.Logger{Module: "task"},
	}
}

// Executor returns the executor driving the tasks.
func (k *Kernel) Executor() *executor.Executor { return k.exec }

// Clock returns the kernel clock.
func (k *Kernel) Clock() hal.Clock { return k.clock }

// Shm returns the shared memory registry.
func (k *Kernel) Shm() *shm.Registry { return k.shm }

// Params returns the tunables of the kernel.
func (k *Kernel) Params() Params { return k.params }

// Spawn schedules the control loop of t.
func (k *Kernel) Spawn(t *UserTask) {
	k.exec.Spawn(t.task, newUserEntry(t))
}

// Lookup returns the live user task with the given id.
func (k *Kernel) Lookup(id executor.ID) (*UserTask, bool) {
	task, ok := k.exec.Table().Lookup(id)
	if !ok {
		return nil, false
	}
	t, ok := task.Extension().(*UserTask)
	return t, ok
}

// FutexWake releases up to n tasks of the process of t waiting on addr.
func (k *Kernel) FutexWake(t *UserTask, addr uintptr, n int) int {
	return t.pcb.futex.Wake(addr, n)
}

// inStack returns true if addr lies in the lazily allocated stack window.
func (k *Kernel) inStack(addr uintptr) bool {
	return addr >= k.params.StackBottom && addr < k.params.StackTop
}

// faultAccess returns the flags a mapping needs to allow the access that
// raised a page fault of the given kind.
func faultAccess(kind hal.TrapKind) vmm.PageTableEntryFlag {
	switch kind {
	case hal.TrapStorePageFault:
		return vmm.FlagPresent | vmm.FlagUser | vmm.FlagRW
	case hal.TrapInstructionPageFault:
		return vmm.FlagPresent | vmm.FlagUser | vmm.FlagExec
	default:
		return vmm.FlagPresent | vmm.FlagUser
	}
}

// UserFault resolves a page fault raised by t. Copy-on-write pages are
// copied on a store while still shared and made writable once t is their
// last owner; addresses inside the stack window get a fresh page. A fault on
// a mapping that already allows the access cannot make progress and is
// reported as unresolved. It returns false if the fault cannot be resolved.
func (k *Kernel) UserFault(t *UserTask, trap hal.Trap) bool {
	addr := trap.Addr
	page := mm.PageFromAddress(addr)
	owner := uint64(t.ID())
	t.mem.lock.Lock(owner)
	defer t.mem.lock.Unlock(owner)

	if track := t.mem.findTrackLocked(page); track != nil {
		if _, flags, mapped := t.mem.table.Lookup(page); mapped {
			if need := faultAccess(trap.Kind); flags&need == need {
				return false
			}
		}

		// Only stores reach a copy-on-write page here.
		if !vmm.IsCopyOnWrite(t.mem.table, page) {
			return t.mem.table.Map(page, track.tracker.Frame(), vmm.FlagsUserRWX) == nil
		}

		if track.tracker.Refs() == 1 {
			return vmm.MakeWritable(t.mem.table, page) == nil
		}

		frame, err := vmm.CopyOnWrite(t.mem.table, k.frames, page)
		if err != nil {
			k.log.Errorf("task %d: copy on write at 0x%x failed: %s", t.ID(), addr, err.Message)
			return false
		}
		track.tracker.Release()
		track.tracker = mm.NewFrameTracker(k.frames, frame)
		return true
	}

	if k.inStack(addr) {
		return t.mem.allocLocked(page, MemStack, 1) == nil
	}
	return false
}

// resolvable returns true if UserFault may resolve a fault at addr.
func (k *Kernel) resolvable(t *UserTask, addr uintptr) bool {
	owner := uint64(t.ID())
	t.mem.lock.Lock(owner)
	defer t.mem.lock.Unlock(owner)
	return t.mem.findTrackLocked(mm.PageFromAddress(addr)) != nil || k.inStack(addr)
}

// KernelInterrupt handles a trap raised while the hart runs kernel code.
// Page faults are resolved on behalf of the task currently polled on the
// hart; a page fault with no current user task or a trap kind the kernel
// never expects halts the kernel.
func (k *Kernel) KernelInterrupt(h hal.Hart, cx hal.Context, trap hal.Trap) {
	switch {
	case trap.IsPageFault():
		t, ok := k.currentTask(h)
		if !ok {
			k.dumpFault(cx, trap)
			kfmt.Panic(errFaultOutsideTask)
			return
		}
		if !k.UserFault(t, trap) {
			t.SendSignal(linux.SIGSEGV)
		}
	case trap.Kind == hal.TrapExternalInterrupt:
		k.irq.Dispatch(trap.IRQ)
	case trap.Kind == hal.TrapTimer:
	default:
		k.log.Errorf("unhandled kernel trap %s", trap)
		k.dumpRegisters(cx)
		kfmt.Panic(errUnexpectedKernelTrap)
	}
}

func (k *Kernel) currentTask(h hal.Hart) (*UserTask, bool) {
	task, ok := k.exec.Current(h.ID())
	if !ok {
		return nil, false
	}
	t, ok := task.Extension().(*UserTask)
	return t, ok
}

func (k *Kernel) dumpFault(cx hal.Context, trap hal.Trap) {
	kfmt.Printf("\nPage fault while accessing address: 0x%x\nReason: %s\n", trap.Addr, vmm.DescribeFault(trap.Kind == hal.TrapStorePageFault, false))
	k.dumpRegisters(cx)
}

func (k *Kernel) dumpRegisters(cx hal.Context) {
	if regs, ok := cx.(*hal.Registers); ok {
		var buf bytes.Buffer
		regs.DumpTo(&buf)
		kfmt.Printf("Registers:\n%s", buf.String())
	}
}
