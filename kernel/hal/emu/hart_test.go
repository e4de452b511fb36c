package emu

import (
	"testing"

	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/pmm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/vmm"
)

func newSpace(t *testing.T) (*vmm.Table, *pmm.Pool) {
	pool, err := pmm.NewPool(0, 8)
	if err != nil {
		t.Fatal(err)
	}
	return vmm.NewTable(pool), pool
}

func TestHartSyscallTrap(t *testing.T) {
	space, _ := newSpace(t)
	hart := NewHart(0)

	prog := NewProgram(0x1000).
		Li(hal.RegA0+1, 3).
		Syscall(64, 1, 0x2000)
	if err := hart.Load(prog); err != nil {
		t.Fatal(err)
	}

	cx := hal.NewRegisters(prog.Base(), 0)
	trap := hart.EnterUser(space, cx)
	if trap.Kind != hal.TrapSyscall {
		t.Fatalf("expected a syscall trap; got %v", trap)
	}

	if cx.PC() != prog.End()-instrSize {
		t.Fatalf("expected pc to point at the ecall; got 0x%x", cx.PC())
	}

	if cx.SyscallNumber() != 64 || cx.Arg(0) != 1 || cx.Arg(1) != 0x2000 {
		t.Fatalf("unexpected syscall registers %+v", cx)
	}

	// Running past the end of the text image faults
	cx.SyscallOK()
	if trap = hart.EnterUser(space, cx); trap.Kind != hal.TrapInstructionPageFault || trap.Addr != prog.End() {
		t.Fatalf("expected instruction page fault at 0x%x; got %v", prog.End(), trap)
	}
}

func TestHartStoreFault(t *testing.T) {
	space, pool := newSpace(t)
	frame, _ := pool.AllocFrame()
	_ = space.Map(mm.Page(2), frame, vmm.FlagsUserRX|vmm.FlagCopyOnWrite)

	hart := NewHart(0)
	prog := NewProgram(0x1000).
		Li(5, 0x2010).
		Li(6, 0xcafe).
		Sd(6, 5, 0).
		Ld(7, 5, 0).
		Ebreak()
	if err := hart.Load(prog); err != nil {
		t.Fatal(err)
	}

	cx := hal.NewRegisters(prog.Base(), 0)
	trap := hart.EnterUser(space, cx)
	if trap.Kind != hal.TrapStorePageFault || trap.Addr != 0x2010 {
		t.Fatalf("expected store page fault at 0x2010; got %v", trap)
	}

	// Resolve the fault and retry the faulting store
	if _, err := vmm.CopyOnWrite(space, pool, mm.Page(2)); err != nil {
		t.Fatal(err)
	}

	if trap = hart.EnterUser(space, cx); trap.Kind != hal.TrapBreakpoint {
		t.Fatalf("expected breakpoint; got %v", trap)
	}

	if got := cx.Reg(7); got != 0xcafe {
		t.Fatalf("expected load to observe stored value; got 0x%x", got)
	}
}

func TestHartBranchesAndFuel(t *testing.T) {
	space, _ := newSpace(t)
	hart := NewHart(0)
	hart.SetFuel(16)

	prog := NewProgram(0x1000).
		Li(5, 0).
		Li(6, 3).
		Label("loop").
		Addi(5, 5, 1).
		Bne(5, 6, "loop").
		Mv(10, 5).
		Label("spin").
		J("spin")
	if err := hart.Load(prog); err != nil {
		t.Fatal(err)
	}

	cx := hal.NewRegisters(prog.Base(), 0)
	if trap := hart.EnterUser(space, cx); trap.Kind != hal.TrapTimer {
		t.Fatalf("expected timer trap once fuel runs out; got %v", trap)
	}

	if got := cx.Arg(0); got != 3 {
		t.Fatalf("expected loop to run 3 times; got %d", got)
	}

	if spin, _ := prog.Addr("spin"); cx.PC() != spin {
		t.Fatalf("expected pc to be parked at the spin label; got 0x%x", cx.PC())
	}
}

func TestHartJumpRegisterAndRaise(t *testing.T) {
	space, _ := newSpace(t)
	hart := NewHart(0)

	var called bool
	prog := NewProgram(0x1000).
		Li(hal.RegRA, 0x100c).
		Ret().
		Illegal().
		Exec(func(m *Machine) { called = true }).
		Raise(hal.Trap{Kind: hal.TrapExternalInterrupt, IRQ: 9})
	if err := hart.Load(prog); err != nil {
		t.Fatal(err)
	}

	cx := hal.NewRegisters(prog.Base(), 0)
	trap := hart.EnterUser(space, cx)
	if trap.Kind != hal.TrapExternalInterrupt || trap.IRQ != 9 || !called {
		t.Fatalf("expected ret to skip the illegal instruction; got %v (called: %t)", trap, called)
	}
}

func TestLoadUnknownLabel(t *testing.T) {
	if err := NewHart(0).Load(NewProgram(0).J("nowhere")); err != errUnknownLabel {
		t.Fatalf("expected errUnknownLabel; got %v", err)
	}
}
