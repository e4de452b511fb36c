package hal

import (
	"fmt"

	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/vmm"
)

// TrapKind classifies the event that transferred control back to the kernel.
type TrapKind uint8

const (
	// TrapUnknown is reported for events the hart could not classify.
	TrapUnknown TrapKind = iota

	// TrapSyscall is raised by the ecall instruction.
	TrapSyscall

	// TrapStorePageFault is raised by a store to a non-present or
	// read-only page.
	TrapStorePageFault

	// TrapLoadPageFault is raised by a load from a non-present page.
	TrapLoadPageFault

	// TrapInstructionPageFault is raised when fetching an instruction from
	// a non-present page.
	TrapInstructionPageFault

	// TrapExternalInterrupt is raised by a device interrupt.
	TrapExternalInterrupt

	// TrapTimer is raised by the timer interrupt.
	TrapTimer

	// TrapBreakpoint is raised by the ebreak instruction.
	TrapBreakpoint

	// TrapIllegalInstruction is raised when decoding an invalid opcode.
	TrapIllegalInstruction

	// TrapException covers the remaining synchronous exceptions.
	TrapException
)

var trapKindNames = [...]string{
	TrapUnknown:              "unknown",
	TrapSyscall:              "syscall",
	TrapStorePageFault:       "store page fault",
	TrapLoadPageFault:        "load page fault",
	TrapInstructionPageFault: "instruction page fault",
	TrapExternalInterrupt:    "external interrupt",
	TrapTimer:                "timer",
	TrapBreakpoint:           "breakpoint",
	TrapIllegalInstruction:   "illegal instruction",
	TrapException:            "exception",
}

// String implements fmt.Stringer.
func (k TrapKind) String() string {
	if int(k) < len(trapKindNames) {
		return trapKindNames[k]
	}
	return fmt.Sprintf("trap(%d)", uint8(k))
}

// Trap describes a trap event delivered by a hart.
type Trap struct {
	Kind TrapKind

	// Addr is the faulting address for page faults and illegal
	// instructions.
	Addr uintptr

	// IRQ is the interrupt line for external interrupts.
	IRQ uint32

	// Code is the raw exception code for TrapException.
	Code uint64
}

// IsPageFault returns true for the page fault kinds that may be resolved by
// copy-on-write or lazy allocation.
func (t Trap) IsPageFault() bool {
	return t.Kind == TrapStorePageFault || t.Kind == TrapInstructionPageFault || t.Kind == TrapLoadPageFault
}

// String implements fmt.Stringer.
func (t Trap) String() string {
	switch {
	case t.IsPageFault(), t.Kind == TrapIllegalInstruction:
		return fmt.Sprintf("%s @ 0x%x", t.Kind, t.Addr)
	case t.Kind == TrapExternalInterrupt:
		return fmt.Sprintf("%s irq %d", t.Kind, t.IRQ)
	case t.Kind == TrapException:
		return fmt.Sprintf("%s code %d", t.Kind, t.Code)
	default:
		return t.Kind.String()
	}
}

// FaultTrap converts an address space access fault into the trap a hart
// raises for it.
func FaultTrap(fault *vmm.Fault) Trap {
	kind := TrapLoadPageFault
	if fault.Write {
		kind = TrapStorePageFault
	}
	return Trap{Kind: kind, Addr: fault.Addr}
}

// Hart is a hardware thread able to run user code.
type Hart interface {
	// ID returns the hart number.
	ID() int

	// EnterUser resumes the user context cx inside space and returns the
	// next trap. The context is updated in place.
	EnterUser(space vmm.AddressSpace, cx Context) Trap
}
