// Package hal describes the hardware facilities consumed by the task executor:
// the saved register context of a suspended user thread, the trap events a
// hart reports when user code stops running and the monotonic clock used by
// timed waits.
package hal

import (
	"io"

	"github.com/Byte-OS/ByteOS-sub001/kernel/kfmt"
)

// Register numbers for the riscv64 integer register file.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegGP   = 3
	RegTP   = 4
	RegA0   = 10
	RegA7   = 17

	// NumRegs is the number of integer registers.
	NumRegs = 32

	// SyscallArgCount is the number of syscall arguments passed in registers.
	SyscallArgCount = 6

	instructionSize = 4
)

// Context is the saved register state of a suspended user thread. The
// executor treats it as an opaque register bag.
type Context interface {
	// Reg returns the value of general purpose register i.
	Reg(i int) uintptr

	// SetReg updates general purpose register i.
	SetReg(i int, v uintptr)

	PC() uintptr
	SetPC(pc uintptr)
	SP() uintptr
	SetSP(sp uintptr)
	SetRA(ra uintptr)

	// Arg returns the i-th argument register.
	Arg(i int) uintptr

	// SetArg updates the i-th argument register.
	SetArg(i int, v uintptr)

	// SyscallNumber returns the number of the requested syscall.
	SyscallNumber() uintptr

	// SyscallArgs returns the syscall arguments.
	SyscallArgs() [SyscallArgCount]uintptr

	// SyscallOK moves the program counter past the syscall instruction.
	SyscallOK()

	// SetRet stores a syscall return value.
	SetRet(v uintptr)

	// Clone returns an independent copy of the context.
	Clone() Context

	// CopyFrom overwrites the context with the contents of src.
	CopyFrom(src Context)
}

// Registers contains a snapshot of all register values when a trap occurs.
type Registers struct {
	X [NumRegs]uintptr

	// Sepc holds the address the thread resumes at.
	Sepc uintptr
}

// NewRegisters returns a context that starts executing at pc with the given
// stack pointer.
func NewRegisters(pc, sp uintptr) *Registers {
	r := &Registers{Sepc: pc}
	r.X[RegSP] = sp
	return r
}

// Reg implements Context.
func (r *Registers) Reg(i int) uintptr {
	if i == RegZero {
		return 0
	}
	return r.X[i]
}

// SetReg implements Context. Writes to the zero register are discarded.
func (r *Registers) SetReg(i int, v uintptr) {
	if i != RegZero {
		r.X[i] = v
	}
}

// PC implements Context.
func (r *Registers) PC() uintptr { return r.Sepc }

// SetPC implements Context.
func (r *Registers) SetPC(pc uintptr) { r.Sepc = pc }

// SP implements Context.
func (r *Registers) SP() uintptr { return r.X[RegSP] }

// SetSP implements Context.
func (r *Registers) SetSP(sp uintptr) { r.X[RegSP] = sp }

// SetRA implements Context.
func (r *Registers) SetRA(ra uintptr) { r.X[RegRA] = ra }

// Arg implements Context.
func (r *Registers) Arg(i int) uintptr { return r.X[RegA0+i] }

// SetArg implements Context.
func (r *Registers) SetArg(i int, v uintptr) { r.X[RegA0+i] = v }

// SyscallNumber implements Context.
func (r *Registers) SyscallNumber() uintptr { return r.X[RegA7] }

// SyscallArgs implements Context.
func (r *Registers) SyscallArgs() [SyscallArgCount]uintptr {
	var args [SyscallArgCount]uintptr
	copy(args[:], r.X[RegA0:RegA0+SyscallArgCount])
	return args
}

// SyscallOK implements Context.
func (r *Registers) SyscallOK() { r.Sepc += instructionSize }

// SetRet implements Context.
func (r *Registers) SetRet(v uintptr) { r.X[RegA0] = v }

// Clone implements Context.
func (r *Registers) Clone() Context {
	cp := *r
	return &cp
}

// CopyFrom implements Context.
func (r *Registers) CopyFrom(src Context) {
	if regs, ok := src.(*Registers); ok {
		*r = *regs
		return
	}

	for i := 0; i < NumRegs; i++ {
		r.SetReg(i, src.Reg(i))
	}
	r.Sepc = src.PC()
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "PC  = %16x RA  = %16x\n", r.Sepc, r.X[RegRA])
	kfmt.Fprintf(w, "SP  = %16x GP  = %16x\n", r.X[RegSP], r.X[RegGP])
	kfmt.Fprintf(w, "TP  = %16x\n", r.X[RegTP])
	for i := 0; i < 8; i += 2 {
		kfmt.Fprintf(w, "A%d  = %16x A%d  = %16x\n", i, r.X[RegA0+i], i+1, r.X[RegA0+i+1])
	}
}
