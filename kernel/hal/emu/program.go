package emu

import (
	"encoding/binary"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/vmm"
)

var errUnknownLabel = &kernel.Error{Module: "emu", Message: "branch to unknown label"}

// instrSize is the size of every scripted instruction.
const instrSize = 4

// Machine is the state an instruction operates on.
type Machine struct {
	Space  vmm.AddressSpace
	Cx     hal.Context
	jumped bool
}

// Jump transfers control to pc instead of the next instruction.
func (m *Machine) Jump(pc uintptr) {
	m.Cx.SetPC(pc)
	m.jumped = true
}

// instr is a single scripted instruction. Returning a non-nil trap stops the
// hart; the program counter is left pointing at the trapping instruction.
type instr interface {
	exec(m *Machine) *hal.Trap
}

type instrFunc func(m *Machine) *hal.Trap

func (fn instrFunc) exec(m *Machine) *hal.Trap { return fn(m) }

// branch is an instruction whose target is a label resolved at load time.
type branch struct {
	label  string
	target uintptr
	cond   func(m *Machine) bool
}

func (b *branch) exec(m *Machine) *hal.Trap {
	if b.cond(m) {
		m.Jump(b.target)
	}
	return nil
}

// Program is a list of scripted instructions placed at consecutive
// addresses starting at a base address.
type Program struct {
	base   uintptr
	instrs []instr
	labels map[string]uintptr
}

// NewProgram creates an empty program starting at base.
func NewProgram(base uintptr) *Program {
	return &Program{base: base, labels: make(map[string]uintptr)}
}

// Base returns the address of the first instruction.
func (p *Program) Base() uintptr { return p.base }

// End returns the address following the last instruction.
func (p *Program) End() uintptr { return p.base + uintptr(len(p.instrs))*instrSize }

// Label names the address of the next emitted instruction.
func (p *Program) Label(name string) *Program {
	p.labels[name] = p.End()
	return p
}

// Addr returns the address of a label.
func (p *Program) Addr(name string) (uintptr, bool) {
	addr, ok := p.labels[name]
	return addr, ok
}

func (p *Program) emit(in instr) *Program {
	p.instrs = append(p.instrs, in)
	return p
}

// Li loads an immediate into rd.
func (p *Program) Li(rd int, imm uintptr) *Program {
	return p.emit(instrFunc(func(m *Machine) *hal.Trap {
		m.Cx.SetReg(rd, imm)
		return nil
	}))
}

// Mv copies rs into rd.
func (p *Program) Mv(rd, rs int) *Program {
	return p.emit(instrFunc(func(m *Machine) *hal.Trap {
		m.Cx.SetReg(rd, m.Cx.Reg(rs))
		return nil
	}))
}

// Addi adds an immediate to rs and stores the result in rd.
func (p *Program) Addi(rd, rs int, imm int) *Program {
	return p.emit(instrFunc(func(m *Machine) *hal.Trap {
		m.Cx.SetReg(rd, m.Cx.Reg(rs)+uintptr(imm))
		return nil
	}))
}

// Nop does nothing.
func (p *Program) Nop() *Program {
	return p.emit(instrFunc(func(*Machine) *hal.Trap { return nil }))
}

// Sd stores the 64-bit value of rs at base+off.
func (p *Program) Sd(rs, base int, off int) *Program {
	return p.emit(instrFunc(func(m *Machine) *hal.Trap {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(m.Cx.Reg(rs)))

		addr := m.Cx.Reg(base) + uintptr(off)
		if fault := m.Space.Write(addr, buf[:]); fault != nil {
			// Stores raise store faults even for non-present pages.
			return &hal.Trap{Kind: hal.TrapStorePageFault, Addr: fault.Addr}
		}
		return nil
	}))
}

// Ld loads the 64-bit value at base+off into rd.
func (p *Program) Ld(rd, base int, off int) *Program {
	return p.emit(instrFunc(func(m *Machine) *hal.Trap {
		var buf [8]byte

		addr := m.Cx.Reg(base) + uintptr(off)
		if fault := m.Space.Read(addr, buf[:]); fault != nil {
			trap := hal.FaultTrap(fault)
			return &trap
		}
		m.Cx.SetReg(rd, uintptr(binary.LittleEndian.Uint64(buf[:])))
		return nil
	}))
}

// Beq branches to label if rs1 == rs2.
func (p *Program) Beq(rs1, rs2 int, label string) *Program {
	return p.emit(&branch{label: label, cond: func(m *Machine) bool {
		return m.Cx.Reg(rs1) == m.Cx.Reg(rs2)
	}})
}

// Bne branches to label if rs1 != rs2.
func (p *Program) Bne(rs1, rs2 int, label string) *Program {
	return p.emit(&branch{label: label, cond: func(m *Machine) bool {
		return m.Cx.Reg(rs1) != m.Cx.Reg(rs2)
	}})
}

// Bnez branches to label if rs is not zero.
func (p *Program) Bnez(rs int, label string) *Program {
	return p.Bne(rs, hal.RegZero, label)
}

// J jumps to label.
func (p *Program) J(label string) *Program {
	return p.emit(&branch{label: label, cond: func(*Machine) bool { return true }})
}

// Jr jumps to the address held in rs.
func (p *Program) Jr(rs int) *Program {
	return p.emit(instrFunc(func(m *Machine) *hal.Trap {
		m.Jump(m.Cx.Reg(rs))
		return nil
	}))
}

// Ret returns to the address held in ra.
func (p *Program) Ret() *Program {
	return p.Jr(hal.RegRA)
}

// Ecall raises a syscall trap.
func (p *Program) Ecall() *Program {
	return p.emit(instrFunc(func(*Machine) *hal.Trap {
		return &hal.Trap{Kind: hal.TrapSyscall}
	}))
}

// Syscall loads the syscall number and arguments and raises a syscall trap.
func (p *Program) Syscall(num uintptr, args ...uintptr) *Program {
	p.Li(hal.RegA7, num)
	for i, arg := range args {
		p.Li(hal.RegA0+i, arg)
	}
	return p.Ecall()
}

// Ebreak raises a breakpoint trap.
func (p *Program) Ebreak() *Program {
	return p.emit(instrFunc(func(*Machine) *hal.Trap {
		return &hal.Trap{Kind: hal.TrapBreakpoint}
	}))
}

// Illegal raises an illegal instruction trap.
func (p *Program) Illegal() *Program {
	return p.emit(instrFunc(func(m *Machine) *hal.Trap {
		return &hal.Trap{Kind: hal.TrapIllegalInstruction, Addr: m.Cx.PC()}
	}))
}

// Exec runs fn as an instruction.
func (p *Program) Exec(fn func(m *Machine)) *Program {
	return p.emit(instrFunc(func(m *Machine) *hal.Trap {
		fn(m)
		return nil
	}))
}

// Raise raises trap.
func (p *Program) Raise(trap hal.Trap) *Program {
	return p.emit(instrFunc(func(*Machine) *hal.Trap {
		t := trap
		return &t
	}))
}

// link resolves branch targets.
func (p *Program) link() *kernel.Error {
	for _, in := range p.instrs {
		b, ok := in.(*branch)
		if !ok {
			continue
		}

		target, ok := p.labels[b.label]
		if !ok {
			return errUnknownLabel
		}
		b.target = target
	}
	return nil
}
