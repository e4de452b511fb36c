// Package emu provides a scripted hart that runs user programs expressed as
// lists of instructions. It lets the executor, trap bridge and syscall layer be
// driven end to end without real hardware.
package emu

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/vmm"
	"gvisor.dev/gvisor/pkg/sync"
)

// DefaultFuel is the number of instructions a hart executes before raising a
// timer interrupt.
const DefaultFuel = 1024

// Hart runs scripted programs. Loaded programs form a text image shared by
// every address space.
type Hart struct {
	id   int
	fuel int

	mu   sync.RWMutex
	text map[uintptr]instr
}

// NewHart creates a hart with an empty text image.
func NewHart(id int) *Hart {
	return &Hart{
		id:   id,
		fuel: DefaultFuel,
		text: make(map[uintptr]instr),
	}
}

// SetFuel sets the number of instructions executed per EnterUser call before
// a timer trap is raised.
func (h *Hart) SetFuel(fuel int) {
	h.fuel = fuel
}

// Load links the program and adds it to the text image.
func (h *Hart) Load(p *Program) *kernel.Error {
	if err := p.link(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, in := range p.instrs {
		h.text[p.base+uintptr(i)*instrSize] = in
	}
	return nil
}

// ID implements hal.Hart.
func (h *Hart) ID() int {
	return h.id
}

// EnterUser implements hal.Hart.
func (h *Hart) EnterUser(space vmm.AddressSpace, cx hal.Context) hal.Trap {
	m := Machine{Space: space, Cx: cx}

	for executed := 0; executed < h.fuel; executed++ {
		pc := cx.PC()
		in, ok := h.fetch(pc)
		if !ok {
			return hal.Trap{Kind: hal.TrapInstructionPageFault, Addr: pc}
		}

		m.jumped = false
		if trap := in.exec(&m); trap != nil {
			return *trap
		}
		if !m.jumped {
			cx.SetPC(pc + instrSize)
		}
	}

	return hal.Trap{Kind: hal.TrapTimer}
}

func (h *Hart) fetch(pc uintptr) (instr, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	in, ok := h.text[pc]
	return in, ok
}
