// Package irq routes external interrupts to the drivers that registered for
// them.
package irq

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel/kfmt"
	"gvisor.dev/gvisor/pkg/sync"
)

// Handler services an external interrupt.
type Handler func(irq uint32)

// Gate is the external interrupt dispatch table.
type Gate struct {
	mu       sync.Mutex
	handlers map[uint32]Handler
	log      kfmt.Logger
}

// NewGate returns a gate with no registered handlers.
func NewGate() *Gate {
	return &Gate{
		handlers: make(map[uint32]Handler),
		log:      kfmt.Logger{Module: "irq"},
	}
}

// Handle ensures that the provided handler will be invoked when irq fires.
// Registering a handler for an irq replaces the previous one.
func (g *Gate) Handle(irq uint32, handler Handler) {
	g.mu.Lock()
	g.handlers[irq] = handler
	g.mu.Unlock()
}

// Dispatch invokes the handler registered for irq. It returns false if no
// handler exists.
func (g *Gate) Dispatch(irq uint32) bool {
	g.mu.Lock()
	handler, ok := g.handlers[irq]
	g.mu.Unlock()

	if !ok {
		g.log.Warnf("no handler registered for irq %d", irq)
		return false
	}

	handler(irq)
	return true
}
