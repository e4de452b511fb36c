package kfmt

import "github.com/Byte-OS/ByteOS-sub001/kernel"

const panicRule = "\n-----------------------------------\n"

var (
	// haltFn runs after the panic banner. The default unwinds the calling
	// goroutine with the original value so hosted callers can recover it.
	haltFn = func(v interface{}) { panic(v) }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// asKernelError describes a panic value as a kernel error. It returns nil
// for values without a message.
func asKernelError(e interface{}) *kernel.Error {
	switch t := e.(type) {
	case *kernel.Error:
		return t
	case string:
		return &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		return &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}
	return nil
}

// Panic prints the panic banner for e to the active sink and halts the hart.
// Calls to Panic never return.
func Panic(e interface{}) {
	Printf(panicRule)
	if err := asKernelError(e); err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***" + panicRule)

	if e == nil {
		e = errRuntimePanic
	}
	haltFn(e)
}

// SetHaltHandler installs fn as the halt hook and returns the previous one.
func SetHaltHandler(fn func(interface{})) func(interface{}) {
	prev := haltFn
	haltFn = fn
	return prev
}
