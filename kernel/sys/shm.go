package sys

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

func sysShmget(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	return c.k.Shm().Get(c.args[0], c.args[1], uint32(c.args[2]))
}

// sysShmctl supports IPC_RMID only.
func sysShmctl(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	key, cmd := c.args[0], c.args[1]
	if cmd != linux.IPC_RMID {
		return 0, errInvalid
	}
	if !c.k.Shm().MarkDeleted(key) {
		return 0, errInvalid
	}
	return 0, nil
}

func sysShmat(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	addr, ok := c.t.AttachShm(c.args[0], c.args[1])
	if !ok {
		return 0, errInvalid
	}
	return addr, nil
}

func sysShmdt(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	if !c.t.DetachShm(c.args[0]) {
		return 0, errInvalid
	}
	return 0, nil
}
