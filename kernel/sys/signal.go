package sys

import (
	"encoding/binary"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/task"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

// sigactionSize is the size of the user struct sigaction: handler, flags,
// restorer and an 8 byte mask.
const sigactionSize = 32

func validSignal(sig linux.Signal) bool {
	return sig > 0 && sig <= linux.SignalMaximum
}

// lookupTarget resolves the receiver of kill and tkill.
func lookupTarget(c *call, id int64) (*task.UserTask, *kernel.Error) {
	if id <= 0 {
		return nil, errInvalid
	}
	target, ok := c.k.Lookup(executor.ID(id))
	if !ok {
		return nil, errNoProcess
	}
	return target, nil
}

func signalTarget(c *call) (uintptr, *kernel.Error) {
	target, err := lookupTarget(c, c.int(0))
	if err != nil {
		return 0, err
	}

	sig := linux.Signal(c.args[1])
	switch {
	case sig == 0:
		return 0, nil
	case !validSignal(sig):
		return 0, errInvalid
	}
	target.SendSignal(sig)
	return 0, nil
}

func sysKill(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	return signalTarget(c)
}

func sysTkill(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	return signalTarget(c)
}

// sysRtSigaction implements rt_sigaction(sig, act, oldact, sigsetsize).
func sysRtSigaction(c *call, h hal.Hart) (uintptr, *kernel.Error) {
	sig, actAddr, oldAddr := linux.Signal(c.args[0]), c.args[1], c.args[2]
	if !validSignal(sig) {
		return 0, errInvalid
	}

	old := c.t.SigAction(sig)
	if actAddr != 0 {
		if sig == linux.SIGKILL || sig == linux.SIGSTOP {
			return 0, errInvalid
		}

		var buf [sigactionSize]byte
		if err := c.t.CopyIn(h, actAddr, buf[:]); err != nil {
			return 0, err
		}
		c.t.SetSigAction(sig, linux.SigAction{
			Handler:  binary.LittleEndian.Uint64(buf[0:]),
			Flags:    binary.LittleEndian.Uint64(buf[8:]),
			Restorer: binary.LittleEndian.Uint64(buf[16:]),
			Mask:     linux.SignalSet(binary.LittleEndian.Uint64(buf[24:])),
		})
	}

	if oldAddr != 0 {
		var buf [sigactionSize]byte
		binary.LittleEndian.PutUint64(buf[0:], old.Handler)
		binary.LittleEndian.PutUint64(buf[8:], old.Flags)
		binary.LittleEndian.PutUint64(buf[16:], old.Restorer)
		binary.LittleEndian.PutUint64(buf[24:], uint64(old.Mask))
		if err := c.t.CopyOut(h, oldAddr, buf[:]); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// sysRtSigprocmask implements rt_sigprocmask(how, set, oldset, sigsetsize).
func sysRtSigprocmask(c *call, h hal.Hart) (uintptr, *kernel.Error) {
	how, setAddr, oldAddr := c.args[0], c.args[1], c.args[2]

	old := c.t.SignalMask()
	if oldAddr != 0 {
		if err := c.t.WriteUint64(h, oldAddr, uint64(old)); err != nil {
			return 0, err
		}
	}
	if setAddr == 0 {
		return 0, nil
	}

	raw, err := c.t.ReadUint64(h, setAddr)
	if err != nil {
		return 0, err
	}
	set := linux.SignalSet(raw)

	switch how {
	case linux.SIG_BLOCK:
		c.t.SetSignalMask(old | set)
	case linux.SIG_UNBLOCK:
		c.t.SetSignalMask(old &^ set)
	case linux.SIG_SETMASK:
		c.t.SetSignalMask(set)
	default:
		return 0, errInvalid
	}
	return 0, nil
}
