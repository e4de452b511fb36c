package sys

import (
	"encoding/binary"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/task"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

// cloneSignalMask selects the exit signal in the clone flags.
const cloneSignalMask = 0xff

func sysExit(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	c.t.ThreadExit(int(int32(c.args[0])))
	return 0, nil
}

func sysExitGroup(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	c.t.Exit(int(int32(c.args[0])))
	return 0, nil
}

func sysSetTIDAddress(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	c.t.SetClearChildTID(c.args[0])
	return uintptr(c.t.ID()), nil
}

func sysGetpid(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	return uintptr(c.t.ProcessID()), nil
}

func sysGettid(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	return uintptr(c.t.ID()), nil
}

func sysGetppid(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	parent, ok := c.t.Parent()
	if !ok {
		return 0, errPermission
	}
	return uintptr(parent.ProcessID()), nil
}

func sysSchedYield(*call) executor.Future[uintptr] {
	yield := executor.YieldNow()
	return executor.FutureFunc[uintptr](func(cx *executor.PollContext) (uintptr, bool) {
		_, ok := yield.Poll(cx)
		return 0, ok
	})
}

func sysBrk(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	return c.t.Brk(c.args[0]), nil
}

// sysClone implements clone(flags, stack, ptid, tls, ctid). CLONE_VM
// together with CLONE_THREAD creates a thread; anything else forks a
// process sharing memory copy-on-write.
func sysClone(c *call, h hal.Hart) (uintptr, *kernel.Error) {
	flags, stack, ptid, tls, ctid := c.args[0], c.args[1], c.args[2], c.args[3], c.args[4]

	var child *task.UserTask
	if flags&linux.CLONE_VM != 0 && flags&linux.CLONE_THREAD != 0 {
		child = c.t.CloneThread(stack)
		if flags&linux.CLONE_CHILD_SETTID != 0 {
			if err := c.t.WriteUint32(h, ctid, uint32(child.ID())); err != nil {
				return 0, err
			}
		}
	} else {
		child = c.t.Fork(stack, linux.Signal(flags&cloneSignalMask))
	}

	if flags&linux.CLONE_SETTLS != 0 {
		child.Context().SetReg(hal.RegTP, tls)
	}
	if flags&linux.CLONE_CHILD_CLEARTID != 0 {
		child.SetClearChildTID(ctid)
	}
	if flags&linux.CLONE_PARENT_SETTID != 0 {
		if err := c.t.WriteUint32(h, ptid, uint32(child.ID())); err != nil {
			return 0, err
		}
	}

	c.k.Spawn(child)
	return uintptr(child.ID()), nil
}

// sysWait4 implements wait4(pid, status, options, rusage) for pid -1 and
// exact child ids. The status word holds the exit code in bits 8 to 15.
func sysWait4(c *call) executor.Future[uintptr] {
	pid, status, options := c.int(0), c.args[1], c.args[2]
	if pid < 0 {
		pid = task.AnyChild
	}
	if !c.t.HasChild(pid) {
		return executor.Ready(ret(0, task.ErrNoChild))
	}

	wait := task.WaitPid(c.t, pid)
	return executor.FutureFunc[uintptr](func(cx *executor.PollContext) (uintptr, bool) {
		child, ok := wait.Poll(cx)
		if !ok {
			switch {
			case !c.t.HasChild(pid):
				// Another thread reaped the last matching child.
				return ret(0, task.ErrNoChild), true
			case options&linux.WNOHANG != 0:
				return 0, true
			}
			return 0, false
		}

		id := child.ID()
		if !c.t.Reap(child) {
			return 0, false
		}
		code, _ := child.ExitCode()
		if status != 0 {
			if err := c.t.WriteUint32(cx.Hart, status, uint32(code)<<8); err != nil {
				return ret(0, err), true
			}
		}
		return uintptr(id), true
	})
}

// sysPrlimit64 implements prlimit64(pid, resource, new, old) for the calling
// process.
func sysPrlimit64(c *call, h hal.Hart) (uintptr, *kernel.Error) {
	pid, resource, newAddr, oldAddr := c.int(0), int(c.args[1]), c.args[2], c.args[3]
	if pid != 0 && pid != int64(c.t.ProcessID()) {
		return 0, errPermission
	}

	old, ok := c.t.RLimit(resource)
	if !ok {
		return 0, errInvalid
	}

	if newAddr != 0 {
		var buf [16]byte
		if err := c.t.CopyIn(h, newAddr, buf[:]); err != nil {
			return 0, err
		}
		limit := linux.RLimit{
			Cur: binary.LittleEndian.Uint64(buf[0:]),
			Max: binary.LittleEndian.Uint64(buf[8:]),
		}
		if limit.Cur > limit.Max {
			return 0, errInvalid
		}
		c.t.SetRLimit(resource, limit)
	}

	if oldAddr != 0 {
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:], old.Cur)
		binary.LittleEndian.PutUint64(buf[8:], old.Max)
		if err := c.t.CopyOut(h, oldAddr, buf[:]); err != nil {
			return 0, err
		}
	}
	return 0, nil
}
