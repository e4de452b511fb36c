package sys

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/task"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

// futexCmdMask strips the private and clock flags from a futex operation.
const futexCmdMask = ^uintptr(linux.FUTEX_PRIVATE_FLAG | linux.FUTEX_CLOCK_REALTIME)

// sysFutex implements futex(uaddr, op, val, timeout, uaddr2, val3) for the
// WAIT, WAKE, REQUEUE and CMP_REQUEUE operations.
func sysFutex(c *call) executor.Future[uintptr] {
	addr, op, val := c.args[0], c.args[1]&futexCmdMask, uint32(c.args[2])

	switch op {
	case linux.FUTEX_WAIT:
		return futexWait(c, addr, val, c.args[3])
	case linux.FUTEX_WAKE:
		return executor.Ready(uintptr(c.k.FutexWake(c.t, addr, int(val))))
	case linux.FUTEX_REQUEUE:
		woken := c.t.Futex().Requeue(addr, int(val), c.args[4], int(c.args[3]))
		return executor.Ready(uintptr(woken))
	case linux.FUTEX_CMP_REQUEUE:
		return executor.FutureFunc[uintptr](func(cx *executor.PollContext) (uintptr, bool) {
			current, err := c.t.ReadUint32(cx.Hart, addr)
			switch {
			case err != nil:
				return ret(0, err), true
			case current != uint32(c.args[5]):
				return ret(0, errAgain), true
			}
			return uintptr(c.t.Futex().Requeue(addr, int(val), c.args[4], int(c.args[3]))), true
		})
	default:
		return executor.Ready(ret(0, errNoSys))
	}
}

// futexWait blocks the caller on addr while it holds val. A non-zero
// timeout points to a timespec bounding the wait.
func futexWait(c *call, addr uintptr, val uint32, timeout uintptr) executor.Future[uintptr] {
	var wait executor.Future[executor.Either[*kernel.Error, struct{}]]
	table := c.t.Futex()

	return executor.FutureFunc[uintptr](func(cx *executor.PollContext) (uintptr, bool) {
		if wait == nil {
			current, err := c.t.ReadUint32(cx.Hart, addr)
			switch {
			case err != nil:
				return ret(0, err), true
			case current != val:
				return ret(0, errAgain), true
			}

			deadline := ^uint64(0)
			if timeout != 0 {
				ms, err := readTimespec(c.t, cx, timeout)
				if err != nil {
					return ret(0, err), true
				}
				deadline = c.k.Clock().NowMillis() + ms
			}

			table.Enqueue(addr, c.t.ID())
			wait = executor.Select[*kernel.Error, struct{}](task.WaitFutex(c.t, table), task.NextTick(c.k.Clock(), deadline))
		}

		res, ok := wait.Poll(cx)
		if !ok {
			return 0, false
		}
		if !res.IsLeft {
			table.Remove(c.t.ID())
			return ret(0, errTimedOut), true
		}
		return ret(0, res.Left), true
	})
}
