package sys

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/task"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

const (
	nanosPerMilli  = 1000000
	microsPerMilli = 1000
	millisPerSec   = 1000
)

// readTimespec reads a struct timespec and returns it in milliseconds.
func readTimespec(t *task.UserTask, cx *executor.PollContext, addr uintptr) (uint64, *kernel.Error) {
	sec, err := t.ReadUint64(cx.Hart, addr)
	if err != nil {
		return 0, err
	}
	nsec, err := t.ReadUint64(cx.Hart, addr+8)
	if err != nil {
		return 0, err
	}
	return sec*millisPerSec + nsec/nanosPerMilli, nil
}

func writeTimespec(t *task.UserTask, h hal.Hart, addr uintptr, ms uint64) *kernel.Error {
	if err := t.WriteUint64(h, addr, ms/millisPerSec); err != nil {
		return err
	}
	return t.WriteUint64(h, addr+8, ms%millisPerSec*nanosPerMilli)
}

func readTimeval(t *task.UserTask, h hal.Hart, addr uintptr) (uint64, *kernel.Error) {
	sec, err := t.ReadUint64(h, addr)
	if err != nil {
		return 0, err
	}
	usec, err := t.ReadUint64(h, addr+8)
	if err != nil {
		return 0, err
	}
	return sec*millisPerSec + usec/microsPerMilli, nil
}

func writeTimeval(t *task.UserTask, h hal.Hart, addr uintptr, ms uint64) *kernel.Error {
	if err := t.WriteUint64(h, addr, ms/millisPerSec); err != nil {
		return err
	}
	return t.WriteUint64(h, addr+8, ms%millisPerSec*microsPerMilli)
}

// sysNanosleep implements nanosleep(req, rem). A signal that must be handled
// ends the sleep early with EINTR and the remaining time stored in rem.
func sysNanosleep(c *call) executor.Future[uintptr] {
	reqAddr, remAddr := c.args[0], c.args[1]
	var (
		deadline uint64
		sleep    executor.Future[executor.Either[struct{}, struct{}]]
	)

	return executor.FutureFunc[uintptr](func(cx *executor.PollContext) (uintptr, bool) {
		clock := c.k.Clock()
		if sleep == nil {
			ms, err := readTimespec(c.t, cx, reqAddr)
			if err != nil {
				return ret(0, err), true
			}
			deadline = clock.NowMillis() + ms
			sleep = executor.Select[struct{}, struct{}](task.WaitSignal(c.t), task.NextTick(clock, deadline))
		}

		res, ok := sleep.Poll(cx)
		if !ok {
			return 0, false
		}
		if !res.IsLeft {
			return 0, true
		}

		if remAddr != 0 {
			var left uint64
			if now := clock.NowMillis(); now < deadline {
				left = deadline - now
			}
			if err := writeTimespec(c.t, cx.Hart, remAddr, left); err != nil {
				return ret(0, err), true
			}
		}
		return ret(0, task.ErrInterrupted), true
	})
}

// sysSetitimer implements setitimer(which, new, old) for ITIMER_REAL.
func sysSetitimer(c *call, h hal.Hart) (uintptr, *kernel.Error) {
	which, newAddr, oldAddr := c.args[0], c.args[1], c.args[2]
	if which != linux.ITIMER_REAL {
		return 0, errPermission
	}

	var interval, value uint64
	if newAddr != 0 {
		var err *kernel.Error
		if interval, err = readTimeval(c.t, h, newAddr); err != nil {
			return 0, err
		}
		if value, err = readTimeval(c.t, h, newAddr+16); err != nil {
			return 0, err
		}
	}

	oldInterval, oldValue := c.t.SetTimer(interval, value)
	if oldAddr != 0 {
		if err := writeTimeval(c.t, h, oldAddr, oldInterval); err != nil {
			return 0, err
		}
		if err := writeTimeval(c.t, h, oldAddr+16, oldValue); err != nil {
			return 0, err
		}
	}
	return 0, nil
}
