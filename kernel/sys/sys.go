// Package sys implements the system call table of user tasks. Handlers
// return futures: calls that cannot complete immediately stay pending and are
// polled again by the executor on its next pass.
package sys

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/fs"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/kfmt"
	"github.com/Byte-OS/ByteOS-sub001/kernel/task"
	"gvisor.dev/gvisor/pkg/abi/linux/errno"
)

var (
	errNoSys      = &kernel.Error{Module: "sys", Message: "function not implemented", Errno: errno.ENOSYS}
	errInvalid    = &kernel.Error{Module: "sys", Message: "invalid argument", Errno: errno.EINVAL}
	errAgain      = &kernel.Error{Module: "sys", Message: "resource temporarily unavailable", Errno: errno.EAGAIN}
	errTimedOut   = &kernel.Error{Module: "sys", Message: "timed out", Errno: errno.ETIMEDOUT}
	errNoProcess  = &kernel.Error{Module: "sys", Message: "no such process", Errno: errno.ESRCH}
	errPermission = &kernel.Error{Module: "sys", Message: "operation not permitted", Errno: errno.EPERM}
)

// maxIOSize bounds the bytes moved by a single read or write.
const maxIOSize = 1 << 20

// call carries the arguments of one system call.
type call struct {
	k    *task.Kernel
	t    *task.UserTask
	args [hal.SyscallArgCount]uintptr
}

func (c *call) int(i int) int64 {
	return int64(c.args[i])
}

type handlerFunc func(c *call) executor.Future[uintptr]

// Table dispatches system calls by number.
type Table struct {
	handlers         map[uintptr]handlerFunc
	socketBufferSize int
	log              kfmt.Logger
}

// NewTable returns the system call table. Socket pairs are created with
// socketBufferSize bytes of buffering per direction; zero selects the
// default size.
func NewTable(socketBufferSize int) *Table {
	if socketBufferSize <= 0 {
		socketBufferSize = fs.DefaultSocketBufferSize
	}

	tbl := &Table{
		socketBufferSize: socketBufferSize,
		log:              kfmt.Logger{Module: "sys"},
	}
	tbl.handlers = map[uintptr]handlerFunc{
		SysRead:          sysRead,
		SysWrite:         sysWrite,
		SysClose:         now(sysClose),
		SysExit:          now(sysExit),
		SysExitGroup:     now(sysExitGroup),
		SysSetTIDAddress: now(sysSetTIDAddress),
		SysFutex:         sysFutex,
		SysNanosleep:     sysNanosleep,
		SysSetitimer:     now(sysSetitimer),
		SysSchedYield:    sysSchedYield,
		SysKill:          now(sysKill),
		SysTkill:         now(sysTkill),
		SysRtSigaction:   now(sysRtSigaction),
		SysRtSigprocmask: now(sysRtSigprocmask),
		SysGetpid:        now(sysGetpid),
		SysGetppid:       now(sysGetppid),
		SysGettid:        now(sysGettid),
		SysShmget:        now(sysShmget),
		SysShmctl:        now(sysShmctl),
		SysShmat:         now(sysShmat),
		SysShmdt:         now(sysShmdt),
		SysSocketpair:    now(tbl.sysSocketpair),
		SysBrk:           now(sysBrk),
		SysClone:         now(sysClone),
		SysWait4:         sysWait4,
		SysPrlimit64:     now(sysPrlimit64),
	}
	return tbl
}

// Syscall implements task.SyscallTable.
func (tbl *Table) Syscall(k *task.Kernel, t *task.UserTask, num uintptr, args [hal.SyscallArgCount]uintptr) executor.Future[uintptr] {
	handler, ok := tbl.handlers[num]
	if !ok {
		tbl.log.Warnf("task %d: unsupported syscall %d", t.ID(), num)
		return executor.Ready(ret(0, errNoSys))
	}
	return handler(&call{k: k, t: t, args: args})
}

// ret encodes a result for the user return register.
func ret(val uintptr, err *kernel.Error) uintptr {
	if err != nil {
		return kernel.Ret(0, err)
	}
	return val
}

// now adapts a handler that always completes on its first poll.
func now(fn func(c *call, h hal.Hart) (uintptr, *kernel.Error)) handlerFunc {
	return func(c *call) executor.Future[uintptr] {
		return executor.FutureFunc[uintptr](func(cx *executor.PollContext) (uintptr, bool) {
			return ret(fn(c, cx.Hart)), true
		})
	}
}
