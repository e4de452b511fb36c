package sys

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/fs"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

func ioSize(count uintptr) int {
	if count > maxIOSize {
		return maxIOSize
	}
	return int(count)
}

// sysRead implements read(fd, buf, count). A read from an empty blocking
// file stays pending until data arrives.
func sysRead(c *call) executor.Future[uintptr] {
	fd, addr, count := int(c.int(0)), c.args[1], ioSize(c.args[2])
	handle, err := c.t.Files().Get(fd)
	switch {
	case err != nil:
		return executor.Ready(ret(0, err))
	case !handle.Readable():
		return executor.Ready(ret(0, fs.ErrBadFD))
	}

	buf := make([]byte, count)
	return executor.FutureFunc[uintptr](func(cx *executor.PollContext) (uintptr, bool) {
		// Data taken from the file cannot be put back, so the
		// destination is made writable first.
		if err := c.t.PrepareWrite(cx.Hart, addr, uintptr(count)); err != nil {
			return ret(0, err), true
		}

		n, err := handle.File.Read(buf)
		if err == fs.ErrWouldBlock && !handle.NonBlocking() {
			return 0, false
		}
		if err != nil {
			return ret(0, err), true
		}
		if err = c.t.CopyOut(cx.Hart, addr, buf[:n]); err != nil {
			return ret(0, err), true
		}
		return uintptr(n), true
	})
}

// sysWrite implements write(fd, buf, count). A write to a full blocking
// file stays pending until space is available.
func sysWrite(c *call) executor.Future[uintptr] {
	fd, addr, count := int(c.int(0)), c.args[1], ioSize(c.args[2])
	handle, err := c.t.Files().Get(fd)
	switch {
	case err != nil:
		return executor.Ready(ret(0, err))
	case !handle.Writable():
		return executor.Ready(ret(0, fs.ErrBadFD))
	}

	var buf []byte
	return executor.FutureFunc[uintptr](func(cx *executor.PollContext) (uintptr, bool) {
		if buf == nil {
			buf = make([]byte, count)
			if err := c.t.CopyIn(cx.Hart, addr, buf); err != nil {
				return ret(0, err), true
			}
		}

		n, err := handle.File.Write(buf)
		if err == fs.ErrWouldBlock && !handle.NonBlocking() {
			return 0, false
		}
		if err != nil {
			return ret(0, err), true
		}
		return uintptr(n), true
	})
}

// sysClose implements close(fd).
func sysClose(c *call, _ hal.Hart) (uintptr, *kernel.Error) {
	return 0, c.t.Files().Close(int(c.int(0)))
}

// sysSocketpair implements socketpair(domain, type, protocol, sv). Both ends
// are connected byte streams.
func (tbl *Table) sysSocketpair(c *call, h hal.Hart) (uintptr, *kernel.Error) {
	sockType, sv := uint32(c.args[1]), c.args[3]

	flags := uint32(fs.OpenReadWrite)
	if sockType&linux.SOCK_NONBLOCK != 0 {
		flags |= fs.OpenNonBlock
	}

	a, b := fs.NewSocketPair(tbl.socketBufferSize)
	files := c.t.Files()
	fd0, err := files.Alloc(fs.NewHandle(a, flags))
	if err != nil {
		a.Release()
		b.Release()
		return 0, err
	}
	fd1, err := files.Alloc(fs.NewHandle(b, flags))
	if err != nil {
		_ = files.Close(fd0)
		b.Release()
		return 0, err
	}

	if err = c.t.WriteUint32(h, sv, uint32(fd0)); err == nil {
		err = c.t.WriteUint32(h, sv+4, uint32(fd1))
	}
	if err != nil {
		_ = files.Close(fd0)
		_ = files.Close(fd1)
		return 0, err
	}
	return 0, nil
}
