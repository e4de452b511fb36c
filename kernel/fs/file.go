// Package fs contains the narrow slice of the virtual file system consumed by
// the task layer: the file abstraction, per-process descriptor tables, a
// device opener used for stdio setup and the in-kernel socket pair.
package fs

import (
	"sync/atomic"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"gvisor.dev/gvisor/pkg/abi/linux"
	"gvisor.dev/gvisor/pkg/abi/linux/errno"
)

var (
	// ErrNotFound is returned when opening a path that does not exist.
	ErrNotFound = &kernel.Error{Module: "fs", Message: "no such file or directory", Errno: errno.ENOENT}

	// ErrPermission is returned when the open flags are not allowed for
	// a file.
	ErrPermission = &kernel.Error{Module: "fs", Message: "permission denied", Errno: errno.EACCES}

	// ErrWouldBlock is returned by reads with no data available and by
	// writes to full buffers.
	ErrWouldBlock = &kernel.Error{Module: "fs", Message: "operation would block", Errno: errno.EAGAIN}

	// ErrBadFD is returned for descriptors that are not open.
	ErrBadFD = &kernel.Error{Module: "fs", Message: "bad file descriptor", Errno: errno.EBADF}

	// ErrTooManyFiles is returned when a descriptor table is full.
	ErrTooManyFiles = &kernel.Error{Module: "fs", Message: "too many open files", Errno: errno.EMFILE}

	// ErrBrokenPipe is returned when writing to a socket whose peer has
	// been closed.
	ErrBrokenPipe = &kernel.Error{Module: "fs", Message: "broken pipe", Errno: errno.EPIPE}
)

// PollEvent is a set of readiness events.
type PollEvent uint16

const (
	// PollIn is set when data can be read without blocking.
	PollIn = PollEvent(linux.POLLIN)

	// PollOut is set when data can be written without blocking.
	PollOut = PollEvent(linux.POLLOUT)
)

// Open flags understood by the file layer.
const (
	OpenReadOnly  = linux.O_RDONLY
	OpenWriteOnly = linux.O_WRONLY
	OpenReadWrite = linux.O_RDWR
	OpenNonBlock  = linux.O_NONBLOCK
)

// File is an open file.
type File interface {
	// Read copies data into p. It returns ErrWouldBlock if no data is
	// available and 0 at end of file.
	Read(p []byte) (int, *kernel.Error)

	// Write copies p into the file. It returns ErrWouldBlock if no space
	// is available.
	Write(p []byte) (int, *kernel.Error)

	// Poll returns the subset of events that are ready.
	Poll(events PollEvent) PollEvent

	// Release is called once the last descriptor referring to the file is
	// closed.
	Release()
}

// Opener opens files by path.
type Opener interface {
	Open(path string, flags uint32) (File, *kernel.Error)
}

// Handle is an open file description shared by every descriptor that
// refers to it.
type Handle struct {
	File  File
	Flags uint32

	refs atomic.Int32
}

// NewHandle wraps f in a handle holding a single reference.
func NewHandle(f File, flags uint32) *Handle {
	h := &Handle{File: f, Flags: flags}
	h.refs.Store(1)
	return h
}

// NonBlocking returns true if the handle was opened with O_NONBLOCK.
func (h *Handle) NonBlocking() bool {
	return h.Flags&OpenNonBlock != 0
}

// Readable returns true unless the handle is write-only.
func (h *Handle) Readable() bool {
	return h.Flags&(OpenWriteOnly|OpenReadWrite) != OpenWriteOnly
}

// Writable returns true unless the handle is read-only.
func (h *Handle) Writable() bool {
	return h.Flags&(OpenWriteOnly|OpenReadWrite) != OpenReadOnly
}

func (h *Handle) acquire() *Handle {
	h.refs.Add(1)
	return h
}

func (h *Handle) release() {
	if h.refs.Add(-1) == 0 {
		h.File.Release()
	}
}
