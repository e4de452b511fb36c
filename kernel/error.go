package kernel

import (
	"errors"

	"gvisor.dev/gvisor/pkg/abi/linux/errno"
)

// Error describes a kernel error. Kernel errors are defined as global
// variables that are pointers to the Error structure so they can be compared
// by identity. Errors that may surface to user space carry the Linux error
// code that the syscall layer reports back to the caller.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// Errno is the code returned to user space. A zero value means the error
	// is internal to the kernel and maps to EIO.
	Errno errno.Errno
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// ToErrno maps err to the error code reported to user space. A nil error maps
// to 0 and errors that do not originate from the kernel map to EIO.
func ToErrno(err error) errno.Errno {
	if err == nil {
		return errno.NOERRNO
	}

	var kerr *Error
	if errors.As(err, &kerr) && kerr.Errno != errno.NOERRNO {
		return kerr.Errno
	}

	return errno.EIO
}

// Ret converts the result of a syscall implementation into the value stored
// in the user return register: the result itself on success or the negated
// error code otherwise.
func Ret(val uintptr, err error) uintptr {
	if err != nil {
		return uintptr(-int64(ToErrno(err)))
	}
	return val
}
