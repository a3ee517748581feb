package netrpc

import (
	"errors"
	"strconv"
	"syscall"
)

// Errno is a POSIX error code reported by the executor. Errno values are
// positive and use the executor host's numbering; 0 means success.
//
// Clients and executors are expected to run on the same OS family so codes
// keep their meaning on both ends.
type Errno int32

// Common error codes used by the protocol itself. Any other POSIX code may be
// carried as-is.
const (
	ErrnoBadFD       = Errno(syscall.EBADF)
	ErrnoIO          = Errno(syscall.EIO)
	ErrnoInvalid     = Errno(syscall.EINVAL)
	ErrnoInterrupted = Errno(syscall.EINTR)
	ErrnoAborted     = Errno(syscall.ECONNABORTED)
	ErrnoNotExist    = Errno(syscall.ENOENT)
	ErrnoPermission  = Errno(syscall.EACCES)
	ErrnoNoSys       = Errno(syscall.ENOSYS)
)

// Error returns the host's description of the errno.
func (e Errno) Error() string {
	if e == 0 {
		return "errno 0"
	}
	if desc := syscall.Errno(e).Error(); desc != "" {
		return desc
	}
	return "errno " + strconv.Itoa(int(e))
}

// Syscall converts e into the equivalent syscall.Errno.
func (e Errno) Syscall() syscall.Errno { return syscall.Errno(e) }

// Is allows an Errno to match the equivalent syscall.Errno, along with the
// generic errors syscall.Errno matches (such as fs.ErrPermission).
func (e Errno) Is(target error) bool {
	if se, ok := target.(syscall.Errno); ok {
		return se == syscall.Errno(e)
	}
	return syscall.Errno(e).Is(target)
}

// ErrnoFromError extracts an Errno from err. ok is false if err doesn't wrap
// an Errno or a syscall.Errno.
func ErrnoFromError(err error) (e Errno, ok bool) {
	if errors.As(err, &e) {
		return e, true
	}
	var se syscall.Errno
	if errors.As(err, &se) {
		return Errno(se), true
	}
	return 0, false
}
