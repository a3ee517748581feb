package interpose

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/rfratto/netfd/internal/netrpc"
	"golang.org/x/sys/unix"
)

// TransportError is returned when a request never reached the executor or
// its response was lost. The operation may or may not have been performed
// remotely.
//
// TransportError matches unix.EIO with errors.Is, which is the error state
// callers should install.
type TransportError struct {
	Op  netrpc.Op
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("netfd: %s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is unix.EIO.
func (e *TransportError) Is(target error) bool {
	errno, ok := target.(syscall.Errno)
	return ok && errno == unix.EIO
}

// ErrnoOf returns the error state to install for err: 0 for nil, the errno
// carried by err, or EIO when err has none (including transport failures).
func ErrnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var te *TransportError
	if errors.As(err, &te) {
		return unix.EIO
	}
	if e, ok := netrpc.ErrnoFromError(err); ok && e != 0 {
		return e.Syscall()
	}
	return unix.EIO
}

// remoteErr converts the result of an RPC into the error returned to
// callers.
func remoteErr(op netrpc.Op, resp netrpc.Response, err error) error {
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if e := resp.Errno(); e != 0 {
		return e.Syscall()
	}
	return nil
}
