package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/netfd/internal/netrpc"
	"github.com/rfratto/netfd/internal/netrpc/cache"
	"golang.org/x/sys/unix"
)

// Authorizer decides whether session may open path with flags. A non-nil
// error rejects the open. Errors carrying an errno are reported as-is;
// anything else is reported as EACCES.
type Authorizer func(session, path string, flags int) error

// ExecutorOptions configures Executor.
type ExecutorOptions struct {
	// Authorize, when non-nil, is consulted before every open.
	Authorize Authorizer
}

// Executor returns a Handler which performs each request as exactly one real
// syscall against the local filesystem.
//
// Paths are used as given; relative paths resolve against the working
// directory of the process. Only descriptors opened through the returned
// Handler may be used, and only by the session that opened them.
func Executor(l log.Logger, o ExecutorOptions) Handler {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &executor{
		log:   l,
		o:     o,
		files: cache.New(log.With(l, "component", "cache")),
	}
}

type executor struct {
	log   log.Logger
	o     ExecutorOptions
	files *cache.Cache
}

// rawFile is a descriptor owned by the executor.
type rawFile int32

func (f rawFile) FD() int32    { return int32(f) }
func (f rawFile) Close() error { return unix.Close(int(f)) }

func (h *executor) Init(context.Context) error {
	level.Debug(h.log).Log("msg", "executor ready")
	return nil
}

func (h *executor) Close() error {
	return h.files.Close()
}

// fd returns the real descriptor for fd. The descriptor stays open until
// done is called, even if a concurrent Release removes it from the cache.
func (h *executor) fd(hdr *netrpc.RequestHeader, fd int32) (int, func(), error) {
	_, handle, done, err := h.files.AcquireHandle(hdr.Session, fd)
	if err != nil {
		return -1, nil, err
	}
	return int(handle.FD()), done, nil
}

func (h *executor) Open(ctx context.Context, hdr *netrpc.RequestHeader, req *netrpc.OpenRequest) (*netrpc.OpenResponse, error) {
	if h.o.Authorize != nil {
		if err := h.o.Authorize(hdr.Session, req.Path, int(req.Flags)); err != nil {
			level.Debug(h.log).Log("msg", "open rejected", "path", req.Path, "session", hdr.Session, "err", err)
			if _, ok := netrpc.ErrnoFromError(err); ok {
				return nil, err
			}
			return nil, fmt.Errorf("%s: %w", err, netrpc.ErrnoPermission)
		}
	}

	// The executor never execs, but descriptors shouldn't leak into anything
	// the host process spawns.
	fd, err := unix.Open(req.Path, int(req.Flags)|unix.O_CLOEXEC, req.Mode)
	if err != nil {
		return nil, err
	}
	if _, err := h.files.AddHandle(hdr.Session, req.Path, rawFile(fd)); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	level.Debug(h.log).Log("msg", "opened file", "path", req.Path, "fd", fd, "session", hdr.Session)
	return &netrpc.OpenResponse{FD: int32(fd)}, nil
}

func (h *executor) Write(ctx context.Context, hdr *netrpc.RequestHeader, req *netrpc.WriteRequest) (*netrpc.WriteResponse, error) {
	fd, done, err := h.fd(hdr, req.FD)
	if err != nil {
		return nil, err
	}
	defer done()

	data := req.Data
	if len(data) > netrpc.MaxIOSize {
		data = data[:netrpc.MaxIOSize]
	}
	n, err := unix.Pwrite(fd, data, req.Offset)
	if err != nil {
		return nil, err
	}
	return &netrpc.WriteResponse{Written: int64(n)}, nil
}

func (h *executor) Read(ctx context.Context, hdr *netrpc.RequestHeader, req *netrpc.ReadRequest) (*netrpc.ReadResponse, error) {
	fd, done, err := h.fd(hdr, req.FD)
	if err != nil {
		return nil, err
	}
	defer done()

	size := int(req.Size)
	switch {
	case size < 0:
		return nil, netrpc.ErrnoInvalid
	case size > netrpc.MaxIOSize:
		size = netrpc.MaxIOSize
	}

	buf := make([]byte, size)
	n, err := unix.Pread(fd, buf, req.Offset)
	if err != nil {
		return nil, err
	}
	return &netrpc.ReadResponse{Data: buf[:n]}, nil
}

func (h *executor) Lock(ctx context.Context, hdr *netrpc.RequestHeader, req *netrpc.LockRequest) error {
	fd, done, err := h.fd(hdr, req.FD)
	if err != nil {
		return err
	}
	defer done()

	op := int(req.Operation)
	if !req.Blocking() {
		return unix.Flock(fd, op)
	}
	return waitLock(ctx, func() error {
		return unix.Flock(fd, op|unix.LOCK_NB)
	})
}

func (h *executor) Control(ctx context.Context, hdr *netrpc.RequestHeader, req *netrpc.ControlRequest) (*netrpc.ControlResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fd, done, err := h.fd(hdr, req.FD)
	if err != nil {
		return nil, err
	}
	defer done()

	switch netrpc.ClassifyControl(int(req.Cmd)) {
	case netrpc.ControlFlags:
		res, err := unix.FcntlInt(uintptr(fd), int(req.Cmd), int(req.Flags))
		if err != nil {
			return nil, err
		}
		return &netrpc.ControlResponse{Result: int64(res)}, nil

	case netrpc.ControlLock:
		lk := req.Lock.Unix()

		var err error
		if req.Blocking() {
			err = waitLock(ctx, func() error {
				return unix.FcntlFlock(uintptr(fd), unix.F_SETLK, lk)
			})
		} else {
			err = unix.FcntlFlock(uintptr(fd), int(req.Cmd), lk)
		}
		if err != nil {
			return nil, err
		}
		return &netrpc.ControlResponse{Lock: netrpc.FlockFromUnix(lk)}, nil

	default:
		return nil, netrpc.ErrnoInvalid
	}
}

func (h *executor) Seek(ctx context.Context, hdr *netrpc.RequestHeader, req *netrpc.SeekRequest) (*netrpc.SeekResponse, error) {
	fd, done, err := h.fd(hdr, req.FD)
	if err != nil {
		return nil, err
	}
	defer done()

	off, err := unix.Seek(fd, req.Offset, int(req.Whence))
	if err != nil {
		return nil, err
	}
	return &netrpc.SeekResponse{Offset: off}, nil
}

func (h *executor) Sync(ctx context.Context, hdr *netrpc.RequestHeader, req *netrpc.SyncRequest) error {
	fd, done, err := h.fd(hdr, req.FD)
	if err != nil {
		return err
	}
	defer done()

	return unix.Fsync(fd)
}

func (h *executor) Release(ctx context.Context, hdr *netrpc.RequestHeader, req *netrpc.CloseRequest) error {
	err := h.files.ReleaseHandle(hdr.Session, req.FD)
	if err == nil {
		level.Debug(h.log).Log("msg", "closed file", "fd", req.FD, "session", hdr.Session)
	}
	return err
}

// Polling bounds for a contended lock.
const (
	lockRetryMin = time.Millisecond
	lockRetryMax = 50 * time.Millisecond
)

// waitLock retries the non-blocking lock attempt try until it succeeds, fails
// for a reason other than contention, or ctx ends. When ctx ends its error is
// returned, which the server reports as ECONNABORTED or EINTR.
func waitLock(ctx context.Context, try func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lockRetryMin
	b.MaxInterval = lockRetryMax
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := try()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EACCES), errors.Is(err, unix.EINTR):
			// Held by someone else (fcntl may report either EAGAIN or EACCES).
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(b, ctx))
}
