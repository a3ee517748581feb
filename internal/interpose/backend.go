package interpose

import (
	"context"
	"time"

	"github.com/rfratto/netfd/internal/netrpc"
	"github.com/rfratto/netfd/internal/netrpc/grpcrpc"
	"golang.org/x/sys/unix"
)

// Backend performs file operations for a single descriptor. Every method
// mirrors the native call of the same name, minus the descriptor.
type Backend interface {
	Pwrite(buf []byte, off int64) (int, error)
	Pread(buf []byte, off int64) (int, error)
	Flock(how int) error
	Fcntl(cmd int, arg ControlArg) (int, error)
	Lseek(off int64, whence int) (int64, error)
	Fsync() error
	Close() error
}

// ControlArg is the argument to Fcntl: either a FlagArg or a LockArg.
type ControlArg interface {
	controlArg()
}

// FlagArg is a flag word argument, used by F_GETFD, F_SETFD, F_GETFL and
// F_SETFL. Commands that take no argument accept a zero FlagArg or nil.
type FlagArg int

// LockArg is a record lock argument, used by F_GETLK, F_SETLK and F_SETLKW.
// For F_GETLK, Lock is updated in place.
type LockArg struct {
	Lock *unix.Flock_t
}

func (FlagArg) controlArg() {}
func (LockArg) controlArg() {}

// checkControl validates arg against cmd.
func checkControl(cmd int, arg ControlArg) error {
	lockCmd := netrpc.ClassifyControl(cmd) == netrpc.ControlLock

	switch arg := arg.(type) {
	case nil, FlagArg:
		if lockCmd {
			return unix.EINVAL
		}
	case LockArg:
		if !lockCmd || arg.Lock == nil {
			return unix.EINVAL
		}
	default:
		return unix.EINVAL
	}
	return nil
}

// localFile is a descriptor owned by this process.
type localFile int

var _ Backend = localFile(0)

func (f localFile) Pwrite(buf []byte, off int64) (int, error) {
	n, err := unix.Pwrite(int(f), buf, off)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (f localFile) Pread(buf []byte, off int64) (int, error) {
	n, err := unix.Pread(int(f), buf, off)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (f localFile) Flock(how int) error { return unix.Flock(int(f), how) }

func (f localFile) Fcntl(cmd int, arg ControlArg) (int, error) {
	if err := checkControl(cmd, arg); err != nil {
		return -1, err
	}

	switch arg := arg.(type) {
	case LockArg:
		if err := unix.FcntlFlock(uintptr(f), cmd, arg.Lock); err != nil {
			return -1, err
		}
		return 0, nil
	case FlagArg:
		return unix.FcntlInt(uintptr(f), cmd, int(arg))
	default:
		return unix.FcntlInt(uintptr(f), cmd, 0)
	}
}

func (f localFile) Lseek(off int64, whence int) (int64, error) {
	res, err := unix.Seek(int(f), off, whence)
	if err != nil {
		return -1, err
	}
	return res, nil
}

func (f localFile) Fsync() error { return unix.Fsync(int(f)) }
func (f localFile) Close() error { return unix.Close(int(f)) }

// remoteFile is a descriptor owned by the executor.
type remoteFile struct {
	client      *grpcrpc.Client
	fd          int32 // Descriptor in the executor's process
	placeholder int   // Local descriptor standing in for fd
	path        string
	timeout     time.Duration
}

var _ Backend = (*remoteFile)(nil)

func (f *remoteFile) context() (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), f.timeout)
}

// Pwrite writes at most netrpc.MaxIOSize bytes; larger buffers result in a
// short write.
func (f *remoteFile) Pwrite(buf []byte, off int64) (int, error) {
	if len(buf) > netrpc.MaxIOSize {
		buf = buf[:netrpc.MaxIOSize]
	}

	ctx, cancel := f.context()
	defer cancel()

	resp, err := f.client.Write(ctx, &netrpc.WriteRequest{FD: f.fd, Data: buf, Offset: off})
	if err := remoteErr(netrpc.OpWrite, resp, err); err != nil {
		return -1, err
	}
	return int(resp.Written), nil
}

// Pread reads at most netrpc.MaxIOSize bytes.
func (f *remoteFile) Pread(buf []byte, off int64) (int, error) {
	size := len(buf)
	if size > netrpc.MaxIOSize {
		size = netrpc.MaxIOSize
	}

	ctx, cancel := f.context()
	defer cancel()

	resp, err := f.client.Read(ctx, &netrpc.ReadRequest{FD: f.fd, Size: int32(size), Offset: off})
	if err := remoteErr(netrpc.OpRead, resp, err); err != nil {
		return -1, err
	}
	return copy(buf, resp.Data), nil
}

func (f *remoteFile) Flock(how int) error {
	ctx, cancel := f.context()
	defer cancel()

	resp, err := f.client.Lock(ctx, &netrpc.LockRequest{FD: f.fd, Operation: int32(how)})
	return remoteErr(netrpc.OpLock, resp, err)
}

func (f *remoteFile) Fcntl(cmd int, arg ControlArg) (int, error) {
	if err := checkControl(cmd, arg); err != nil {
		return -1, err
	}

	if netrpc.ClassifyControl(cmd) == netrpc.ControlUnsupported {
		// Commands like F_DUPFD would hand out descriptors in the executor's
		// process which nothing here could refer to.
		return -1, unix.EINVAL
	}
	if cmd == unix.F_GETFD || cmd == unix.F_SETFD {
		// Descriptor flags only affect exec, which happens in this process.
		return localFile(f.placeholder).Fcntl(cmd, arg)
	}

	req := &netrpc.ControlRequest{FD: f.fd, Cmd: int32(cmd)}
	switch arg := arg.(type) {
	case LockArg:
		req.Lock = netrpc.FlockFromUnix(arg.Lock)
	case FlagArg:
		req.Flags = int64(arg)
	}

	ctx, cancel := f.context()
	defer cancel()

	resp, err := f.client.Control(ctx, req)
	if err := remoteErr(netrpc.OpControl, resp, err); err != nil {
		return -1, err
	}
	if arg, ok := arg.(LockArg); ok && resp.Lock != nil {
		*arg.Lock = *resp.Lock.Unix()
	}
	return int(resp.Result), nil
}

func (f *remoteFile) Lseek(off int64, whence int) (int64, error) {
	ctx, cancel := f.context()
	defer cancel()

	resp, err := f.client.Seek(ctx, &netrpc.SeekRequest{FD: f.fd, Offset: off, Whence: int32(whence)})
	if err := remoteErr(netrpc.OpSeek, resp, err); err != nil {
		return -1, err
	}
	return resp.Offset, nil
}

func (f *remoteFile) Fsync() error {
	ctx, cancel := f.context()
	defer cancel()

	resp, err := f.client.Sync(ctx, &netrpc.SyncRequest{FD: f.fd})
	return remoteErr(netrpc.OpSync, resp, err)
}

// Close releases the executor's descriptor.
func (f *remoteFile) Close() error {
	ctx, cancel := f.context()
	defer cancel()

	resp, err := f.client.Close(ctx, &netrpc.CloseRequest{FD: f.fd})
	return remoteErr(netrpc.OpClose, resp, err)
}
