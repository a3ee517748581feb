// Package interpose implements the client side of netfd: a set of calls
// shaped like the native file API which transparently forward operations on
// selected paths to a remote executor.
//
// Opening a matching path opens the file on the executor and returns a local
// placeholder descriptor. Every later call on that descriptor is forwarded to
// the executor until it is closed. Calls on any other descriptor go straight
// to the kernel.
package interpose

import (
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/rfratto/netfd/internal/netrpc"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
)

// Options configures an Interposer.
type Options struct {
	// Address of the executor, as a gRPC target (e.g., "localhost:50051" or
	// "unix:///run/netfd.sock").
	Address string

	// Rule selects which paths are opened through the executor.
	Rule Classifier

	// Timeout bounds every remote call. 0 means to never time out.
	Timeout time.Duration

	// PlaceholderPath is opened to create the local descriptor standing in
	// for each remote file.
	PlaceholderPath string

	// Extra options to use when connecting to the executor.
	DialOptions []grpc.DialOption
}

// DefaultOptions holds default options for an Interposer.
var DefaultOptions = Options{
	Address:         "localhost:50051",
	Rule:            PrefixRule("./test/"),
	Timeout:         15 * time.Second,
	PlaceholderPath: "/dev/null",
}

// Interposer routes file calls to the local kernel or the remote executor.
// Methods are safe for concurrent use.
//
// Integer results are -1 on failure. Errors are either a unix.Errno, carrying
// the local or remote error code, or a *TransportError.
type Interposer struct {
	log     log.Logger
	o       Options
	session string

	ch    *channel
	files *Table
}

// New creates a new Interposer. No connection is made until the first path
// matching o.Rule is opened.
func New(l log.Logger, o Options) (*Interposer, error) {
	if l == nil {
		l = log.NewNopLogger()
	}
	if o.Address == "" {
		return nil, fmt.Errorf("Address must be set")
	}
	if o.Rule == nil {
		o.Rule = DefaultOptions.Rule
	}
	if o.PlaceholderPath == "" {
		o.PlaceholderPath = DefaultOptions.PlaceholderPath
	}

	session := uuid.NewV4().String()
	l = log.With(l, "session", session)

	return &Interposer{
		log:     l,
		o:       o,
		session: session,
		ch:      newChannel(l, o.Address, session, o.DialOptions),
		files:   NewTable(),
	}, nil
}

// Session returns the ID the Interposer identifies itself to the executor
// with.
func (i *Interposer) Session() string { return i.session }

// backend returns the Backend for fd. The table is the only authority on
// whether fd is remote-backed.
func (i *Interposer) backend(fd int) Backend {
	if f, ok := i.files.Lookup(fd); ok {
		return f
	}
	return localFile(fd)
}

// IsRemote returns true if fd is associated with a remote file.
func (i *Interposer) IsRemote(fd int) bool {
	_, ok := i.files.Lookup(fd)
	return ok
}

// Open opens path. Paths matched by the classification rule are opened on
// the executor, and a local placeholder descriptor is returned for them. The
// placeholder is close-on-exec only if flags includes O_CLOEXEC.
func (i *Interposer) Open(path string, flags int, mode uint32) (int, error) {
	if !i.o.Rule.Match(path) {
		fd, err := unix.Open(path, flags, mode)
		if err != nil {
			return -1, err
		}
		return fd, nil
	}

	cli, err := i.ch.client()
	if err != nil {
		return -1, &TransportError{Op: netrpc.OpOpen, Err: err}
	}
	rf := &remoteFile{client: cli, path: path, timeout: i.o.Timeout}

	ctx, cancel := rf.context()
	defer cancel()

	resp, err := cli.Open(ctx, &netrpc.OpenRequest{Path: path, Flags: int32(flags), Mode: mode})
	if err := remoteErr(netrpc.OpOpen, resp, err); err != nil {
		level.Debug(i.log).Log("msg", "remote open failed", "path", path, "err", err)
		return -1, err
	}
	if resp.FD < 0 {
		return -1, unix.EIO
	}
	rf.fd = resp.FD

	placeholder, err := unix.Open(i.o.PlaceholderPath, unix.O_RDONLY|flags&unix.O_CLOEXEC, 0)
	if err != nil {
		if cerr := rf.Close(); cerr != nil {
			level.Warn(i.log).Log("msg", "failed to release remote file", "path", path, "remote_fd", rf.fd, "err", cerr)
		}
		return -1, err
	}
	rf.placeholder = placeholder
	if !i.files.Insert(placeholder, rf) {
		// The kernel just handed out placeholder, so it can only be in the
		// table if something closed it without going through Close.
		_ = unix.Close(placeholder)
		_ = rf.Close()
		return -1, unix.EBADF
	}

	level.Debug(i.log).Log("msg", "opened remote file", "path", path, "fd", placeholder, "remote_fd", rf.fd)
	return placeholder, nil
}

// Close closes fd. For remote-backed descriptors, the association is removed
// before the placeholder is closed and the remote file is released.
func (i *Interposer) Close(fd int) error {
	rf, ok := i.files.Remove(fd)
	if !ok {
		return localFile(fd).Close()
	}

	if err := unix.Close(fd); err != nil {
		level.Warn(i.log).Log("msg", "failed to close placeholder", "fd", fd, "err", err)
	}
	if err := rf.Close(); err != nil {
		level.Debug(i.log).Log("msg", "remote close failed", "path", rf.path, "remote_fd", rf.fd, "err", err)
		return err
	}
	return nil
}

// Pwrite writes buf to fd at off.
func (i *Interposer) Pwrite(fd int, buf []byte, off int64) (int, error) {
	return i.backend(fd).Pwrite(buf, off)
}

// Pread reads into buf from fd at off.
func (i *Interposer) Pread(fd int, buf []byte, off int64) (int, error) {
	return i.backend(fd).Pread(buf, off)
}

// Flock applies or removes an advisory lock on fd.
func (i *Interposer) Flock(fd int, how int) error {
	return i.backend(fd).Flock(how)
}

// Fcntl performs cmd on fd. arg must match cmd: a LockArg for record lock
// commands, and a FlagArg (or nil) otherwise. Remote-backed descriptors only
// support flag and record lock commands.
//
// For remote-backed descriptors, F_GETFD and F_SETFD act on the local
// placeholder, since FD_CLOEXEC only matters to this process. F_GETFL,
// F_SETFL and record locks are forwarded to the executor.
func (i *Interposer) Fcntl(fd int, cmd int, arg ControlArg) (int, error) {
	return i.backend(fd).Fcntl(cmd, arg)
}

// Lseek repositions the offset of fd.
func (i *Interposer) Lseek(fd int, off int64, whence int) (int64, error) {
	return i.backend(fd).Lseek(off, whence)
}

// Fsync flushes fd to storage.
func (i *Interposer) Fsync(fd int) error {
	return i.backend(fd).Fsync()
}

// Stat always stats path locally; file metadata is never forwarded.
func (i *Interposer) Stat(path string, st *unix.Stat_t) error {
	return unix.Stat(path, st)
}

// Shutdown closes every remaining remote-backed descriptor and the
// connection to the executor. The Interposer must not be used afterwards.
func (i *Interposer) Shutdown() error {
	var errs *multierror.Error
	for fd, rf := range i.files.Drain() {
		if err := unix.Close(fd); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing placeholder %d: %w", fd, err))
		}
		if err := rf.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("releasing %s: %w", rf.path, err))
		}
	}
	if err := i.ch.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("closing connection: %w", err))
	}
	return errs.ErrorOrNil()
}
