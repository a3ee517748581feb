// Command netfdcp copies a file through the netfd interposer. Either path may
// be remote: paths matching NETFD_PREFIX or NETFD_GLOB are opened on the
// executor at NETFD_ADDR, and everything else is opened locally.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/netfd/internal/interpose"
	"golang.org/x/sys/unix"
)

func main() {
	cfg, err := interpose.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var (
		lock      bool
		sync      bool
		mode      uint
		blockSize int
	)

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [flags] <src> <dst>\n", os.Args[0])
		fs.PrintDefaults()
	}
	fs.Var(&cfg.LogLevel, "log.level", "Level to display logs at")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "address of the netfdd executor")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "timeout for each remote call")
	fs.BoolVar(&lock, "lock", false, "hold an exclusive lock on dst while copying")
	fs.BoolVar(&sync, "sync", false, "sync dst to storage before closing it")
	fs.UintVar(&mode, "mode", 0644, "permissions to create dst with")
	fs.IntVar(&blockSize, "block-size", 1<<20, "size of each read and write")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %s", err.Error())
		os.Exit(1)
	}
	if fs.NArg() != 2 || blockSize <= 0 {
		fs.Usage()
		os.Exit(2)
	}

	l := cfg.LogLevel.NewLogger(os.Stderr)

	o, err := cfg.Options()
	if err != nil {
		level.Error(l).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}
	i, err := interpose.New(l, o)
	if err != nil {
		level.Error(l).Log("msg", "failed to create interposer", "err", err)
		os.Exit(1)
	}

	c := copier{log: l, i: i, lock: lock, sync: sync, mode: uint32(mode), blockSize: blockSize}
	n, copyErr := c.Copy(fs.Arg(0), fs.Arg(1))

	if err := i.Shutdown(); err != nil {
		level.Warn(l).Log("msg", "errors during shutdown", "err", err)
	}
	if copyErr != nil {
		level.Error(l).Log("msg", "copy failed", "err", copyErr, "errno", unix.ErrnoName(interpose.ErrnoOf(copyErr)))
		os.Exit(1)
	}
	level.Info(l).Log("msg", "copy complete", "bytes", n)
}

type copier struct {
	log       log.Logger
	i         *interpose.Interposer
	lock      bool
	sync      bool
	mode      uint32
	blockSize int
}

// Copy copies src to dst, returning the number of bytes copied.
func (c *copier) Copy(src, dst string) (n int64, err error) {
	in, err := c.i.Open(src, unix.O_RDONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() {
		if cerr := c.i.Close(in); cerr != nil {
			level.Warn(c.log).Log("msg", "failed to close source", "path", src, "err", cerr)
		}
	}()

	out, err := c.i.Open(dst, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, c.mode)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", dst, err)
	}
	defer func() {
		if cerr := c.i.Close(out); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", dst, cerr)
		}
	}()

	level.Debug(c.log).Log("msg", "copying", "src", src, "src_remote", c.i.IsRemote(in), "dst", dst, "dst_remote", c.i.IsRemote(out))

	if c.lock {
		if err := c.i.Flock(out, unix.LOCK_EX); err != nil {
			return 0, fmt.Errorf("locking %s: %w", dst, err)
		}
		defer func() {
			if uerr := c.i.Flock(out, unix.LOCK_UN); uerr != nil {
				level.Warn(c.log).Log("msg", "failed to unlock destination", "path", dst, "err", uerr)
			}
		}()
	}

	buf := make([]byte, c.blockSize)
	for {
		read, err := c.i.Pread(in, buf, n)
		if err != nil {
			return n, fmt.Errorf("reading %s: %w", src, err)
		} else if read == 0 {
			break
		}

		for written := 0; written < read; {
			w, err := c.i.Pwrite(out, buf[written:read], n+int64(written))
			if err != nil {
				return n, fmt.Errorf("writing %s: %w", dst, err)
			} else if w == 0 {
				return n, fmt.Errorf("writing %s: %w", dst, io.ErrShortWrite)
			}
			written += w
		}
		n += int64(read)
	}

	if c.sync {
		if err := c.i.Fsync(out); err != nil {
			return n, fmt.Errorf("syncing %s: %w", dst, err)
		}
	}
	return n, nil
}
