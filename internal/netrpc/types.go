package netrpc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Op is an opcode identifying a protocol operation.
type Op uint32

// Supported opcodes.
const (
	OpOpen    Op = 1
	OpWrite   Op = 2
	OpRead    Op = 3
	OpLock    Op = 4
	OpControl Op = 5
	OpSeek    Op = 6
	OpSync    Op = 7
	OpClose   Op = 8
)

// Ops lists every supported opcode in opcode order.
var Ops = []Op{OpOpen, OpWrite, OpRead, OpLock, OpControl, OpSeek, OpSync, OpClose}

var opNames = map[Op]string{
	OpOpen:    "Open",
	OpWrite:   "Write",
	OpRead:    "Read",
	OpLock:    "Lock",
	OpControl: "Control",
	OpSeek:    "Seek",
	OpSync:    "Sync",
	OpClose:   "Close",
}

// String implements fmt.Stringer.
func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", uint32(op))
}

// RequestHeader is present in every request. It travels next to the request
// body rather than inside of it.
type RequestHeader struct {
	Op        Op     // Op representing the request.
	RequestID uint64 // Client-assigned ID, unique per session.
	Session   string // ID of the client session that sent the request.
}

// Flock is a POSIX record lock. All five fields travel in both directions;
// F_GETLK returns the conflicting lock (or Type F_UNLCK) in place.
type Flock struct {
	Type   int16 `msgpack:"type"`
	Whence int16 `msgpack:"whence"`
	Start  int64 `msgpack:"start"`
	Len    int64 `msgpack:"len"`
	PID    int32 `msgpack:"pid"`
}

// FlockFromUnix converts a unix.Flock_t into a Flock.
func FlockFromUnix(lk *unix.Flock_t) *Flock {
	return &Flock{
		Type:   lk.Type,
		Whence: lk.Whence,
		Start:  lk.Start,
		Len:    lk.Len,
		PID:    lk.Pid,
	}
}

// Unix converts lk into a unix.Flock_t.
func (lk *Flock) Unix() *unix.Flock_t {
	return &unix.Flock_t{
		Type:   lk.Type,
		Whence: lk.Whence,
		Start:  lk.Start,
		Len:    lk.Len,
		Pid:    lk.PID,
	}
}

// ControlKind classifies a control (fcntl) command by the argument it takes.
type ControlKind int

const (
	ControlUnsupported ControlKind = iota // Command isn't forwarded.
	ControlFlags                          // Command takes or returns a flag word.
	ControlLock                           // Command takes a record lock.
)

// ClassifyControl returns the ControlKind for the fcntl command cmd.
func ClassifyControl(cmd int) ControlKind {
	switch cmd {
	case unix.F_GETFD, unix.F_SETFD, unix.F_GETFL, unix.F_SETFL:
		return ControlFlags
	case unix.F_GETLK, unix.F_SETLK, unix.F_SETLKW:
		return ControlLock
	default:
		return ControlUnsupported
	}
}
