package netrpc

import "golang.org/x/sys/unix"

// Protocol types. Each type here is used as part of the request or response
// for a specific operation. Use NewEmptyRequest and NewEmptyResponse to get
// the types for an Op.
type (
	OpenRequest struct {
		Path  string `msgpack:"path"`
		Flags int32  `msgpack:"flags"` // O_* flags passed to open(2)
		Mode  uint32 `msgpack:"mode"`  // Permissions used when creating the file
	}
	OpenResponse struct {
		FD int32 `msgpack:"fd"` // Remote descriptor, or -1 on failure
		Status
	}

	WriteRequest struct {
		FD     int32  `msgpack:"fd"`
		Data   []byte `msgpack:"data"`
		Offset int64  `msgpack:"offset"`
	}
	WriteResponse struct {
		Written int64 `msgpack:"written"` // Bytes written, or -1 on failure
		Status
	}

	ReadRequest struct {
		FD     int32 `msgpack:"fd"`
		Size   int32 `msgpack:"size"` // Number of bytes to read
		Offset int64 `msgpack:"offset"`
	}
	ReadResponse struct {
		Data []byte `msgpack:"data"` // Bytes actually read; empty on failure
		Status
	}

	// LockRequest applies a BSD-style whole-file lock (flock(2)).
	LockRequest struct {
		FD        int32 `msgpack:"fd"`
		Operation int32 `msgpack:"operation"` // LOCK_SH, LOCK_EX, LOCK_UN, optionally LOCK_NB
	}

	// ControlRequest runs fcntl(2). Flags is used by flag-word commands and
	// Lock by record-lock commands; see ClassifyControl.
	ControlRequest struct {
		FD    int32  `msgpack:"fd"`
		Cmd   int32  `msgpack:"cmd"`
		Flags int64  `msgpack:"flags,omitempty"`
		Lock  *Flock `msgpack:"lock,omitempty"`
	}
	ControlResponse struct {
		Result int64  `msgpack:"result"`         // Return value of fcntl(2)
		Lock   *Flock `msgpack:"lock,omitempty"` // Updated lock for record-lock commands
		Status
	}

	SeekRequest struct {
		FD     int32 `msgpack:"fd"`
		Offset int64 `msgpack:"offset"`
		Whence int32 `msgpack:"whence"`
	}
	SeekResponse struct {
		Offset int64 `msgpack:"offset"` // Resulting offset, or -1 on failure
		Status
	}

	SyncRequest struct {
		FD int32 `msgpack:"fd"`
	}

	// CloseRequest releases a remote descriptor.
	CloseRequest struct {
		FD int32 `msgpack:"fd"`
	}

	// ErrnoResponse is used by operations that only report success or
	// failure.
	ErrnoResponse struct {
		Status
	}
)

// Validate checks that the argument carried by r matches its command.
func (r *ControlRequest) Validate() error {
	switch ClassifyControl(int(r.Cmd)) {
	case ControlFlags:
		if r.Lock != nil {
			return ErrnoInvalid
		}
	case ControlLock:
		if r.Lock == nil {
			return ErrnoInvalid
		}
	default:
		return ErrnoInvalid
	}
	return nil
}

// Blocking reports whether r waits for a conflicting lock to be released.
func (r *LockRequest) Blocking() bool {
	op := int(r.Operation)
	return op&unix.LOCK_NB == 0 && op&(unix.LOCK_SH|unix.LOCK_EX) != 0
}

// Blocking reports whether r waits for a conflicting record lock to be
// released.
func (r *ControlRequest) Blocking() bool {
	return int(r.Cmd) == unix.F_SETLKW
}

//
// Request / Response type implementations
//

func (*OpenRequest) netrpcRequest()      {}
func (*OpenResponse) netrpcResponse()    {}
func (*WriteRequest) netrpcRequest()     {}
func (*WriteResponse) netrpcResponse()   {}
func (*ReadRequest) netrpcRequest()      {}
func (*ReadResponse) netrpcResponse()    {}
func (*LockRequest) netrpcRequest()      {}
func (*ControlRequest) netrpcRequest()   {}
func (*ControlResponse) netrpcResponse() {}
func (*SeekRequest) netrpcRequest()      {}
func (*SeekResponse) netrpcResponse()    {}
func (*SyncRequest) netrpcRequest()      {}
func (*CloseRequest) netrpcRequest()     {}
func (*ErrnoResponse) netrpcResponse()   {}
