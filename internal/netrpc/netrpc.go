// Package netrpc defines the wire protocol used to run file syscalls on a
// remote host. A client sends one request per syscall and blocks for the
// matching response; the remote side performs the real syscall against its
// own descriptor table and reports the outcome.
//
// Every response embeds a Status carrying the errno of the remote syscall. A
// zero errno means success.
//
// netrpc is transport-agnostic. See the grpcrpc subpackage for the gRPC
// transport.
package netrpc

// Request is used for protocol request messages which are sent by a client to
// the executor.
type Request interface {
	netrpcRequest()
}

// Response is used for protocol response messages which are sent from the
// executor after processing a request.
type Response interface {
	netrpcResponse()

	// Errno returns the errno carried by the response. 0 means success.
	Errno() Errno
	// SetErrno sets the errno carried by the response.
	SetErrno(Errno)
}

// Status is embedded in every response and carries the errno of the remote
// syscall.
type Status struct {
	Err Errno `msgpack:"err,omitempty"`
}

// Errno implements Response.
func (s *Status) Errno() Errno { return s.Err }

// SetErrno implements Response.
func (s *Status) SetErrno(e Errno) { s.Err = e }

// MaxIOSize is the largest payload transferred by a single read or write.
// Larger writes are sent as a short write and larger reads are clamped.
const MaxIOSize = 4 << 20
