package grpcrpc

import (
	"context"
	"fmt"

	"github.com/rfratto/netfd/internal/netrpc"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
)

// Client sends netrpc requests over a gRPC connection. Client is safe for
// concurrent use.
//
// Errors returned by Client methods are transport failures: the request may
// or may not have reached the executor. Syscall failures are reported through
// the Errno of the returned response instead.
type Client struct {
	cc      grpc.ClientConnInterface
	session string
	nextID  atomic.Uint64
}

// NewClient creates a new Client. session identifies the client to the
// executor; descriptors opened by one session can't be used by another.
func NewClient(cc grpc.ClientConnInterface, session string) *Client {
	return &Client{cc: cc, session: session}
}

// Session returns the session ID of c.
func (c *Client) Session() string { return c.session }

func (c *Client) call(ctx context.Context, op netrpc.Op, req netrpc.Request, resp netrpc.Response) error {
	h := netrpc.RequestHeader{
		Op:        op,
		RequestID: c.nextID.Inc(),
		Session:   c.session,
	}
	err := c.cc.Invoke(withHeader(ctx, &h), FullMethod(op), req, resp, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return fmt.Errorf("%s request %d: %w", op, h.RequestID, err)
	}
	return nil
}

func (c *Client) Open(ctx context.Context, req *netrpc.OpenRequest) (*netrpc.OpenResponse, error) {
	var resp netrpc.OpenResponse
	if err := c.call(ctx, netrpc.OpOpen, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Write(ctx context.Context, req *netrpc.WriteRequest) (*netrpc.WriteResponse, error) {
	var resp netrpc.WriteResponse
	if err := c.call(ctx, netrpc.OpWrite, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Read(ctx context.Context, req *netrpc.ReadRequest) (*netrpc.ReadResponse, error) {
	var resp netrpc.ReadResponse
	if err := c.call(ctx, netrpc.OpRead, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Lock(ctx context.Context, req *netrpc.LockRequest) (*netrpc.ErrnoResponse, error) {
	var resp netrpc.ErrnoResponse
	if err := c.call(ctx, netrpc.OpLock, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Control(ctx context.Context, req *netrpc.ControlRequest) (*netrpc.ControlResponse, error) {
	var resp netrpc.ControlResponse
	if err := c.call(ctx, netrpc.OpControl, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Seek(ctx context.Context, req *netrpc.SeekRequest) (*netrpc.SeekResponse, error) {
	var resp netrpc.SeekResponse
	if err := c.call(ctx, netrpc.OpSeek, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Sync(ctx context.Context, req *netrpc.SyncRequest) (*netrpc.ErrnoResponse, error) {
	var resp netrpc.ErrnoResponse
	if err := c.call(ctx, netrpc.OpSync, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Close(ctx context.Context, req *netrpc.CloseRequest) (*netrpc.ErrnoResponse, error) {
	var resp netrpc.ErrnoResponse
	if err := c.call(ctx, netrpc.OpClose, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
