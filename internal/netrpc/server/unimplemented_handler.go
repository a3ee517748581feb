package server

import (
	"context"

	"github.com/rfratto/netfd/internal/netrpc"
)

// UnimplementedHandler implements Handler and returns ErrnoNoSys for all
// requests. It may be embedded by handlers that only serve a subset of
// operations.
type UnimplementedHandler struct{}

// Static type check test
var _ Handler = UnimplementedHandler{}

func (UnimplementedHandler) Init(context.Context) error {
	return nil
}

func (UnimplementedHandler) Close() error {
	return nil
}

func (UnimplementedHandler) Open(context.Context, *netrpc.RequestHeader, *netrpc.OpenRequest) (*netrpc.OpenResponse, error) {
	return nil, netrpc.ErrnoNoSys
}

func (UnimplementedHandler) Write(context.Context, *netrpc.RequestHeader, *netrpc.WriteRequest) (*netrpc.WriteResponse, error) {
	return nil, netrpc.ErrnoNoSys
}

func (UnimplementedHandler) Read(context.Context, *netrpc.RequestHeader, *netrpc.ReadRequest) (*netrpc.ReadResponse, error) {
	return nil, netrpc.ErrnoNoSys
}

func (UnimplementedHandler) Lock(context.Context, *netrpc.RequestHeader, *netrpc.LockRequest) error {
	return netrpc.ErrnoNoSys
}

func (UnimplementedHandler) Control(context.Context, *netrpc.RequestHeader, *netrpc.ControlRequest) (*netrpc.ControlResponse, error) {
	return nil, netrpc.ErrnoNoSys
}

func (UnimplementedHandler) Seek(context.Context, *netrpc.RequestHeader, *netrpc.SeekRequest) (*netrpc.SeekResponse, error) {
	return nil, netrpc.ErrnoNoSys
}

func (UnimplementedHandler) Sync(context.Context, *netrpc.RequestHeader, *netrpc.SyncRequest) error {
	return netrpc.ErrnoNoSys
}

func (UnimplementedHandler) Release(context.Context, *netrpc.RequestHeader, *netrpc.CloseRequest) error {
	return netrpc.ErrnoNoSys
}
