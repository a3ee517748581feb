package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rfratto/netfd/internal/netrpc"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// funcHandler lets tests override individual Handler methods.
type funcHandler struct {
	UnimplementedHandler

	open func(context.Context, *netrpc.OpenRequest) (*netrpc.OpenResponse, error)
	sync func(context.Context, *netrpc.SyncRequest) error
}

func (h funcHandler) Open(ctx context.Context, _ *netrpc.RequestHeader, req *netrpc.OpenRequest) (*netrpc.OpenResponse, error) {
	return h.open(ctx, req)
}

func (h funcHandler) Sync(ctx context.Context, _ *netrpc.RequestHeader, req *netrpc.SyncRequest) error {
	return h.sync(ctx, req)
}

func newTestServer(t *testing.T, h Handler, o Options) *Server {
	t.Helper()
	o.Handler = h
	srv, err := New(nil, o)
	require.NoError(t, err)
	require.NoError(t, srv.Init(context.Background()))
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)
}

func TestServer_Dispatch(t *testing.T) {
	h := funcHandler{
		open: func(_ context.Context, req *netrpc.OpenRequest) (*netrpc.OpenResponse, error) {
			return &netrpc.OpenResponse{FD: 7}, nil
		},
		sync: func(context.Context, *netrpc.SyncRequest) error { return nil },
	}
	srv := newTestServer(t, h, Options{})

	resp, err := srv.Dispatch(context.Background(), &netrpc.RequestHeader{Op: netrpc.OpOpen}, &netrpc.OpenRequest{Path: "a"})
	require.NoError(t, err)
	require.Equal(t, &netrpc.OpenResponse{FD: 7}, resp)

	resp, err = srv.Dispatch(context.Background(), &netrpc.RequestHeader{Op: netrpc.OpSync}, &netrpc.SyncRequest{FD: 7})
	require.NoError(t, err)
	require.Equal(t, netrpc.Errno(0), resp.Errno())
}

func TestServer_Dispatch_Errno(t *testing.T) {
	tt := []struct {
		name   string
		err    error
		expect netrpc.Errno
	}{
		{"unix errno", unix.ENOENT, netrpc.ErrnoNotExist},
		{"wrapped errno", fmt.Errorf("opening: %w", unix.EACCES), netrpc.ErrnoPermission},
		{"netrpc errno", netrpc.ErrnoBadFD, netrpc.ErrnoBadFD},
		{"deadline", context.DeadlineExceeded, netrpc.ErrnoAborted},
		{"canceled", context.Canceled, netrpc.ErrnoInterrupted},
		{"unknown", errors.New("something broke"), netrpc.ErrnoIO},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			h := funcHandler{
				open: func(context.Context, *netrpc.OpenRequest) (*netrpc.OpenResponse, error) {
					return nil, tc.err
				},
			}
			srv := newTestServer(t, h, Options{})

			resp, err := srv.Dispatch(context.Background(), &netrpc.RequestHeader{Op: netrpc.OpOpen}, &netrpc.OpenRequest{})
			require.NoError(t, err)
			require.Equal(t, tc.expect, resp.Errno())
			require.Equal(t, int32(-1), resp.(*netrpc.OpenResponse).FD)
		})
	}
}

func TestServer_Dispatch_MissingBody(t *testing.T) {
	srv := newTestServer(t, UnimplementedHandler{}, Options{})

	resp, err := srv.Dispatch(context.Background(), &netrpc.RequestHeader{Op: netrpc.OpWrite}, nil)
	require.NoError(t, err)
	require.Equal(t, netrpc.ErrnoInvalid, resp.Errno())
	require.Equal(t, int64(-1), resp.(*netrpc.WriteResponse).Written)
}

func TestServer_Dispatch_Unimplemented(t *testing.T) {
	srv := newTestServer(t, UnimplementedHandler{}, Options{})

	resp, err := srv.Dispatch(context.Background(), &netrpc.RequestHeader{Op: netrpc.OpSeek}, &netrpc.SeekRequest{})
	require.NoError(t, err)
	require.Equal(t, netrpc.ErrnoNoSys, resp.Errno())
}

func TestServer_Dispatch_NilResponse(t *testing.T) {
	h := funcHandler{
		open: func(context.Context, *netrpc.OpenRequest) (*netrpc.OpenResponse, error) {
			return nil, nil
		},
	}
	srv := newTestServer(t, h, Options{})

	resp, err := srv.Dispatch(context.Background(), &netrpc.RequestHeader{Op: netrpc.OpOpen}, &netrpc.OpenRequest{})
	require.NoError(t, err)
	require.Equal(t, netrpc.ErrnoIO, resp.Errno())
}

func TestServer_Dispatch_Timeout(t *testing.T) {
	h := funcHandler{
		open: func(ctx context.Context, _ *netrpc.OpenRequest) (*netrpc.OpenResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	srv := newTestServer(t, h, Options{RequestTimeout: 10 * time.Millisecond})

	resp, err := srv.Dispatch(context.Background(), &netrpc.RequestHeader{Op: netrpc.OpOpen}, &netrpc.OpenRequest{})
	require.NoError(t, err)
	require.Equal(t, netrpc.ErrnoAborted, resp.Errno())
}

func TestServer_Dispatch_ConcurrencyLimit(t *testing.T) {
	var (
		entered = make(chan struct{})
		release = make(chan struct{})
	)
	h := funcHandler{
		open: func(context.Context, *netrpc.OpenRequest) (*netrpc.OpenResponse, error) {
			entered <- struct{}{}
			<-release
			return &netrpc.OpenResponse{FD: 3}, nil
		},
	}
	srv := newTestServer(t, h, Options{ConcurrencyLimit: 1})

	done := make(chan netrpc.Response, 1)
	go func() {
		resp, _ := srv.Dispatch(context.Background(), &netrpc.RequestHeader{Op: netrpc.OpOpen}, &netrpc.OpenRequest{})
		done <- resp
	}()
	<-entered

	// The only slot is taken, so a second request gives up once its context
	// is canceled.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := srv.Dispatch(ctx, &netrpc.RequestHeader{Op: netrpc.OpOpen}, &netrpc.OpenRequest{})
	require.NoError(t, err)
	require.Equal(t, netrpc.ErrnoInterrupted, resp.Errno())

	close(release)
	require.Equal(t, int32(3), (<-done).(*netrpc.OpenResponse).FD)
}
