package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/netfd/internal/netrpc"
	"github.com/rfratto/netfd/internal/netrpc/grpcrpc"
)

// Handler processes netrpc requests. Handler is passed to New, and its methods
// are invoked as requests come in.
//
// Errors returned by Handler methods are converted into the errno of the
// response; see errnoForResponse.
type Handler interface {
	// Init is called before the first request is served.
	Init(context.Context) error

	// Close is called when closing a handler.
	Close() error

	Open(context.Context, *netrpc.RequestHeader, *netrpc.OpenRequest) (*netrpc.OpenResponse, error)
	Write(context.Context, *netrpc.RequestHeader, *netrpc.WriteRequest) (*netrpc.WriteResponse, error)
	Read(context.Context, *netrpc.RequestHeader, *netrpc.ReadRequest) (*netrpc.ReadResponse, error)
	Lock(context.Context, *netrpc.RequestHeader, *netrpc.LockRequest) error
	Control(context.Context, *netrpc.RequestHeader, *netrpc.ControlRequest) (*netrpc.ControlResponse, error)
	Seek(context.Context, *netrpc.RequestHeader, *netrpc.SeekRequest) (*netrpc.SeekResponse, error)
	Sync(context.Context, *netrpc.RequestHeader, *netrpc.SyncRequest) error
	Release(context.Context, *netrpc.RequestHeader, *netrpc.CloseRequest) error
}

type Options struct {
	// ConcurrencyLimit is the maximum number of requests a Server will run at
	// once. Additional requests wait for a free slot. Requests waiting on a
	// contended lock are not counted. If ConcurrencyLimit is <= 0, it will
	// obtain its default from DefaultOptions.
	ConcurrencyLimit int

	// RequestTimeout will force a request to abort after a given amount of time.
	// 0 means to never time out.
	RequestTimeout time.Duration

	// Handler is used for handling individual requests.
	Handler Handler

	// Optional middleware to preprocess requests with.
	Middleware []Middleware
}

// DefaultOptions provides defaults for Server.
var DefaultOptions = Options{
	ConcurrencyLimit: 64,
}

// Server dispatches decoded requests to a Handler. Server implements
// grpcrpc.Dispatcher.
type Server struct {
	log log.Logger
	o   Options

	// The middleware to execute before the handler
	mw      Middleware
	handler Invoker
	slots   chan struct{}
}

var _ grpcrpc.Dispatcher = (*Server)(nil)

// New creates a new Server. Requests will be passed to o.Handler for
// handling.
func New(l log.Logger, o Options) (*Server, error) {
	if o.Handler == nil {
		return nil, fmt.Errorf("Handler must be set")
	}
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = DefaultOptions.ConcurrencyLimit
	}
	if l == nil {
		l = log.NewNopLogger()
	}
	return &Server{
		log:     l,
		o:       o,
		mw:      chainMiddleware(o.Middleware),
		handler: handlerInvoker(o.Handler),
		slots:   make(chan struct{}, o.ConcurrencyLimit),
	}, nil
}

// Init initializes the underlying Handler. Init must be called before serving
// requests.
func (s *Server) Init(ctx context.Context) error {
	return s.o.Handler.Init(ctx)
}

// Close closes the underlying Handler.
func (s *Server) Close() error {
	level.Info(s.log).Log("msg", "netrpc server exiting")
	return s.o.Handler.Close()
}

// Dispatch implements grpcrpc.Dispatcher. Failures of the handler are
// reported through the errno of the returned response, so Dispatch only
// returns an error when no response can be built for hdr.Op.
func (s *Server) Dispatch(ctx context.Context, hdr *netrpc.RequestHeader, req netrpc.Request) (netrpc.Response, error) {
	// Requests waiting on a lock don't occupy a slot; otherwise enough waiters
	// would starve out the request which releases the lock.
	if !waitsForLock(req) {
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		case <-ctx.Done():
			return netrpc.FailedResponse(hdr.Op, errnoForResponse(ctx.Err()))
		}
	}

	if s.o.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.o.RequestTimeout)
		defer cancel()
	}

	resp, err := s.mw.HandleRequest(ctx, hdr, req, s.handler)
	if err == nil && resp == nil {
		err = fmt.Errorf("handler returned no response for %s: %w", hdr.Op, netrpc.ErrnoIO)
	}
	if err != nil {
		level.Debug(s.log).Log("msg", "request failed", "op", hdr.Op, "id", hdr.RequestID, "session", hdr.Session, "err", err)
		return netrpc.FailedResponse(hdr.Op, errnoForResponse(err))
	}
	return resp, nil
}

func waitsForLock(req netrpc.Request) bool {
	switch req := req.(type) {
	case *netrpc.LockRequest:
		return req.Blocking()
	case *netrpc.ControlRequest:
		return req.Blocking()
	}
	return false
}

func errnoForResponse(err error) netrpc.Errno {
	if err == nil {
		return 0
	}
	if e, ok := netrpc.ErrnoFromError(err); ok && e != 0 {
		return e
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return netrpc.ErrnoAborted
	case errors.Is(err, context.Canceled):
		return netrpc.ErrnoInterrupted
	}
	return netrpc.ErrnoIO
}
