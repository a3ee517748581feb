package server

import (
	"context"
	"fmt"

	"github.com/rfratto/netfd/internal/netrpc"
)

// Middleware hooks into requests.
type Middleware interface {
	// HandleRequest handles an individual request.
	HandleRequest(ctx context.Context, hdr *netrpc.RequestHeader, req netrpc.Request, invoker Invoker) (netrpc.Response, error)
}

// Invoker is called by Middleware to complete requests.
type Invoker func(ctx context.Context, hdr *netrpc.RequestHeader, req netrpc.Request) (netrpc.Response, error)

// FuncMiddleware is a function that implements Middleware.
type FuncMiddleware func(ctx context.Context, hdr *netrpc.RequestHeader, req netrpc.Request, i Invoker) (netrpc.Response, error)

func (f FuncMiddleware) HandleRequest(ctx context.Context, h *netrpc.RequestHeader, req netrpc.Request, i Invoker) (netrpc.Response, error) {
	return f(ctx, h, req, i)
}

func missingBody(op netrpc.Op) error {
	return fmt.Errorf("missing request body for %s: %w", op, netrpc.ErrnoInvalid)
}

// handlerInvoker converts h into an Invoker. Responses are only set when the
// handler returned a non-nil one so callers never see a typed nil.
func handlerInvoker(h Handler) Invoker {
	return func(ctx context.Context, header *netrpc.RequestHeader, req netrpc.Request) (resp netrpc.Response, err error) {
		switch header.Op {
		case netrpc.OpOpen:
			req, _ := req.(*netrpc.OpenRequest)
			if req == nil {
				err = missingBody(header.Op)
				break
			}
			var r *netrpc.OpenResponse
			if r, err = h.Open(ctx, header, req); r != nil {
				resp = r
			}

		case netrpc.OpWrite:
			req, _ := req.(*netrpc.WriteRequest)
			if req == nil {
				err = missingBody(header.Op)
				break
			}
			var r *netrpc.WriteResponse
			if r, err = h.Write(ctx, header, req); r != nil {
				resp = r
			}

		case netrpc.OpRead:
			req, _ := req.(*netrpc.ReadRequest)
			if req == nil {
				err = missingBody(header.Op)
				break
			}
			var r *netrpc.ReadResponse
			if r, err = h.Read(ctx, header, req); r != nil {
				resp = r
			}

		case netrpc.OpLock:
			// Lock, Sync, and Close only report an errno.
			req, _ := req.(*netrpc.LockRequest)
			if req == nil {
				err = missingBody(header.Op)
				break
			}
			err = h.Lock(ctx, header, req)
			resp = &netrpc.ErrnoResponse{}

		case netrpc.OpControl:
			req, _ := req.(*netrpc.ControlRequest)
			if req == nil {
				err = missingBody(header.Op)
				break
			}
			var r *netrpc.ControlResponse
			if r, err = h.Control(ctx, header, req); r != nil {
				resp = r
			}

		case netrpc.OpSeek:
			req, _ := req.(*netrpc.SeekRequest)
			if req == nil {
				err = missingBody(header.Op)
				break
			}
			var r *netrpc.SeekResponse
			if r, err = h.Seek(ctx, header, req); r != nil {
				resp = r
			}

		case netrpc.OpSync:
			req, _ := req.(*netrpc.SyncRequest)
			if req == nil {
				err = missingBody(header.Op)
				break
			}
			err = h.Sync(ctx, header, req)
			resp = &netrpc.ErrnoResponse{}

		case netrpc.OpClose:
			req, _ := req.(*netrpc.CloseRequest)
			if req == nil {
				err = missingBody(header.Op)
				break
			}
			err = h.Release(ctx, header, req)
			resp = &netrpc.ErrnoResponse{}

		default:
			err = fmt.Errorf("unexpected opcode %q: %w", header.Op, netrpc.ErrnoNoSys)
		}

		return resp, err
	}
}

type chainMiddleware []Middleware

func (c chainMiddleware) HandleRequest(ctx context.Context, h *netrpc.RequestHeader, req netrpc.Request, invoker Invoker) (netrpc.Response, error) {
	if len(c) == 0 {
		return invoker(ctx, h, req)
	}

	var (
		index        int
		chainInvoker Invoker
	)

	chainInvoker = func(ctx context.Context, h *netrpc.RequestHeader, req netrpc.Request) (netrpc.Response, error) {
		mw := c[index]
		index++

		var next Invoker
		if index == len(c) {
			next = invoker
		} else {
			next = chainInvoker
		}

		return mw.HandleRequest(ctx, h, req, next)
	}
	return chainInvoker(ctx, h, req)
}
