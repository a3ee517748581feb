package server

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/netfd/internal/netrpc"
)

// NewLoggingMiddleware returns a middleware which logs the start and end of
// every request at debug level.
func NewLoggingMiddleware(l log.Logger) Middleware {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &loggingMiddleware{l: l}
}

type loggingMiddleware struct {
	l log.Logger
}

func (lm *loggingMiddleware) HandleRequest(ctx context.Context, hdr *netrpc.RequestHeader, req netrpc.Request, invoker Invoker) (netrpc.Response, error) {
	level.Debug(lm.l).Log("msg", "starting request", "op", hdr.Op, "id", hdr.RequestID, "session", hdr.Session)
	resp, err := invoker(ctx, hdr, req)
	level.Debug(lm.l).Log("msg", "finished request", "op", hdr.Op, "id", hdr.RequestID, "session", hdr.Session, "err", err)
	return resp, err
}
