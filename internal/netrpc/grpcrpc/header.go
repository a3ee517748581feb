package grpcrpc

import (
	"context"
	"strconv"

	"github.com/rfratto/netfd/internal/netrpc"
	"google.golang.org/grpc/metadata"
)

const (
	requestIDKey = "x-netfd-request-id"
	sessionKey   = "x-netfd-session"
)

// withHeader injects the fields of h which don't travel in the request body
// into an outgoing gRPC context.
func withHeader(ctx context.Context, h *netrpc.RequestHeader) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		requestIDKey, strconv.FormatUint(h.RequestID, 10),
		sessionKey, h.Session,
	)
}

// headerFromContext builds the RequestHeader for op from an incoming gRPC
// context. Missing fields are left empty.
func headerFromContext(ctx context.Context, op netrpc.Op) *netrpc.RequestHeader {
	h := &netrpc.RequestHeader{Op: op}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return h
	}
	if vv := md.Get(requestIDKey); len(vv) > 0 {
		h.RequestID, _ = strconv.ParseUint(vv[0], 10, 64)
	}
	if vv := md.Get(sessionKey); len(vv) > 0 {
		h.Session = vv[0]
	}
	return h
}
