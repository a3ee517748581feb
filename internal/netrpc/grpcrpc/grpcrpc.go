// Package grpcrpc implements the netrpc protocol over gRPC. Every netrpc
// operation is a unary gRPC method of the netfd.Executor service; messages are
// encoded with msgpack rather than protobuf, so the service descriptor is
// declared here instead of being generated.
package grpcrpc

import (
	"context"
	"fmt"

	"github.com/rfratto/netfd/internal/netrpc"
	"google.golang.org/grpc"
)

// ServiceName is the name of the gRPC service exposing netrpc.
const ServiceName = "netfd.Executor"

// maxMessageSize allows a full netrpc.MaxIOSize payload plus framing.
const maxMessageSize = netrpc.MaxIOSize + 64<<10

// Dispatcher handles decoded netrpc requests on the server side.
type Dispatcher interface {
	// Dispatch handles a single request. Dispatch should only return an error
	// for problems unrelated to the syscall itself; syscall failures are
	// reported through the Errno of the response.
	Dispatch(ctx context.Context, hdr *netrpc.RequestHeader, req netrpc.Request) (netrpc.Response, error)
}

// FullMethod returns the full gRPC method name for op.
func FullMethod(op netrpc.Op) string {
	return "/" + ServiceName + "/" + op.String()
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Dispatcher)(nil),
	Methods:     methodDescs(),
	Streams:     []grpc.StreamDesc{},
	Metadata:    "netfd",
}

func methodDescs() []grpc.MethodDesc {
	descs := make([]grpc.MethodDesc, 0, len(netrpc.Ops))
	for _, op := range netrpc.Ops {
		descs = append(descs, grpc.MethodDesc{
			MethodName: op.String(),
			Handler:    methodHandler(op),
		})
	}
	return descs
}

// methodHandler returns the gRPC unary handler for op. The request body is
// decoded into the netrpc type for op before being passed to the Dispatcher.
func methodHandler(op netrpc.Op) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req, err := netrpc.NewEmptyRequest(op)
		if err != nil {
			return nil, err
		}
		if err := dec(req); err != nil {
			return nil, fmt.Errorf("decoding %s request: %w", op, err)
		}

		var (
			d   = srv.(Dispatcher)
			hdr = headerFromContext(ctx, op)
		)
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return d.Dispatch(ctx, hdr, req.(netrpc.Request))
		}
		if interceptor == nil {
			return handler(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(op),
		}
		return interceptor(ctx, req, info, handler)
	}
}

// RegisterDispatcher registers d as the netfd.Executor service of s.
func RegisterDispatcher(s grpc.ServiceRegistrar, d Dispatcher) {
	s.RegisterService(&serviceDesc, d)
}

// ServerOptions returns the gRPC server options needed to serve full-sized
// netrpc payloads.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	}
}

// DialOptions returns the gRPC dial options needed to exchange full-sized
// netrpc payloads using the msgpack codec.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}
}
