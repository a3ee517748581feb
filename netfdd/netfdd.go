// Package netfdd implements the netfd daemon. netfdd serves the executor over
// gRPC, performing file operations on behalf of remote clients.
package netfdd

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rfratto/netfd/internal/netrpc"
	"github.com/rfratto/netfd/internal/netrpc/grpcrpc"
	"github.com/rfratto/netfd/internal/netrpc/server"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// DefaultOptions is the set of defaults for netfdd.
var DefaultOptions = Options{
	ListenAddr:       "tcp://0.0.0.0:50051",
	RequestTimeout:   15 * time.Second,
	ConcurrencyLimit: server.DefaultOptions.ConcurrencyLimit,
}

type Options struct {
	ListenAddr       string        // Address to listen for client connections.
	RequestTimeout   time.Duration // Maximum time a single request may run.
	ConcurrencyLimit int           // Maximum number of requests served at once.
	LogRequests      bool          // Log every request at debug level.

	// Paths clients may open, as doublestar patterns. Empty allows every path.
	AllowPaths []string

	// Registerer to register executor metrics against. Metrics are disabled
	// when nil.
	Registerer prometheus.Registerer
}

// Daemon is the netfd daemon. Daemon exposes a gRPC API.
type Daemon struct {
	log    log.Logger
	lis    net.Listener
	srv    *grpc.Server
	rpc    *server.Server
	health *health.Server
	opts   Options

	ready atomic.Bool
}

// New creates a new Daemon.
func New(l log.Logger, o Options) (d *Daemon, err error) {
	if l == nil {
		l = log.NewNopLogger()
	}

	authorize, err := allowRule(o.AllowPaths)
	if err != nil {
		return nil, err
	}

	var mw []server.Middleware
	if o.LogRequests {
		mw = append(mw, server.NewLoggingMiddleware(log.With(l, "component", "requests")))
	}
	if o.Registerer != nil {
		metrics, err := server.NewMetricsMiddleware(o.Registerer)
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
		mw = append(mw, metrics)
	}

	rpc, err := server.New(l, server.Options{
		ConcurrencyLimit: o.ConcurrencyLimit,
		RequestTimeout:   o.RequestTimeout,
		Handler:          server.Executor(log.With(l, "component", "executor"), server.ExecutorOptions{Authorize: authorize}),
		Middleware:       mw,
	})
	if err != nil {
		return nil, fmt.Errorf("creating executor: %w", err)
	}

	u, err := url.Parse(o.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("cannot parse listen addr %q as url: %w", o.ListenAddr, err)
	}

	address, err := homedir.Expand(u.Host + u.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid listen addr: %w", err)
	}

	lis, err := net.Listen(u.Scheme, address)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s listener %s: %w", u.Scheme, address, err)
	}

	opts := append(grpcrpc.ServerOptions(),
		grpc.ChainUnaryInterceptor(loggingUnaryInterceptor(l)),
		grpc.ChainStreamInterceptor(loggingStreamingInterceptor(l)),
	)
	srv := grpc.NewServer(opts...)
	grpcrpc.RegisterDispatcher(srv, rpc)

	hs := health.NewServer()
	hs.SetServingStatus(grpcrpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &Daemon{
		log:    l,
		lis:    lis,
		srv:    srv,
		rpc:    rpc,
		health: hs,
		opts:   o,
	}, nil
}

// allowRule returns an Authorizer which only permits paths matching one of
// patterns. A nil Authorizer is returned when patterns is empty.
func allowRule(patterns []string) (server.Authorizer, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid allowed path pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}

	return func(_, path string, _ int) error {
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, path); ok {
				return nil
			}
		}
		return netrpc.ErrnoPermission
	}, nil
}

// Addr returns the address d is listening on.
func (d *Daemon) Addr() net.Addr { return d.lis.Addr() }

// Ready returns true once d is serving requests.
func (d *Daemon) Ready() bool { return d.ready.Load() }

// Start starts d and doesn't return until it stops or there's an error.
func (d *Daemon) Start() error {
	if err := d.rpc.Init(context.Background()); err != nil {
		return fmt.Errorf("initializing executor: %w", err)
	}

	level.Info(d.log).Log("msg", "starting netfdd", "listen_addr", d.lis.Addr().String())
	d.health.SetServingStatus(grpcrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	d.ready.Store(true)
	return d.srv.Serve(d.lis)
}

// Stop stops d, waiting for in-flight requests to complete. Descriptors still
// open by clients are closed.
func (d *Daemon) Stop() error {
	d.ready.Store(false)
	d.health.Shutdown()
	d.srv.GracefulStop()
	return d.rpc.Close()
}

func loggingUnaryInterceptor(l log.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		level.Debug(l).Log("msg", "received gRPC request", "method", info.FullMethod)
		resp, err = handler(ctx, req)
		if err != nil {
			level.Warn(l).Log("msg", "gRPC request failed", "method", info.FullMethod, "err", err)
		}
		return resp, err
	}
}

func loggingStreamingInterceptor(l log.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		level.Debug(l).Log("msg", "received gRPC request", "method", info.FullMethod)
		return handler(srv, ss)
	}
}
