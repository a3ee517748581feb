// Command netfdd runs the netfd executor daemon. Clients forward file
// operations to netfdd, which performs them against its local filesystem.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "net/http/pprof" // anonymous import to get the pprof handler registered

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rfratto/netfd/internal/cmdutil"
	"github.com/rfratto/netfd/netfdd"
)

func main() {
	var (
		o          = netfdd.DefaultOptions
		ll         cmdutil.LogLevel
		httpAddr   = "0.0.0.0:8080"
		allowPaths string
	)

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Var(&ll, "log.level", "Level to display logs at")

	fs.StringVar(&o.ListenAddr, "listen-addr", o.ListenAddr, "listen address for the netfdd gRPC server (tcp:// or unix://)")
	fs.StringVar(&httpAddr, "http-listen-addr", httpAddr, "listen address for the metrics and debug HTTP server")
	fs.DurationVar(&o.RequestTimeout, "request-timeout", o.RequestTimeout, "maximum time a single request may run")
	fs.IntVar(&o.ConcurrencyLimit, "concurrency-limit", o.ConcurrencyLimit, "maximum number of requests to serve at once")
	fs.BoolVar(&o.LogRequests, "log-requests", o.LogRequests, "log every request at debug level")
	fs.StringVar(&allowPaths, "allow-paths", "", "comma-separated glob patterns of paths clients may open (default all)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %s", err.Error())
		os.Exit(1)
	}
	if allowPaths != "" {
		o.AllowPaths = strings.Split(allowPaths, ",")
	}
	o.Registerer = prometheus.DefaultRegisterer

	l := ll.NewLogger(os.Stdout)

	d, err := netfdd.New(l, o)
	if err != nil {
		level.Error(l).Log("msg", "failed to create netfdd", "err", err)
		os.Exit(1)
	}

	var group run.Group

	// Information server worker
	{
		lis, err := net.Listen("tcp", httpAddr)
		if err != nil {
			level.Error(l).Log("msg", "failed to create listener for HTTP server", "err", err)
			os.Exit(1)
		}

		r := mux.NewRouter()
		r.Handle("/metrics", promhttp.Handler())
		r.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
			if !d.Ready() {
				http.Error(w, "netfdd is not ready", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintln(w, "netfdd is ready")
		})
		r.PathPrefix("/debug/pprof").Handler(http.DefaultServeMux)
		srv := http.Server{Handler: r}

		group.Add(func() error {
			err := srv.Serve(lis)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}, func(_ error) {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = srv.Close()
			}
		})
	}

	// netfdd worker
	{
		group.Add(func() error {
			return d.Start()
		}, func(_ error) {
			if err := d.Stop(); err != nil {
				level.Warn(l).Log("msg", "errors while stopping netfdd", "err", err)
			}
		})
	}

	// signal worker
	{
		ctx, cancel := context.WithCancel(context.Background())

		group.Add(func() error {
			ch := make(chan os.Signal, 2)
			signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(ch)

			select {
			case <-ch:
				level.Info(l).Log("msg", "received shutdown signal")
			case <-ctx.Done():
			}
			return nil
		}, func(_ error) {
			cancel()
		})
	}

	if err := group.Run(); err != nil {
		level.Error(l).Log("msg", "error running netfdd", "err", err)
		os.Exit(1)
	}
}
