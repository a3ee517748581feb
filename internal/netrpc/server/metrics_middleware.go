package server

import (
	"context"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rfratto/netfd/internal/netrpc"
	"golang.org/x/sys/unix"
)

type metricsMiddleware struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsMiddleware returns a middleware which counts requests by op and
// resulting errno, and observes their durations. Metrics are registered
// against reg.
func NewMetricsMiddleware(reg prometheus.Registerer) (Middleware, error) {
	mm := &metricsMiddleware{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netfd_executor_requests_total",
			Help: "Total number of requests handled by the executor.",
		}, []string{"op", "errno"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netfd_executor_request_duration_seconds",
			Help:    "Time spent handling executor requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{mm.requests, mm.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return mm, nil
}

func (mm *metricsMiddleware) HandleRequest(ctx context.Context, hdr *netrpc.RequestHeader, req netrpc.Request, invoker Invoker) (netrpc.Response, error) {
	start := time.Now()
	resp, err := invoker(ctx, hdr, req)
	mm.duration.WithLabelValues(hdr.Op.String()).Observe(time.Since(start).Seconds())

	var errno netrpc.Errno
	switch {
	case err != nil:
		errno = errnoForResponse(err)
	case resp != nil:
		errno = resp.Errno()
	}
	mm.requests.WithLabelValues(hdr.Op.String(), errnoLabel(errno)).Inc()
	return resp, err
}

// errnoLabel returns the symbolic name of e, such as "ENOENT".
func errnoLabel(e netrpc.Errno) string {
	if e == 0 {
		return "OK"
	}
	if name := unix.ErrnoName(syscall.Errno(e)); name != "" {
		return name
	}
	return e.Error()
}
