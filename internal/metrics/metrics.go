// Package metrics exposes the gateway's Prometheus counters/histograms and
// the dedicated metrics HTTP server that serves them.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	MetricsNamespace         = "rpc_gateway"
	defaultReadHeaderTimeout = 10 * time.Second
)

// methodCallBuckets matches the gateway's expected in-process latency
// profile: most calls resolve in single-digit milliseconds (canned, cached,
// coalesced), with upstream round trips stretching into the low seconds.
var methodCallBuckets = []float64{.010, .020, .050, .100, .200, .500, 1, 2}

var (
	methodCallResponseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "method_call_response_total",
			Help:      "Count of chain handler calls by method, response source, and success.",
		},
		[]string{"chain_name", "project", "method", "source", "success"},
	)

	methodCallResponseLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "method_call_response_latency_seconds",
			Help:      "Latency of chain handler calls by method and response source.",
			Buckets:   methodCallBuckets,
		},
		[]string{"chain_name", "project", "method", "source"},
	)

	httpResponseLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "http_response_latency_seconds",
			Help:      "Latency of the external HTTP request handled by the RPC listener.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"code"},
	)

	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "upstream_requests_total",
			Help:      "Count of requests forwarded to upstreams.",
		},
		[]string{"chain_name", "upstream_id"},
	)

	upstreamRequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "upstream_request_errors_total",
			Help:      "Count of errors when forwarding requests to upstreams, by error kind.",
		},
		[]string{"chain_name", "upstream_id", "kind"},
	)

	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of requests forwarded to upstreams.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"chain_name", "upstream_id"},
	)

	healthyUpstreamCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "healthy_upstream_count",
			Help:      "Count of upstreams currently reporting healthy, per chain.",
		},
		[]string{"chain_name"},
	)
)

// Container curries every metric with a fixed chain_name label so call
// sites within a chain handler never repeat it.
type Container struct {
	MethodCallResponseTotal   *prometheus.CounterVec
	MethodCallResponseLatency prometheus.ObserverVec

	UpstreamRequestsTotal      *prometheus.CounterVec
	UpstreamRequestErrorsTotal *prometheus.CounterVec
	UpstreamRequestDuration    prometheus.ObserverVec

	HealthyUpstreamCount prometheus.Gauge
}

func NewContainer(chainName string) *Container {
	presetLabels := prometheus.Labels{"chain_name": chainName}

	return &Container{
		MethodCallResponseTotal:   methodCallResponseTotal.MustCurryWith(presetLabels),
		MethodCallResponseLatency: methodCallResponseLatency.MustCurryWith(presetLabels),

		UpstreamRequestsTotal:      upstreamRequestsTotal.MustCurryWith(presetLabels),
		UpstreamRequestErrorsTotal: upstreamRequestErrorsTotal.MustCurryWith(presetLabels),
		UpstreamRequestDuration:    upstreamRequestDuration.MustCurryWith(presetLabels),

		HealthyUpstreamCount: healthyUpstreamCount.With(presetLabels),
	}
}

// ObserveMethodCall records one chain handler call's outcome and latency.
func (c *Container) ObserveMethodCall(project, method, source string, success bool, elapsed time.Duration) {
	c.MethodCallResponseTotal.WithLabelValues(project, method, source, fmt.Sprintf("%t", success)).Inc()
	c.MethodCallResponseLatency.WithLabelValues(project, method, source).Observe(elapsed.Seconds())
}

// ObserveHTTPResponse records the external listener's total handling time
// for one HTTP request.
func ObserveHTTPResponse(code string, elapsed time.Duration) {
	httpResponseLatency.WithLabelValues(code).Observe(elapsed.Seconds())
}

// Server is the dedicated metrics listener, separate from the RPC server,
// per the gateway's original split-listener shape.
type Server struct {
	server *http.Server
}

func NewServer(host string, port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
		},
	}
}

func (s *Server) Start() error {
	zap.L().Info("Starting metrics server.", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
