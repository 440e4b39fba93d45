// Package metrics provides Prometheus instrumentation for the tenantdesk
// server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only tenantdesk metrics appear on the /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "tenantdesk"

// Outcome labels for ResourceOperationsTotal.
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus collectors used by the tenantdesk server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	GRPCRequestsTotal       *prometheus.CounterVec
	GRPCRequestDuration     *prometheus.HistogramVec
	AuthFailuresTotal       prometheus.Counter
	ValidationFailuresTotal *prometheus.CounterVec
	AuthzDenialsTotal       *prometheus.CounterVec
	ResourceOperationsTotal *prometheus.CounterVec
	ActiveStreams           *prometheus.GaugeVec
}

// New creates and registers all tenantdesk metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    namespace + "_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_grpc_requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "status"}),

		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    namespace + "_grpc_request_duration_seconds",
			Help:    "gRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespace + "_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),

		ValidationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_validation_failures_total",
			Help: "Requests rejected by input validation.",
		}, []string{"resource", "operation"}),

		AuthzDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_authz_denials_total",
			Help: "Requests denied by authorization, by reason.",
		}, []string{"resource", "reason"}),

		ResourceOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_resource_operations_total",
			Help: "Resource operations that reached the service layer, by outcome.",
		}, []string{"resource", "operation", "outcome"}),

		ActiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: namespace + "_active_streams",
			Help: "Number of active streaming connections.",
		}, []string{"transport"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.AuthFailuresTotal,
		m.ValidationFailuresTotal,
		m.AuthzDenialsTotal,
		m.ResourceOperationsTotal,
		m.ActiveStreams,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// TrackRateLimiter exposes the number of client IPs held by the auth failure
// limiter. size is called on every scrape.
func (m *Metrics) TrackRateLimiter(size func() int) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: namespace + "_rate_limiter_tracked_ips",
		Help: "Client IPs currently tracked by the auth failure rate limiter.",
	}, func() float64 {
		return float64(size())
	}))
}

// InstrumentHandler records count and latency for h under a fixed route
// label, so path parameters and unknown URLs never widen label cardinality.
func (m *Metrics) InstrumentHandler(route string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h.ServeHTTP(rec, r)
		code := strconv.Itoa(rec.status)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// RecordValidationFailure counts a request rejected by input validation.
func (m *Metrics) RecordValidationFailure(resource, operation string) {
	m.ValidationFailuresTotal.WithLabelValues(resource, operation).Inc()
}

// RecordAuthzDenial counts an authorization denial.
func (m *Metrics) RecordAuthzDenial(resource, reason string) {
	m.AuthzDenialsTotal.WithLabelValues(resource, reason).Inc()
}

// RecordOperation counts a resource operation by outcome.
func (m *Metrics) RecordOperation(resource, operation, outcome string) {
	m.ResourceOperationsTotal.WithLabelValues(resource, operation, outcome).Inc()
}

// IncAuthFailures counts a rejected bearer token.
func (m *Metrics) IncAuthFailures() {
	m.AuthFailuresTotal.Inc()
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records
// request count and latency for each method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.observeGRPC(info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor that records
// request count, latency, and active stream gauge. Health Watch calls are the
// only streams the server serves.
func (m *Metrics) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		m.ActiveStreams.WithLabelValues("grpc").Inc()
		defer m.ActiveStreams.WithLabelValues("grpc").Dec()
		start := time.Now()
		err := handler(srv, ss)
		m.observeGRPC(info.FullMethod, start, err)
		return err
	}
}

func (m *Metrics) observeGRPC(fullMethod string, start time.Time, err error) {
	method := path.Base(fullMethod)
	code := status.Code(err).String()
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
}
