package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Broker protocol metrics
	BrokerCommandsTotal   *prometheus.CounterVec
	BrokerCommandDuration *prometheus.HistogramVec
	BrokerSessionsCreated prometheus.Counter

	// Federation metrics
	AuthnRequestsTotal  *prometheus.CounterVec
	ResponsesIssued     *prometheus.CounterVec
	RelayEnvelopesTaken prometheus.Counter

	// Identity backend metrics
	IdentityLookupsTotal *prometheus.CounterVec
	LoginAttemptsTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fedgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		BrokerCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_broker_commands_total",
				Help: "Total number of broker protocol commands",
			},
			[]string{"command", "status"},
		),
		BrokerCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fedgate_broker_command_duration_seconds",
				Help:    "Broker command duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"command"},
		),
		BrokerSessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fedgate_broker_sessions_created_total",
				Help: "Total number of broker sessions created",
			},
		),

		AuthnRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_authn_requests_total",
				Help: "Total number of authentication requests received",
			},
			[]string{"status"},
		),
		ResponsesIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_responses_issued_total",
				Help: "Total number of signed responses issued",
			},
			[]string{"audience"},
		),
		RelayEnvelopesTaken: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fedgate_relay_envelopes_taken_total",
				Help: "Total number of staged response envelopes delivered",
			},
		),

		IdentityLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_identity_lookups_total",
				Help: "Total number of identity backend lookups",
			},
			[]string{"result"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_login_attempts_total",
				Help: "Total number of login attempts",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BrokerCommandsTotal,
		m.BrokerCommandDuration,
		m.BrokerSessionsCreated,
		m.AuthnRequestsTotal,
		m.ResponsesIssued,
		m.RelayEnvelopesTaken,
		m.IdentityLookupsTotal,
		m.LoginAttemptsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
