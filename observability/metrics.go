package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fourlimit/limiter"
)

// MetricsServer serves Prometheus metrics on a separate port.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics HTTP server serving the Prometheus
// handler at the given path on the given port.
func NewMetricsServer(port int, path string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// Start begins serving metrics in a blocking call.
// Returns http.ErrServerClosed on graceful shutdown.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// Recorder is a Prometheus-backed limiter.MetricsRecorder. Metrics are
// labelled by algorithm and outcome only; keys are deliberately not a label
// to keep cardinality bounded.
type Recorder struct {
	decisions *prometheus.CounterVec
	waits     *prometheus.HistogramVec
	flushes   *prometheus.CounterVec
}

// NewRecorder registers the limiter metrics with reg
// (prometheus.DefaultRegisterer is the usual choice).
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Admission decisions by algorithm and outcome.",
		}, []string{"algorithm", "outcome"}),
		waits: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratelimit_wait_seconds",
			Help:    "Time spent blocked waiting for admission.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"algorithm", "admitted"}),
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_state_flushes_total",
			Help: "State flush attempts by algorithm and outcome.",
		}, []string{"algorithm", "outcome"}),
	}
}

func (r *Recorder) RecordDecision(algorithm limiter.Algorithm, key string, allowed bool) {
	r.decisions.WithLabelValues(string(algorithm), outcome(allowed)).Inc()
}

func (r *Recorder) RecordWait(algorithm limiter.Algorithm, key string, waited time.Duration, admitted bool) {
	r.waits.WithLabelValues(string(algorithm), boolLabel(admitted)).Observe(waited.Seconds())
}

func (r *Recorder) RecordFlush(algorithm limiter.Algorithm, err error) {
	label := "ok"
	if err != nil {
		label = "error"
	}
	r.flushes.WithLabelValues(string(algorithm), label).Inc()
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
