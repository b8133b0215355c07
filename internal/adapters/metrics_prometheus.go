package adapters

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/types"
)

// PrometheusMetrics registers its collectors on a private registry so
// several instances can coexist in one process.
type PrometheusMetrics struct {
	Registry *prometheus.Registry

	requests       *prometheus.CounterVec
	bytesServed    prometheus.Counter
	enrollments    *prometheus.CounterVec
	sessionsActive prometheus.Gauge
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
}

func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &PrometheusMetrics{
		Registry: registry,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_rollout_requests_total",
				Help: "Requests handled by message kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		bytesServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleet_rollout_response_bytes_total",
			Help: "Response body bytes sent",
		}),
		enrollments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_rollout_whitelist_enrollments_total",
				Help: "Devices auto-enrolled into a whitelist",
			},
			[]string{"channel", "package"},
		),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_rollout_sessions_active",
			Help: "Open client sessions",
		}),
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_rollout_agent_cycles_total",
				Help: "Agent refresh cycles by outcome",
			},
			[]string{"outcome"},
		),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleet_rollout_agent_cycle_duration_seconds",
			Help:    "Agent refresh cycle duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		}),
	}
}

func (m *PrometheusMetrics) ObserveRequest(kind types.MessageKind, outcome string) {
	m.requests.WithLabelValues(kind.String(), outcome).Inc()
}

func (m *PrometheusMetrics) AddBytesServed(n int) {
	m.bytesServed.Add(float64(n))
}

func (m *PrometheusMetrics) IncEnrollments(channel string, name string) {
	m.enrollments.WithLabelValues(channel, name).Inc()
}

func (m *PrometheusMetrics) SessionOpened() { m.sessionsActive.Inc() }
func (m *PrometheusMetrics) SessionClosed() { m.sessionsActive.Dec() }

func (m *PrometheusMetrics) ObserveCycle(outcome string, duration time.Duration) {
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ServeMetrics exposes /metrics on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, metrics *PrometheusMetrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()
	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveRequest(types.MessageKind, string) {}
func (NopMetrics) AddBytesServed(int)                       {}
func (NopMetrics) IncEnrollments(string, string)            {}
func (NopMetrics) SessionOpened()                           {}
func (NopMetrics) SessionClosed()                           {}
func (NopMetrics) ObserveCycle(string, time.Duration)       {}

var (
	_ ports.MetricsPort = (*PrometheusMetrics)(nil)
	_ ports.MetricsPort = NopMetrics{}
)
