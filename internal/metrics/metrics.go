package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commco/backend/internal/models"
)

// Metrics holds the Prometheus collectors of the sync pipeline and the HTTP
// surface. It satisfies pipeline.Observer and classifier.Observer.
type Metrics struct {
	registry *prometheus.Registry

	SyncRuns         *prometheus.CounterVec
	CommentsWritten  *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	Classifications  *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// New creates the collectors and registers them on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SyncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commco_sync_runs_total",
				Help: "Finished sync runs, by outcome code.",
			},
			[]string{"outcome"},
		),
		CommentsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commco_sync_comments_total",
				Help: "Comments written by sync runs, by operation.",
			},
			[]string{"op"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "commco_sync_duration_seconds",
				Help:    "Duration of sync runs.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		Classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commco_classifications_total",
				Help: "Comment classifications, by how the label was matched.",
			},
			[]string{"match"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "commco_sync_queue_depth",
				Help: "Sync jobs waiting for a worker.",
			},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commco_api_request_duration_seconds",
				Help:    "HTTP request duration in seconds, by route, method and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "commco_requests_in_flight",
				Help: "Number of HTTP requests currently being served.",
			},
		),
	}

	m.registry.MustRegister(
		m.SyncRuns,
		m.CommentsWritten,
		m.SyncDuration,
		m.Classifications,
		m.QueueDepth,
		m.RequestDuration,
		m.RequestsInFlight,
		collectors.NewGoCollector(),
	)
	return m
}

// RegisterPool exposes live connection pool gauges.
func (m *Metrics) RegisterPool(pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "commco_db_connection_pool_active",
				Help: "Number of acquired database connections.",
			},
			func() float64 { return float64(pool.Stat().AcquiredConns()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "commco_db_connection_pool_idle",
				Help: "Number of idle database connections.",
			},
			func() float64 { return float64(pool.Stat().IdleConns()) },
		),
	)
}

// ObserveSync records the outcome of one run.
func (m *Metrics) ObserveSync(outcome string, summary models.RunSummary, elapsed time.Duration) {
	m.SyncRuns.WithLabelValues(outcome).Inc()
	m.SyncDuration.Observe(elapsed.Seconds())
	if summary.Created > 0 {
		m.CommentsWritten.WithLabelValues("created").Add(float64(summary.Created))
	}
	if summary.Updated > 0 {
		m.CommentsWritten.WithLabelValues("updated").Add(float64(summary.Updated))
	}
}

// ObserveQueueDepth records how many jobs are waiting.
func (m *Metrics) ObserveQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// ObserveClassification counts one classification by match kind.
func (m *Metrics) ObserveClassification(outcome string) {
	m.Classifications.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument records duration and in-flight count for requests to route.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		m.RequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
