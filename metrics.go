package duckling

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// layerMetrics holds the Prometheus collectors of the access layer.
type layerMetrics struct {
	once     sync.Once
	registry *prometheus.Registry

	openHandles *prometheus.GaugeVec

	queries     *prometheus.CounterVec
	rowsFetched prometheus.Counter

	rowsBuffered  prometheus.Counter
	rowsFlushed   prometheus.Counter
	rowsDiscarded prometheus.Counter
	flushes       *prometheus.CounterVec

	queryDuration prometheus.Histogram
	flushDuration prometheus.Histogram
}

var metrics layerMetrics

func (m *layerMetrics) init() {
	m.once.Do(func() {
		m.registry = prometheus.NewRegistry()

		m.openHandles = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "duckling_open_handles", Help: "Live handles by resource kind"}, []string{"kind"})

		m.queries = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "duckling_queries_total", Help: "Queries and statement executions by outcome"}, []string{"outcome"})
		m.rowsFetched = prometheus.NewCounter(prometheus.CounterOpts{Name: "duckling_rows_fetched_total", Help: "Result rows handed to callers"})

		m.rowsBuffered = prometheus.NewCounter(prometheus.CounterOpts{Name: "duckling_appender_rows_buffered_total", Help: "Rows accepted into appender buffers"})
		m.rowsFlushed = prometheus.NewCounter(prometheus.CounterOpts{Name: "duckling_appender_rows_flushed_total", Help: "Appender rows committed to the engine"})
		m.rowsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{Name: "duckling_appender_rows_discarded_total", Help: "Buffered appender rows dropped without a commit"})
		m.flushes = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "duckling_appender_flushes_total", Help: "Appender flushes by outcome"}, []string{"outcome"})

		buckets := []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
		m.queryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "duckling_query_seconds", Help: "Time until a query result is ready", Buckets: buckets})
		m.flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "duckling_appender_flush_seconds", Help: "Appender flush duration", Buckets: buckets})

		m.registry.MustRegister(
			m.openHandles,
			m.queries, m.rowsFetched,
			m.rowsBuffered, m.rowsFlushed, m.rowsDiscarded, m.flushes,
			m.queryDuration, m.flushDuration,
		)
	})
}

// MetricsRegistry returns the registry holding the layer's collectors, for
// hosts that expose it (promhttp.HandlerFor) or gather it into their own.
func MetricsRegistry() *prometheus.Registry {
	metrics.init()
	return metrics.registry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func recordHandleOpened(kind ResourceKind) {
	metrics.init()
	metrics.openHandles.WithLabelValues(kind.String()).Inc()
}

func recordHandleClosed(kind ResourceKind) {
	metrics.init()
	metrics.openHandles.WithLabelValues(kind.String()).Dec()
}

func recordQuery(start time.Time, err error) {
	metrics.init()
	metrics.queries.WithLabelValues(outcome(err)).Inc()
	metrics.queryDuration.Observe(time.Since(start).Seconds())
}

func recordRowsFetched(n int) {
	metrics.init()
	metrics.rowsFetched.Add(float64(n))
}

func recordRowsBuffered(n int) {
	metrics.init()
	metrics.rowsBuffered.Add(float64(n))
}

func recordRowsDiscarded(n int) {
	metrics.init()
	metrics.rowsDiscarded.Add(float64(n))
}

func recordFlush(start time.Time, rows int, err error) {
	metrics.init()
	metrics.flushes.WithLabelValues(outcome(err)).Inc()
	metrics.flushDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.rowsFlushed.Add(float64(rows))
	}
}
