package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes pipeline and HTTP instrumentation. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry          *prometheus.Registry
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	lastSuccess       prometheus.Gauge
	lastRecordCount   prometheus.Gauge
	skippedTicks      prometheus.Counter
	narrativeFallback prometheus.Counter
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_runs_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "insights_run_duration_seconds",
			Help:    "Wall time of pipeline runs.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insights_last_success_timestamp_seconds",
			Help: "Unix time of the last published snapshot.",
		}),
		lastRecordCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insights_last_record_count",
			Help: "Records in the window of the last successful run.",
		}),
		skippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_skipped_ticks_total",
			Help: "Ticks skipped because a run was still in flight.",
		}),
		narrativeFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_narrative_fallback_total",
			Help: "Successful runs published with the placeholder narrative.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.lastSuccess,
		m.lastRecordCount,
		m.skippedTicks,
		m.narrativeFallback,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RunFinished(outcome string, duration time.Duration, recordCount int, fallback bool, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
	if outcome != "SUCCEEDED" {
		return
	}
	m.lastSuccess.Set(float64(finishedAt.Unix()))
	m.lastRecordCount.Set(float64(recordCount))
	if fallback {
		m.narrativeFallback.Inc()
	}
}

func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.skippedTicks.Inc()
}

func (m *Metrics) ObserveHTTP(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}
