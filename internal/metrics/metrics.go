// Package metrics exposes Prometheus counters for telemetry ingest, replay
// sessions and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trinity_replay"

// Metrics holds every collector on its own registry so independent
// instances can coexist in one process
type Metrics struct {
	registry *prometheus.Registry

	SnapshotsIngested prometheus.Counter
	RoundsEnded       prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	Anomalies         prometheus.Counter
	ReplaySessions    prometheus.Gauge
	ReplayFrames      prometheus.Counter

	reqDuration *prometheus.HistogramVec
	reqInflight prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SnapshotsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_ingested_total",
			Help:      "Player snapshots stored from the telemetry broker.",
		}),
		RoundsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_ended_total",
			Help:      "Rounds closed by a round end message.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Telemetry messages that could not be stored.",
		}, []string{"reason"}),
		Anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_anomalies_total",
			Help:      "Decreasing cumulative counters skipped while building combat logs.",
		}),
		ReplaySessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replay_sessions",
			Help:      "Open WebSocket replay sessions.",
		}),
		ReplayFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_frames_total",
			Help:      "Replay state frames queued to WebSocket clients.",
		}),
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of API requests.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route", "status"}),
		reqInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "API requests currently being served.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SnapshotsIngested, m.RoundsEnded, m.MessagesDropped, m.Anomalies,
		m.ReplaySessions, m.ReplayFrames,
		m.reqDuration, m.reqInflight,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gather returns the current value of every metric family, summed across
// labels. Histograms report their sample count.
func (m *Metrics) Gather() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				out[f.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[f.GetName()] += metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				out[f.GetName()] += float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}

// statusRecorder captures the response status for labeling
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument records duration and status for requests to route. It must not
// wrap WebSocket handlers since the recorder does not support hijacking.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		m.reqInflight.Inc()
		defer m.reqInflight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		m.reqDuration.WithLabelValues(req.Method, route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
