// Package metrics exposes speedwatch's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"speedwatch/internal/sample"
)

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	cycles          *prometheus.CounterVec
	persistFailures prometheus.Counter
	manualTriggers  *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	download        prometheus.Gauge
	upload          prometheus.Gauge
	ping            prometheus.Gauge
	bufferLen       prometheus.Gauge
	interval        prometheus.Gauge
	wsClients       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speedwatch_cycles_total",
			Help: "Measurement cycles by outcome.",
		}, []string{"outcome"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speedwatch_persist_failures_total",
			Help: "Successful measurements that could not be written to the store.",
		}),
		manualTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speedwatch_manual_triggers_total",
			Help: "Manual run requests from the dashboard by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "speedwatch_cycle_duration_seconds",
			Help:    "Wall time of one measure+persist+publish cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		download: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedwatch_download_mbps",
			Help: "Download speed of the last cycle (0 after a failure).",
		}),
		upload: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedwatch_upload_mbps",
			Help: "Upload speed of the last cycle (0 after a failure).",
		}),
		ping: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedwatch_ping_ms",
			Help: "Latency of the last cycle (0 after a failure).",
		}),
		bufferLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedwatch_buffer_samples",
			Help: "Samples currently held in the rolling buffer.",
		}),
		interval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedwatch_interval_seconds",
			Help: "Current scheduler interval.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedwatch_dashboard_clients",
			Help: "Connected dashboard websocket clients.",
		}),
	}
	m.reg.MustRegister(
		m.cycles, m.persistFailures, m.manualTriggers, m.cycleDuration,
		m.download, m.upload, m.ping, m.bufferLen, m.interval, m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveCycle records one finished cycle. s is the sample pushed to the buffer.
func (m *Metrics) ObserveCycle(outcome string, took time.Duration, s sample.Sample) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(took.Seconds())
	m.download.Set(s.Download)
	m.upload.Set(s.Upload)
	m.ping.Set(s.Ping)
}

func (m *Metrics) PersistFailed() {
	if m != nil {
		m.persistFailures.Inc()
	}
}

// ManualTrigger records a dashboard run request; result is "queued",
// "coalesced" or "rate_limited".
func (m *Metrics) ManualTrigger(result string) {
	if m != nil {
		m.manualTriggers.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SetBufferLen(n int) {
	if m != nil {
		m.bufferLen.Set(float64(n))
	}
}

func (m *Metrics) SetInterval(seconds int) {
	if m != nil {
		m.interval.Set(float64(seconds))
	}
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}
