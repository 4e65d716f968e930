package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. Each Server owns its
// own registry so tests can build many servers in one process.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	uploadsTotal    prometheus.Counter
	uploadBytes     prometheus.Counter
	loginsTotal     *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics(version string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	factory.NewGauge(prometheus.GaugeOpts{
		Name:        "cfd_info",
		Help:        "Build information.",
		ConstLabels: prometheus.Labels{"version": version},
	}).Set(1)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cfd_http_requests_total",
			Help: "HTTP requests by status code.",
		}, []string{"code"}),
		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cfd_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		uploadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cfd_uploads_total",
			Help: "Files stored through /uploadfiles/.",
		}),
		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "cfd_upload_bytes_total",
			Help: "Bytes stored through /uploadfiles/.",
		}),
		loginsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cfd_logins_total",
			Help: "Password grants by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) RecordRequest(status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	m.requestDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordUpload(bytes int64) {
	m.uploadsTotal.Inc()
	m.uploadBytes.Add(float64(bytes))
}

// RecordLogin counts a grant as "success", "failure" or "locked".
func (m *Metrics) RecordLogin(result string) {
	m.loginsTotal.WithLabelValues(result).Inc()
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
