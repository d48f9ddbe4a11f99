package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines counters for deployments and uploads.
type Metrics interface {
	IncDeploys(status string)
	ObserveDeployDuration(status string, durationSeconds float64)
	IncUploads(outcome string)
	AddUploadBytes(n int64)
	AddFilesReused(n int)
}

// GatewayMetrics captures request metrics for the HTTP server.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Upload outcomes.
const (
	UploadOK     = "ok"
	UploadRetry  = "retry"
	UploadFailed = "failed"
)

// Noop implements Metrics and GatewayMetrics without emitting anything.
type Noop struct{}

func (Noop) IncDeploys(string)                              {}
func (Noop) ObserveDeployDuration(string, float64)          {}
func (Noop) IncUploads(string)                              {}
func (Noop) AddUploadBytes(int64)                           {}
func (Noop) AddFilesReused(int)                             {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	deploys        *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	uploads        *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	filesReused    prometheus.Counter
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// NewProm registers collectors under namespace with reg.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploys_total",
			Help:      "Deployments by final status",
		}, []string{"status"}),
		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deploy_duration_seconds",
			Help:      "Deployment wall time by final status",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "File upload attempts by outcome",
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes acknowledged by the remote",
		}),
		filesReused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_reused_total",
			Help:      "Files the remote already held and were not uploaded",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(p.deploys, p.deployDuration, p.uploads, p.uploadBytes, p.filesReused, p.requests, p.latency)
	return p
}

func (p *Prom) IncDeploys(status string) {
	p.deploys.WithLabelValues(status).Inc()
}

func (p *Prom) ObserveDeployDuration(status string, durationSeconds float64) {
	p.deployDuration.WithLabelValues(status).Observe(durationSeconds)
}

func (p *Prom) IncUploads(outcome string) {
	p.uploads.WithLabelValues(outcome).Inc()
}

func (p *Prom) AddUploadBytes(n int64) {
	p.uploadBytes.Add(float64(n))
}

func (p *Prom) AddFilesReused(n int) {
	p.filesReused.Add(float64(n))
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics serving g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
