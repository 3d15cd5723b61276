package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/httpclient"
)

// BackendMetrics tracks requests made to the inference backend
type BackendMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transportErrors *prometheus.CounterVec

	inFlight sync.Map // *http.Request -> time.Time
}

// NewBackendMetrics creates and registers the backend request collectors
func NewBackendMetrics(registry prometheus.Registerer) (*BackendMetrics, error) {
	m := &BackendMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safedrive_backend_requests_total",
			Help: "Backend HTTP requests by method, path and status code",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safedrive_backend_request_duration_seconds",
			Help:    "Backend HTTP request latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"method", "path"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safedrive_backend_transport_errors_total",
			Help: "Backend HTTP requests that failed before a response arrived",
		}, []string{"method", "path"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register backend metrics: %w", err)
	}
	return m, nil
}

// Instrument installs request hooks on c
func (m *BackendMetrics) Instrument(c *httpclient.Client) {
	c.SetBeforeRequestHook(m.before)
	c.SetAfterResponseHook(m.after)
}

func (m *BackendMetrics) before(req *http.Request) {
	m.inFlight.Store(req, time.Now())
}

func (m *BackendMetrics) after(req *http.Request, resp *http.Response, err error) {
	path := req.URL.Path
	if v, ok := m.inFlight.LoadAndDelete(req); ok {
		m.requestDuration.WithLabelValues(req.Method, path).Observe(time.Since(v.(time.Time)).Seconds())
	}
	if err != nil {
		m.transportErrors.WithLabelValues(req.Method, path).Inc()
		return
	}
	m.requestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(resp.StatusCode)).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *BackendMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
	m.transportErrors.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *BackendMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
	m.transportErrors.Collect(ch)
}
