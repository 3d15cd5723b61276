package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Classification outcomes
const (
	OutcomeDetection = "detection"
	OutcomeNone      = "none"
	OutcomeError     = "error"
	OutcomeDiscarded = "discarded"
)

// PipelineMetrics covers the capture, classification and alert stages
type PipelineMetrics struct {
	Volume                 prometheus.Gauge
	GateState              *prometheus.GaugeVec
	Captures               *prometheus.CounterVec
	Classifications        *prometheus.CounterVec
	ClassificationDuration *prometheus.HistogramVec
	AlertsShown            *prometheus.CounterVec
	DetectionsActive       prometheus.Gauge
	DetectionsStored       *prometheus.CounterVec
	StreamConnected        prometheus.Gauge
	StreamReconnects       prometheus.Counter
	EventsDropped          prometheus.Counter
}

// NewPipelineMetrics creates and registers the pipeline collectors
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		Volume: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "safedrive_audio_volume",
			Help: "Latest smoothed microphone loudness on the 0..255 scale",
		}),
		GateState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safedrive_gate_state",
			Help: "1 for the current threshold gate state, 0 otherwise",
		}, []string{"state"}),
		Captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safedrive_captures_total",
			Help: "Finished capture sessions by trigger",
		}, []string{"trigger"}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safedrive_classifications_total",
			Help: "Classification requests by source and outcome",
		}, []string{"source", "outcome"}),
		ClassificationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safedrive_classification_duration_seconds",
			Help:    "Time from end of capture to classification result",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source"}),
		AlertsShown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safedrive_alerts_shown_total",
			Help: "Alerts shown to the driver by source and direction",
		}, []string{"source", "direction"}),
		DetectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "safedrive_detections_active",
			Help: "Unexpired detection events held for the map",
		}),
		DetectionsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safedrive_detections_stored_total",
			Help: "Detection events stored by type",
		}, []string{"type"}),
		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "safedrive_stream_connected",
			Help: "1 while the streaming classifier socket is open",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safedrive_stream_reconnects_total",
			Help: "Reconnect attempts of the streaming classifier",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safedrive_events_dropped_total",
			Help: "Pipeline events dropped because the event bus was full",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

// SetGateState marks state as current among all
func (m *PipelineMetrics) SetGateState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.GateState.WithLabelValues(s).Set(v)
	}
}

// ObserveClassification records one finished classification
func (m *PipelineMetrics) ObserveClassification(source, outcome string, d time.Duration) {
	m.Classifications.WithLabelValues(source, outcome).Inc()
	if d > 0 {
		m.ClassificationDuration.WithLabelValues(source).Observe(d.Seconds())
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Volume.Desc()
	m.GateState.Describe(ch)
	m.Captures.Describe(ch)
	m.Classifications.Describe(ch)
	m.ClassificationDuration.Describe(ch)
	m.AlertsShown.Describe(ch)
	ch <- m.DetectionsActive.Desc()
	m.DetectionsStored.Describe(ch)
	ch <- m.StreamConnected.Desc()
	ch <- m.StreamReconnects.Desc()
	ch <- m.EventsDropped.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Volume
	m.GateState.Collect(ch)
	m.Captures.Collect(ch)
	m.Classifications.Collect(ch)
	m.ClassificationDuration.Collect(ch)
	m.AlertsShown.Collect(ch)
	ch <- m.DetectionsActive
	m.DetectionsStored.Collect(ch)
	ch <- m.StreamConnected
	ch <- m.StreamReconnects
	ch <- m.EventsDropped
}
