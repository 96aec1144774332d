// Package metrics exposes engine telemetry in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/ppe.report/internal/compliance"
)

const namespace = "ppe"

// Metrics implements compliance.Recorder on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	frames       prometheus.Counter
	tickLatency  prometheus.Histogram
	personsFrame prometheus.Gauge
	dropped      *prometheus.CounterVec
	events       *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	sideEffects  *prometheus.CounterVec
	personErrors prometheus.Counter
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames processed by the compliance engine",
		}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent processing one frame",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		personsFrame: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persons_in_frame",
			Help:      "Person regions found in the most recent frame",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_dropped_total",
			Help:      "Detections discarded before association",
		}, []string{"reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violation_events_total",
			Help:      "Violation events written to the audit log",
		}, []string{"kind", "severity"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts fired by the alert gate",
		}, []string{"severity"}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Alert or evidence side effects that failed",
		}, []string{"kind"}),
		personErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "person_failures_total",
			Help:      "Per-person processing failures isolated from the rest of the frame",
		}),
	}
	m.registry.MustRegister(m.frames, m.tickLatency, m.personsFrame, m.dropped,
		m.events, m.alerts, m.sideEffects, m.personErrors)
	return m
}

// EngineSource is the read side of the engine the gauges sample.
type EngineSource interface {
	Stats() compliance.Stats
	Counters() map[string]int64
}

// BindEngine registers gauges that sample src at scrape time. items fixes
// the label set of the per-item violation gauge.
func (m *Metrics) BindEngine(src EngineSource, items []compliance.ItemClass) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_persons",
			Help:      "Persons currently tracked",
		},
		func() float64 { return float64(src.Stats().LivePersons) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duplicate_frames_total",
			Help:      "Re-delivered frames ignored by the engine",
		},
		func() float64 { return float64(src.Stats().DuplicateFrames) },
	))
	for _, item := range items {
		item := string(item)
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "item_violations",
				Help:        "Session violation count per PPE item",
				ConstLabels: prometheus.Labels{"item": item},
			},
			func() float64 { return float64(src.Counters()[item]) },
		))
	}
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) FrameProcessed(latency time.Duration, persons int) {
	m.frames.Inc()
	m.tickLatency.Observe(latency.Seconds())
	m.personsFrame.Set(float64(persons))
}

func (m *Metrics) DetectionsDropped(reason string, n int) {
	m.dropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) EventEmitted(ev compliance.ViolationEvent) {
	m.events.WithLabelValues(string(ev.Kind), string(ev.Severity)).Inc()
}

func (m *Metrics) AlertFired(_ string, severity compliance.Severity) {
	m.alerts.WithLabelValues(string(severity)).Inc()
}

func (m *Metrics) SideEffectFailed(kind string) {
	m.sideEffects.WithLabelValues(kind).Inc()
}

func (m *Metrics) PersonFailed(string) {
	m.personErrors.Inc()
}
