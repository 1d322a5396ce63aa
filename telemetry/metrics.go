package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradleyConlin/northstrike-training/estimator"
)

// Metrics exports estimator events to Prometheus. It implements
// estimator.Observer and Sink.
type Metrics struct {
	registry  *prometheus.Registry
	events    *prometheus.CounterVec
	distance  *prometheus.HistogramVec
	posStd    *prometheus.GaugeVec
	estimateT prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "northstrike_estimator_events_total",
				Help: "Estimator events by kind and measurement type",
			},
			[]string{"event", "measurement"},
		),
		distance: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "northstrike_estimator_mahalanobis_distance",
				Help:    "Mahalanobis distance of innovations, accepted or rejected",
				Buckets: []float64{0.5, 1, 1.5, 2, 3, 4, 5, 7.5, 10, 20},
			},
			[]string{"measurement"},
		),
		posStd: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "northstrike_estimator_position_std_meters",
				Help: "Position standard deviation of the latest estimate",
			},
			[]string{"axis"},
		),
		estimateT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "northstrike_estimator_time_seconds",
				Help: "Timestamp of the latest estimate",
			},
		),
	}
	m.registry.MustRegister(m.events, m.distance, m.posStd, m.estimateT)
	return m
}

// Observe implements estimator.Observer
func (m *Metrics) Observe(ev estimator.Event) {
	m.events.WithLabelValues(ev.Kind.String(), ev.Measurement.String()).Inc()
	if ev.Kind == estimator.EventUpdated || ev.Kind == estimator.EventRejected {
		m.distance.WithLabelValues(ev.Measurement.String()).Observe(ev.Distance)
	}
}

// Emit implements Sink
func (m *Metrics) Emit(e Emission) error {
	std := e.Snapshot.PositionStd()
	for i, a := range []string{"x", "y", "z"} {
		m.posStd.WithLabelValues(a).Set(std[i])
	}
	m.estimateT.Set(e.Snapshot.T)
	return nil
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
