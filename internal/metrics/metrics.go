// Package metrics exposes Prometheus instruments for the control loop.
// A nil *Metrics is valid; every method is a no-op on nil.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carbon"

type Metrics struct {
	gatherer prometheus.Gatherer

	ticksTotal       prometheus.Counter
	predictionsTotal prometheus.Counter
	oracleFailures   prometheus.Counter
	oracleDuration   prometheus.Histogram
	decisionsTotal   *prometheus.CounterVec
	actuationsTotal  *prometheus.CounterVec
	batchesTotal     *prometheus.CounterVec
	predCapacity     prometheus.Gauge
	predConfidence   prometheus.Gauge
	groundTruth      prometheus.Histogram
	persistErrors    prometheus.Counter
}

// NewMetrics creates the instruments and registers them on reg. When reg is
// nil a fresh registry is used, so tests and repeated runs never collide on
// the default registerer.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "loop",
			Name: "ticks_total",
			Help: "Total telemetry records consumed by the control loop.",
		}),
		predictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "oracle",
			Name: "predictions_total",
			Help: "Total oracle predictions requested.",
		}),
		oracleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "oracle",
			Name: "failures_total",
			Help: "Oracle calls that errored, timed out or returned non-finite values.",
		}),
		oracleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "oracle",
			Name:    "duration_seconds",
			Help:    "Oracle call duration.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent",
			Name: "decisions_total",
			Help: "Agent decisions by action.",
		}, []string{"action"}),
		actuationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "loop",
			Name: "actuations_total",
			Help: "Actuation commands sent to the plant by kind and result.",
		}, []string{"kind", "result"}),
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "loop",
			Name: "batches_total",
			Help: "Finished batches by outcome.",
		}, []string{"outcome"}),
		predCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "oracle",
			Name: "predicted_capacity",
			Help: "Most recent predicted capacity in mmol/g.",
		}),
		predConfidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "oracle",
			Name: "confidence",
			Help: "Most recent prediction confidence.",
		}),
		groundTruth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "batch",
			Name:    "ground_truth_capacity",
			Help:    "Measured capacity of finished batches in mmol/g.",
			Buckets: []float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4},
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store",
			Name: "persist_errors_total",
			Help: "Experiments that failed to persist.",
		}),
	}

	reg.MustRegister(
		m.ticksTotal,
		m.predictionsTotal,
		m.oracleFailures,
		m.oracleDuration,
		m.decisionsTotal,
		m.actuationsTotal,
		m.batchesTotal,
		m.predCapacity,
		m.predConfidence,
		m.groundTruth,
		m.persistErrors,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the registry the instruments live in.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.gatherer
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
}

// Prediction records one oracle call. A failed call degrades to a zero
// prediction, which is still reported on the gauges.
func (m *Metrics) Prediction(duration time.Duration, capacity, confidence float64, failed bool) {
	if m == nil {
		return
	}
	m.predictionsTotal.Inc()
	m.oracleDuration.Observe(duration.Seconds())
	if failed {
		m.oracleFailures.Inc()
	}
	m.predCapacity.Set(capacity)
	m.predConfidence.Set(confidence)
}

func (m *Metrics) Decision(action string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) Actuation(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "applied"
	if !ok {
		result = "rejected"
	}
	m.actuationsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) BatchFinished(outcome string, groundTruth float64) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(outcome).Inc()
	m.groundTruth.Observe(groundTruth)
}

func (m *Metrics) PersistError() {
	if m == nil {
		return
	}
	m.persistErrors.Inc()
}
