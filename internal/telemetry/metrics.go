// Package telemetry exposes prometheus metrics for the decision pipeline.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/tradeguard/internal/models"
)

// Metrics holds the pipeline's prometheus collectors. Construct once and
// share by reference; a nil *Metrics is safe to call and records nothing.
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec
	ordersPlaced     prometheus.Counter
	circuitOpen      prometheus.Gauge
	rateWindowUsage  prometheus.Gauge
	dataHealthScore  prometheus.Gauge
	accuracy5m       prometheus.Gauge
	trackedDecisions prometheus.Gauge
	registry         *prometheus.Registry
}

// New creates and registers the pipeline collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_decisions_total",
			Help: "Decisions produced by the consensus engine, by action.",
		}, []string{"action"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_guard_rejections_total",
			Help: "Execution guard rejections, by reason code.",
		}, []string{"code"}),
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeguard_orders_placed_total",
			Help: "Orders acknowledged by the placement collaborator.",
		}),
		circuitOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeguard_circuit_open",
			Help: "1 when the execution circuit breaker is open.",
		}),
		rateWindowUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeguard_rate_window_attempts",
			Help: "Attempts currently inside the sliding rate window.",
		}),
		dataHealthScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeguard_data_health_score",
			Help: "Fraction of venues that are healthy.",
		}),
		accuracy5m: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeguard_accuracy_5m",
			Help: "Rolling 5-minute decision accuracy.",
		}),
		trackedDecisions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeguard_tracked_decisions",
			Help: "Decisions currently held by the outcome tracker.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.decisionsTotal,
		m.rejectionsTotal,
		m.ordersPlaced,
		m.circuitOpen,
		m.rateWindowUsage,
		m.dataHealthScore,
		m.accuracy5m,
		m.trackedDecisions,
	)
	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecision records one consensus decision.
func (m *Metrics) ObserveDecision(d models.Decision) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(string(d.Action)).Inc()
}

// ObserveRejection records one guard rejection by reason code.
func (m *Metrics) ObserveRejection(code string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(code).Inc()
}

// ObserveOrderPlaced records one acknowledged order.
func (m *Metrics) ObserveOrderPlaced() {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
}

// ObserveGuard records the guard state snapshot.
func (m *Metrics) ObserveGuard(snap models.GuardSnapshot) {
	if m == nil {
		return
	}
	if snap.CircuitOpen {
		m.circuitOpen.Set(1)
	} else {
		m.circuitOpen.Set(0)
	}
	m.rateWindowUsage.Set(float64(snap.WindowCount))
}

// ObserveDataHealth records the aggregate venue health score.
func (m *Metrics) ObserveDataHealth(score models.DataHealthScore) {
	if m == nil {
		return
	}
	m.dataHealthScore.Set(score.Score)
}

// ObserveAccuracy records the tracker's rolling metrics.
func (m *Metrics) ObserveAccuracy(metrics models.AccuracyMetrics) {
	if m == nil {
		return
	}
	m.accuracy5m.Set(metrics.Horizon5m.Accuracy)
	m.trackedDecisions.Set(float64(metrics.TotalTracked))
}
