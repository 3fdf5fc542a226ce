package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

type Metrics struct {
	// Traffic: входящие запросы конвейера
	ProcessTotal *prometheus.CounterVec

	// Попытки внешних вызовов (выключенные оператором не считаются)
	ExternalCalls *prometheus.CounterVec

	// Исходы внешних вызовов: success / unavailable
	DependencyOutcomes *prometheus.CounterVec

	// Latency фазы записи в БД (insert + count)
	PhaseDuration *prometheus.HistogramVec

	// Latency всего конвейера
	RequestDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker (0 - closed, 0.5 - half-open, 1 - open)
	CircuitBreakerState *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ProcessTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_process_total",
			Help: "Total number of process requests.",
		}, []string{"endpoint"}),

		ExternalCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_external_calls_total",
			Help: "Total number of external service calls.",
		}, []string{"target"}),

		DependencyOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_dependency_outcomes_total",
			Help: "Outcomes of external calls by target.",
		}, []string{"target", "outcome"}),

		PhaseDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_db_query_duration_seconds",
			Help:    "Duration of database phases.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation"}),

		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_request_duration_seconds",
			Help:    "Histogram of pipeline latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint", "status"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"target"}),
	}
}

func (m *Metrics) IncRequest(endpoint string) {
	emit(func() { m.ProcessTotal.WithLabelValues(endpoint).Inc() })
}

func (m *Metrics) IncDependencyCall(target string) {
	emit(func() { m.ExternalCalls.WithLabelValues(target).Inc() })
}

func (m *Metrics) ObservePhaseDuration(phase string, seconds float64) {
	emit(func() { m.PhaseDuration.WithLabelValues(phase).Observe(seconds) })
}

func (m *Metrics) ObserveOutcome(target, outcome string) {
	emit(func() { m.DependencyOutcomes.WithLabelValues(target, outcome).Inc() })
}

func (m *Metrics) ObserveRequest(endpoint, status string, seconds float64) {
	emit(func() { m.RequestDuration.WithLabelValues(endpoint, status).Observe(seconds) })
}

func (m *Metrics) SetBreakerState(target string, state gobreaker.State) {
	v := 0.0
	switch state {
	case gobreaker.StateHalfOpen:
		v = 0.5
	case gobreaker.StateOpen:
		v = 1
	}
	emit(func() { m.CircuitBreakerState.WithLabelValues(target).Set(v) })
}

// emit глотает любые сбои метрик: они не должны влиять на конвейер.
func emit(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
