package engine

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Observer отделяет конвейер от span-ов и метрик.
// Один конвейер, подключаемые реализации наблюдаемости.
type Observer interface {
	StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)

	IncRequest(endpoint string)
	IncDependencyCall(target string)
	ObservePhaseDuration(phase string, seconds float64)
	ObserveOutcome(target, outcome string)
	ObserveRequest(endpoint, status string, seconds float64)
}

type observer struct {
	tracer trace.Tracer
	*Metrics
}

// NewObserver связывает tracer и prometheus-метрики. nil-аргументы заменяются заглушками.
func NewObserver(tracer trace.Tracer, metrics *Metrics) Observer {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("orchestrator")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &observer{tracer: tracer, Metrics: metrics}
}

func (o *observer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, opts...)
}
