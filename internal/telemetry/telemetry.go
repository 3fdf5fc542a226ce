// Package telemetry поднимает OpenTelemetry tracer provider процесса.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/o11y-orchestrator/internal/infra"
)

type Provider struct {
	tp   *sdktrace.TracerProvider
	conn *grpc.ClientConn // nil без экспорта
	name string
}

// Init регистрирует глобальный provider и W3C propagator.
// Без OTLPEndpoint спаны пишутся (trace id нужен для correlation id), но никуда не уходят.
func Init(ctx context.Context, cfg infra.TelemetryConfig, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "orchestrator"
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceNamespace(cfg.Namespace),
		semconv.DeploymentEnvironmentName(cfg.Environment),
	)

	p := &Provider{name: cfg.ServiceName}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}

	if cfg.OTLPEndpoint != "" {
		conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("telemetry: grpc client: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		p.conn = conn
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	p.tp = sdktrace.NewTracerProvider(append(tpOpts, opts...)...)

	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return p, nil
}

// sampler: 1 и больше пишет все трассы, 0 и меньше не пишет ни одной.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func (p *Provider) Tracer() trace.Tracer {
	return p.tp.Tracer(p.name)
}

// Shutdown сбрасывает буфер экспортера и закрывает соединение с коллектором.
func (p *Provider) Shutdown(ctx context.Context) error {
	err := p.tp.Shutdown(ctx)
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
