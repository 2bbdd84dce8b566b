// Package telemetry installs the process-wide OpenTelemetry meter provider
// and exports its metrics over OTLP/gRPC.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"thirdeye-service/internal/config"
)

const DefaultExportInterval = 15 * time.Second

type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	log           zerolog.Logger
}

// Setup builds the OTLP exporter and registers the meter provider globally.
// When telemetry is disabled the returned provider hands out the global
// meter, which stays a no-op.
func Setup(ctx context.Context, cfg config.TelemetryConfig, environment, version string, log zerolog.Logger) (*Provider, error) {
	log = log.With().Str("component", "telemetry").Logger()
	if !cfg.Enabled {
		log.Info().Msg("telemetry disabled")
		return &Provider{log: log}, nil
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = DefaultExportInterval
	}
	p := install(newResource(cfg.ServiceName, environment, version),
		sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)), log)

	log.Info().
		Str("endpoint", cfg.OTLPEndpoint).
		Dur("interval", interval).
		Msg("metric export enabled")
	return p, nil
}

func newResource(service, environment, version string) *resource.Resource {
	if service == "" {
		service = "thirdeye"
	}
	return resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
		attribute.String("deployment.environment", environment),
	)
}

func install(res *resource.Resource, reader sdkmetric.Reader, log zerolog.Logger) *Provider {
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	return &Provider{meterProvider: mp, log: log}
}

func (p *Provider) Meter(name string) metric.Meter {
	if p.meterProvider == nil {
		return otel.Meter(name)
	}
	return p.meterProvider.Meter(name)
}

// Shutdown flushes pending metrics and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}
