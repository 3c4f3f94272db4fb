package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry meter provider.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "entomology".
	ServiceName string

	ServiceVersion string

	// Registerer receives the Prometheus collector. Default: prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// InitProvider builds a meter provider backed by a Prometheus exporter so the
// instruments can be scraped from /metrics. The returned shutdown function
// flushes and closes the exporter.
func InitProvider(ctx context.Context, cfg ProviderConfig) (metric.MeterProvider, func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "entomology"
	}

	// The service attributes carry no schema URL so they merge with whatever
	// semconv version the SDK's default resource is stamped with.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	var opts []promexporter.Option
	if cfg.Registerer != nil {
		opts = append(opts, promexporter.WithRegisterer(cfg.Registerer))
	}
	exp, err := promexporter.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	return mp, mp.Shutdown, nil
}
