package app

import (
	"context"
	"os"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"

	"github.com/Mosberg/entomology/internal/admin"
	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/observability/log"
	"github.com/Mosberg/entomology/internal/core/observability/metrics"
	"github.com/Mosberg/entomology/internal/core/registry"
	"github.com/Mosberg/entomology/internal/core/telemetry"
	"github.com/Mosberg/entomology/internal/integration"
)

// ProviderSet builds an App from Settings.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvidePrometheusRegistry,
	wire.Bind(new(prometheus.Gatherer), new(*prometheus.Registry)),
	ProvideMeterProvider,
	metrics.New,
	ProvideFileStorage,
	ProvideStore,
	ProvideRegistry,
	ProvideTelemetry,
	ProvideSystem,
	ProvideWatcher,
	ProvideAdmin,
	NewApp,
)

func ProvideLogger(s Settings) (*log.Logger, error) {
	level, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, err
	}
	return log.New(level), nil
}

func ProvidePrometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func ProvideMeterProvider(ctx context.Context, s Settings, reg *prometheus.Registry, logger log.Log) (metric.MeterProvider, func(), error) {
	mp, shutdown, err := metrics.InitProvider(ctx, metrics.ProviderConfig{
		ServiceName: s.ServiceName,
		Registerer:  reg,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("Meter provider shutdown failed", log.Error(err))
		}
	}
	return mp, cleanup, nil
}

func ProvideFileStorage(s Settings) (*config.FileStorage, error) {
	codec, err := config.CodecFor(s.Format)
	if err != nil {
		return nil, err
	}
	return config.NewFileStorage(s.ConfigDir, codec), nil
}

func ProvideStore(s Settings, storage *config.FileStorage, logger log.Log, m *metrics.Metrics) *config.Store {
	return newStore(s, storage, logger, m)
}

func newStore(s Settings, storage config.Storage, logger log.Log, m *metrics.Metrics) *config.Store {
	return config.NewStore(storage, config.NewSchemaLoader(os.DirFS(s.SchemaDir)), logger, config.WithMetrics(m))
}

func ProvideRegistry(logger log.Log, m *metrics.Metrics) *registry.Registry {
	return registry.New(logger, registry.WithMetrics(m))
}

func ProvideTelemetry(s Settings, logger log.Log, m *metrics.Metrics) *telemetry.System {
	t := telemetry.New(logger, telemetry.WithMetrics(m))
	t.SetEnabled(s.TelemetryEnabled)
	return t
}

func ProvideSystem(s Settings, reg *registry.Registry, store *config.Store, t *telemetry.System, m *metrics.Metrics, logger log.Log) *integration.System {
	return integration.New(integration.Deps{
		Registry:      reg,
		Store:         store,
		Telemetry:     t,
		Metrics:       m,
		Logger:        logger,
		Documents:     s.Documents,
		Registrations: integration.Builtin(),
	})
}

// ProvideWatcher returns nil when watching is disabled.
func ProvideWatcher(s Settings, store *config.Store, storage *config.FileStorage, logger log.Log) *config.Watcher {
	if !s.Watch {
		return nil
	}
	return config.NewWatcher(store, storage, logger, config.WithDebounce(s.WatchDebounce))
}

// ProvideAdmin returns nil when no admin address is configured.
func ProvideAdmin(s Settings, system *integration.System, gatherer prometheus.Gatherer, logger log.Log) *admin.Server {
	if s.AdminAddr == "" {
		return nil
	}
	return admin.NewServer(s.AdminAddr, system, gatherer, logger)
}
