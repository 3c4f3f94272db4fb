package integration

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/identifier"
	"github.com/Mosberg/entomology/internal/core/mechanics"
	"github.com/Mosberg/entomology/internal/core/mechanics/breeding"
	"github.com/Mosberg/entomology/internal/core/observability/log"
	"github.com/Mosberg/entomology/internal/core/observability/metrics"
	"github.com/Mosberg/entomology/internal/core/registry"
	"github.com/Mosberg/entomology/internal/core/telemetry"
)

const mechanicsSchema = `{
  "type": "object",
  "required": ["version"],
  "properties": {
    "version": {"type": "string"},
    "balance": {
      "type": "object",
      "properties": {"telemetryEnabled": {"type": "boolean"}}
    }
  }
}`

// seededMechanic picks its offspring with a generator seeded from the context.
type seededMechanic struct {
	*mechanics.Base

	mu      sync.RWMutex
	species []string
}

func newSeeded(logger log.Log) (mechanics.Mechanic, error) {
	m := &seededMechanic{}
	m.Base = mechanics.NewBase(mechanics.Descriptor{
		ID:       identifier.Of("m"),
		Category: mechanics.CategoryBreeding,
		Priority: 600,
		Kinds:    []mechanics.Kind{mechanics.KindBreeding},
	}, m, logger)
	return m, nil
}

func (m *seededMechanic) DefineParameters() []mechanics.Parameter {
	return []mechanics.Parameter{
		{Name: "requiredParam", Type: mechanics.ParamString, Required: true},
		{Name: "species", Type: mechanics.ParamArray, Default: []any{"ladybug", "firefly", "weevil", "mantis"}},
	}
}

func (m *seededMechanic) Apply(cfg config.Document) error {
	m.mu.Lock()
	m.species = config.As(cfg, "species", []string(nil))
	m.mu.Unlock()
	return nil
}

func (m *seededMechanic) Run(c mechanics.Context) (mechanics.Result, error) {
	seed, _ := mechanics.ContextValue[int64](c, "seed")
	m.mu.RLock()
	defer m.mu.RUnlock()
	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	return mechanics.Succeed(mechanics.WithValue("offspring", m.species[rng.IntN(len(m.species))])), nil
}

type fixture struct {
	sys     *System
	store   *config.Store
	storage *config.FileStorage
	reg     *registry.Registry
	tel     *telemetry.System
}

func newFixture(t *testing.T, root map[string]any, regs []Registration, opts ...func(*Deps)) *fixture {
	t.Helper()
	storage := config.NewFileStorage(t.TempDir(), config.JSONCodec{})
	if root != nil {
		data, err := json.Marshal(root)
		require.NoError(t, err)
		require.NoError(t, storage.Write(DefaultRootDocument, data))
	}
	schemas := config.NewSchemaLoader(fstest.MapFS{
		DefaultRootSchema: &fstest.MapFile{Data: []byte(mechanicsSchema)},
	})

	logger := log.NewNop()
	f := &fixture{
		storage: storage,
		store:   config.NewStore(storage, schemas, logger),
		reg:     registry.New(logger),
		tel:     telemetry.New(logger),
	}
	deps := Deps{
		Registry:      f.reg,
		Store:         f.store,
		Telemetry:     f.tel,
		Logger:        logger,
		Registrations: regs,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.sys = New(deps)
	t.Cleanup(func() { _ = f.sys.Shutdown(context.Background()) })
	return f
}

func breedingSection() map[string]any {
	return map[string]any{
		"enabled": true,
		"breedingPairs": []any{map[string]any{
			"parent1":        "entomology:ladybug",
			"parent2":        "entomology:firefly",
			"successChance":  1.0,
			"mutationChance": 0.0,
			"offspring":      []any{"entomology:glowbug"},
		}},
	}
}

func TestEndToEndSeededBreeding(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := metrics.New(mp)
	require.NoError(t, err)

	f := newFixture(t,
		map[string]any{"version": "1.0.0", "m": map[string]any{"enabled": true, "requiredParam": "v"}},
		[]Registration{{ID: identifier.Of("m"), Factory: newSeeded}},
		func(d *Deps) { d.Metrics = met },
	)
	ctx := context.Background()
	require.NoError(t, f.sys.Initialize(ctx))

	m, err := registry.Get[mechanics.Mechanic](f.reg, identifier.Of("m"))
	require.NoError(t, err)
	assert.Equal(t, mechanics.StateEnabled, m.State())
	assert.Equal(t, "v", m.Configuration()["requiredParam"])

	c := mechanics.MustContext(mechanics.KindBreeding, mechanics.WithData("seed", int64(1234)))
	first, err := f.sys.Dispatch(ctx, c)
	require.NoError(t, err)
	require.Len(t, first.Outcomes, 1)
	res := first.Outcomes[0].Result
	require.True(t, res.OK(), res.Message())
	offspring, ok := mechanics.ResultValue[string](res, "offspring")
	require.True(t, ok)
	assert.NotEmpty(t, offspring)

	second, err := f.sys.Dispatch(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, res.Data(), second.Outcomes[0].Result.Data())

	agg, ok := f.tel.Aggregate("mechanic.entomology:m.executions")
	require.True(t, ok)
	assert.EqualValues(t, 2, agg.Count)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	var executions int64
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name != "entomology.mechanic.executions" {
				continue
			}
			for _, dp := range metric.Data.(metricdata.Sum[int64]).DataPoints {
				executions += dp.Value
			}
		}
	}
	assert.EqualValues(t, 2, executions)
}

func TestInitializeBuiltins(t *testing.T) {
	f := newFixture(t, map[string]any{
		"version":           "1.0.0",
		"advanced_breeding": breedingSection(),
		"balance": map[string]any{
			"telemetryEnabled": false,
			"tuners": []any{map[string]any{
				"id": "spawn_linear", "target": "spawn_rate", "metric": "population",
				"setpoint": 10.0, "rate": 0.1, "bounds": map[string]any{"min": 0.5, "max": 2.0},
			}},
		},
	}, Builtin())
	ctx := context.Background()
	require.NoError(t, f.sys.Initialize(ctx))
	require.NoError(t, f.sys.Initialize(ctx), "second initialize is a no-op")

	assert.True(t, f.reg.Has(TelemetryID))
	tel, err := registry.Get[*telemetry.System](f.reg, TelemetryID)
	require.NoError(t, err)
	assert.Same(t, f.tel, tel)
	assert.False(t, f.tel.Enabled())
	require.Len(t, f.tel.Tuners(), 1)
	assert.Equal(t, telemetry.StrategyLinear, f.tel.Tuners()[0].Strategy)

	ms := f.reg.Mechanics()
	require.Len(t, ms, 2)
	assert.Equal(t, breeding.ID, ms[0].ID(), "breeding outranks environmental")

	report, err := f.sys.Dispatch(ctx, mechanics.MustContext(mechanics.KindBreeding,
		mechanics.WithData(breeding.KeyParent1, "entomology:firefly"),
		mechanics.WithData(breeding.KeyParent2, "entomology:ladybug"),
		mechanics.WithData(breeding.KeySeed, int64(7)),
	))
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "entomology:glowbug", report.Outcomes[0].Result.Data()[breeding.KeyOffspring])
	assert.Empty(t, f.tel.Metrics(), "telemetry is disabled by the document")
}

func TestConfigurationChangesReconfigure(t *testing.T) {
	f := newFixture(t, map[string]any{"version": "1.0.0", "advanced_breeding": breedingSection()}, Builtin())
	require.NoError(t, f.sys.Initialize(context.Background()))

	m, err := registry.Get[mechanics.Mechanic](f.reg, breeding.ID)
	require.NoError(t, err)
	require.Equal(t, mechanics.StateEnabled, m.State())

	require.NoError(t, f.store.Set(DefaultRootDocument, "advanced_breeding.enabled", false))
	assert.Equal(t, mechanics.StateDisabled, m.State())

	require.NoError(t, f.store.Set(DefaultRootDocument, "advanced_breeding.enabled", true))
	assert.Equal(t, mechanics.StateEnabled, m.State())

	require.NoError(t, f.store.Set(DefaultRootDocument, "balance.telemetryEnabled", false))
	assert.False(t, f.tel.Enabled())
}

func TestReload(t *testing.T) {
	f := newFixture(t, map[string]any{"version": "1.0.0", "advanced_breeding": breedingSection()}, Builtin())
	ctx := context.Background()
	require.NoError(t, f.sys.Initialize(ctx))
	m, err := registry.Get[mechanics.Mechanic](f.reg, breeding.ID)
	require.NoError(t, err)

	section := breedingSection()
	section["globalMutationRate"] = 0.5
	write(t, f.storage, map[string]any{"version": "1.0.0", "advanced_breeding": section})
	require.NoError(t, f.sys.Reload(ctx))
	assert.Equal(t, 0.5, m.Configuration()["globalMutationRate"])

	write(t, f.storage, map[string]any{
		"version":           "1.0.0",
		"advanced_breeding": map[string]any{"globalMutationRate": 0.9},
	})
	err = f.sys.Reload(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, mechanics.ErrInvalidConfiguration)
	assert.Equal(t, 0.5, m.Configuration()["globalMutationRate"], "rejected configuration is not applied")
}

func TestValidate(t *testing.T) {
	f := newFixture(t, map[string]any{"version": "1.0.0", "advanced_breeding": breedingSection()}, Builtin())
	require.NoError(t, f.sys.Initialize(context.Background()))

	report := f.sys.Validate()
	assert.True(t, report.OK)
	assert.True(t, report.Documents[DefaultRootDocument].Valid)
	assert.True(t, report.Mechanics[breeding.ID.String()].Valid)

	require.NoError(t, f.store.Set(DefaultRootDocument, "advanced_breeding.breedingPairs", "none"))
	m, err := registry.Get[mechanics.Mechanic](f.reg, breeding.ID)
	require.NoError(t, err)
	before := m.Configuration()

	report = f.sys.Validate()
	assert.False(t, report.OK)
	assert.False(t, report.Mechanics[breeding.ID.String()].Valid)
	assert.Equal(t, before, m.Configuration())
}

func TestShutdownAndRestart(t *testing.T) {
	f := newFixture(t, map[string]any{"version": "1.0.0", "advanced_breeding": breedingSection()}, Builtin())
	ctx := context.Background()
	require.NoError(t, f.sys.Initialize(ctx))
	m, err := registry.Get[mechanics.Mechanic](f.reg, breeding.ID)
	require.NoError(t, err)
	f.tel.IncrementCounter("x")

	require.NoError(t, f.sys.Shutdown(ctx))
	assert.False(t, f.sys.Initialized())
	assert.Equal(t, mechanics.StateShutdown, m.State())
	assert.Zero(t, f.reg.Len())
	assert.Empty(t, f.tel.Metrics())

	_, err = f.sys.Dispatch(ctx, mechanics.MustContext(mechanics.KindBreeding))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, f.sys.Reload(ctx), ErrNotInitialized)

	require.NoError(t, f.store.Set(DefaultRootDocument, "advanced_breeding.enabled", false),
		"listener is removed on shutdown")

	require.NoError(t, f.sys.Initialize(ctx))
	again, err := registry.Get[mechanics.Mechanic](f.reg, breeding.ID)
	require.NoError(t, err)
	assert.NotSame(t, m, again)
	assert.Equal(t, mechanics.StateDisabled, again.State())
}

func TestMissingRootDocumentIsCreated(t *testing.T) {
	f := newFixture(t, nil, Builtin())
	require.NoError(t, f.sys.Initialize(context.Background()))

	doc, ok := f.store.Document(DefaultRootDocument)
	require.True(t, ok)
	assert.Equal(t, config.CurrentVersion, doc.Version())
	assert.True(t, f.tel.Enabled())
	assert.Len(t, f.reg.Mechanics(), 2)
}

func TestCycleAbortsInitialize(t *testing.T) {
	a, b := identifier.Of("a"), identifier.Of("b")
	f := newFixture(t, nil, []Registration{
		{ID: a, Deps: []identifier.ID{b}, Factory: newSeeded},
		{ID: b, Deps: []identifier.ID{a}, Factory: newSeeded},
	})
	err := f.sys.Initialize(context.Background())
	assert.ErrorIs(t, err, registry.ErrCircularDependency)
	assert.False(t, f.sys.Initialized())
}

func write(t *testing.T, storage *config.FileStorage, doc map[string]any) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, storage.Write(DefaultRootDocument, data))
}

func TestRemovedTunersAreUnregistered(t *testing.T) {
	linear := map[string]any{
		"id": "spawn_linear", "target": "spawn_rate", "metric": "population",
		"setpoint": 10.0, "rate": 0.1, "bounds": map[string]any{"min": 0.5, "max": 2.0},
	}
	stepped := map[string]any{
		"id": "breed_stepped", "target": "breed_boost", "strategy": "stepped", "metric": "failures",
		"steps": []any{map[string]any{"threshold": 1.0, "multiplier": 2.0}},
	}
	f := newFixture(t, map[string]any{
		"version": "1.0.0",
		"balance": map[string]any{"tuners": []any{linear, stepped}},
	}, nil)
	require.NoError(t, f.tel.RegisterTuner(telemetry.FuncTuner{
		ID: identifier.Of("manual"), Target: identifier.Of("manual_rate"), Strategy: telemetry.StrategyCustom,
		Fn: func(base float64, _ telemetry.Snapshot) (float64, error) { return base * 3, nil },
	}))
	require.NoError(t, f.sys.Initialize(context.Background()))
	require.Len(t, f.tel.Tuners(), 3)

	breedBoost := identifier.Of("breed_boost")
	f.tel.RecordMetric("failures", 4)
	assert.Equal(t, 20.0, f.tel.GetAdjustedValue(breedBoost, 10))

	require.NoError(t, f.store.Set(DefaultRootDocument, TunersPath, []any{linear}))
	ids := make([]string, 0, 2)
	for _, info := range f.tel.Tuners() {
		ids = append(ids, info.ID.String())
	}
	assert.Equal(t, []string{"entomology:manual", "entomology:spawn_linear"}, ids,
		"tuners registered in code are kept")
	assert.Equal(t, 10.0, f.tel.GetAdjustedValue(breedBoost, 10), "cached value of a removed tuner is dropped")

	require.NoError(t, f.store.Set(DefaultRootDocument, TunersPath, []any{}))
	require.Len(t, f.tel.Tuners(), 1)
	assert.Equal(t, 3.0, f.tel.GetAdjustedValue(identifier.Of("manual_rate"), 1))
}

func TestChangesDuringReloadAreApplied(t *testing.T) {
	f := newFixture(t, map[string]any{"version": "1.0.0", "advanced_breeding": breedingSection()}, Builtin())
	ctx := context.Background()
	require.NoError(t, f.sys.Initialize(ctx))
	m, err := registry.Get[mechanics.Mechanic](f.reg, breeding.ID)
	require.NoError(t, err)
	require.Equal(t, mechanics.StateEnabled, m.State())

	// Another writer commits while the documents are being reloaded.
	var wrote atomic.Bool
	unsubscribe := f.store.AddListener(DefaultRootDocument, func(string, config.Document) error {
		if !wrote.CompareAndSwap(false, true) {
			return nil
		}
		return f.store.Set(DefaultRootDocument, "advanced_breeding.enabled", false)
	})
	defer unsubscribe()

	require.NoError(t, f.sys.Reload(ctx))
	assert.False(t, config.Get(f.store, DefaultRootDocument, "advanced_breeding.enabled", true))
	assert.Equal(t, mechanics.StateDisabled, m.State(), "a change committed during reload is not lost")
}

func TestConcurrentSetsAndReloadsConverge(t *testing.T) {
	f := newFixture(t, map[string]any{"version": "1.0.0", "advanced_breeding": breedingSection()}, Builtin())
	ctx := context.Background()
	require.NoError(t, f.sys.Initialize(ctx))
	m, err := registry.Get[mechanics.Mechanic](f.reg, breeding.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range 10 {
				_ = f.store.Set(DefaultRootDocument, "advanced_breeding.enabled", (i+j)%2 == 0)
			}
		}()
		go func() {
			defer wg.Done()
			for range 3 {
				_ = f.sys.Reload(ctx)
			}
		}()
	}
	wg.Wait()

	enabled := config.Get(f.store, DefaultRootDocument, "advanced_breeding.enabled", true)
	want := mechanics.StateDisabled
	if enabled {
		want = mechanics.StateEnabled
	}
	assert.Equal(t, want, m.State(), "the mechanic follows the latest committed document")
}
