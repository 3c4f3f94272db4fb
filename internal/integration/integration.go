// Package integration assembles the registry, the configuration store and
// telemetry into a running system: it registers mechanics, loads their
// configuration, brings them up in dependency order and keeps them in step
// with configuration changes.
package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/identifier"
	"github.com/Mosberg/entomology/internal/core/mechanics"
	"github.com/Mosberg/entomology/internal/core/observability/log"
	"github.com/Mosberg/entomology/internal/core/observability/metrics"
	"github.com/Mosberg/entomology/internal/core/registry"
	"github.com/Mosberg/entomology/internal/core/telemetry"
)

var (
	ErrNotInitialized = errors.New("system not initialized")
	ErrNoDocuments    = errors.New("no configuration documents")
)

// TelemetryID is the registry id of the telemetry system.
var TelemetryID = identifier.Of("telemetry")

const (
	DefaultRootDocument = "mechanics"
	DefaultRootSchema   = "mechanics.schema.json"

	// TelemetryEnabledPath toggles telemetry from the root document.
	TelemetryEnabledPath = "balance.telemetryEnabled"
)

// Registration describes one mechanic to register.
type Registration struct {
	ID      identifier.ID
	Deps    []identifier.ID
	Factory func(logger log.Log) (mechanics.Mechanic, error)
}

// DocumentSpec names a configuration document and its schema reference.
type DocumentSpec struct {
	Name   string `yaml:"name" validate:"required"`
	Schema string `yaml:"schema"`
}

type Deps struct {
	Registry  *registry.Registry
	Store     *config.Store
	Telemetry *telemetry.System
	Metrics   *metrics.Metrics
	Logger    log.Log
	// Documents are loaded in order. The first holds one section per
	// mechanic, keyed by identifier path, and the balance settings.
	Documents     []DocumentSpec
	Registrations []Registration
}

type System struct {
	registry  *registry.Registry
	store     *config.Store
	telemetry *telemetry.System
	metrics   *metrics.Metrics
	logger    log.Log
	documents []DocumentSpec
	regs      []Registration

	mu          sync.Mutex
	initialized bool
	unsubscribe func()

	// reconfigMu serialises reconfiguration; declared holds the tuner ids
	// the root document registered.
	reconfigMu sync.Mutex
	declared   map[identifier.ID]struct{}

	// reloading defers change notifications to the end of Reload, which
	// reconfigures from the latest document once every store is reloaded.
	reloading atomic.Bool
	deferred  atomic.Int64
}

func New(d Deps) *System {
	docs := d.Documents
	if len(docs) == 0 {
		docs = []DocumentSpec{{Name: DefaultRootDocument, Schema: DefaultRootSchema}}
	}
	return &System{
		registry:  d.Registry,
		store:     d.Store,
		telemetry: d.Telemetry,
		metrics:   d.Metrics,
		logger:    d.Logger.Named("integration"),
		documents: docs,
		regs:      d.Registrations,
	}
}

func (s *System) Registry() *registry.Registry { return s.registry }
func (s *System) Store() *config.Store         { return s.store }
func (s *System) Telemetry() *telemetry.System { return s.telemetry }
func (s *System) RootDocument() string         { return s.documents[0].Name }
func (s *System) Documents() []DocumentSpec    { return append([]DocumentSpec(nil), s.documents...) }

func (s *System) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Initialize registers the mechanics, loads the documents, initialises the
// registry and configures every mechanic from its section of the root
// document. Failures of individual mechanics are joined into the returned
// error without stopping the others. A second call only logs a warning.
func (s *System) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		s.logger.Warn("System already initialized")
		return nil
	}
	start := time.Now()
	s.logger.Info("Initializing system", log.Int("mechanics", len(s.regs)), log.Int("documents", len(s.documents)))

	if err := s.register(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, d := range s.documents {
		if _, err := s.store.Load(d.Name, d.Schema); err != nil {
			return fmt.Errorf("integration: load %q: %w", d.Name, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	if err := s.registry.InitializeAll(); err != nil {
		if errors.Is(err, registry.ErrCircularDependency) {
			return err
		}
		errs = append(errs, err)
	}

	s.unsubscribe = s.store.AddListener(s.RootDocument(), s.onRootChanged)
	if err := s.reconfigureCurrent(); err != nil {
		errs = append(errs, err)
	}

	s.initialized = true
	s.logger.Info("System initialized",
		log.Duration("elapsed", time.Since(start)), log.Bool("telemetry", s.telemetry.Enabled()))
	return errors.Join(errs...)
}

func (s *System) register() error {
	var errs []error
	if !s.registry.Has(TelemetryID) {
		errs = append(errs, registry.RegisterSingleton(s.registry, TelemetryID, s.telemetry))
	}
	for _, reg := range s.regs {
		if reg.Factory == nil {
			errs = append(errs, fmt.Errorf("%w: %s", registry.ErrNilFactory, reg.ID))
			continue
		}
		factory := reg.Factory
		errs = append(errs, registry.Register(s.registry, reg.ID, func() (mechanics.Mechanic, error) {
			return factory(s.logger)
		}, reg.Deps...))
	}
	return errors.Join(errs...)
}

// onRootChanged reacts to a committed change of the root document. The
// notified snapshot may already be stale, so the current document is used.
func (s *System) onRootChanged(string, config.Document) error {
	if s.reloading.Load() {
		s.deferred.Add(1)
		return nil
	}
	s.logger.Info("Mechanics configuration changed, reconfiguring")
	return s.reconfigureCurrent()
}

func (s *System) reconfigureCurrent() error {
	s.reconfigMu.Lock()
	defer s.reconfigMu.Unlock()
	doc, _ := s.store.Document(s.RootDocument())
	return s.reconfigure(doc)
}

// reconfigure pushes each mechanic's section of doc into it. Absent or
// empty sections leave the mechanic as it is.
func (s *System) reconfigure(doc config.Document) error {
	var errs []error
	configured := 0
	for _, m := range s.registry.Mechanics() {
		section, ok := doc.Section(m.ID().Path)
		if !ok || len(section) == 0 {
			continue
		}
		if err := configureMechanic(m, section); err != nil {
			s.logger.Error("Failed to configure mechanic", log.String("mechanic", m.ID().String()), log.Error(err))
			errs = append(errs, err)
			continue
		}
		configured++
	}

	if err := s.applyBalance(doc); err != nil {
		errs = append(errs, err)
	}
	s.logger.Debug("Mechanics configured", log.Int("configured", configured), log.Int("failed", len(errs)))
	return errors.Join(errs...)
}

func configureMechanic(m mechanics.Mechanic, section config.Document) error {
	if err := m.Configure(section); err != nil {
		return err
	}
	enabled := config.As(m.Configuration(), mechanics.EnabledParam, true)
	switch state := m.State(); {
	case enabled && state == mechanics.StateDisabled:
		return m.OnEnable()
	case !enabled && state == mechanics.StateEnabled:
		return m.OnDisable()
	}
	return nil
}

// Reload re-reads every document from storage and reconfigures the
// mechanics. Documents that fail to reload keep their previous content.
// Changes committed by other callers while the documents reload are applied
// by the same final reconfiguration.
func (s *System) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("Reloading configuration")

	s.reloading.Store(true)
	reloadErr := s.store.ReloadAll()
	s.reloading.Store(false)
	if n := s.deferred.Swap(0); n > 0 {
		s.logger.Debug("Applying changes deferred during reload", log.Int64("changes", n))
	}

	err := errors.Join(reloadErr, s.reconfigureCurrent())
	if err != nil {
		s.logger.Warn("Reload finished with errors", log.Error(err))
		return err
	}
	s.logger.Info("Reload complete")
	return nil
}

// Shutdown stops reacting to configuration changes, shuts every component
// down and resets telemetry. The system can be initialised again afterwards.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	s.logger.Info("Shutting down system")
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	err := s.registry.ShutdownAll()
	s.telemetry.Reset()
	s.initialized = false
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errors.Join(err, ctxErr)
	}
	return err
}

// Dispatch runs every applicable mechanic against c in priority order and
// records the outcomes.
func (s *System) Dispatch(ctx context.Context, c mechanics.Context) (mechanics.Report, error) {
	if !s.Initialized() {
		return mechanics.Report{}, ErrNotInitialized
	}
	return mechanics.Run(ctx, c, s.registry.Mechanics(),
		mechanics.InGivenOrder(),
		mechanics.WithObserver(func(m mechanics.Mechanic, res mechanics.Result, elapsed time.Duration) {
			s.observe(ctx, m, res, elapsed)
		}))
}

func (s *System) observe(ctx context.Context, m mechanics.Mechanic, res mechanics.Result, elapsed time.Duration) {
	id := m.ID().String()
	prefix := "mechanic." + id
	s.telemetry.IncrementCounter(prefix + ".executions")
	success := 0.0
	if res.OK() {
		success = 1
	}
	s.telemetry.RecordMetric(prefix+".success", success)
	s.telemetry.RecordMetric(prefix+".latency_ms", float64(elapsed)/float64(time.Millisecond))
	s.metrics.RecordExecution(ctx, id, string(res.Type()), elapsed)
}
