package mechanics

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/identifier"
	"github.com/Mosberg/entomology/internal/core/observability/log"
)

// EnabledParam is declared by every mechanic; the integration layer uses it
// to enable or disable a mechanic from configuration.
const EnabledParam = "enabled"

// Descriptor is the static identity of a mechanic.
type Descriptor struct {
	ID           identifier.ID
	Version      string
	Category     Category
	Priority     int
	Description  string
	Dependencies []identifier.ID
	// Kinds restricts AppliesTo to these context kinds. Empty means every kind.
	Kinds []Kind
}

// Behavior is the mechanic-specific part Base delegates to.
type Behavior interface {
	// DefineParameters is called once, from OnInitialize.
	DefineParameters() []Parameter
	// Apply receives a validated copy of the configuration. An error rolls
	// the stored configuration back. Apply must not call back into Base.
	Apply(cfg config.Document) error
	// Run performs one execution. Errors and panics become failure results.
	Run(c Context) (Result, error)
}

// Base implements the lifecycle, configuration and metrics parts of
// Mechanic. Concrete mechanics embed *Base and pass themselves as Behavior.
type Base struct {
	desc     Descriptor
	behavior Behavior
	logger   log.Log

	mu     sync.RWMutex
	state  State
	params []Parameter
	cfg    config.Document

	// configureMu serialises Configure so Apply runs without mu held.
	configureMu sync.Mutex

	perf PerformanceMetrics
}

func NewBase(desc Descriptor, behavior Behavior, logger log.Log) *Base {
	if desc.Version == "" {
		desc.Version = "1.0.0"
	}
	if desc.Category == "" {
		desc.Category = CategoryCustom
	}
	return &Base{
		desc:     desc,
		behavior: behavior,
		logger:   logger.Named(desc.ID.String()),
	}
}

func (b *Base) ID() identifier.ID        { return b.desc.ID }
func (b *Base) Version() string          { return b.desc.Version }
func (b *Base) Category() Category       { return b.desc.Category }
func (b *Base) Priority() int            { return b.desc.Priority }
func (b *Base) Description() string      { return b.desc.Description }
func (b *Base) Metrics() MetricsSnapshot { return b.perf.Snapshot() }
func (b *Base) Logger() log.Log          { return b.logger }

func (b *Base) Dependencies() []identifier.ID {
	return slices.Clone(b.desc.Dependencies)
}

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Base) OnInitialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateUninitialized {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyInitialized, b.desc.ID, b.state)
	}

	params := []Parameter{{
		Name:        EnabledParam,
		Description: "Whether the mechanic runs",
		Type:        ParamBool,
		Default:     true,
	}}
	seen := map[string]bool{EnabledParam: true}
	for _, p := range b.behavior.DefineParameters() {
		if p.Name == "" || seen[p.Name] {
			return fmt.Errorf("%w: %s declares %q twice or unnamed", ErrInvalidParameter, b.desc.ID, p.Name)
		}
		seen[p.Name] = true
		params = append(params, p)
	}

	b.params = params
	b.cfg = defaultsDocument(params)
	b.state = StateInitialized
	b.logger.Debug("Mechanic initialized", log.Int("parameters", len(params)))
	return nil
}

func (b *Base) OnEnable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateInitialized && b.state != StateDisabled {
		return transitionError(b.desc.ID, b.state, "enable")
	}
	b.state = StateEnabled
	return nil
}

func (b *Base) OnDisable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateEnabled {
		return transitionError(b.desc.ID, b.state, "disable")
	}
	b.state = StateDisabled
	return nil
}

func (b *Base) OnShutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateShutdown {
		return transitionError(b.desc.ID, b.state, "shut down")
	}
	b.state = StateShutdown
	b.cfg = nil
	return nil
}

// Parameters returns the parameters collected by OnInitialize.
func (b *Base) Parameters() []Parameter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.params)
}

// Configuration returns a copy of the stored configuration.
func (b *Base) Configuration() config.Document {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Clone()
}

func (b *Base) ValidateConfiguration(doc config.Document) config.ValidationResult {
	norm, err := config.NewDocument(doc)
	if err != nil {
		return config.Invalid(err.Error())
	}
	_, _, details := validateParameters(b.Parameters(), norm)
	if len(details) > 0 {
		return config.Invalid(details...)
	}
	return config.Valid()
}

// Configure replaces the stored configuration with doc plus the defaults of
// any absent optional parameters.
func (b *Base) Configure(doc config.Document) error {
	b.configureMu.Lock()
	defer b.configureMu.Unlock()

	b.mu.RLock()
	state, params, prev := b.state, b.params, b.cfg
	b.mu.RUnlock()
	if state == StateUninitialized || state == StateShutdown {
		return transitionError(b.desc.ID, state, "configure")
	}

	next, err := config.NewDocument(doc)
	if err != nil {
		return &InvalidConfigurationError{Mechanic: b.desc.ID, Details: []string{err.Error()}}
	}
	if missing, invalid, details := validateParameters(params, next); len(details) > 0 {
		return &InvalidConfigurationError{Mechanic: b.desc.ID, Missing: missing, Invalid: invalid, Details: details}
	}
	for _, p := range params {
		if _, ok := next.Lookup(p.Name); !ok && p.Default != nil {
			if err := next.Set(p.Name, p.Default); err != nil {
				return &InvalidConfigurationError{Mechanic: b.desc.ID, Invalid: []string{p.Name}, Details: []string{err.Error()}}
			}
		}
	}

	b.setConfig(next)
	if err := b.behavior.Apply(next.Clone()); err != nil {
		b.setConfig(prev)
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfiguration, b.desc.ID, err)
	}
	b.logger.Debug("Mechanic configured")
	return nil
}

func (b *Base) setConfig(doc config.Document) {
	b.mu.Lock()
	b.cfg = doc
	b.mu.Unlock()
}

// AppliesTo reports whether the mechanic is enabled and handles the context's kind.
func (b *Base) AppliesTo(c Context) bool {
	if b.State() != StateEnabled {
		return false
	}
	return len(b.desc.Kinds) == 0 || slices.Contains(b.desc.Kinds, c.Kind())
}

func (b *Base) Execute(c Context) (res Result) {
	if state := b.State(); state != StateEnabled {
		return Skip(fmt.Sprintf("%s is %s", b.desc.ID, state))
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Mechanic panicked", log.Any("panic", r))
			res = Fail(fmt.Sprintf("%v: %v", ErrExecutionFault, r))
		}
		b.perf.Record(time.Since(start), !res.OK())
	}()

	out, err := b.behavior.Run(c)
	if err != nil {
		if !errors.Is(err, ErrExecutionFault) {
			err = fmt.Errorf("%w: %w", ErrExecutionFault, err)
		}
		b.logger.Warn("Mechanic execution failed", log.Error(err))
		return Fail(err.Error())
	}
	if out.Type() == "" {
		// A zero Result is a failure with nothing to say about it.
		return Fail("")
	}
	return out
}

// ResetMetrics clears the performance counters.
func (b *Base) ResetMetrics() {
	b.perf.Reset()
}

func defaultsDocument(params []Parameter) config.Document {
	doc := config.Document{}
	for _, p := range params {
		if p.Default != nil {
			_ = doc.Set(p.Name, p.Default)
		}
	}
	return doc
}
