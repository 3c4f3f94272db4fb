// Package registry is the typed component container. Components are
// registered with a factory and their dependencies, realised lazily at most
// once, and driven through their lifecycle in dependency order.
package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Mosberg/entomology/internal/core/identifier"
	"github.com/Mosberg/entomology/internal/core/mechanics"
	"github.com/Mosberg/entomology/internal/core/observability/log"
	"github.com/Mosberg/entomology/internal/core/observability/metrics"
)

type instance struct{ v any }

type entry struct {
	id      identifier.ID
	key     string
	typ     reflect.Type
	factory func() (any, error)
	deps    []identifier.ID

	instance    atomic.Pointer[instance]
	initialized atomic.Bool
}

func (e *entry) realised() bool { return e.instance.Load() != nil }

type Registry struct {
	logger  log.Log
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[identifier.ID]*entry
	order   []identifier.ID
	seq     uint64

	flight singleflight.Group
	// lifecycleMu serialises InitializeAll and the shutdown operations.
	lifecycleMu sync.Mutex
}

type Option func(*Registry)

// WithMetrics counts realised components on the given instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func New(logger log.Log, opts ...Option) *Registry {
	r := &Registry{
		logger:  logger.Named("registry"),
		entries: make(map[identifier.ID]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a lazily created component whose declared type is T.
func Register[T any](r *Registry, id identifier.ID, factory func() (T, error), deps ...identifier.ID) error {
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrNilFactory, id)
	}
	return r.add(&entry{
		id:  id,
		typ: reflect.TypeFor[T](),
		factory: func() (any, error) {
			v, err := factory()
			if err != nil {
				return nil, err
			}
			return v, nil
		},
		deps: slices.Clone(deps),
	})
}

// RegisterSingleton adds an already constructed component.
func RegisterSingleton[T any](r *Registry, id identifier.ID, value T, deps ...identifier.ID) error {
	if isNil(value) {
		return fmt.Errorf("%w: %s", ErrFactoryNilResult, id)
	}
	e := &entry{
		id:      id,
		typ:     reflect.TypeFor[T](),
		factory: func() (any, error) { return value, nil },
		deps:    slices.Clone(deps),
	}
	e.instance.Store(&instance{v: value})
	if err := r.add(e); err != nil {
		return err
	}
	r.metrics.AddComponents(context.Background(), 1)
	return nil
}

func (r *Registry) add(e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRegistration, e.id)
	}
	r.seq++
	e.key = e.id.String() + "#" + strconv.FormatUint(r.seq, 10)
	r.entries[e.id] = e
	r.order = append(r.order, e.id)
	r.logger.Debug("Component registered",
		log.String("id", e.id.String()), log.String("type", e.typ.String()), log.Int("deps", len(e.deps)))
	return nil
}

// Get returns the component registered under id, creating it on first use.
// Concurrent first calls share one factory invocation.
func Get[T any](r *Registry, id identifier.ID) (T, error) {
	var zero T
	e, ok := r.lookup(id)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	want := reflect.TypeFor[T]()
	if !e.typ.AssignableTo(want) {
		return zero, fmt.Errorf("%w: %s is %s, not %s", ErrTypeMismatch, id, e.typ, want)
	}
	v, err := r.realise(e)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T, not %s", ErrTypeMismatch, id, v, want)
	}
	return out, nil
}

// All returns every component whose declared type is assignable to T, in
// registration order. Components that fail to realise are left out and their
// errors joined.
func All[T any](r *Registry) ([]T, error) {
	want := reflect.TypeFor[T]()
	var (
		out  []T
		errs []error
	)
	for _, e := range r.snapshot() {
		if !e.typ.AssignableTo(want) {
			continue
		}
		v, err := r.realise(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if t, ok := v.(T); ok {
			out = append(out, t)
		}
	}
	return out, errors.Join(errs...)
}

// Mechanics returns every registered mechanic ordered by priority, highest
// first, with ties broken by identifier.
func (r *Registry) Mechanics() []mechanics.Mechanic {
	ms, err := All[mechanics.Mechanic](r)
	if err != nil {
		r.logger.Warn("Some mechanics could not be created", log.Error(err))
	}
	slices.SortStableFunc(ms, mechanics.ComparePriority)
	return ms
}

func (r *Registry) realise(e *entry) (any, error) {
	if in := e.instance.Load(); in != nil {
		return in.v, nil
	}
	v, err, _ := r.flight.Do(e.key, func() (any, error) {
		if in := e.instance.Load(); in != nil {
			return in.v, nil
		}
		v, err := e.factory()
		if err != nil {
			return nil, fmt.Errorf("registry: create %s: %w", e.id, err)
		}
		if isNil(v) {
			return nil, fmt.Errorf("%w: %s", ErrFactoryNilResult, e.id)
		}
		e.instance.Store(&instance{v: v})
		r.metrics.AddComponents(context.Background(), 1)
		r.logger.Debug("Component created", log.String("id", e.id.String()))
		return v, nil
	})
	return v, err
}

func (r *Registry) lookup(id identifier.ID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// snapshot returns the entries in registration order.
func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

func (r *Registry) Has(id identifier.ID) bool {
	_, ok := r.lookup(id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns the registered identifiers in registration order.
func (r *Registry) IDs() []identifier.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Registry) Dependencies(id identifier.ID) ([]identifier.ID, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	return slices.Clone(e.deps), true
}

// Initialized reports whether InitializeAll has brought id up.
func (r *Registry) Initialized(id identifier.ID) bool {
	e, ok := r.lookup(id)
	return ok && e.initialized.Load()
}

// Order returns the initialisation order.
func (r *Registry) Order() ([]identifier.ID, error) {
	return topoOrder(r.entryMap())
}

func (r *Registry) entryMap() map[identifier.ID]*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[identifier.ID]*entry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e
	}
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
