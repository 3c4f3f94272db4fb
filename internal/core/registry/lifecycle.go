package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Mosberg/entomology/internal/core/identifier"
	"github.com/Mosberg/entomology/internal/core/mechanics"
	"github.com/Mosberg/entomology/internal/core/observability/log"
)

// InitializeAll realises every component in dependency order and brings
// lifecycle components to the enabled state. A cycle is reported before
// anything is created. A failing component does not stop the others, but
// its dependents are skipped. Components already initialised are left alone.
func (r *Registry) InitializeAll() error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	entries := r.entryMap()
	order, err := topoOrder(entries)
	if err != nil {
		return err
	}

	failed := make(map[identifier.ID]bool)
	var errs []error
	for _, id := range order {
		e := entries[id]
		if e.initialized.Load() {
			continue
		}
		if err := checkDependencies(e, entries, failed); err != nil {
			failed[id] = true
			errs = append(errs, err)
			r.logger.Warn("Component skipped", log.String("id", id.String()), log.Error(err))
			continue
		}
		if err := r.initialize(e); err != nil {
			failed[id] = true
			errs = append(errs, err)
			r.logger.Error("Component failed to initialize", log.String("id", id.String()), log.Error(err))
			continue
		}
	}
	r.logger.Info("Components initialized",
		log.Int("total", len(order)), log.Int("failed", len(failed)))
	return errors.Join(errs...)
}

func checkDependencies(e *entry, entries map[identifier.ID]*entry, failed map[identifier.ID]bool) error {
	for _, dep := range e.deps {
		if _, ok := entries[dep]; !ok {
			return fmt.Errorf("%w: %s requires %s", ErrUnknownDependency, e.id, dep)
		}
		if failed[dep] {
			return fmt.Errorf("%w: %s requires %s", ErrDependencyFailed, e.id, dep)
		}
	}
	return nil
}

func (r *Registry) initialize(e *entry) error {
	v, err := r.realise(e)
	if err != nil {
		return err
	}
	if lc, ok := v.(mechanics.Lifecycle); ok {
		if lc.State() == mechanics.StateUninitialized {
			if err := lc.OnInitialize(); err != nil {
				return fmt.Errorf("registry: initialize %s: %w", e.id, err)
			}
		}
		switch lc.State() {
		case mechanics.StateInitialized, mechanics.StateDisabled:
			if err := lc.OnEnable(); err != nil {
				return fmt.Errorf("registry: enable %s: %w", e.id, err)
			}
		case mechanics.StateShutdown:
			return fmt.Errorf("%w: %s is shut down", mechanics.ErrInvalidLifecycleTransition, e.id)
		}
	}
	e.initialized.Store(true)
	return nil
}

// ShutdownComponent shuts down the initialised components that depend on id,
// then id itself.
func (r *Registry) ShutdownComponent(id identifier.ID) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	entries := r.entryMap()
	if _, ok := entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return r.shutdownTree(entries, id, make(map[identifier.ID]bool))
}

func (r *Registry) shutdownTree(entries map[identifier.ID]*entry, id identifier.ID, visited map[identifier.ID]bool) error {
	if visited[id] {
		return nil
	}
	visited[id] = true

	var errs []error
	for _, dep := range dependents(entries, id) {
		errs = append(errs, r.shutdownTree(entries, dep, visited))
	}
	errs = append(errs, r.shutdown(entries[id]))
	return errors.Join(errs...)
}

// dependents returns the ids that declare id as a dependency, sorted.
func dependents(entries map[identifier.ID]*entry, id identifier.ID) []identifier.ID {
	var out []identifier.ID
	for other, e := range entries {
		if slices.Contains(e.deps, id) {
			out = append(out, other)
		}
	}
	slices.SortFunc(out, identifier.ID.Compare)
	return out
}

func (r *Registry) shutdown(e *entry) error {
	if !e.initialized.Swap(false) {
		return nil
	}
	in := e.instance.Load()
	if in == nil {
		return nil
	}
	lc, ok := in.v.(mechanics.Lifecycle)
	if !ok {
		return nil
	}
	var errs []error
	if lc.State() == mechanics.StateEnabled {
		errs = append(errs, lc.OnDisable())
	}
	if lc.State() != mechanics.StateShutdown {
		errs = append(errs, lc.OnShutdown())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("registry: shut down %s: %w", e.id, err)
	}
	r.logger.Debug("Component shut down", log.String("id", e.id.String()))
	return nil
}

// ShutdownAll shuts every initialised component down in reverse dependency
// order, or reverse registration order when the graph has a cycle, and then
// discards all registrations.
func (r *Registry) ShutdownAll() error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	r.mu.Lock()
	entries, order := r.entries, r.order
	r.entries = make(map[identifier.ID]*entry)
	r.order = nil
	r.mu.Unlock()

	seq, err := topoOrder(entries)
	if err != nil {
		seq = order
	}

	var (
		errs     []error
		realised int64
	)
	for _, id := range slices.Backward(seq) {
		e := entries[id]
		if e.realised() {
			realised++
		}
		if err := r.shutdown(e); err != nil {
			errs = append(errs, err)
		}
	}
	r.metrics.AddComponents(context.Background(), -realised)
	r.logger.Info("Registry cleared", log.Int("components", len(entries)))
	return errors.Join(errs...)
}

// Clear resets the registry between runs.
func (r *Registry) Clear() error {
	return r.ShutdownAll()
}

// topoOrder orders entries so dependencies come first. Roots are visited in
// identifier order so the result is deterministic. Dependencies that are not
// registered are ignored here and reported by InitializeAll.
func topoOrder(entries map[identifier.ID]*entry) ([]identifier.ID, error) {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[identifier.ID]int, len(entries))
	order := make([]identifier.ID, 0, len(entries))
	var stack []identifier.ID

	var visit func(id identifier.ID) error
	visit = func(id identifier.ID) error {
		switch colour[id] {
		case grey:
			start := slices.Index(stack, id)
			path := append(slices.Clone(stack[start:]), id)
			return &CircularDependencyError{ID: id, Path: path}
		case black:
			return nil
		}
		e, ok := entries[id]
		if !ok {
			return nil
		}
		colour[id] = grey
		stack = append(stack, id)
		for _, dep := range e.deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		colour[id] = black
		order = append(order, id)
		return nil
	}

	ids := make([]identifier.ID, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, identifier.ID.Compare)
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
