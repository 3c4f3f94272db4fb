package registry

import (
	"errors"
	"strings"

	"github.com/Mosberg/entomology/internal/core/identifier"
)

var (
	ErrDuplicateRegistration = errors.New("component already registered")
	ErrNotRegistered         = errors.New("component not registered")
	ErrTypeMismatch          = errors.New("component type mismatch")
	ErrFactoryNilResult      = errors.New("factory returned nil")
	ErrNilFactory            = errors.New("nil factory")
	ErrCircularDependency    = errors.New("circular dependency")
	ErrUnknownDependency     = errors.New("unknown dependency")
	ErrDependencyFailed      = errors.New("dependency failed")
)

// CircularDependencyError names the component at which a cycle was found and
// the path that closes it.
type CircularDependencyError struct {
	ID   identifier.ID
	Path []identifier.ID
}

func (e *CircularDependencyError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = id.String()
	}
	return "circular dependency detected at " + e.ID.String() + ": " + strings.Join(parts, " -> ")
}

func (e *CircularDependencyError) Unwrap() error { return ErrCircularDependency }
