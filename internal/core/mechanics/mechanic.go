// Package mechanics defines the pluggable behaviour units executed by the
// runtime: the immutable Context and Result values, the capability
// interfaces a mechanic implements, the lifecycle-managing Base that
// concrete mechanics embed, and the priority pipeline that runs them.
package mechanics

import (
	"cmp"
	"time"

	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/identifier"
)

// Lifecycle is the state machine driven by the registry:
// uninitialized -> initialized -> enabled <-> disabled -> shutdown.
type Lifecycle interface {
	OnInitialize() error
	OnEnable() error
	OnDisable() error
	OnShutdown() error
	State() State
}

type Configurable interface {
	// Configure validates doc against the declared parameters and stores it.
	Configure(doc config.Document) error
	Configuration() config.Document
	ValidateConfiguration(doc config.Document) config.ValidationResult
	Parameters() []Parameter
}

type Executable interface {
	// Execute never panics and never returns a failure without a message.
	Execute(c Context) Result
	AppliesTo(c Context) bool
}

type Mechanic interface {
	Lifecycle
	Configurable
	Executable

	ID() identifier.ID
	Version() string
	Category() Category
	Priority() int
	Description() string
	Dependencies() []identifier.ID
	Metrics() MetricsSnapshot
}

// ComparePriority orders mechanics by priority descending, then identifier ascending.
func ComparePriority(a, b Mechanic) int {
	if c := cmp.Compare(b.Priority(), a.Priority()); c != 0 {
		return c
	}
	return a.ID().Compare(b.ID())
}

// MetricsSnapshot is a point-in-time copy of a mechanic's performance counters.
type MetricsSnapshot struct {
	Executions uint64        `json:"executions"`
	Failures   uint64        `json:"failures"`
	Total      time.Duration `json:"total"`
	Average    time.Duration `json:"average"`
	Max        time.Duration `json:"max"`
	Last       time.Duration `json:"last"`
}
