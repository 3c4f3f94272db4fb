package mechanics

import (
	"context"
	"slices"
	"time"

	"github.com/Mosberg/entomology/internal/core/identifier"
)

// Outcome is the result of one mechanic within a pipeline run.
type Outcome struct {
	Mechanic identifier.ID
	Result   Result
	Elapsed  time.Duration
}

// Report aggregates a pipeline run.
type Report struct {
	Outcomes    []Outcome
	SideEffects []SideEffect
	// StoppedBy is the mechanic whose result stopped propagation, if any.
	StoppedBy identifier.ID
}

func (r Report) Stopped() bool { return !r.StoppedBy.IsZero() }

// Observer receives every executed mechanic's result, e.g. to feed telemetry.
type Observer func(m Mechanic, res Result, elapsed time.Duration)

type runConfig struct {
	observers []Observer
	sorted    bool
}

type RunOption func(*runConfig)

func WithObserver(o Observer) RunOption {
	return func(c *runConfig) { c.observers = append(c.observers, o) }
}

// InGivenOrder skips priority sorting; mechs must already be ordered.
func InGivenOrder() RunOption {
	return func(c *runConfig) { c.sorted = true }
}

// Run executes every mechanic that applies to c in priority order, stopping
// after the first result that requests it. The only error is ctx's, checked
// between mechanics; the report holds everything executed so far.
func Run(ctx context.Context, c Context, mechs []Mechanic, opts ...RunOption) (Report, error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.sorted {
		mechs = slices.Clone(mechs)
		slices.SortStableFunc(mechs, ComparePriority)
	}

	var report Report
	for _, m := range mechs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !m.AppliesTo(c) {
			continue
		}

		start := time.Now()
		res := m.Execute(c)
		elapsed := time.Since(start)

		report.Outcomes = append(report.Outcomes, Outcome{Mechanic: m.ID(), Result: res, Elapsed: elapsed})
		report.SideEffects = append(report.SideEffects, res.SideEffects()...)
		for _, o := range cfg.observers {
			o(m, res, elapsed)
		}
		if res.StopPropagation() {
			report.StoppedBy = m.ID()
			break
		}
	}
	return report, nil
}
