package integration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/identifier"
	"github.com/Mosberg/entomology/internal/core/telemetry"
)

// TunersPath lists declarative balance tuners in the root document.
const TunersPath = "balance.tuners"

// TunerConfig is the document form of a linear or stepped tuner.
type TunerConfig struct {
	ID       string           `json:"id"`
	Target   string           `json:"target"`
	Strategy string           `json:"strategy"`
	Metric   string           `json:"metric"`
	Setpoint float64          `json:"setpoint"`
	Rate     float64          `json:"rate"`
	Bounds   telemetry.Bounds `json:"bounds"`
	Steps    []telemetry.Step `json:"steps,omitempty"`
}

func (c TunerConfig) tuner() (telemetry.Tuner, error) {
	id, err := identifier.Parse(c.ID)
	if err != nil {
		return nil, fmt.Errorf("tuner id: %w", err)
	}
	target, err := identifier.Parse(c.Target)
	if err != nil {
		return nil, fmt.Errorf("tuner %s target: %w", id, err)
	}
	switch strings.ToLower(c.Strategy) {
	case "", "linear":
		return telemetry.LinearTuner{
			ID: id, Target: target, Bounds: c.Bounds,
			Metric: c.Metric, Setpoint: c.Setpoint, Rate: c.Rate,
		}, nil
	case "stepped":
		return telemetry.SteppedTuner{
			ID: id, Target: target, Bounds: c.Bounds,
			Metric: c.Metric, Steps: c.Steps,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s has unsupported strategy %q", telemetry.ErrInvalidTuner, id, c.Strategy)
}

// applyBalance toggles telemetry and registers the declared tuners. An absent
// toggle keeps the current state. Tuners an earlier version of the document
// declared and this one no longer lists are unregistered; tuners registered
// in code are left alone. Callers hold reconfigMu.
func (s *System) applyBalance(doc config.Document) error {
	s.telemetry.SetEnabled(config.As(doc, TelemetryEnabledPath, s.telemetry.Enabled()))

	defs, err := config.Decode[[]TunerConfig](doc, TunersPath)
	if err != nil {
		return fmt.Errorf("integration: %s: %w", TunersPath, err)
	}
	var errs []error
	declared := make(map[identifier.ID]struct{}, len(defs))
	for _, def := range defs {
		t, err := def.tuner()
		if err == nil {
			declared[t.Info().ID] = struct{}{}
			err = s.telemetry.RegisterTuner(t)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	for id := range s.declared {
		if _, ok := declared[id]; !ok {
			s.telemetry.UnregisterTuner(id)
		}
	}
	s.declared = declared
	return errors.Join(errs...)
}
