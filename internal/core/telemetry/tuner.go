package telemetry

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/Mosberg/entomology/internal/core/identifier"
)

var (
	ErrInvalidTuner = errors.New("invalid tuner")
	ErrTunerPanic   = errors.New("tuner panicked")
	ErrNonFinite    = errors.New("tuner produced a non-finite value")
)

type Strategy uint8

const (
	StrategyLinear Strategy = iota
	StrategyExponential
	StrategyLogarithmic
	StrategyStepped
	StrategyPID
	StrategyCustom
)

func (s Strategy) String() string {
	switch s {
	case StrategyLinear:
		return "linear"
	case StrategyExponential:
		return "exponential"
	case StrategyLogarithmic:
		return "logarithmic"
	case StrategyStepped:
		return "stepped"
	case StrategyPID:
		return "pid"
	case StrategyCustom:
		return "custom"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Strategy) UnmarshalText(b []byte) error {
	for st := StrategyLinear; st <= StrategyCustom; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("telemetry: unknown strategy %q", b)
}

// Bounds limits an adjusted value. The zero Bounds leaves values untouched.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (b Bounds) IsZero() bool { return b.Min == 0 && b.Max == 0 }

func (b Bounds) Clamp(v float64) float64 {
	if b.IsZero() {
		return v
	}
	return math.Max(b.Min, math.Min(b.Max, v))
}

// TunerInfo is the static description of a tuner.
type TunerInfo struct {
	ID       identifier.ID `json:"id"`
	Target   identifier.ID `json:"target"`
	Strategy Strategy      `json:"strategy"`
	Bounds   Bounds        `json:"bounds"`
}

func (i TunerInfo) validate() error {
	switch {
	case i.ID.IsZero():
		return fmt.Errorf("%w: missing id", ErrInvalidTuner)
	case i.Target.IsZero():
		return fmt.Errorf("%w: %s has no target parameter", ErrInvalidTuner, i.ID)
	case i.Bounds.Min > i.Bounds.Max:
		return fmt.Errorf("%w: %s bounds [%v, %v]", ErrInvalidTuner, i.ID, i.Bounds.Min, i.Bounds.Max)
	}
	return nil
}

// Tuner maps a base parameter value and the current telemetry to an adjusted
// value. Tuners only read the snapshot. The System clamps the result into
// the tuner's bounds.
type Tuner interface {
	Info() TunerInfo
	Compute(base float64, snap Snapshot) (float64, error)
}

// LinearTuner scales the base value by 1 + Rate*(Setpoint - observed), where
// observed is the average of Metric.
type LinearTuner struct {
	ID       identifier.ID
	Target   identifier.ID
	Bounds   Bounds
	Metric   string
	Setpoint float64
	Rate     float64
}

func (t LinearTuner) Info() TunerInfo {
	return TunerInfo{ID: t.ID, Target: t.Target, Strategy: StrategyLinear, Bounds: t.Bounds}
}

func (t LinearTuner) Compute(base float64, snap Snapshot) (float64, error) {
	observed, ok := snap.Metrics[t.Metric]
	if !ok {
		return base, nil
	}
	return base * (1 + t.Rate*(t.Setpoint-observed)), nil
}

// Step multiplies the base value once the metric reaches Threshold.
type Step struct {
	Threshold  float64 `json:"threshold"`
	Multiplier float64 `json:"multiplier"`
}

// SteppedTuner applies the multiplier of the highest step whose threshold
// the observed metric has reached.
type SteppedTuner struct {
	ID     identifier.ID
	Target identifier.ID
	Bounds Bounds
	Metric string
	Steps  []Step
}

func (t SteppedTuner) Info() TunerInfo {
	return TunerInfo{ID: t.ID, Target: t.Target, Strategy: StrategyStepped, Bounds: t.Bounds}
}

func (t SteppedTuner) Compute(base float64, snap Snapshot) (float64, error) {
	observed, ok := snap.Metrics[t.Metric]
	if !ok {
		return base, nil
	}
	steps := slices.Clone(t.Steps)
	slices.SortFunc(steps, func(a, b Step) int {
		switch {
		case a.Threshold < b.Threshold:
			return -1
		case a.Threshold > b.Threshold:
			return 1
		}
		return 0
	})
	mult := 1.0
	for _, s := range steps {
		if observed < s.Threshold {
			break
		}
		mult = s.Multiplier
	}
	return base * mult, nil
}

// FuncTuner adapts a function, for the exponential, logarithmic, PID and
// custom strategies.
type FuncTuner struct {
	ID       identifier.ID
	Target   identifier.ID
	Strategy Strategy
	Bounds   Bounds
	Fn       func(base float64, snap Snapshot) (float64, error)
}

func (t FuncTuner) Info() TunerInfo {
	return TunerInfo{ID: t.ID, Target: t.Target, Strategy: t.Strategy, Bounds: t.Bounds}
}

func (t FuncTuner) Compute(base float64, snap Snapshot) (float64, error) {
	if t.Fn == nil {
		return base, nil
	}
	return t.Fn(base, snap)
}
