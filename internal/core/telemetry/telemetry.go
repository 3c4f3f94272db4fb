// Package telemetry aggregates runtime samples per metric key and serves
// parameter values adjusted by balance tuners.
package telemetry

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Mosberg/entomology/internal/core/identifier"
	"github.com/Mosberg/entomology/internal/core/observability/log"
	"github.com/Mosberg/entomology/internal/core/observability/metrics"
)

// DefaultCollectionInterval is the period, in ticks, a snapshot is said to cover.
const DefaultCollectionInterval = 6000

// defaultBase is used by UpdateBalancing for parameters never asked for.
const defaultBase = 1.0

// Aggregate is a running summary of one metric key.
type Aggregate struct {
	Key   string  `json:"key"`
	Sum   float64 `json:"sum"`
	Count uint64  `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

func (a Aggregate) Average() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

func (a *Aggregate) add(v float64) {
	if a.Count == 0 || v < a.Min {
		a.Min = v
	}
	if a.Count == 0 || v > a.Max {
		a.Max = v
	}
	a.Sum += v
	a.Count++
}

// Snapshot is the telemetry a tuner sees.
type Snapshot struct {
	// Metrics maps each key to its average.
	Metrics map[string]float64 `json:"metrics"`
	Samples uint64             `json:"samples"`
	// Period is the collection interval in ticks.
	Period int64 `json:"period"`
}

// Metric returns the average for key, or 0.
func (s Snapshot) Metric(key string) float64 { return s.Metrics[key] }

type System struct {
	logger  log.Log
	metrics *metrics.Metrics
	period  int64
	enabled atomic.Bool

	mu         sync.RWMutex
	aggregates map[string]*Aggregate
	tuners     map[identifier.ID]Tuner
	adjusted   map[identifier.ID]float64
	bases      map[identifier.ID]float64
}

type Option func(*System)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *System) { s.metrics = m }
}

func WithCollectionInterval(ticks int64) Option {
	return func(s *System) { s.period = ticks }
}

func New(logger log.Log, opts ...Option) *System {
	s := &System{
		logger:     logger.Named("telemetry"),
		period:     DefaultCollectionInterval,
		aggregates: make(map[string]*Aggregate),
		tuners:     make(map[identifier.ID]Tuner),
		adjusted:   make(map[identifier.ID]float64),
		bases:      make(map[identifier.ID]float64),
	}
	s.enabled.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *System) SetEnabled(enabled bool) {
	if s.enabled.Swap(enabled) != enabled {
		s.logger.Info("Telemetry toggled", log.Bool("enabled", enabled))
	}
}

func (s *System) Enabled() bool { return s.enabled.Load() }

// RecordMetric adds a sample to key. NaN samples are dropped.
func (s *System) RecordMetric(key string, value float64) {
	if !s.Enabled() || math.IsNaN(value) {
		return
	}
	s.mu.Lock()
	agg, ok := s.aggregates[key]
	if !ok {
		agg = &Aggregate{Key: key}
		s.aggregates[key] = agg
	}
	agg.add(value)
	s.mu.Unlock()

	s.metrics.RecordTelemetrySample(context.Background(), key)
}

func (s *System) IncrementCounter(key string) {
	s.RecordMetric(key, 1)
}

// Metrics returns the average of every key.
func (s *System) Metrics() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.averagesLocked()
}

func (s *System) Aggregate(key string) (Aggregate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggregates[key]
	if !ok {
		return Aggregate{}, false
	}
	return *agg, true
}

// Aggregates returns every aggregate ordered by key.
func (s *System) Aggregates() []Aggregate {
	s.mu.RLock()
	out := make([]Aggregate, 0, len(s.aggregates))
	for _, agg := range s.aggregates {
		out = append(out, *agg)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Aggregate) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return out
}

func (s *System) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *System) snapshotLocked() Snapshot {
	snap := Snapshot{Metrics: s.averagesLocked(), Period: s.period}
	for _, agg := range s.aggregates {
		snap.Samples += agg.Count
	}
	return snap
}

func (s *System) averagesLocked() map[string]float64 {
	out := make(map[string]float64, len(s.aggregates))
	for k, agg := range s.aggregates {
		out[k] = agg.Average()
	}
	return out
}

// RegisterTuner adds t, replacing any tuner with the same id.
func (s *System) RegisterTuner(t Tuner) error {
	info := t.Info()
	if err := info.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if prev, ok := s.tuners[info.ID]; ok {
		delete(s.adjusted, prev.Info().Target)
	}
	s.tuners[info.ID] = t
	delete(s.adjusted, info.Target)
	s.mu.Unlock()
	s.logger.Debug("Registered balance tuner",
		log.String("id", info.ID.String()), log.String("target", info.Target.String()),
		log.String("strategy", info.Strategy.String()))
	return nil
}

// UnregisterTuner removes the tuner with id and drops the cached value of its
// target, so the next read falls back to any remaining tuner or the base.
func (s *System) UnregisterTuner(id identifier.ID) bool {
	s.mu.Lock()
	t, ok := s.tuners[id]
	if ok {
		delete(s.tuners, id)
		delete(s.adjusted, t.Info().Target)
	}
	s.mu.Unlock()
	if ok {
		s.logger.Debug("Unregistered balance tuner", log.String("id", id.String()))
	}
	return ok
}

// Tuners describes the registered tuners ordered by id.
func (s *System) Tuners() []TunerInfo {
	s.mu.RLock()
	out := make([]TunerInfo, 0, len(s.tuners))
	for _, t := range s.tuners {
		out = append(out, t.Info())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b TunerInfo) int { return a.ID.Compare(b.ID) })
	return out
}

// GetAdjustedValue returns the tuned value of param. Without a tuner for
// param, or while telemetry is disabled, base is returned unchanged. Results
// are cached until UpdateBalancing or Reset.
func (s *System) GetAdjustedValue(param identifier.ID, base float64) float64 {
	if !s.Enabled() {
		return base
	}

	s.mu.Lock()
	t := s.tunerForLocked(param)
	if t == nil {
		s.mu.Unlock()
		return base
	}
	s.bases[param] = base
	if v, ok := s.adjusted[param]; ok {
		s.mu.Unlock()
		return v
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	v, err := compute(t, base, snap)
	if err != nil {
		s.logger.Error("Balance tuner failed",
			log.String("tuner", t.Info().ID.String()), log.String("parameter", param.String()), log.Error(err))
		return base
	}

	s.mu.Lock()
	s.adjusted[param] = v
	s.mu.Unlock()
	return v
}

// UpdateBalancing recomputes every tuner against a fresh snapshot, using the
// last base value seen for each parameter. A failing tuner is logged and
// does not stop the others.
func (s *System) UpdateBalancing() {
	if !s.Enabled() {
		return
	}

	s.mu.RLock()
	snap := s.snapshotLocked()
	tuners := slices.Collect(maps.Values(s.tuners))
	bases := maps.Clone(s.bases)
	s.mu.RUnlock()
	slices.SortFunc(tuners, func(a, b Tuner) int { return a.Info().ID.Compare(b.Info().ID) })

	next := make(map[identifier.ID]float64, len(tuners))
	for _, t := range tuners {
		info := t.Info()
		base, ok := bases[info.Target]
		if !ok {
			base = defaultBase
		}
		v, err := compute(t, base, snap)
		if err != nil {
			s.logger.Error("Balance tuner failed", log.String("tuner", info.ID.String()), log.Error(err))
			continue
		}
		if _, dup := next[info.Target]; !dup {
			next[info.Target] = v
		}
	}

	s.mu.Lock()
	s.adjusted = next
	s.mu.Unlock()
	s.logger.Debug("Updated balance parameters", log.Int("parameters", len(next)))
}

// Reset discards every sample and cached value. Tuners stay registered.
func (s *System) Reset() {
	s.mu.Lock()
	s.aggregates = make(map[string]*Aggregate)
	s.adjusted = make(map[identifier.ID]float64)
	s.mu.Unlock()
}

// tunerForLocked picks the lowest-id tuner targeting param.
func (s *System) tunerForLocked(param identifier.ID) Tuner {
	var (
		found Tuner
		best  identifier.ID
	)
	for id, t := range s.tuners {
		if t.Info().Target != param {
			continue
		}
		if found == nil || id.Less(best) {
			found, best = t, id
		}
	}
	return found
}

func compute(t Tuner, base float64, snap Snapshot) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = 0, fmt.Errorf("%w: %v", ErrTunerPanic, r)
		}
	}()
	snap.Metrics = maps.Clone(snap.Metrics)
	v, err = t.Compute(base, snap)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNonFinite
	}
	return t.Info().Bounds.Clamp(v), nil
}
