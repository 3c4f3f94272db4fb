// Package environmental scores how well a location suits a specimen from the
// biome, temperature, light level and time of day reported by the host.
package environmental

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/identifier"
	"github.com/Mosberg/entomology/internal/core/mechanics"
	"github.com/Mosberg/entomology/internal/core/observability/log"
)

var ID = identifier.Of("advanced_environmental")

const (
	Version  = "2.0.0"
	Priority = 400

	DefaultCheckInterval = 100
	// strictThreshold is the lowest suitability strict mode accepts.
	strictThreshold = 0.75
	ticksPerDay     = 24000
)

// Context data keys supplied by the host.
const (
	KeyBiome       = "biome"
	KeyTemperature = "temperature"
	KeyLightLevel  = "lightLevel"
)

// Result data keys.
const (
	KeySuitability      = "suitability"
	KeyBiomeMatch       = "biomeMatch"
	KeyTemperatureMatch = "temperatureMatch"
	KeyLightMatch       = "lightMatch"
	KeyTimeMatch        = "timeMatch"
)

type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Requirements describe the conditions one specimen prefers.
type Requirements struct {
	PreferredBiomes  []string `json:"preferred_biomes,omitempty"`
	TemperatureRange *Range   `json:"temperature_range,omitempty"`
	LightRange       *Range   `json:"light_range,omitempty"`
	TimePreference   string   `json:"time_preference,omitempty"`
}

type settings struct {
	enabled       bool
	strict        bool
	checkInterval int
	specimens     map[string]Requirements
}

type Mechanic struct {
	*mechanics.Base

	mu  sync.RWMutex
	cfg settings
}

func New(logger log.Log) *Mechanic {
	m := &Mechanic{cfg: settings{enabled: true, checkInterval: DefaultCheckInterval}}
	m.Base = mechanics.NewBase(mechanics.Descriptor{
		ID:          ID,
		Version:     Version,
		Category:    mechanics.CategoryEnvironmental,
		Priority:    Priority,
		Description: "Environmental suitability from biome, temperature, light and time",
		Kinds:       []mechanics.Kind{mechanics.KindEnvironmental},
	}, m, logger)
	return m
}

func (m *Mechanic) DefineParameters() []mechanics.Parameter {
	return []mechanics.Parameter{
		{Name: "checkInterval", Description: "Ticks between checks", Type: mechanics.ParamInt, Default: DefaultCheckInterval},
		{Name: "strictMode", Description: "Strict requirement enforcement", Type: mechanics.ParamBool, Default: false},
		{Name: "specimens", Description: "Specimen environmental requirements", Type: mechanics.ParamObject, Default: map[string]any{}},
	}
}

func (m *Mechanic) Apply(doc config.Document) error {
	specimens, err := config.Decode[map[string]Requirements](doc, "specimens")
	if err != nil {
		return fmt.Errorf("specimens: %w", err)
	}
	for id, req := range specimens {
		switch strings.ToLower(req.TimePreference) {
		case "", "any", "day", "night", "dusk", "dawn":
		default:
			return fmt.Errorf("specimens.%s: unknown time_preference %q", id, req.TimePreference)
		}
	}
	next := settings{
		enabled:       config.As(doc, mechanics.EnabledParam, true),
		strict:        config.As(doc, "strictMode", false),
		checkInterval: config.As(doc, "checkInterval", DefaultCheckInterval),
		specimens:     specimens,
	}

	m.mu.Lock()
	m.cfg = next
	m.mu.Unlock()

	m.Logger().Info("Configured environmental requirements", log.Int("specimens", len(specimens)))
	return nil
}

// CheckInterval is the configured number of ticks hosts should wait between checks.
func (m *Mechanic) CheckInterval() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.checkInterval
}

func (m *Mechanic) Run(c mechanics.Context) (mechanics.Result, error) {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	if !cfg.enabled {
		return mechanics.Skip("environmental checks disabled"), nil
	}

	subject, ok := c.Subject()
	if !ok {
		return mechanics.Fail("no specimen in context"), nil
	}
	req, ok := cfg.specimens[subject.String()]
	if !ok {
		if cfg.strict {
			return mechanics.Fail("no requirements defined"), nil
		}
		return mechanics.Skip("no requirements defined"), nil
	}
	if _, ok := c.Position(); !ok {
		return mechanics.Skip("no position in context"), nil
	}

	biome, _ := mechanics.ContextValue[string](c, KeyBiome)
	biomeMatch := len(req.PreferredBiomes) == 0 || slices.Contains(req.PreferredBiomes, biome)
	tempMatch := inRange(c, KeyTemperature, req.TemperatureRange, Range{Min: 0, Max: 1})
	lightMatch := inRange(c, KeyLightLevel, req.LightRange, Range{Min: 0, Max: 15})
	timeMatch := matchesTime(req.TimePreference, c.GameTime())

	matches := 0
	for _, ok := range []bool{biomeMatch, tempMatch, lightMatch, timeMatch} {
		if ok {
			matches++
		}
	}
	suitability := float64(matches) / 4

	if cfg.strict && suitability < strictThreshold {
		return mechanics.Fail(fmt.Sprintf("environment not suitable (score: %.2f)", suitability)), nil
	}
	return mechanics.Succeed(
		mechanics.WithValue(KeySuitability, suitability),
		mechanics.WithValue(KeyBiomeMatch, biomeMatch),
		mechanics.WithValue(KeyTemperatureMatch, tempMatch),
		mechanics.WithValue(KeyLightMatch, lightMatch),
		mechanics.WithValue(KeyTimeMatch, timeMatch),
	), nil
}

// inRange treats a missing reading as a mismatch.
func inRange(c mechanics.Context, key string, r *Range, def Range) bool {
	if r == nil {
		r = &def
	}
	v, ok := c.Value(key)
	if !ok {
		return false
	}
	switch n := v.(type) {
	case float64:
		return r.Contains(n)
	case float32:
		return r.Contains(float64(n))
	case int:
		return r.Contains(float64(n))
	case int64:
		return r.Contains(float64(n))
	}
	return false
}

// matchesTime checks a preference against the time of day in ticks.
func matchesTime(pref string, gameTime int64) bool {
	t := gameTime % ticksPerDay
	if t < 0 {
		t += ticksPerDay
	}
	switch strings.ToLower(pref) {
	case "day":
		return t < 12000
	case "night":
		return t >= 12000
	case "dusk":
		return t >= 11000 && t < 13000
	case "dawn":
		return t >= 23000 || t < 1000
	default:
		return true
	}
}
