// Package breeding implements the genetics mechanic: configured breeding
// pairs, chance-based success and mutation, and trait inheritance.
package breeding

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/identifier"
	"github.com/Mosberg/entomology/internal/core/mechanics"
	"github.com/Mosberg/entomology/internal/core/observability/log"
)

var ID = identifier.Of("advanced_breeding")

const (
	Version  = "2.0.0"
	Priority = 600

	DefaultMutationRate  = 0.05
	DefaultCooldownTicks = 6000
	defaultSuccessChance = 0.5
	defaultInheritChance = 0.5
)

// Context data keys read by the mechanic.
const (
	KeyParent1       = "parent1"
	KeyParent2       = "parent2"
	KeyParent1Traits = "parent1Traits"
	KeyParent2Traits = "parent2Traits"
	KeyLastBreeding  = "lastBreedingTime"
	// KeySeed makes the outcome reproducible.
	KeySeed = "seed"
)

// Result data keys.
const (
	KeyOffspring    = "offspring"
	KeyMutated      = "mutated"
	KeyTraits       = "traits"
	KeyBreedingTime = "breedingTime"
)

// EffectSpawnOffspring asks the host to spawn the offspring species.
const EffectSpawnOffspring = "entomology:spawn_offspring"

type Pair struct {
	Parent1        string   `json:"parent1"`
	Parent2        string   `json:"parent2"`
	SuccessChance  *float64 `json:"successChance,omitempty"`
	MutationChance *float64 `json:"mutationChance,omitempty"`
	Offspring      []string `json:"offspring,omitempty"`
	Mutations      []string `json:"mutations,omitempty"`
}

type Trait struct {
	ID                string   `json:"id"`
	Inheritable       bool     `json:"inheritable"`
	InheritanceChance *float64 `json:"inheritanceChance,omitempty"`
}

type pair struct {
	offspring      []string
	mutations      []string
	successChance  float64
	mutationChance float64
}

type settings struct {
	enabled      bool
	mutationRate float64
	cooldown     int64
	pairs        map[string]pair
	traits       map[string]Trait
}

type Mechanic struct {
	*mechanics.Base

	mu  sync.RWMutex
	cfg settings
}

func New(logger log.Log) *Mechanic {
	m := &Mechanic{cfg: settings{
		enabled:      true,
		mutationRate: DefaultMutationRate,
		cooldown:     DefaultCooldownTicks,
	}}
	m.Base = mechanics.NewBase(mechanics.Descriptor{
		ID:          ID,
		Version:     Version,
		Category:    mechanics.CategoryBreeding,
		Priority:    Priority,
		Description: "Breeding with genetics, mutations and trait inheritance",
		Kinds:       []mechanics.Kind{mechanics.KindBreeding},
	}, m, logger)
	return m
}

func (m *Mechanic) DefineParameters() []mechanics.Parameter {
	return []mechanics.Parameter{
		mechanics.Parameter{
			Name:        "globalMutationRate",
			Description: "Global mutation probability",
			Type:        mechanics.ParamFloat,
			Default:     DefaultMutationRate,
		}.InRange(0, 1),
		{
			Name:        "breedingCooldown",
			Description: "Cooldown between breeding attempts (ticks)",
			Type:        mechanics.ParamInt,
			Default:     DefaultCooldownTicks,
		},
		{
			Name:        "breedingPairs",
			Description: "List of valid breeding combinations",
			Type:        mechanics.ParamArray,
			Required:    true,
		},
		{
			Name:        "traits",
			Description: "Trait definitions",
			Type:        mechanics.ParamArray,
			Default:     []any{},
		},
	}
}

func (m *Mechanic) Apply(doc config.Document) error {
	next := settings{
		enabled:      config.As(doc, mechanics.EnabledParam, true),
		mutationRate: config.As(doc, "globalMutationRate", DefaultMutationRate),
		cooldown:     config.As(doc, "breedingCooldown", int64(DefaultCooldownTicks)),
		pairs:        make(map[string]pair),
		traits:       make(map[string]Trait),
	}

	pairs, err := config.Decode[[]Pair](doc, "breedingPairs")
	if err != nil {
		return fmt.Errorf("breedingPairs: %w", err)
	}
	for i, p := range pairs {
		if p.Parent1 == "" || p.Parent2 == "" {
			return fmt.Errorf("breedingPairs[%d]: parent1 and parent2 are required", i)
		}
		next.pairs[pairKey(p.Parent1, p.Parent2)] = pair{
			offspring:      p.Offspring,
			mutations:      p.Mutations,
			successChance:  valueOr(p.SuccessChance, defaultSuccessChance),
			mutationChance: valueOr(p.MutationChance, next.mutationRate),
		}
	}

	traits, err := config.Decode[[]Trait](doc, "traits")
	if err != nil {
		return fmt.Errorf("traits: %w", err)
	}
	for i, t := range traits {
		if t.ID == "" {
			return fmt.Errorf("traits[%d]: id is required", i)
		}
		next.traits[t.ID] = t
	}

	m.mu.Lock()
	m.cfg = next
	m.mu.Unlock()

	m.Logger().Info("Configured advanced breeding",
		log.Int("pairs", len(next.pairs)), log.Int("traits", len(next.traits)))
	return nil
}

func (m *Mechanic) Run(c mechanics.Context) (mechanics.Result, error) {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	if !cfg.enabled {
		return mechanics.Skip("breeding disabled"), nil
	}

	parent1, ok1 := stringValue(c, KeyParent1)
	parent2, ok2 := stringValue(c, KeyParent2)
	if !ok1 || !ok2 {
		return mechanics.Fail("missing parent specimens"), nil
	}

	p, ok := cfg.pairs[pairKey(parent1, parent2)]
	if !ok {
		return mechanics.Fail("incompatible breeding pair"), nil
	}

	if last, ok := intValue(c, KeyLastBreeding); ok && c.GameTime()-last < cfg.cooldown {
		return mechanics.Fail("breeding on cooldown"), nil
	}

	rng := newRand(c)
	if rng.Float64() >= p.successChance {
		return mechanics.Fail("breeding attempt failed"), nil
	}

	mutated := rng.Float64() < p.mutationChance*cfg.mutationRate
	var offspring string
	switch {
	case mutated && len(p.mutations) > 0:
		offspring = p.mutations[rng.IntN(len(p.mutations))]
	case len(p.offspring) > 0:
		offspring = p.offspring[rng.IntN(len(p.offspring))]
	default:
		return mechanics.Fail("no valid offspring defined"), nil
	}

	t1, _ := mechanics.ContextValue[map[string]any](c, KeyParent1Traits)
	t2, _ := mechanics.ContextValue[map[string]any](c, KeyParent2Traits)
	inherited := inheritTraits(cfg.traits, t1, t2, rng)

	effect := map[string]any{"species": offspring, "mutated": mutated}
	if pos, ok := c.Position(); ok {
		effect["position"] = pos
	}
	return mechanics.Succeed(
		mechanics.WithValue(KeyOffspring, offspring),
		mechanics.WithValue(KeyMutated, mutated),
		mechanics.WithValue(KeyTraits, inherited),
		mechanics.WithValue(KeyBreedingTime, c.GameTime()),
		mechanics.WithSideEffect(mechanics.NewSideEffect(EffectSpawnOffspring, effect)),
	), nil
}

// inheritTraits visits trait ids in sorted order so a seeded generator is reproducible.
func inheritTraits(defs map[string]Trait, p1, p2 map[string]any, rng *rand.Rand) map[string]any {
	ids := make([]string, 0, len(p1)+len(p2))
	for id := range p1 {
		ids = append(ids, id)
	}
	for id := range p2 {
		if _, dup := p1[id]; !dup {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	out := make(map[string]any)
	for _, id := range ids {
		def, ok := defs[id]
		if !ok || !def.Inheritable {
			continue
		}
		if rng.Float64() >= valueOr(def.InheritanceChance, defaultInheritChance) {
			continue
		}
		src := p2
		if rng.IntN(2) == 0 {
			src = p1
		}
		if v, ok := src[id]; ok && v != nil {
			out[id] = v
		}
	}
	return out
}

// pairKey is independent of parent order.
func pairKey(a, b string) string {
	if a <= b {
		return a + "|" + b
	}
	return b + "|" + a
}

func newRand(c mechanics.Context) *rand.Rand {
	if seed, ok := intValue(c, KeySeed); ok {
		return rand.New(rand.NewPCG(uint64(seed), 0))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func stringValue(c mechanics.Context, key string) (string, bool) {
	v, ok := c.Value(key)
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, s != ""
	case identifier.ID:
		return s.String(), !s.IsZero()
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

func intValue(c mechanics.Context, key string) (int64, bool) {
	v, ok := c.Value(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
