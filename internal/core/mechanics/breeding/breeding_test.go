package breeding

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/mechanics"
	"github.com/Mosberg/entomology/internal/core/observability/log"
)

func newEnabled(t *testing.T, cfg config.Document) *Mechanic {
	t.Helper()
	m := New(log.NewNop())
	require.NoError(t, m.OnInitialize())
	require.NoError(t, m.OnEnable())
	require.NoError(t, m.Configure(cfg), "configure breeding")
	return m
}

func breedingContext(t *testing.T, opts ...mechanics.ContextOption) mechanics.Context {
	t.Helper()
	base := []mechanics.ContextOption{
		mechanics.WithData(KeyParent1, "entomology:ladybug"),
		mechanics.WithData(KeyParent2, "entomology:firefly"),
		mechanics.WithData(KeySeed, int64(42)),
		mechanics.WithGameTime(12000),
	}
	c, err := mechanics.NewContext(mechanics.KindBreeding, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func certainPair(extra map[string]any) map[string]any {
	p := map[string]any{
		"parent1":        "entomology:firefly",
		"parent2":        "entomology:ladybug",
		"successChance":  1.0,
		"mutationChance": 0.0,
		"offspring":      []any{"entomology:glowbug"},
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func TestBreedingSuccess(t *testing.T) {
	m := newEnabled(t, config.Document{
		"breedingPairs": []any{certainPair(nil)},
	})

	res := m.Execute(breedingContext(t, mechanics.WithPosition(mgl64.Vec3{1, 64, 1})))
	require.True(t, res.OK(), res.Message())
	assert.Equal(t, mechanics.ResultSuccess, res.Type())

	offspring, ok := mechanics.ResultValue[string](res, KeyOffspring)
	require.True(t, ok)
	assert.Equal(t, "entomology:glowbug", offspring)
	assert.Equal(t, false, res.Data()[KeyMutated])
	assert.Equal(t, int64(12000), res.Data()[KeyBreedingTime])

	effects := res.SideEffects()
	require.Len(t, effects, 1)
	assert.Equal(t, EffectSpawnOffspring, effects[0].Type)
	assert.Equal(t, mgl64.Vec3{1, 64, 1}, effects[0].Data["position"])
	assert.EqualValues(t, 1, m.Metrics().Executions)
}

func TestBreedingIsDeterministicForSeed(t *testing.T) {
	pair := certainPair(map[string]any{
		"successChance": 0.9,
		"offspring":     []any{"a", "b", "c", "d", "e", "f"},
	})
	m := newEnabled(t, config.Document{"breedingPairs": []any{pair}})

	first := m.Execute(breedingContext(t))
	for range 10 {
		again := m.Execute(breedingContext(t))
		assert.Equal(t, first.OK(), again.OK())
		assert.Equal(t, first.Data(), again.Data())
	}
}

func TestBreedingMutation(t *testing.T) {
	m := newEnabled(t, config.Document{
		"globalMutationRate": 1.0,
		"breedingPairs": []any{certainPair(map[string]any{
			"mutationChance": 1.0,
			"mutations":      []any{"entomology:albino_ladybug"},
		})},
	})

	res := m.Execute(breedingContext(t))
	require.True(t, res.OK(), res.Message())
	assert.Equal(t, "entomology:albino_ladybug", res.Data()[KeyOffspring])
	assert.Equal(t, true, res.Data()[KeyMutated])
}

func TestTraitInheritance(t *testing.T) {
	m := newEnabled(t, config.Document{
		"breedingPairs": []any{certainPair(nil)},
		"traits": []any{
			map[string]any{"id": "speed", "inheritable": true, "inheritanceChance": 1.0},
			map[string]any{"id": "color", "inheritable": false},
		},
	})

	res := m.Execute(breedingContext(t,
		mechanics.WithData(KeyParent1Traits, map[string]any{"speed": 3, "color": "red"}),
		mechanics.WithData(KeyParent2Traits, map[string]any{"speed": 3}),
	))
	require.True(t, res.OK(), res.Message())
	traits, ok := mechanics.ResultValue[map[string]any](res, KeyTraits)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"speed": 3}, traits)
}

func TestBreedingFailures(t *testing.T) {
	m := newEnabled(t, config.Document{
		"breedingPairs": []any{
			certainPair(nil),
			map[string]any{"parent1": "a", "parent2": "b", "successChance": 0.0, "offspring": []any{"c"}},
			map[string]any{"parent1": "x", "parent2": "y", "successChance": 1.0},
		},
	})

	tests := []struct {
		name string
		ctx  mechanics.Context
		msg  string
	}{
		{"missing parents", mechanics.MustContext(mechanics.KindBreeding), "missing parent specimens"},
		{"unknown pair", mechanics.MustContext(mechanics.KindBreeding,
			mechanics.WithData(KeyParent1, "a"), mechanics.WithData(KeyParent2, "z")), "incompatible breeding pair"},
		{"cooldown", breedingContext(t, mechanics.WithData(KeyLastBreeding, int64(10000))), "breeding on cooldown"},
		{"chance", mechanics.MustContext(mechanics.KindBreeding,
			mechanics.WithData(KeyParent1, "b"), mechanics.WithData(KeyParent2, "a")), "breeding attempt failed"},
		{"no offspring", mechanics.MustContext(mechanics.KindBreeding,
			mechanics.WithData(KeyParent1, "x"), mechanics.WithData(KeyParent2, "y")), "no valid offspring defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Execute(tt.ctx)
			assert.False(t, res.OK())
			assert.Equal(t, mechanics.ResultFailure, res.Type())
			assert.Equal(t, tt.msg, res.Message())
		})
	}
}

func TestConfigureRequiresPairs(t *testing.T) {
	m := New(log.NewNop())
	require.NoError(t, m.OnInitialize())

	err := m.Configure(config.Document{"enabled": true})
	require.Error(t, err)
	var ice *mechanics.InvalidConfigurationError
	require.True(t, errors.As(err, &ice))
	assert.Equal(t, []string{"breedingPairs"}, ice.Missing)

	err = m.Configure(config.Document{"breedingPairs": []any{map[string]any{"parent1": "a"}}})
	assert.ErrorIs(t, err, mechanics.ErrInvalidConfiguration, "apply errors roll back")
	_, present := m.Configuration()["breedingPairs"]
	assert.False(t, present)
}

func TestAppliesOnlyToBreedingContexts(t *testing.T) {
	m := newEnabled(t, config.Document{"breedingPairs": []any{}})
	assert.True(t, m.AppliesTo(breedingContext(t)))
	assert.False(t, m.AppliesTo(mechanics.MustContext(mechanics.KindSpawn)))

	require.NoError(t, m.OnDisable())
	assert.False(t, m.AppliesTo(breedingContext(t)))
	assert.Equal(t, mechanics.ResultSkipped, m.Execute(breedingContext(t)).Type())
}
