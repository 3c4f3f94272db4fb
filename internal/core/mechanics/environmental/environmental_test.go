package environmental

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/identifier"
	"github.com/Mosberg/entomology/internal/core/mechanics"
	"github.com/Mosberg/entomology/internal/core/observability/log"
)

var firefly = identifier.Of("firefly")

func newEnabled(t *testing.T, strict bool) *Mechanic {
	t.Helper()
	m := New(log.NewNop())
	require.NoError(t, m.OnInitialize())
	require.NoError(t, m.OnEnable())
	require.NoError(t, m.Configure(config.Document{
		"strictMode": strict,
		"specimens": map[string]any{
			firefly.String(): map[string]any{
				"preferred_biomes":  []any{"minecraft:swamp"},
				"temperature_range": map[string]any{"min": 0.5, "max": 0.9},
				"light_range":       map[string]any{"min": 0, "max": 7},
				"time_preference":   "night",
			},
		},
	}))
	return m
}

func envContext(t *testing.T, opts ...mechanics.ContextOption) mechanics.Context {
	t.Helper()
	base := []mechanics.ContextOption{
		mechanics.WithSubject(firefly),
		mechanics.WithPosition(mgl64.Vec3{10, 64, -3}),
	}
	c, err := mechanics.NewContext(mechanics.KindEnvironmental, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestSuitability(t *testing.T) {
	m := newEnabled(t, false)

	t.Run("all conditions match", func(t *testing.T) {
		res := m.Execute(envContext(t,
			mechanics.WithData(KeyBiome, "minecraft:swamp"),
			mechanics.WithData(KeyTemperature, 0.8),
			mechanics.WithData(KeyLightLevel, 4),
			mechanics.WithGameTime(18000),
		))
		require.True(t, res.OK(), res.Message())
		assert.Equal(t, 1.0, res.Data()[KeySuitability])
	})

	t.Run("partial match", func(t *testing.T) {
		res := m.Execute(envContext(t,
			mechanics.WithData(KeyBiome, "minecraft:desert"),
			mechanics.WithData(KeyTemperature, 2.0),
			mechanics.WithData(KeyLightLevel, 4),
			mechanics.WithGameTime(24000+13000),
		))
		require.True(t, res.OK(), res.Message())
		assert.Equal(t, 0.5, res.Data()[KeySuitability])
		assert.Equal(t, false, res.Data()[KeyBiomeMatch])
		assert.Equal(t, false, res.Data()[KeyTemperatureMatch])
		assert.Equal(t, true, res.Data()[KeyLightMatch])
		assert.Equal(t, true, res.Data()[KeyTimeMatch])
	})

	t.Run("unknown specimen is skipped", func(t *testing.T) {
		c := mechanics.MustContext(mechanics.KindEnvironmental,
			mechanics.WithSubject(identifier.Of("moth")),
			mechanics.WithPosition(mgl64.Vec3{}))
		assert.Equal(t, mechanics.ResultSkipped, m.Execute(c).Type())
	})

	t.Run("missing position is skipped", func(t *testing.T) {
		c := mechanics.MustContext(mechanics.KindEnvironmental, mechanics.WithSubject(firefly))
		assert.Equal(t, mechanics.ResultSkipped, m.Execute(c).Type())
	})

	t.Run("missing subject fails", func(t *testing.T) {
		res := m.Execute(mechanics.MustContext(mechanics.KindEnvironmental))
		assert.False(t, res.OK())
		assert.Equal(t, "no specimen in context", res.Message())
	})
}

func TestStrictMode(t *testing.T) {
	m := newEnabled(t, true)

	res := m.Execute(envContext(t, mechanics.WithGameTime(6000)))
	assert.False(t, res.OK())
	assert.Contains(t, res.Message(), "environment not suitable")

	c := mechanics.MustContext(mechanics.KindEnvironmental,
		mechanics.WithSubject(identifier.Of("moth")), mechanics.WithPosition(mgl64.Vec3{}))
	assert.Equal(t, "no requirements defined", m.Execute(c).Message())
}

func TestMatchesTime(t *testing.T) {
	tests := []struct {
		pref string
		time int64
		want bool
	}{
		{"day", 0, true},
		{"day", 12000, false},
		{"night", 12000, true},
		{"dusk", 11500, true},
		{"dusk", 13000, false},
		{"dawn", 23500, true},
		{"dawn", 500, true},
		{"dawn", 1000, false},
		{"any", 5, true},
		{"", 5, true},
		{"night", -1000, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchesTime(tt.pref, tt.time), "%s at %d", tt.pref, tt.time)
	}
}

func TestRejectsUnknownTimePreference(t *testing.T) {
	m := New(log.NewNop())
	require.NoError(t, m.OnInitialize())
	err := m.Configure(config.Document{
		"specimens": map[string]any{"x:y": map[string]any{"time_preference": "noon"}},
	})
	assert.ErrorIs(t, err, mechanics.ErrInvalidConfiguration)
	assert.Equal(t, DefaultCheckInterval, m.CheckInterval())
}
