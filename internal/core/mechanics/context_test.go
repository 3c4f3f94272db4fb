package mechanics

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mosberg/entomology/internal/core/identifier"
)

func TestContext(t *testing.T) {
	actor := EntityRef{ID: uuid.New(), Type: "player"}
	c, err := NewContext(KindInteraction,
		WithPosition(mgl64.Vec3{1, 2, 3}),
		WithActor(actor),
		WithSubject(identifier.Of("ladybug")),
		WithDataMap(map[string]any{"count": 2}),
		WithData("tool", "net"),
		WithGameTime(500),
	)
	require.NoError(t, err)

	pos, ok := c.Position()
	assert.True(t, ok)
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, pos)
	got, ok := c.Actor()
	assert.True(t, ok)
	assert.Equal(t, actor, got)
	_, ok = c.Entity()
	assert.False(t, ok)
	assert.Equal(t, "entomology:ladybug", mustSubject(t, c).String())
	assert.Equal(t, int64(500), c.GameTime())
	assert.False(t, c.Timestamp().IsZero())

	tool, ok := ContextValue[string](c, "tool")
	assert.True(t, ok)
	assert.Equal(t, "net", tool)
	_, ok = ContextValue[string](c, "count")
	assert.False(t, ok)

	data := c.Data()
	data["tool"] = "jar"
	v, _ := c.Value("tool")
	assert.Equal(t, "net", v)
}

func mustSubject(t *testing.T, c Context) identifier.ID {
	t.Helper()
	id, ok := c.Subject()
	require.True(t, ok)
	return id
}

func TestNewContextRejectsUnknownKind(t *testing.T) {
	_, err := NewContext(Kind("weather"))
	assert.ErrorIs(t, err, ErrInvalidContext)
	assert.Panics(t, func() { MustContext(Kind("weather")) })
}

func TestResult(t *testing.T) {
	assert.Equal(t, defaultFailureMessage, Fail("").Message())
	assert.False(t, Fail("x").OK())
	assert.True(t, Skip("later").OK())
	assert.Equal(t, ResultPartial, Partial("half").Type())

	data := map[string]any{"a": 1}
	effectData := map[string]any{"k": "v"}
	r := Succeed(WithValues(data), WithValue("b", 2), WithSideEffect(SideEffect{Type: "t", Data: effectData}))
	data["a"] = 100
	effectData["k"] = "changed"

	assert.Equal(t, map[string]any{"a": 1, "b": 2}, r.Data())
	assert.Equal(t, "v", r.SideEffects()[0].Data["k"])

	out := r.Data()
	out["a"] = 5
	n, ok := ResultValue[int](r, "a")
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	assert.False(t, r.StopPropagation())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("breeding")
	require.NoError(t, err)
	assert.Equal(t, KindBreeding, k)
	_, err = ParseKind("weather")
	assert.Error(t, err)
}
