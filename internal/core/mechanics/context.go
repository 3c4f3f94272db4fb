package mechanics

import (
	"fmt"
	"maps"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/Mosberg/entomology/internal/core/identifier"
)

// EntityRef points at a host entity.
type EntityRef struct {
	ID   uuid.UUID `json:"id"`
	Type string    `json:"type"`
}

// Context is the immutable input of one execution request. Build it with
// NewContext; accessors never expose internal state.
type Context struct {
	kind        Kind
	position    mgl64.Vec3
	hasPosition bool
	actor       *EntityRef
	entity      *EntityRef
	subject     identifier.ID
	data        map[string]any
	gameTime    int64
	timestamp   time.Time
}

type ContextOption func(*Context)

func WithPosition(p mgl64.Vec3) ContextOption {
	return func(c *Context) {
		c.position, c.hasPosition = p, true
	}
}

func WithActor(ref EntityRef) ContextOption {
	return func(c *Context) { c.actor = &ref }
}

func WithEntity(ref EntityRef) ContextOption {
	return func(c *Context) { c.entity = &ref }
}

// WithSubject names the thing being acted on, e.g. a species or a biome.
func WithSubject(id identifier.ID) ContextOption {
	return func(c *Context) { c.subject = id }
}

func WithData(key string, value any) ContextOption {
	return func(c *Context) { c.data[key] = value }
}

func WithDataMap(m map[string]any) ContextOption {
	return func(c *Context) { maps.Copy(c.data, m) }
}

// WithGameTime sets the host's world time in ticks.
func WithGameTime(ticks int64) ContextOption {
	return func(c *Context) { c.gameTime = ticks }
}

func WithTimestamp(t time.Time) ContextOption {
	return func(c *Context) { c.timestamp = t }
}

func NewContext(kind Kind, opts ...ContextOption) (Context, error) {
	if !kind.Valid() {
		return Context{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidContext, kind)
	}
	c := Context{kind: kind, data: make(map[string]any)}
	for _, opt := range opts {
		opt(&c)
	}
	if c.timestamp.IsZero() {
		c.timestamp = time.Now()
	}
	return c, nil
}

func MustContext(kind Kind, opts ...ContextOption) Context {
	c, err := NewContext(kind, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Context) Kind() Kind { return c.kind }

func (c Context) Position() (mgl64.Vec3, bool) { return c.position, c.hasPosition }

func (c Context) Actor() (EntityRef, bool) {
	if c.actor == nil {
		return EntityRef{}, false
	}
	return *c.actor, true
}

func (c Context) Entity() (EntityRef, bool) {
	if c.entity == nil {
		return EntityRef{}, false
	}
	return *c.entity, true
}

func (c Context) Subject() (identifier.ID, bool) { return c.subject, !c.subject.IsZero() }

// Data returns a copy of the data bag.
func (c Context) Data() map[string]any { return maps.Clone(c.data) }

func (c Context) Value(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

func (c Context) GameTime() int64 { return c.gameTime }

func (c Context) Timestamp() time.Time { return c.timestamp }

// ContextValue returns the data value for key if it has type T.
func ContextValue[T any](c Context, key string) (T, bool) {
	v, ok := c.data[key].(T)
	return v, ok
}
