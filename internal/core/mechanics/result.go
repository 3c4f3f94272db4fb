package mechanics

import (
	"maps"
	"slices"
)

type ResultType string

const (
	ResultSuccess ResultType = "success"
	ResultFailure ResultType = "failure"
	ResultSkipped ResultType = "skipped"
	ResultPartial ResultType = "partial"
)

const defaultFailureMessage = "mechanic failed"

// SideEffect is a named effect the host applies; its data is opaque to the runtime.
type SideEffect struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func NewSideEffect(typ string, data map[string]any) SideEffect {
	return SideEffect{Type: typ, Data: maps.Clone(data)}
}

// Result is the immutable outcome of Execute. A result that is not OK always
// carries a message.
type Result struct {
	success bool
	typ     ResultType
	data    map[string]any
	message string
	effects []SideEffect
	stop    bool
}

type ResultOption func(*Result)

func WithValue(key string, value any) ResultOption {
	return func(r *Result) {
		if r.data == nil {
			r.data = make(map[string]any)
		}
		r.data[key] = value
	}
}

func WithValues(m map[string]any) ResultOption {
	return func(r *Result) {
		if r.data == nil {
			r.data = make(map[string]any, len(m))
		}
		maps.Copy(r.data, m)
	}
}

func WithSideEffect(effect SideEffect) ResultOption {
	return func(r *Result) {
		r.effects = append(r.effects, NewSideEffect(effect.Type, effect.Data))
	}
}

// WithStopPropagation tells the caller not to run further mechanics for this context.
func WithStopPropagation() ResultOption {
	return func(r *Result) { r.stop = true }
}

func build(success bool, typ ResultType, message string, opts []ResultOption) Result {
	r := Result{success: success, typ: typ, message: message}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func Succeed(opts ...ResultOption) Result {
	return build(true, ResultSuccess, "", opts)
}

func Fail(message string, opts ...ResultOption) Result {
	if message == "" {
		message = defaultFailureMessage
	}
	return build(false, ResultFailure, message, opts)
}

func Skip(reason string, opts ...ResultOption) Result {
	return build(true, ResultSkipped, reason, opts)
}

func Partial(message string, opts ...ResultOption) Result {
	return build(true, ResultPartial, message, opts)
}

func (r Result) OK() bool         { return r.success }
func (r Result) Type() ResultType { return r.typ }
func (r Result) Message() string  { return r.message }

// Data returns a copy of the data bag.
func (r Result) Data() map[string]any { return maps.Clone(r.data) }

func (r Result) Value(key string) (any, bool) {
	v, ok := r.data[key]
	return v, ok
}

// SideEffects returns the effects in the order they were added.
func (r Result) SideEffects() []SideEffect { return slices.Clone(r.effects) }

func (r Result) StopPropagation() bool { return r.stop }

// ResultValue returns the data value for key if it has type T.
func ResultValue[T any](r Result, key string) (T, bool) {
	v, ok := r.data[key].(T)
	return v, ok
}
