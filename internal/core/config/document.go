package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strings"
)

// CurrentVersion is stamped into documents that carry no version.
const CurrentVersion = "1.0.0"

// Document is a JSON value tree. Nested objects are map[string]any, arrays
// are []any and numbers are float64 once a document has passed through the
// store.
type Document map[string]any

// NewDocument normalises an arbitrary map into JSON values.
func NewDocument(m map[string]any) (Document, error) {
	v, err := normalize(m)
	if err != nil {
		return nil, err
	}
	obj, _ := v.(map[string]any)
	if obj == nil {
		obj = map[string]any{}
	}
	return Document(obj), nil
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Version returns the document's "version" string, or "" if absent.
func (d Document) Version() string {
	v, _ := d["version"].(string)
	return v
}

// Lookup resolves a dot-separated path. The empty path returns the document.
func (d Document) Lookup(path string) (any, bool) {
	if path == "" {
		return map[string]any(d), true
	}
	var cur any = map[string]any(d)
	for _, seg := range strings.Split(path, ".") {
		obj, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Section returns the object at path as a Document copy.
func (d Document) Section(path string) (Document, bool) {
	v, ok := d.Lookup(path)
	if !ok {
		return nil, false
	}
	obj, ok := asMap(v)
	if !ok {
		return nil, false
	}
	return Document(obj).Clone(), true
}

// Set writes value at path, replacing any non-object intermediate with a new
// object. The value is normalised to JSON values first.
func (d Document) Set(path string, value any) error {
	segs := strings.Split(path, ".")
	for _, seg := range segs {
		if seg == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	norm, err := normalize(value)
	if err != nil {
		return err
	}

	cur := map[string]any(d)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := asMap(cur[seg])
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = norm
	return nil
}

// As reads the value at path coerced to T, or def when the path is absent or
// the value cannot be represented as T. Maps and slices are returned as copies.
func As[T any](d Document, path string, def T) T {
	v, ok := d.Lookup(path)
	if !ok || v == nil {
		return def
	}
	out, ok := coerce[T](v)
	if !ok {
		return def
	}
	return out
}

// Decode unmarshals the JSON form of the value at path into T. An absent path
// yields the zero T and no error.
func Decode[T any](d Document, path string) (T, error) {
	var out T
	v, ok := d.Lookup(path)
	if !ok || v == nil {
		return out, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}

func coerce[T any](v any) (T, bool) {
	var out T
	switch p := any(&out).(type) {
	case *bool:
		b, ok := v.(bool)
		*p = b
		return out, ok
	case *string:
		s, ok := v.(string)
		*p = s
		return out, ok
	case *float64:
		f, ok := toFloat(v)
		*p = f
		return out, ok
	case *int:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) || f > math.MaxInt || f < math.MinInt {
			return out, false
		}
		*p = int(f)
		return out, true
	case *int64:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return out, false
		}
		*p = int64(f)
		return out, true
	case *Document:
		obj, ok := asMap(v)
		if !ok {
			return out, false
		}
		*p = Document(obj).Clone()
		return out, true
	case *map[string]any:
		obj, ok := asMap(v)
		if !ok {
			return out, false
		}
		*p = map[string]any(Document(obj).Clone())
		return out, true
	case *[]any:
		arr, ok := v.([]any)
		if !ok {
			return out, false
		}
		*p = cloneValue(arr).([]any)
		return out, true
	case *[]string:
		arr, ok := v.([]any)
		if !ok {
			return out, false
		}
		strs := make([]string, 0, len(arr))
		for _, e := range arr {
			s, ok := e.(string)
			if !ok {
				return out, false
			}
			strs = append(strs, s)
		}
		*p = strs
		return out, true
	}

	if t, ok := v.(T); ok {
		return t, true
	}
	// Structured targets decode from the JSON form of the value.
	data, err := json.Marshal(v)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return map[string]any(m), true
	}
	return nil, false
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case Document:
		return map[string]any(t.Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// normalize converts v into the JSON value model.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t, nil
	case map[string]any:
		if isPlain(t) {
			return cloneValue(t), nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return out, nil
}

// isPlain reports whether m already holds only JSON values.
func isPlain(m map[string]any) bool {
	for v := range maps.Values(m) {
		switch t := v.(type) {
		case nil, bool, string, float64:
		case map[string]any:
			if !isPlain(t) {
				return false
			}
		case []any:
			for _, e := range t {
				if !isPlain(map[string]any{"": e}) {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}
