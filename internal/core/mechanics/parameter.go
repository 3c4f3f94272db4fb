package mechanics

import (
	"fmt"
	"math"

	"github.com/Mosberg/entomology/internal/core/config"
)

// ParamType names the JSON type a parameter value must have.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "integer"
	ParamFloat  ParamType = "number"
	ParamBool   ParamType = "boolean"
	ParamObject ParamType = "object"
	ParamArray  ParamType = "array"
	ParamAny    ParamType = "any"
)

// Parameter declares one configuration key a mechanic understands. Name may
// be a dot path into the configuration document.
type Parameter struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        ParamType `json:"type"`
	Default     any       `json:"default,omitempty"`
	Required    bool      `json:"required"`
	Min         *float64  `json:"min,omitempty"`
	Max         *float64  `json:"max,omitempty"`
}

// InRange returns a copy of p bounded to [lo, hi].
func (p Parameter) InRange(lo, hi float64) Parameter {
	p.Min, p.Max = &lo, &hi
	return p
}

// check reports why v is not acceptable for p, or "" if it is.
func (p Parameter) check(v any) string {
	switch p.Type {
	case ParamString:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("%s: expected string, got %T", p.Name, v)
		}
	case ParamBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("%s: expected boolean, got %T", p.Name, v)
		}
	case ParamObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Sprintf("%s: expected object, got %T", p.Name, v)
		}
	case ParamArray:
		if _, ok := v.([]any); !ok {
			return fmt.Sprintf("%s: expected array, got %T", p.Name, v)
		}
	case ParamInt, ParamFloat:
		f, ok := v.(float64)
		if !ok {
			return fmt.Sprintf("%s: expected %s, got %T", p.Name, p.Type, v)
		}
		if p.Type == ParamInt && f != math.Trunc(f) {
			return fmt.Sprintf("%s: expected integer, got %v", p.Name, f)
		}
		if p.Min != nil && f < *p.Min {
			return fmt.Sprintf("%s: %v is below minimum %v", p.Name, f, *p.Min)
		}
		if p.Max != nil && f > *p.Max {
			return fmt.Sprintf("%s: %v is above maximum %v", p.Name, f, *p.Max)
		}
	}
	return ""
}

// validateParameters checks doc against params and returns the missing and
// invalid parameter names along with readable messages.
func validateParameters(params []Parameter, doc config.Document) (missing, invalid, details []string) {
	for _, p := range params {
		v, ok := doc.Lookup(p.Name)
		if !ok || v == nil {
			if p.Required {
				missing = append(missing, p.Name)
				details = append(details, fmt.Sprintf("%s: required parameter is missing", p.Name))
			}
			continue
		}
		if msg := p.check(v); msg != "" {
			invalid = append(invalid, p.Name)
			details = append(details, msg)
		}
	}
	return missing, invalid, details
}
