package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// ValidationError describes a single input violation.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationErrors is the ordered list of every violation found in one
// validation pass: schema-order violations first, then unknown fields in
// lexicographic order.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, v.Error())
	}
	return "invalid inputs: " + strings.Join(parts, "; ")
}

// Validate checks inputs against the schema and returns the normalized value
// map on success. It is a pure function: no state is read or written.
//
// Per field, in definition order: presence (required without default),
// default injection, type coercion, then range bounds. Integer fields accept
// whole-number floats but never truncate (3.0 coerces to 3, 3.5 is a
// violation). Inputs not declared by the schema are rejected. All violations
// are collected; validation never stops at the first.
func Validate(s Schema, inputs map[string]any) (map[string]any, ValidationErrors) {
	normalized := make(map[string]any, len(s))
	var errs ValidationErrors

	for _, f := range s {
		raw, present := inputs[f.Name]
		if !present {
			if f.Default != nil {
				raw = f.Default
			} else if f.Required {
				errs = append(errs, ValidationError{Field: f.Name, Reason: "required value missing"})
				continue
			} else {
				continue
			}
		}
		v, reason := coerce(f.Type, raw)
		if reason != "" {
			errs = append(errs, ValidationError{Field: f.Name, Reason: reason})
			continue
		}
		if reason := checkBounds(f, v); reason != "" {
			errs = append(errs, ValidationError{Field: f.Name, Reason: reason})
			continue
		}
		normalized[f.Name] = v
	}

	declared := mapset.NewSet(s.FieldNames()...)
	var unknown []string
	for name := range inputs {
		if !declared.Contains(name) {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		errs = append(errs, ValidationError{Field: name, Reason: "unknown field"})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return normalized, nil
}

// coerce converts a raw input value to the canonical representation for the
// field type: int64 for integers, float64 for floats. It returns a non-empty
// reason when the value cannot be represented without loss.
func coerce(t FieldType, v any) (any, string) {
	switch t {
	case TypeInteger:
		switch n := v.(type) {
		case int:
			return int64(n), ""
		case int32:
			return int64(n), ""
		case int64:
			return n, ""
		case float32:
			return coerce(t, float64(n))
		case float64:
			if math.Trunc(n) != n {
				return nil, fmt.Sprintf("expected integer, got %v", n)
			}
			return int64(n), ""
		default:
			return nil, fmt.Sprintf("expected integer, got %s", typeName(v))
		}
	case TypeFloat:
		switch n := v.(type) {
		case int:
			return float64(n), ""
		case int32:
			return float64(n), ""
		case int64:
			return float64(n), ""
		case float32:
			return float64(n), ""
		case float64:
			return n, ""
		default:
			return nil, fmt.Sprintf("expected float, got %s", typeName(v))
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, ""
		}
		return nil, fmt.Sprintf("expected string, got %s", typeName(v))
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, ""
		}
		return nil, fmt.Sprintf("expected boolean, got %s", typeName(v))
	}
	return nil, fmt.Sprintf("unsupported type %q", t)
}

// checkBounds enforces min/max on coerced numeric values. Non-numeric values
// pass through: ValidateSchema forbids bounds on non-numeric fields.
func checkBounds(f Field, v any) string {
	var n float64
	switch x := v.(type) {
	case int64:
		n = float64(x)
	case float64:
		n = x
	default:
		return ""
	}
	if f.Min != nil && n < *f.Min {
		return fmt.Sprintf("below minimum %v", *f.Min)
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Sprintf("above maximum %v", *f.Max)
	}
	return ""
}

// typeName renders a JSON-facing name for a Go value's type, keeping
// validation messages free of Go type syntax.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int32, int64, float32, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
