// Package schema defines the typed input schemas attached to model versions
// and the validation gate that checks execution inputs against them.
package schema

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// FieldType enumerates the supported input field types.
type FieldType string

const (
	TypeInteger FieldType = "integer"
	TypeFloat   FieldType = "float"
	TypeString  FieldType = "string"
	TypeBoolean FieldType = "boolean"
)

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	switch t {
	case TypeInteger, TypeFloat, TypeString, TypeBoolean:
		return true
	}
	return false
}

// Numeric reports whether t accepts range bounds.
func (t FieldType) Numeric() bool {
	return t == TypeInteger || t == TypeFloat
}

// Field defines a single named input accepted by a model version.
// Min and Max apply to numeric types only. Default, when set, must satisfy
// the field's own type and bounds.
type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Default  any       `json:"default,omitempty" yaml:"default,omitempty"`
	Min      *float64  `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64  `json:"max,omitempty" yaml:"max,omitempty"`
}

// Schema is the ordered list of fields a model version accepts. Order is
// significant: validation reports violations in definition order.
type Schema []Field

// FieldNames returns the declared field names in definition order.
func (s Schema) FieldNames() []string {
	names := make([]string, 0, len(s))
	for _, f := range s {
		names = append(names, f.Name)
	}
	return names
}

// InvalidSchemaError reports a malformed schema definition.
type InvalidSchemaError struct {
	Field   string
	Message string
}

func (e *InvalidSchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid schema: %s", e.Message)
	}
	return fmt.Sprintf("invalid schema: field %q: %s", e.Field, e.Message)
}

// ValidateSchema checks a schema definition for structural problems:
// unnamed or duplicate fields, missing or unknown types, inverted bounds,
// bounds on non-numeric types, and defaults that violate their own field.
// It returns the first problem found as an *InvalidSchemaError.
func ValidateSchema(s Schema) error {
	names := mapset.NewSet[string]()
	for i, f := range s {
		if strings.TrimSpace(f.Name) == "" {
			return &InvalidSchemaError{Message: fmt.Sprintf("field at index %d has no name", i)}
		}
		if !names.Add(f.Name) {
			return &InvalidSchemaError{Field: f.Name, Message: "duplicate field name"}
		}
		if f.Type == "" {
			return &InvalidSchemaError{Field: f.Name, Message: "no type declared"}
		}
		if !f.Type.Valid() {
			return &InvalidSchemaError{Field: f.Name, Message: fmt.Sprintf("unknown type %q", f.Type)}
		}
		if (f.Min != nil || f.Max != nil) && !f.Type.Numeric() {
			return &InvalidSchemaError{Field: f.Name, Message: fmt.Sprintf("bounds are not allowed on type %s", f.Type)}
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return &InvalidSchemaError{Field: f.Name, Message: fmt.Sprintf("min %v greater than max %v", *f.Min, *f.Max)}
		}
		if f.Default != nil {
			v, reason := coerce(f.Type, f.Default)
			if reason == "" {
				reason = checkBounds(f, v)
			}
			if reason != "" {
				return &InvalidSchemaError{Field: f.Name, Message: fmt.Sprintf("default value invalid: %s", reason)}
			}
		}
	}
	return nil
}
