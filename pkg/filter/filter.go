// Package filter compiles the execution list filter expressions, e.g.
//
//	status = "failed" and inputs.age >= 65
//
// A filter is a conjunction of field/operator/value comparisons. Fields
// are status, modelVersion, and inputs.<name>; values are numbers, quoted
// strings, or booleans. Compiled filters evaluate in-process against
// execution rows.
package filter

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

const (
	fieldStatus       = "status"
	fieldModelVersion = "modelVersion"
	inputsPrefix      = "inputs."
)

// ParseError reports a filter expression that failed to compile. Handlers
// surface these as bad requests.
type ParseError struct {
	Expr string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid filter %q: %v", e.Expr, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var filterLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "whitespace", Pattern: `\s+`},
	{Name: "Op", Pattern: `!=|>=|<=|=|>|<`},
	{Name: "Number", Pattern: `-?\d+(\.\d+)?`},
	{Name: "String", Pattern: `"(\\"|[^"])*"`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_.]*`},
})

type boolean bool

func (b *boolean) Capture(values []string) error {
	*b = values[0] == "true"
	return nil
}

type expression struct {
	First *comparison   `parser:"@@"`
	Rest  []*comparison `parser:"( ( 'and' | 'AND' ) @@ )*"`
}

type comparison struct {
	Field string `parser:"@Ident"`
	Op    string `parser:"@Op"`
	Value *value `parser:"@@"`
}

type value struct {
	Number *float64 `parser:"@Number"`
	Str    *string  `parser:"| @String"`
	Bool   *boolean `parser:"| @( 'true' | 'false' )"`
}

var parser = participle.MustBuild[expression](
	participle.Lexer(filterLexer),
	participle.Unquote("String"),
)

// Target is the view of one execution a compiled filter evaluates against.
// Inputs are the normalized inputs recorded at begin time.
type Target struct {
	Status         string
	ModelVersionID uint
	Inputs         map[string]any
}

// Filter is a compiled expression. The zero-comparison filter matches
// everything.
type Filter struct {
	comparisons []*comparison
}

// Compile parses and validates an expression. An empty expression yields a
// match-all filter.
func Compile(expr string) (*Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return &Filter{}, nil
	}
	ast, err := parser.ParseString("", expr)
	if err != nil {
		return nil, &ParseError{Expr: expr, Err: err}
	}
	comparisons := append([]*comparison{ast.First}, ast.Rest...)
	for _, c := range comparisons {
		if err := c.validate(); err != nil {
			return nil, &ParseError{Expr: expr, Err: err}
		}
	}
	return &Filter{comparisons: comparisons}, nil
}

// Matches reports whether every comparison holds for t.
func (f *Filter) Matches(t Target) bool {
	for _, c := range f.comparisons {
		if !c.matches(t) {
			return false
		}
	}
	return true
}

func (c *comparison) validate() error {
	switch {
	case c.Field == fieldStatus:
		if c.Op != "=" && c.Op != "!=" {
			return fmt.Errorf("operator %s not supported for status", c.Op)
		}
		if c.Value.Str == nil {
			return fmt.Errorf("status requires a quoted string value")
		}
	case c.Field == fieldModelVersion:
		if c.Value.Number == nil {
			return fmt.Errorf("modelVersion requires a numeric value")
		}
	case strings.HasPrefix(c.Field, inputsPrefix):
		if c.Field == inputsPrefix {
			return fmt.Errorf("inputs filter needs a field name")
		}
	default:
		return fmt.Errorf("unknown filter field %q", c.Field)
	}
	return nil
}

func (c *comparison) matches(t Target) bool {
	switch {
	case c.Field == fieldStatus:
		equal := t.Status == *c.Value.Str
		if c.Op == "!=" {
			return !equal
		}
		return equal
	case c.Field == fieldModelVersion:
		return compareNumbers(float64(t.ModelVersionID), c.Op, *c.Value.Number)
	default:
		name := strings.TrimPrefix(c.Field, inputsPrefix)
		actual, ok := t.Inputs[name]
		if !ok {
			return false
		}
		return c.matchesValue(actual)
	}
}

// matchesValue compares a recorded input against the literal. A type
// mismatch never matches; it is not an error, since input schemas vary
// across model versions.
func (c *comparison) matchesValue(actual any) bool {
	switch {
	case c.Value.Number != nil:
		n, ok := asFloat(actual)
		if !ok {
			return false
		}
		return compareNumbers(n, c.Op, *c.Value.Number)
	case c.Value.Str != nil:
		s, ok := actual.(string)
		if !ok {
			return false
		}
		switch c.Op {
		case "=":
			return s == *c.Value.Str
		case "!=":
			return s != *c.Value.Str
		case ">":
			return s > *c.Value.Str
		case ">=":
			return s >= *c.Value.Str
		case "<":
			return s < *c.Value.Str
		case "<=":
			return s <= *c.Value.Str
		}
		return false
	case c.Value.Bool != nil:
		b, ok := actual.(bool)
		if !ok {
			return false
		}
		equal := b == bool(*c.Value.Bool)
		if c.Op == "!=" {
			return !equal
		}
		return c.Op == "=" && equal
	}
	return false
}

func compareNumbers(a float64, op string, b float64) bool {
	switch op {
	case "=":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}
