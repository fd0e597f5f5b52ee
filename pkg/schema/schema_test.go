package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchemaAcceptsWellFormed(t *testing.T) {
	require.NoError(t, ValidateSchema(patientSchema()))
	require.NoError(t, ValidateSchema(Schema{}))
}

func TestValidateSchemaRejections(t *testing.T) {
	cases := []struct {
		name   string
		schema Schema
		want   string
	}{
		{
			name:   "missing name",
			schema: Schema{{Type: TypeInteger}},
			want:   "has no name",
		},
		{
			name:   "duplicate name",
			schema: Schema{{Name: "a", Type: TypeInteger}, {Name: "a", Type: TypeFloat}},
			want:   "duplicate field name",
		},
		{
			name:   "missing type",
			schema: Schema{{Name: "a"}},
			want:   "no type declared",
		},
		{
			name:   "unknown type",
			schema: Schema{{Name: "a", Type: "decimal"}},
			want:   `unknown type "decimal"`,
		},
		{
			name:   "min greater than max",
			schema: Schema{{Name: "a", Type: TypeInteger, Min: fptr(10), Max: fptr(1)}},
			want:   "min 10 greater than max 1",
		},
		{
			name:   "bounds on string",
			schema: Schema{{Name: "a", Type: TypeString, Min: fptr(0)}},
			want:   "bounds are not allowed on type string",
		},
		{
			name:   "default of wrong type",
			schema: Schema{{Name: "a", Type: TypeInteger, Default: "ten"}},
			want:   "default value invalid",
		},
		{
			name:   "default outside bounds",
			schema: Schema{{Name: "a", Type: TypeInteger, Min: fptr(0), Max: fptr(10), Default: 50}},
			want:   "default value invalid: above maximum 10",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSchema(tc.schema)
			require.Error(t, err)
			var ise *InvalidSchemaError
			require.ErrorAs(t, err, &ise)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestFieldTypeHelpers(t *testing.T) {
	assert.True(t, TypeInteger.Valid())
	assert.True(t, TypeInteger.Numeric())
	assert.True(t, TypeFloat.Numeric())
	assert.False(t, TypeString.Numeric())
	assert.False(t, FieldType("decimal").Valid())
}
