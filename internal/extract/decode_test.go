package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_Parse(t *testing.T) {
	s, err := NewSchema("mixed",
		Field{Name: "name", Type: TypeString},
		Field{Name: "count", Type: TypeInteger},
		Field{Name: "ratio", Type: TypeFloat},
		Field{Name: "label", Type: TypeEnum, Choices: []string{"Positive", "Negative"}},
	)
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		want    Value
		failing map[string]FailureKind
	}{
		{
			name:  "plain object",
			input: `{"name": "  Ada  ", "count": 3, "ratio": 0.5, "label": "Positive"}`,
			want:  Value{"name": "Ada", "count": int64(3), "ratio": 0.5, "label": "Positive"},
		},
		{
			name:  "numeric strings",
			input: `{"name": "n", "count": " -2 ", "ratio": "1e-3", "label": "Negative"}`,
			want:  Value{"name": "n", "count": int64(-2), "ratio": 0.001, "label": "Negative"},
		},
		{
			name:  "number for string field",
			input: `{"name": 42, "count": 30.0, "ratio": 1, "label": "Negative"}`,
			want:  Value{"name": "42", "count": int64(30), "ratio": 1.0, "label": "Negative"},
		},
		{
			name:  "code fence",
			input: "```json\n{\"name\": \"x\", \"count\": 1, \"ratio\": 2, \"label\": \"Positive\"}\n```",
			want:  Value{"name": "x", "count": int64(1), "ratio": 2.0, "label": "Positive"},
		},
		{
			name:  "surrounding prose",
			input: "Sure! Here it is: {\"name\": \"x\", \"count\": 1, \"ratio\": 2, \"label\": \"Positive\"} Hope that helps.",
			want:  Value{"name": "x", "count": int64(1), "ratio": 2.0, "label": "Positive"},
		},
		{
			name:  "field failures",
			input: `{"name": ["a"], "count": "three", "ratio": 1.5, "label": "positive"}`,
			failing: map[string]FailureKind{
				"name":  FailureDecode,
				"count": FailureDecode,
				"label": FailureDecode,
			},
		},
		{
			name:    "fractional integer and null",
			input:   `{"name": null, "count": 2.5, "ratio": 0, "label": "Positive"}`,
			failing: map[string]FailureKind{"name": FailureDecode, "count": FailureDecode},
		},
		{
			name:    "missing fields",
			input:   `{"name": "x"}`,
			failing: map[string]FailureKind{"count": FailureDecode, "ratio": FailureDecode, "label": FailureDecode},
		},
		{
			name:    "not an object",
			input:   `[1, 2, 3]`,
			failing: map[string]FailureKind{"": FailureDecode},
		},
		{
			name:    "empty",
			input:   "\n\t ",
			failing: map[string]FailureKind{"": FailureDecode},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Parse(tt.input)
			if tt.failing == nil {
				require.True(t, res.OK(), "failures: %v", res.Failures)
				assert.Equal(t, tt.want, res.Value)
				return
			}
			assert.False(t, res.OK())
			assert.Nil(t, res.Value)
			got := make(map[string]FailureKind, len(res.Failures))
			for _, f := range res.Failures {
				got[f.Field] = f.Kind
			}
			assert.Equal(t, tt.failing, got)
			assert.ErrorIs(t, res.Err(), ErrDecode)
		})
	}
}

func TestSchema_ParseConstraintPolicies(t *testing.T) {
	s, err := NewSchema("bounded",
		Field{Name: "fixed", Type: TypeInteger, Range: Between(0, 1), OnFail: OnFailFix},
		Field{Name: "asked", Type: TypeFloat, Range: AtLeast(0), OnFail: OnFailReask},
		Field{Name: "fatal", Type: TypeInteger, Range: AtMost(10), OnFail: OnFailFail},
	)
	require.NoError(t, err)

	res := s.Parse(`{"fixed": 4, "asked": -0.5, "fatal": 11}`)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, FieldFailure{Field: "asked", Kind: FailureConstraint, Reason: "-0.5 is below minimum 0", Policy: OnFailReask}, res.Failures[0])
	assert.Equal(t, FieldFailure{Field: "fatal", Kind: FailureConstraint, Reason: "11 is above maximum 10", Policy: OnFailFail}, res.Failures[1])
	assert.True(t, res.needsAbort())
	assert.ErrorIs(t, res.Err(), ErrValidation)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "4 is above maximum 1; clamped to 1", res.Warnings[0].Message)

	res = s.Parse(`{"fixed": 1, "asked": 0, "fatal": 10}`)
	require.True(t, res.OK())
	assert.Equal(t, Value{"fixed": int64(1), "asked": 0.0, "fatal": int64(10)}, res.Value)
}

func TestSchema_ParseIntegerOutOfRange(t *testing.T) {
	s, err := NewSchema("answer", Field{Name: "value", Type: TypeInteger, Range: Between(0, 1), OnFail: OnFailFix})
	require.NoError(t, err)

	for _, input := range []string{
		`{"value": 9223372036854775808}`,
		`{"value": "9223372036854775808"}`,
		`{"value": -9223372036854775809}`,
		`{"value": 1e19}`,
	} {
		t.Run(input, func(t *testing.T) {
			res := s.Parse(input)
			require.False(t, res.OK())
			require.Len(t, res.Failures, 1)
			assert.Equal(t, FailureDecode, res.Failures[0].Kind)
			assert.Contains(t, res.Failures[0].Reason, "out of integer range")
			assert.Empty(t, res.Warnings)
		})
	}

	res := s.Parse(`{"value": -9223372036854775808}`)
	require.True(t, res.OK())
	assert.Equal(t, Value{"value": int64(0)}, res.Value)
}

func TestSchema_ParseBareScalar(t *testing.T) {
	float, err := NewSchema("sqrt", Field{Name: "value", Type: TypeFloat})
	require.NoError(t, err)

	res := float.Parse("1.4142135")
	require.True(t, res.OK())
	assert.Equal(t, Value{"value": 1.4142135}, res.Value)

	choice, err := NewSchema("sentiment", Field{Name: "label", Type: TypeEnum, Choices: []string{"Positive", "Negative"}})
	require.NoError(t, err)

	res = choice.Parse("Negative")
	require.True(t, res.OK())
	assert.Equal(t, Value{"label": "Negative"}, res.Value)

	res = choice.Parse(`"Positive"`)
	require.True(t, res.OK())
	assert.Equal(t, Value{"label": "Positive"}, res.Value)

	res = choice.Parse("Neutral")
	assert.False(t, res.OK())
	assert.Equal(t, "label", res.Failures[0].Field)
}
