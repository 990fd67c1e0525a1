// Package extract drives typed extraction from a text generator: a prompt
// is bound and sent to a Backend, the reply is decoded and validated
// against a Schema, and fields that fail are fixed in place, reasked, or
// abort the session according to their on-fail policy.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// FieldType is the semantic type of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeFloat   FieldType = "float"
	TypeEnum    FieldType = "enum"
)

func (t FieldType) numeric() bool { return t == TypeInteger || t == TypeFloat }

// OnFail selects how a constraint violation is handled.
type OnFail string

const (
	// OnFailFix clamps an out-of-range value to the nearest bound.
	OnFailFix OnFail = "fix"
	// OnFailReask asks the backend again with a correction prompt.
	OnFailReask OnFail = "reask"
	// OnFailFail aborts the session with a ValidationError.
	OnFailFail OnFail = "fail"
)

// ParseOnFail parses a policy name. The empty string selects reask.
func ParseOnFail(s string) (OnFail, error) {
	switch OnFail(strings.ToLower(strings.TrimSpace(s))) {
	case "", OnFailReask:
		return OnFailReask, nil
	case OnFailFix:
		return OnFailFix, nil
	case OnFailFail:
		return OnFailFail, nil
	default:
		return "", schemaError("unknown on-fail policy %q (want fix, reask or fail)", s)
	}
}

// Range is an inclusive numeric bound. A nil end is open.
type Range struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Between returns the closed range [min, max].
func Between(min, max float64) *Range {
	return &Range{Min: &min, Max: &max}
}

// AtLeast returns [min, +inf).
func AtLeast(min float64) *Range {
	return &Range{Min: &min}
}

// AtMost returns (-inf, max].
func AtMost(max float64) *Range {
	return &Range{Max: &max}
}

func (r *Range) String() string {
	switch {
	case r.Min != nil && r.Max != nil:
		return fmt.Sprintf("between %s and %s", formatNumber(*r.Min), formatNumber(*r.Max))
	case r.Min != nil:
		return fmt.Sprintf("at least %s", formatNumber(*r.Min))
	case r.Max != nil:
		return fmt.Sprintf("at most %s", formatNumber(*r.Max))
	default:
		return "unbounded"
	}
}

// Field declares one named value of a schema.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Choices     []string // enum only
	Range       *Range   // integer and float only
	OnFail      OnFail
}

// Schema is an immutable, ordered set of fields.
type Schema struct {
	name   string
	fields []Field
	index  map[string]int
}

// NewSchema validates the field declarations and builds a Schema.
func NewSchema(name string, fields ...Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, schemaError("schema %q has no fields", name)
	}

	s := &Schema{
		name:   name,
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		f, err := normalizeField(f)
		if err != nil {
			return nil, err
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, schemaError("duplicate field %q", f.Name)
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

func normalizeField(f Field) (Field, error) {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return f, schemaError("field name is required")
	}

	policy, err := ParseOnFail(string(f.OnFail))
	if err != nil {
		return f, fmt.Errorf("field %q: %w", f.Name, err)
	}
	f.OnFail = policy

	switch f.Type {
	case TypeString:
		if len(f.Choices) > 0 || f.Range != nil {
			return f, schemaError("field %q: string fields take no choices or range", f.Name)
		}
	case TypeInteger, TypeFloat:
		if len(f.Choices) > 0 {
			return f, schemaError("field %q: choices are only valid on enum fields", f.Name)
		}
		if f.Range != nil {
			r, err := normalizeRange(f.Name, f.Type, *f.Range)
			if err != nil {
				return f, err
			}
			f.Range = r
		}
	case TypeEnum:
		if f.Range != nil {
			return f, schemaError("field %q: range is only valid on numeric fields", f.Name)
		}
		if len(f.Choices) == 0 {
			return f, schemaError("field %q: enum fields need at least one choice", f.Name)
		}
		seen := make(map[string]struct{}, len(f.Choices))
		for _, c := range f.Choices {
			if _, ok := seen[c]; ok {
				return f, schemaError("field %q: duplicate choice %q", f.Name, c)
			}
			seen[c] = struct{}{}
		}
		f.Choices = append([]string(nil), f.Choices...)
	default:
		return f, schemaError("field %q: unknown type %q", f.Name, f.Type)
	}

	if f.OnFail == OnFailFix && f.Range == nil {
		return f, schemaError("field %q: fix policy requires a numeric range", f.Name)
	}
	return f, nil
}

func normalizeRange(name string, typ FieldType, r Range) (*Range, error) {
	out := &Range{}
	if r.Min != nil {
		v := *r.Min
		out.Min = &v
	}
	if r.Max != nil {
		v := *r.Max
		out.Max = &v
	}
	if out.Min == nil && out.Max == nil {
		return nil, nil
	}
	for _, b := range []*float64{out.Min, out.Max} {
		if b == nil {
			continue
		}
		if math.IsNaN(*b) || math.IsInf(*b, 0) {
			return nil, schemaError("field %q: range bounds must be finite", name)
		}
		if typ == TypeInteger && *b != math.Trunc(*b) {
			return nil, schemaError("field %q: integer range bounds must be whole numbers", name)
		}
	}
	if out.Min != nil && out.Max != nil && *out.Min > *out.Max {
		return nil, schemaError("field %q: range min %s exceeds max %s", name, formatNumber(*out.Min), formatNumber(*out.Max))
	}
	return out, nil
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// JSONSchema renders the schema as a JSON Schema document suitable for a
// provider's structured-output response format.
func (s *Schema) JSONSchema() json.RawMessage {
	props := make(map[string]any, len(s.fields))
	required := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		prop := map[string]any{}
		switch f.Type {
		case TypeString:
			prop["type"] = "string"
		case TypeInteger:
			prop["type"] = "integer"
		case TypeFloat:
			prop["type"] = "number"
		case TypeEnum:
			prop["type"] = "string"
			prop["enum"] = f.Choices
		}
		if f.Range != nil {
			if f.Range.Min != nil {
				prop["minimum"] = *f.Range.Min
			}
			if f.Range.Max != nil {
				prop["maximum"] = *f.Range.Max
			}
		}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		props[f.Name] = prop
		required = append(required, f.Name)
	}

	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	if s.name != "" {
		doc["title"] = s.name
	}
	// Only plain maps, slices, strings and floats: Marshal cannot fail.
	b, _ := json.Marshal(doc)
	return b
}

// OutputInstructions describes the expected JSON reply in plain language.
// It is what ${output_instructions} expands to.
func (s *Schema) OutputInstructions() string {
	var b strings.Builder
	b.WriteString("Return a single JSON object with exactly the following keys and nothing else:\n")
	for _, f := range s.fields {
		fmt.Fprintf(&b, "- %q (%s", f.Name, f.Type)
		switch {
		case f.Type == TypeEnum:
			quoted := make([]string, len(f.Choices))
			for i, c := range f.Choices {
				quoted[i] = fmt.Sprintf("%q", c)
			}
			fmt.Fprintf(&b, ", one of %s", strings.Join(quoted, ", "))
		case f.Range != nil:
			fmt.Fprintf(&b, ", %s", f.Range)
		}
		b.WriteString(")")
		if f.Description != "" {
			fmt.Fprintf(&b, ": %s", f.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("Do not wrap the JSON in markdown and do not add commentary.")
	return b.String()
}

// Encode writes v as a JSON object with keys in schema order. Fields that
// v does not set are omitted.
func (s *Schema) Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, f := range s.fields {
		val, ok := v[f.Name]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(f.Name)
		enc, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(enc)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
