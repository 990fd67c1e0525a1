package extract

import (
	"fmt"
)

// Parse decodes model output against the schema and applies each field's
// constraint. Range violations on fix fields are clamped and reported as
// warnings; every other problem becomes a FieldFailure.
func (s *Schema) Parse(text string) ValidationResult {
	obj, err := parsePayload(s, text)
	if err != nil {
		return ValidationResult{Failures: []FieldFailure{{
			Kind:   FailureDecode,
			Reason: err.Error(),
			Policy: OnFailReask,
		}}}
	}

	var res ValidationResult
	value := make(Value, len(s.fields))
	for _, f := range s.fields {
		raw, ok := obj[f.Name]
		if !ok {
			res.Failures = append(res.Failures, FieldFailure{
				Field:  f.Name,
				Kind:   FailureDecode,
				Reason: "missing field",
				Policy: f.OnFail,
			})
			continue
		}

		v, err := decodeField(f, raw)
		if err != nil {
			res.Failures = append(res.Failures, FieldFailure{
				Field:  f.Name,
				Kind:   FailureDecode,
				Reason: err.Error(),
				Policy: f.OnFail,
			})
			continue
		}

		v, warning, failure := checkRange(f, v)
		if failure != nil {
			res.Failures = append(res.Failures, *failure)
			continue
		}
		if warning != nil {
			res.Warnings = append(res.Warnings, *warning)
		}
		value[f.Name] = v
	}

	if res.OK() {
		res.Value = value
	}
	return res
}

// checkRange applies the field's numeric range, if any.
func checkRange(f Field, v any) (any, *Warning, *FieldFailure) {
	if f.Range == nil || !f.Type.numeric() {
		return v, nil, nil
	}

	var n float64
	switch x := v.(type) {
	case int64:
		n = float64(x)
	case float64:
		n = x
	default:
		return v, nil, nil
	}

	var bound float64
	var reason string
	switch {
	case f.Range.Min != nil && n < *f.Range.Min:
		bound = *f.Range.Min
		reason = fmt.Sprintf("%s is below minimum %s", formatNumber(n), formatNumber(bound))
	case f.Range.Max != nil && n > *f.Range.Max:
		bound = *f.Range.Max
		reason = fmt.Sprintf("%s is above maximum %s", formatNumber(n), formatNumber(bound))
	default:
		return v, nil, nil
	}

	if f.OnFail != OnFailFix {
		return nil, nil, &FieldFailure{
			Field:  f.Name,
			Kind:   FailureConstraint,
			Reason: reason,
			Policy: f.OnFail,
		}
	}

	var fixed any = bound
	if f.Type == TypeInteger {
		fixed = int64(bound)
	}
	return fixed, &Warning{
		Field:    f.Name,
		Original: v,
		Fixed:    fixed,
		Message:  fmt.Sprintf("%s; clamped to %s", reason, formatNumber(bound)),
	}, nil
}
