package extract

import (
	"encoding/json"
	"fmt"
)

// As decodes a validated value into T through its JSON form, so T can be a
// struct with json tags matching the schema's field names.
func As[T any](v Value) (T, error) {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("marshal value: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode value into %T: %w", out, err)
	}
	return out, nil
}
