package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSONSchemaFormat wraps a raw JSON schema in the OpenAI-style envelope
// {"name","strict","schema"} used for response_format.
func JSONSchemaFormat(name string, schema json.RawMessage) (*ResponseFormat, error) {
	if len(schema) == 0 {
		return &ResponseFormat{Type: "json_object"}, nil
	}
	if name == "" {
		name = "extraction"
	}
	wrapped, err := json.Marshal(struct {
		Name   string          `json:"name"`
		Strict bool            `json:"strict"`
		Schema json.RawMessage `json:"schema"`
	}{Name: name, Strict: true, Schema: schema})
	if err != nil {
		return nil, fmt.Errorf("failed to wrap structured schema: %w", err)
	}
	return &ResponseFormat{Type: "json_schema", JSONSchema: wrapped}, nil
}

// adaptedResponseFormat returns a provider-compatible response format while
// preserving the original canonical schema for local validation.
func adaptedResponseFormat(model string, rf *ResponseFormat) (*openRouterResponseFormat, error) {
	if rf == nil {
		return nil, nil
	}
	// OpenRouter may route anthropic/* models to non-Anthropic backends (e.g. Google),
	// where Anthropic beta headers used for native structured outputs are rejected.
	// Use prompt + local validation for anthropic models instead.
	if isAnthropicModel(model) {
		return nil, nil
	}

	adaptedSchema := rf.JSONSchema
	if len(adaptedSchema) > 0 {
		var err error
		adaptedSchema, err = sanitizeStructuredSchemaForModel(model, adaptedSchema)
		if err != nil {
			return nil, err
		}
	}

	return &openRouterResponseFormat{
		Type:       rf.Type,
		JSONSchema: adaptedSchema,
	}, nil
}

// sanitizeStructuredSchemaForModel applies provider/model-specific schema
// compatibility shims. Current: Anthropic via OpenRouter rejects integer
// minimum/maximum bounds in output schemas.
func sanitizeStructuredSchemaForModel(model string, schemaRaw json.RawMessage) (json.RawMessage, error) {
	if len(schemaRaw) == 0 {
		return schemaRaw, nil
	}
	if !isAnthropicModel(model) {
		return schemaRaw, nil
	}

	var root any
	if err := json.Unmarshal(schemaRaw, &root); err != nil {
		return nil, fmt.Errorf("failed to parse structured schema: %w", err)
	}

	stripIntegerBounds(root)

	sanitized, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize sanitized structured schema: %w", err)
	}
	return sanitized, nil
}

func isAnthropicModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "anthropic/")
}

func stripIntegerBounds(node any) {
	switch n := node.(type) {
	case map[string]any:
		if schemaTypeIncludesInteger(n["type"]) {
			delete(n, "minimum")
			delete(n, "maximum")
			delete(n, "exclusiveMinimum")
			delete(n, "exclusiveMaximum")
		}
		for _, v := range n {
			stripIntegerBounds(v)
		}
	case []any:
		for _, v := range n {
			stripIntegerBounds(v)
		}
	}
}

func schemaTypeIncludesInteger(typeVal any) bool {
	switch t := typeVal.(type) {
	case string:
		return t == "integer"
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == "integer" {
				return true
			}
		}
	}
	return false
}

// innerSchema unwraps the canonical schema document from a response format.
// Accepts both {"name","strict","schema":{...}} and a bare schema.
func innerSchema(rf *ResponseFormat) (name string, schema json.RawMessage, err error) {
	if rf == nil || len(rf.JSONSchema) == 0 {
		return "", nil, nil
	}
	var wrapper struct {
		Name   string          `json:"name"`
		Schema json.RawMessage `json:"schema"`
	}
	if err := json.Unmarshal(rf.JSONSchema, &wrapper); err != nil {
		return "", nil, fmt.Errorf("invalid structured schema JSON: %w", err)
	}
	if len(wrapper.Schema) > 0 {
		return wrapper.Name, wrapper.Schema, nil
	}
	// Assume raw schema document.
	return "", rf.JSONSchema, nil
}
