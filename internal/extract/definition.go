package extract

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed definition.schema.json
var definitionMetaSchema []byte

var compileMetaSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("definition.schema.json", bytes.NewReader(definitionMetaSchema)); err != nil {
		return nil, fmt.Errorf("failed to load definition meta-schema: %w", err)
	}
	schema, err := compiler.Compile("definition.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile definition meta-schema: %w", err)
	}
	return schema, nil
})

// Definition bundles a schema with the prompt that extracts it. It is the
// on-disk form a caller declares fields in:
//
//	name: answer
//	instructions: You are a helpful assistant.
//	prompt: |
//	  ${query}
//
//	  ${output_instructions}
//	fields:
//	  - name: value
//	    type: integer
//	    range: {min: 0, max: 1}
//	    on_fail: fix
type Definition struct {
	Name         string
	Description  string
	Instructions string
	Prompt       PromptTemplate
	Schema       *Schema
}

type definitionDoc struct {
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Instructions string     `json:"instructions"`
	Prompt       string     `json:"prompt"`
	Fields       []fieldDoc `json:"fields"`
}

type fieldDoc struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Choices     []string `json:"choices"`
	Range       *Range   `json:"range"`
	OnFail      string   `json:"on_fail"`
}

// LoadDefinition reads a YAML (or JSON) definition file. The file name
// without extension is used when the document has no name.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	def, err := parseDefinition(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// ParseDefinition checks a YAML document against the definition
// meta-schema and builds its Schema.
func ParseDefinition(data []byte) (*Definition, error) {
	return parseDefinition(data, "")
}

func parseDefinition(data []byte, fallbackName string) (*Definition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %v", ErrInvalidSchema, err)
	}
	if raw == nil {
		return nil, schemaError("definition is empty")
	}

	// Round-trip through JSON so the validator sees JSON types.
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: definition is not JSON-compatible: %v", ErrInvalidSchema, err)
	}
	var doc any
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	meta, err := compileMetaSchema()
	if err != nil {
		return nil, err
	}
	if err := meta.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	var d definitionDoc
	if err := json.Unmarshal(asJSON, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	if d.Name == "" {
		d.Name = fallbackName
	}

	fields := make([]Field, 0, len(d.Fields))
	for _, fd := range d.Fields {
		fields = append(fields, Field{
			Name:        fd.Name,
			Type:        FieldType(fd.Type),
			Description: fd.Description,
			Choices:     fd.Choices,
			Range:       fd.Range,
			OnFail:      OnFail(fd.OnFail),
		})
	}
	schema, err := NewSchema(d.Name, fields...)
	if err != nil {
		return nil, err
	}

	return &Definition{
		Name:         d.Name,
		Description:  d.Description,
		Instructions: d.Instructions,
		Prompt:       PromptTemplate(d.Prompt),
		Schema:       schema,
	}, nil
}
