package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const answerDefinition = `
name: answer
instructions: You are a helpful assistant.
prompt: |
  ${query}

  ${output_instructions}
fields:
  - name: value
    type: integer
    description: The answer to the question.
    range: {min: 0, max: 1}
    on_fail: fix
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(answerDefinition))
	require.NoError(t, err)

	assert.Equal(t, "answer", def.Name)
	assert.Equal(t, "You are a helpful assistant.", def.Instructions)
	assert.Equal(t, []string{"output_instructions", "query"}, def.Prompt.Variables())
	assert.Equal(t, "answer", def.Schema.Name())

	f, ok := def.Schema.Field("value")
	require.True(t, ok)
	assert.Equal(t, TypeInteger, f.Type)
	assert.Equal(t, OnFailFix, f.OnFail)
	require.NotNil(t, f.Range)
	assert.Equal(t, 0.0, *f.Range.Min)
	assert.Equal(t, 1.0, *f.Range.Max)
}

func TestParseDefinition_Rejects(t *testing.T) {
	tests := map[string]string{
		"empty document":  "",
		"no fields":       "name: x\nfields: []\n",
		"unknown key":     "fields:\n  - {name: a, type: string}\ncolour: red\n",
		"bad type":        "fields:\n  - {name: a, type: bool}\n",
		"bad policy":      "fields:\n  - {name: a, type: integer, on_fail: retry}\n",
		"range on string": "fields:\n  - {name: a, type: string, range: {min: 1}}\n",
		"invalid yaml":    "fields: [\n",
		"non-number min":  "fields:\n  - {name: a, type: integer, range: {min: low}}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidSchema)
		})
	}
}

func TestLoadDefinition_NameFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patient.yaml")
	doc := "prompt: \"${doctors_notes}\"\nfields:\n  - {name: gender, type: string}\n  - {name: age, type: integer}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "patient", def.Name)
	assert.Equal(t, "patient", def.Schema.Name())
	assert.Equal(t, 2, def.Schema.Len())

	_, err = LoadDefinition(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
