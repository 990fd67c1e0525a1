package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptTemplate_Variables(t *testing.T) {
	tmpl := PromptTemplate("${query}\n${ doctors_notes }\n${query}\n${gr.suffix} $notavar {also_not}")
	assert.Equal(t, []string{"doctors_notes", "gr.suffix", "query"}, tmpl.Variables())
	assert.Empty(t, PromptTemplate("no placeholders").Variables())
}

func TestPromptTemplate_Bind(t *testing.T) {
	t.Run("substitutes every occurrence", func(t *testing.T) {
		got, err := PromptTemplate("${a} and ${ a } then ${b}").Bind(map[string]string{"a": "x", "b": "y"})
		require.NoError(t, err)
		assert.Equal(t, "x and x then y", got)
	})

	t.Run("values are not expanded again", func(t *testing.T) {
		got, err := PromptTemplate("${a}").Bind(map[string]string{"a": "${b}"})
		require.NoError(t, err)
		assert.Equal(t, "${b}", got)
	})

	t.Run("extra params are ignored", func(t *testing.T) {
		got, err := PromptTemplate("static").Bind(map[string]string{"unused": "x"})
		require.NoError(t, err)
		assert.Equal(t, "static", got)
	})

	t.Run("empty value still binds", func(t *testing.T) {
		got, err := PromptTemplate("[${a}]").Bind(map[string]string{"a": ""})
		require.NoError(t, err)
		assert.Equal(t, "[]", got)
	})

	t.Run("reports all missing placeholders", func(t *testing.T) {
		_, err := PromptTemplate("${z} ${a} ${z}").Bind(nil)
		require.Error(t, err)

		var berr *TemplateBindingError
		require.ErrorAs(t, err, &berr)
		assert.Equal(t, []string{"a", "z"}, berr.Missing)
		assert.ErrorIs(t, err, ErrTemplateBinding)
		assert.Contains(t, err.Error(), "a, z")
	})
}
