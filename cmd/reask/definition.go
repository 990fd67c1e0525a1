package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/reask/internal/extract"
	"github.com/jackzampolin/reask/internal/output"
)

var definitionCmd = &cobra.Command{
	Use:     "definition",
	Aliases: []string{"def"},
	Short:   "Inspect extraction definitions",
}

var definitionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List definitions in the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		names, err := a.home.ListDefinitions()
		if err != nil {
			return err
		}
		return output.Fprint(cmd.OutOrStdout(), map[string]any{
			"directory":   a.home.DefinitionsPath(),
			"definitions": names,
		})
	},
}

var definitionShowCmd = &cobra.Command{
	Use:   "show <definition>",
	Short: "Show a definition's fields, prompt variables and JSON Schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		def, err := a.loadDefinition(args[0])
		if err != nil {
			return err
		}
		view, err := definitionView(def)
		if err != nil {
			return err
		}
		return output.Fprint(cmd.OutOrStdout(), view)
	},
}

var definitionCheckCmd = &cobra.Command{
	Use:   "check <definition>...",
	Short: "Check that definitions load and their prompts bind",
	Long: `Load each definition and verify that its prompt only references
${output_instructions} plus parameters, reporting the parameters a run
will need.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}

		type checkResult struct {
			Definition string   `json:"definition" yaml:"definition"`
			OK         bool     `json:"ok" yaml:"ok"`
			Params     []string `json:"params,omitempty" yaml:"params,omitempty"`
			Error      string   `json:"error,omitempty" yaml:"error,omitempty"`
		}

		var (
			results []checkResult
			failed  int
		)
		for _, ref := range args {
			def, err := a.loadDefinition(ref)
			if err != nil {
				failed++
				results = append(results, checkResult{Definition: ref, Error: err.Error()})
				continue
			}
			results = append(results, checkResult{Definition: ref, OK: true, Params: promptParams(def)})
		}

		if err := output.Fprint(cmd.OutOrStdout(), results); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d definitions invalid", failed, len(args))
		}
		return nil
	},
}

type fieldView struct {
	Name        string         `json:"name" yaml:"name"`
	Type        string         `json:"type" yaml:"type"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Choices     []string       `json:"choices,omitempty" yaml:"choices,omitempty"`
	Range       *extract.Range `json:"range,omitempty" yaml:"range,omitempty"`
	OnFail      string         `json:"on_fail" yaml:"on_fail"`
}

type defView struct {
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	Instructions string         `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Prompt       string         `json:"prompt" yaml:"prompt"`
	Params       []string       `json:"params" yaml:"params"`
	Fields       []fieldView    `json:"fields" yaml:"fields"`
	JSONSchema   map[string]any `json:"json_schema" yaml:"json_schema"`
}

func definitionView(def *extract.Definition) (defView, error) {
	var schema map[string]any
	if err := json.Unmarshal(def.Schema.JSONSchema(), &schema); err != nil {
		return defView{}, err
	}

	fields := make([]fieldView, 0, def.Schema.Len())
	for _, f := range def.Schema.Fields() {
		fields = append(fields, fieldView{
			Name:        f.Name,
			Type:        string(f.Type),
			Description: f.Description,
			Choices:     f.Choices,
			Range:       f.Range,
			OnFail:      string(f.OnFail),
		})
	}

	return defView{
		Name:         def.Name,
		Description:  def.Description,
		Instructions: def.Instructions,
		Prompt:       string(def.Prompt),
		Params:       promptParams(def),
		Fields:       fields,
		JSONSchema:   schema,
	}, nil
}

// promptParams lists the placeholders a caller must supply.
func promptParams(def *extract.Definition) []string {
	var params []string
	for _, v := range def.Prompt.Variables() {
		if v != extract.OutputInstructionsVar {
			params = append(params, v)
		}
	}
	return params
}

func init() {
	definitionCmd.AddCommand(definitionListCmd)
	definitionCmd.AddCommand(definitionShowCmd)
	definitionCmd.AddCommand(definitionCheckCmd)
}
