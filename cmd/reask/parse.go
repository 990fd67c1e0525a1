package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/reask/internal/extract"
	"github.com/jackzampolin/reask/internal/output"
)

var parseCmd = &cobra.Command{
	Use:   "parse <definition> [file|-]",
	Short: "Validate LLM output against a definition without calling a provider",
	Long: `Decode and validate text as if a provider had returned it.

Reads the text from the given file, or stdin when omitted or "-". Prints
the validated value, fix warnings, and every field failure with the
policy that would apply.

Examples:
  echo '{"value": 7}' | reask parse answer
  reask parse patient reply.json -o json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		def, err := a.loadDefinition(args[0])
		if err != nil {
			return err
		}

		var data []byte
		if len(args) == 2 && args[1] != "-" {
			data, err = os.ReadFile(args[1])
		} else {
			data, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		result := def.Schema.Parse(string(data))
		if err := output.Fprint(cmd.OutOrStdout(), parseOutput{
			Valid:            result.OK(),
			ValidationResult: result,
		}); err != nil {
			return err
		}
		return result.Err()
	},
}

type parseOutput struct {
	Valid                    bool `json:"valid" yaml:"valid"`
	extract.ValidationResult `yaml:",inline"`
}
