package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/reask/internal/output"
	"github.com/jackzampolin/reask/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("output") {
			return output.Fprint(cmd.OutOrStdout(), version.Get())
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "reask %s\n", version.GitRelease)
		fmt.Fprintf(out, "  Go:     %s\n", version.GoInfo)
		fmt.Fprintf(out, "  Commit: %s\n", version.GitCommit)
		fmt.Fprintf(out, "  Date:   %s\n", version.GitCommitDate)
		return nil
	},
}
