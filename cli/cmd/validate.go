package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <mission.json>",
	Short: "Parse and resolve a mission without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	m, err := loadAndResolve(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "mission %q is valid: %d source(s), %d store(s), %d action(s), %d pipeline stage(s)\n",
		m.Name, len(m.Sources), len(m.Stores), len(m.Actions), len(m.Pipeline))
	return nil
}
