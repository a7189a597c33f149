// Package cmd implements reqon's operator CLI: run a mission once,
// validate one without running it, serve it as a daemon (cron +
// webhook listener), or reset its checkpoints. Grounded on the
// teacher's cobra-based cli/cmd (root command + subcommands), with
// the plugin-binary-builder concern it originally covered dropped —
// this runtime has no plugin compilation step, only missions.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reqon",
	Short: "reqon runs declarative HTTP data-pipeline missions",
	Long: `reqon interprets missions — declared sources, stores, schemas,
actions, and a pipeline order — against live HTTP APIs, with retry,
rate-limiting, circuit-breaking, incremental sync, and webhook waits.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(resetCheckpointsCmd)
}
