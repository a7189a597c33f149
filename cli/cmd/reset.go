package cmd

import (
	"context"
	"fmt"

	"github.com/reqon/reqon/internal/checkpoint"
	"github.com/spf13/cobra"
)

var resetCheckpointsCmd = &cobra.Command{
	Use:   "reset-checkpoints",
	Short: "Delete every recorded checkpoint under --data-dir",
	Args:  cobra.NoArgs,
	RunE:  runResetCheckpoints,
}

func init() {
	resetCheckpointsCmd.Flags().StringVar(&dataDirFlag, "data-dir", ".reqon-data", "directory for checkpoints and file-backed stores")
}

func runResetCheckpoints(cmd *cobra.Command, args []string) error {
	store := checkpoint.NewFileStore(dataDirFlag)
	if err := store.Reset(context.Background()); err != nil {
		return exitErr(ExitRuntime, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "checkpoints reset")
	return nil
}
