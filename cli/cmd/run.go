package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <mission.json>",
	Short: "Run a mission's pipeline once, ignoring any declared schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	addCommonFlags(runCmd)
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&dataDirFlag, "data-dir", ".reqon-data", "directory for checkpoints and file-backed stores")
	cmd.Flags().StringVar(&credentialsFlag, "credentials", "", "path to the credentials JSON file")
	cmd.Flags().StringVar(&webhookAddrFlag, "webhook-addr", ":8089", "listen address for the embedded webhook server")
	cmd.Flags().BoolVar(&mockFlag, "mock", false, "dry-run mode: synthesise fetch/call responses instead of calling out")
}

func runRun(cmd *cobra.Command, args []string) error {
	m, err := loadAndResolve(args[0])
	if err != nil {
		return err
	}

	a, err := buildApp(m)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.RunOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return exitErr(ExitSignalInterrupt, ctx.Err())
		}
		return classifyRunError(err)
	}

	if err := a.Close(context.Background()); err != nil {
		return exitErr(ExitRuntime, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "mission %q completed\n", m.Name)
	return nil
}
