package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var gracePeriodFlag time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve <mission.json>",
	Short: "Run a mission as a daemon: webhook listener plus its cron/interval schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runServe,
}

func init() {
	addCommonFlags(serveCmd)
	serveCmd.Flags().DurationVar(&gracePeriodFlag, "grace-period", 30*time.Second, "time to let in-flight mission runs finish after a shutdown signal")
}

// runServe implements spec.md §5's daemon shutdown sequence: stop
// accepting new schedule fires, wait up to the grace period for
// in-flight runs, then cancel the rest. SIGINT/SIGTERM both trigger it;
// a second signal during the grace period exits immediately with 130.
func runServe(cmd *cobra.Command, args []string) error {
	m, err := loadAndResolve(args[0])
	if err != nil {
		return err
	}

	a, err := buildApp(m)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- a.Serve(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-serveErrCh:
		if err != nil {
			return exitErr(ExitRuntime, err)
		}
	case <-sigCh:
		fmt.Fprintln(cmd.OutOrStdout(), "shutting down, waiting for in-flight runs...")
		stop()
		select {
		case <-serveErrCh:
		case <-time.After(gracePeriodFlag):
		case <-sigCh:
			return exitErr(ExitSignalInterrupt, fmt.Errorf("serve: forced shutdown on second signal"))
		}
	}

	if err := a.Close(context.Background()); err != nil {
		return exitErr(ExitRuntime, err)
	}
	return nil
}
