package cmd

import (
	"errors"
	"fmt"

	"github.com/reqon/reqon/internal/app"
	"github.com/reqon/reqon/internal/executor"
	"github.com/reqon/reqon/internal/mission"
	"github.com/reqon/reqon/internal/missionload"
	"github.com/reqon/reqon/internal/pipeline"
	"github.com/reqon/reqon/internal/resolve"
)

// Exit codes per spec.md §6.
const (
	ExitSuccess        = 0
	ExitValidation     = 1
	ExitUserAbort      = 2
	ExitRuntime        = 3
	ExitSignalInterrupt = 130
)

// ExitError wraps a command failure with the exit code main.go should
// use, so subcommands don't need to call os.Exit directly (keeping
// them testable).
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func exitErr(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// loadAndResolve loads the mission JSON at path and runs the resolved-
// AST validator (C13) over it, returning an ExitValidation error on
// either failure.
func loadAndResolve(path string) (*mission.Mission, error) {
	m, err := missionload.Load(path)
	if err != nil {
		return nil, exitErr(ExitValidation, fmt.Errorf("load: %w", err))
	}
	if err := resolve.Mission(m); err != nil {
		return nil, exitErr(ExitValidation, err)
	}
	return m, nil
}

func buildApp(m *mission.Mission) (*app.App, error) {
	a, err := app.Build(m, app.Options{
		DataDir:         dataDirFlag,
		CredentialsPath: credentialsFlag,
		WebhookAddr:     webhookAddrFlag,
		Mock:            mockFlag,
	})
	if err != nil {
		return nil, exitErr(ExitValidation, err)
	}
	return a, nil
}

// classifyRunError maps a pipeline run failure to its exit code: a
// user-directed `abort` anywhere in the failing stage is exit 2;
// anything else (transport, store, eval, etc. surfaced past the
// executor) is exit 3, per spec.md §6's exit-code table.
func classifyRunError(err error) error {
	if err == nil {
		return nil
	}
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		for _, failure := range stageErr.Failures {
			var missionErr *executor.MissionError
			if errors.As(failure, &missionErr) && missionErr.Kind == executor.KindUserAbort {
				return exitErr(ExitUserAbort, err)
			}
		}
		return exitErr(ExitRuntime, err)
	}
	var missionErr *executor.MissionError
	if errors.As(err, &missionErr) && missionErr.Kind == executor.KindUserAbort {
		return exitErr(ExitUserAbort, err)
	}
	return exitErr(ExitRuntime, err)
}

var (
	dataDirFlag     string
	credentialsFlag string
	webhookAddrFlag string
	mockFlag        bool
)
