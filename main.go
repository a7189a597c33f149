package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/reqon/reqon/cli/cmd"
)

func main() {
	err := cmd.Execute()
	if err == nil {
		os.Exit(cmd.ExitSuccess)
	}

	var exitErr *cmd.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, exitErr.Error())
		os.Exit(exitErr.Code)
	}

	// cobra usage/flag errors (unknown command, bad args) don't carry an
	// ExitError; cobra already printed the message.
	os.Exit(cmd.ExitValidation)
}
