// Package debugctl implements the debug controller (C12): an optional
// hook the action executor queries before each step, loop iteration,
// and match arm. Grounded on tombee-conductor's
// internal/debug.Adapter (event/command channel pair, breakpoint
// config, pause-and-wait-for-command loop), generalized from a single
// step id to the (action, stepIndex) addressing spec.md §4.11 names.
package debugctl

import (
	"context"
	"fmt"
)

// Mode selects how aggressively the controller pauses.
type Mode string

const (
	ModeRun      Mode = "run"       // pause only at breakpoints
	ModeStep     Mode = "step"      // pause at every step
	ModeStepInto Mode = "step-into" // pause at steps, iterations, match arms
	ModeStepOver Mode = "step-over" // same as step
)

// Command is what a paused controller receives back from whatever is
// driving it (a CLI shell, a test harness).
type Command string

const (
	CmdContinue Command = "continue"
	CmdStep     Command = "step"
	CmdStepInto Command = "step-into"
	CmdStepOver Command = "step-over"
	CmdAbort    Command = "abort"
)

// PauseReason names why BeforeStep paused.
type PauseReason string

const (
	ReasonBreakpoint PauseReason = "breakpoint"
	ReasonStep       PauseReason = "step"
	ReasonIteration  PauseReason = "iteration"
	ReasonMatchArm   PauseReason = "match-arm"
)

// Snapshot is what a paused controller hands to its driver: enough
// state to render a debugger prompt without exposing the executor's
// internals.
type Snapshot struct {
	Action       string
	StepIndex    int
	StepType     string
	Reason       PauseReason
	Variables    map[string]any
	StoreSummary map[string]int // store name -> key count
	LastResponse any
}

// Controller holds breakpoints and the current mode, and blocks the
// calling goroutine (the single-threaded action executor) until a
// command arrives on Commands whenever a pause condition is hit.
type Controller struct {
	mode        Mode
	breakpoints map[string]bool // "Action:stepIndex" or "Action:*"

	Snapshots chan Snapshot
	Commands  chan Command
}

// New builds a Controller in ModeRun with no breakpoints.
func New() *Controller {
	return &Controller{
		mode:        ModeRun,
		breakpoints: make(map[string]bool),
		Snapshots:   make(chan Snapshot, 1),
		Commands:    make(chan Command, 1),
	}
}

// SetMode changes the pause aggressiveness.
func (c *Controller) SetMode(m Mode) { c.mode = m }

// AddBreakpoint registers "ActionName:stepIndex" or "ActionName:*".
func (c *Controller) AddBreakpoint(spec string) { c.breakpoints[spec] = true }

// RemoveBreakpoint clears a previously added breakpoint.
func (c *Controller) RemoveBreakpoint(spec string) { delete(c.breakpoints, spec) }

func (c *Controller) hasBreakpoint(action string, stepIndex int) bool {
	return c.breakpoints[fmt.Sprintf("%s:%d", action, stepIndex)] || c.breakpoints[action+":*"]
}

// BeforeStep is called by the executor before running a step (reason
// ReasonStep), entering a loop iteration (ReasonIteration), or
// selecting a match arm (ReasonMatchArm). It returns the command that
// should govern continuation: CmdContinue/CmdStep/CmdStepInto/
// CmdStepOver resume execution (the executor adjusts its own mode via
// SetMode if the command differs from the current one); CmdAbort
// propagates as a mission abort.
func (c *Controller) BeforeStep(ctx context.Context, snap Snapshot) (Command, error) {
	if !c.shouldPause(snap.Reason, snap.Action, snap.StepIndex) {
		return CmdContinue, nil
	}

	select {
	case c.Snapshots <- snap:
	case <-ctx.Done():
		return CmdAbort, ctx.Err()
	}

	select {
	case cmd := <-c.Commands:
		switch cmd {
		case CmdStep, CmdStepInto, CmdStepOver:
			c.mode = Mode(cmd)
		case CmdContinue:
			c.mode = ModeRun
		}
		return cmd, nil
	case <-ctx.Done():
		return CmdAbort, ctx.Err()
	}
}

func (c *Controller) shouldPause(reason PauseReason, action string, stepIndex int) bool {
	if c.hasBreakpoint(action, stepIndex) {
		return true
	}
	switch c.mode {
	case ModeRun:
		return false
	case ModeStep, ModeStepOver:
		return reason == ReasonStep
	case ModeStepInto:
		return true
	default:
		return false
	}
}
