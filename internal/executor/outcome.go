package executor

import "github.com/reqon/reqon/internal/mission"

// OutcomeKind is one of the StepOutcome variants spec.md §4.7 defines.
type OutcomeKind string

const (
	// Proceed continues to the next step in the current list.
	Proceed OutcomeKind = "proceed"
	// Skip abandons the remaining steps of the current iteration (or
	// action body, outside a loop) only.
	Skip OutcomeKind = "skip"
	// Abort fails the owning mission run.
	Abort OutcomeKind = "abort"
	// Retry has already been carried out by the step handler that
	// produced it (a redrive of the most recent fetch/call); it is
	// surfaced mainly for logging and for the governing match/for loop
	// to know a redrive happened.
	Retry OutcomeKind = "retry"
	// Jump has already run its target action by the time it's
	// returned, and for a thenRetry jump has also redriven the last
	// fetch; JumpMode records which mode ran.
	Jump OutcomeKind = "jump"
)

// Outcome is the result of running one step or step list.
type Outcome struct {
	Kind       OutcomeKind
	Message    string // Abort
	JumpAction string
	JumpMode   mission.JumpMode
}

func proceed() Outcome { return Outcome{Kind: Proceed} }
func skip() Outcome    { return Outcome{Kind: Skip} }
func abort(msg string) Outcome {
	return Outcome{Kind: Abort, Message: msg}
}

// terminal reports whether o should stop the current step list
// (Skip/Abort) rather than fall through to the next step.
func (o Outcome) terminal() bool {
	return o.Kind == Skip || o.Kind == Abort
}
