package mission

import "github.com/reqon/reqon/internal/evalx"

// Action is a named, ordered sequence of steps the executor walks.
type Action struct {
	Name  string
	Steps []Step
	// OnError, if set, runs when the action fails, either because a
	// step returned an error or because the action's StepOutcome is
	// Abort, after Compensation (if any) has run (a supplemental
	// feature beyond strict step semantics, mirroring compensations in
	// other action-oriented runtimes).
	OnError      []Step
	Compensation []Step
}

// Step is one node of an action's body. Each concrete type below is a
// variant of this tagged union.
type Step interface {
	stepNode()
}

// FetchStep issues an HTTP request against a source, optionally driven
// by a pagination config, and sets `response`.
type FetchStep struct {
	Source     string
	Method     string
	Path       evalx.Expr
	Headers    map[string]evalx.Expr
	Query      map[string]evalx.Expr
	Body       evalx.Expr
	Pagination *Pagination
	Since      *SinceConfig
	Retry      *RetryConfig
	// ResponseSchema, if set, is the schema dry-run mode (spec.md §6)
	// generates a synthetic response from instead of calling out.
	ResponseSchema *Schema
}

func (*FetchStep) stepNode() {}

// CallStep is a fetch against a resolved OAS operationId rather than an
// explicit method+path.
type CallStep struct {
	Source      string
	OperationID string
	Params      map[string]evalx.Expr
	Body        evalx.Expr
	Retry       *RetryConfig
}

func (*CallStep) stepNode() {}

// Pagination is a fetch/call step's pagination directive.
type Pagination struct {
	Mode       string // "offset" | "page" | "cursor"
	Var        string
	Size       int
	StartAt    int
	CursorPath string
	Until      evalx.Expr
}

// SinceConfig controls checkpoint injection for incremental fetches.
type SinceConfig struct {
	Format SinceFormat
	Param  string
}

// SinceFormat names how a checkpoint value is rendered before
// injection into a fetch/call step.
type SinceFormat string

const (
	SinceISO      SinceFormat = "iso"
	SinceUnix     SinceFormat = "unix"
	SinceUnixMS   SinceFormat = "unix-ms"
	SinceDateOnly SinceFormat = "date-only"
)

// ForStep iterates Iterable, running Body once per element with Var
// bound to the element (and IndexVar, if set, to its index). When
// Store is set instead of (or in addition to) Iterable, the executor
// resolves the iterable by calling the named store's List(filter)
// rather than evaluating an expression — the "for item in store where
// ..." form spec.md §4.7 describes. Where is still applied client-side
// unless the adapter accepts server-side pushdown.
type ForStep struct {
	Var      string
	IndexVar string
	Store    string
	Iterable evalx.Expr
	Where    evalx.Expr
	Body     []Step
}

func (*ForStep) stepNode() {}

// MapStep evaluates Fields against Source (bound as `.`) and sets
// `response` to the constructed record.
type MapStep struct {
	Source evalx.Expr
	Schema string
	Fields []evalx.ObjectField
}

func (*MapStep) stepNode() {}

// Assumption is one `assume` predicate of a validate step.
type Assumption struct {
	Predicate evalx.Expr
	Message   string
	Warning   bool
}

// ValidateStep evaluates Target against a list of predicates; the
// first failing non-warning predicate aborts the action.
type ValidateStep struct {
	Target      evalx.Expr
	Assumptions []Assumption
}

func (*ValidateStep) stepNode() {}

// StoreOptions controls how a Store step writes Key.
type StoreOptions struct {
	Key     evalx.Expr
	Partial bool
	Upsert  bool
}

// StoreStep persists Source's evaluated value into Store under Options.
type StoreStep struct {
	Source  evalx.Expr
	Store   string
	Options StoreOptions
}

func (*StoreStep) stepNode() {}

// MatchStep structurally matches Subject against each Arm's schema (C2)
// in order, running the first arm whose schema (and optional guard)
// matches.
type MatchStep struct {
	Subject evalx.Expr
	Arms    []MatchStepArm
}

func (*MatchStep) stepNode() {}

// MatchStepArm pairs a schema name with a guard and the steps to run
// when selected.
type MatchStepArm struct {
	SchemaName string
	Guard      evalx.Expr
	Body       []Step
}

// WaitStep suspends the action until a webhook wait subsystem
// registration resolves.
type WaitStep struct {
	Timeout        int64 // milliseconds
	ExpectedEvents int
	Filter         evalx.Expr
}

func (*WaitStep) stepNode() {}

// Flow-control leaf steps. These correspond directly to the
// StepOutcome variants the executor produces; modelling them as steps
// lets a mission author express flow control explicitly inside a
// match arm or for-loop body.

// ContinueStep is a no-op that proceeds to the next step.
type ContinueStep struct{}

func (*ContinueStep) stepNode() {}

// SkipStep abandons the remaining steps of the current iteration (or
// action, outside a loop).
type SkipStep struct{}

func (*SkipStep) stepNode() {}

// AbortStep fails the owning mission run with Message.
type AbortStep struct {
	Message evalx.Expr
}

func (*AbortStep) stepNode() {}

// RetryStep re-drives the most recent fetch/call step under its
// source's retry policy. Override is decoded from the mission document,
// but the executor does not apply it to the redrive.
type RetryStep struct {
	Override *RetryConfig
}

func (*RetryStep) stepNode() {}

// QueueStep writes Item to a dead-letter store, then proceeds.
type QueueStep struct {
	Store string
	Item  evalx.Expr
}

func (*QueueStep) stepNode() {}

// JumpMode controls what happens to the fetch cursor after a jump
// target action completes.
type JumpMode string

const (
	JumpThenRetry    JumpMode = "thenRetry"
	JumpThenContinue JumpMode = "thenContinue"
)

// JumpStep runs another named action, then either retries the most
// recent fetch step or proceeds.
type JumpStep struct {
	Action string
	Mode   JumpMode
}

func (*JumpStep) stepNode() {}
