// Package executor implements the action executor (C8): a tree-walking
// interpreter over mission.Action's step list, grounded on the
// teacher's runtime.Executor (runtime/executor.go) — its step loop,
// retry-with-backoff, fallback, compensation stack, and on_error
// handling are generalized here from a flat step list to the spec's
// typed step tree (Fetch/Call/For/Map/Validate/Store/Match/Wait plus
// flow-control leaves).
package executor

import (
	"context"

	"github.com/reqon/reqon/internal/evalx"
	"github.com/reqon/reqon/internal/fetch"
	"github.com/reqon/reqon/internal/mission"
	"github.com/reqon/reqon/internal/schema"
	"github.com/reqon/reqon/internal/store"
)

// RunContext is the mutable per-run execution context spec.md §3
// describes: shared stores and source runtimes, the schema registry,
// a lexically scoped variable stack, the most recent response/webhook
// values, and the checkpoint loaded on action entry.
type RunContext struct {
	Stores  map[string]store.Adapter
	Sources map[string]*fetch.Client
	Schemas *schema.Registry

	// Action names the action currently executing, for debug snapshots
	// and jump/retry logging.
	Action string

	Variables map[string]any
	Response  any
	Webhook   any
	LastSync  any

	parent *RunContext

	// lastFetch captures enough of the most recently issued fetch/call
	// attempt to let an explicit `retry` step redrive it, per spec.md
	// §4.7's RetryCurrent outcome.
	lastFetch *pendingFetch
}

type pendingFetch struct {
	client *fetch.Client
	req    fetch.Request
}

// Child returns a new RunContext lexically nested under rc, used by
// For/Match/Wait to scope loop and binding variables without mutating
// the parent's Variables map. Stores/Sources/Schemas are shared;
// Response/Webhook/LastSync and lastFetch are inherited by value so a
// nested scope sees the parent's latest state until it sets its own.
func (rc *RunContext) Child() *RunContext {
	return &RunContext{
		Stores:    rc.Stores,
		Sources:   rc.Sources,
		Schemas:   rc.Schemas,
		Action:    rc.Action,
		Variables: make(map[string]any),
		Response:  rc.Response,
		Webhook:   rc.Webhook,
		LastSync:  rc.LastSync,
		parent:    rc,
		lastFetch: rc.lastFetch,
	}
}

// Get resolves name by checking this scope's Variables, then walking
// parent scopes — the "lexical parent" lookup spec.md §3 requires for
// for/match/wait bindings.
func (rc *RunContext) Get(name string) (any, bool) {
	for c := rc; c != nil; c = c.parent {
		if v, ok := c.Variables[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set binds name in this scope only.
func (rc *RunContext) Set(name string, value any) {
	rc.Variables[name] = value
}

// Env flattens the context into the environment map evalx.Evaluator.Eval
// expects: every ancestor's variables (closest scope wins), plus the
// well-known identifiers `response`, `webhook`, and `lastSync`.
func (rc *RunContext) Env() map[string]any {
	env := make(map[string]any)
	var scopes []*RunContext
	for c := rc; c != nil; c = c.parent {
		scopes = append(scopes, c)
	}
	for i := len(scopes) - 1; i >= 0; i-- {
		for k, v := range scopes[i].Variables {
			env[k] = v
		}
	}
	env["response"] = rc.Response
	env["webhook"] = rc.Webhook
	env["lastSync"] = rc.LastSync
	return env
}

// MatchSchema adapts rc.Schemas to evalx.SchemaMatcherFunc so `match`
// expressions embedded in fetch/store/validate expressions can
// structurally match against the mission's declared schemas.
func (rc *RunContext) MatchSchema(name string, value any) (bool, error) {
	return rc.Schemas.MatchSchema(name, value)
}

// eval is a small helper every step handler uses to evaluate an
// evalx.Expr against the context's current environment.
func eval(ctx context.Context, ev *evalx.Evaluator, rc *RunContext, e evalx.Expr) (any, error) {
	return ev.Eval(ctx, e, rc.Env(), rc.MatchSchema)
}
