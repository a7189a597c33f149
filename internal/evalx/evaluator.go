package evalx

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// SchemaMatcherFunc structurally matches value against the schema named
// schemaName, returning whether it matched. The evaluator has no
// knowledge of mission.Schema itself — that would pull the mission
// package into an import cycle with whatever resolves Match arms — so
// MatchExpr evaluation delegates the actual structural check back to
// the caller through this callback.
type SchemaMatcherFunc func(schemaName string, value any) (bool, error)

// Evaluator compiles and runs expressions against an environment map.
// A single Evaluator is safe for concurrent use once built; expr-lang
// programs carry no mutable state.
type Evaluator struct {
	options []expr.Option
}

// NewEvaluator builds an Evaluator with the built-in function set
// registered. extra options (additional identifiers, a fixed env
// shape) can be supplied by callers that need them.
func NewEvaluator(extra ...expr.Option) *Evaluator {
	opts := append(builtinOptions(), extra...)
	return &Evaluator{options: opts}
}

// Compile parses and type-checks source into a Compiled expression.
// Variables are left unresolved until Eval supplies an environment;
// AllowUndefinedVariables must come after Env so expr-lang doesn't
// reject identifiers the Env map doesn't declare ahead of time.
func (ev *Evaluator) Compile(source string, env map[string]any) (*Compiled, error) {
	opts := make([]expr.Option, 0, len(ev.options)+2)
	opts = append(opts, expr.Env(env))
	opts = append(opts, ev.options...)
	opts = append(opts, expr.AllowUndefinedVariables())

	program, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, newEvalError(source, "compile: %s", err)
	}
	return &Compiled{Source: source, Program: program}, nil
}

// Eval runs e against env, resolving MatchExpr arms through matchSchema
// (which may be nil if e is known not to contain a MatchExpr).
func (ev *Evaluator) Eval(ctx context.Context, e Expr, env map[string]any, matchSchema SchemaMatcherFunc) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	switch n := e.(type) {
	case nil:
		return nil, nil

	case *Literal:
		return n.Value, nil

	case *Compiled:
		out, err := vm.Run(n.Program, env)
		if err != nil {
			return nil, newEvalError(n.Source, "%s", err)
		}
		return out, nil

	case *MatchExpr:
		return ev.evalMatch(ctx, n, env, matchSchema)

	case *ObjectExpr:
		return ev.evalObject(ctx, n, env, matchSchema)

	case *ArrayExpr:
		out := make([]any, 0, len(n.Elements))
		for _, el := range n.Elements {
			v, err := ev.Eval(ctx, el, env, matchSchema)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("evalx: unknown expression node %T", e)
	}
}

func (ev *Evaluator) evalMatch(ctx context.Context, n *MatchExpr, env map[string]any, matchSchema SchemaMatcherFunc) (any, error) {
	subject, err := ev.Eval(ctx, n.Subject, env, matchSchema)
	if err != nil {
		return nil, err
	}

	for _, arm := range n.Arms {
		matched := arm.SchemaName == "_"
		if !matched {
			if matchSchema == nil {
				return nil, newEvalError("", "match: no schema matcher supplied for arm %q", arm.SchemaName)
			}
			ok, err := matchSchema(arm.SchemaName, subject)
			if err != nil {
				return nil, newEvalError("", "match: schema %q: %s", arm.SchemaName, err)
			}
			matched = ok
		}
		if !matched {
			continue
		}

		if arm.Guard != nil {
			armEnv := cloneEnv(env)
			armEnv["it"] = subject
			guardVal, err := ev.Eval(ctx, arm.Guard, armEnv, matchSchema)
			if err != nil {
				return nil, err
			}
			if pass, ok := guardVal.(bool); !ok || !pass {
				continue
			}
		}

		bodyEnv := cloneEnv(env)
		bodyEnv["it"] = subject
		return ev.Eval(ctx, arm.Body, bodyEnv, matchSchema)
	}

	return nil, newEvalError("", "match: no arm matched the subject's shape")
}

func (ev *Evaluator) evalObject(ctx context.Context, n *ObjectExpr, env map[string]any, matchSchema SchemaMatcherFunc) (any, error) {
	out := make(map[string]any, len(n.Fields))

	for _, spread := range n.Spreads {
		v, err := ev.Eval(ctx, spread, env, matchSchema)
		if err != nil {
			return nil, err
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, newEvalError("", "spread: expected an object, got %T", v)
		}
		for k, fv := range obj {
			out[k] = fv
		}
	}

	for _, f := range n.Fields {
		v, err := ev.Eval(ctx, f.Value, env, matchSchema)
		if err != nil {
			return nil, err
		}
		out[f.Key] = v
	}

	return out, nil
}

func cloneEnv(env map[string]any) map[string]any {
	out := make(map[string]any, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	return out
}
