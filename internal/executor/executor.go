package executor

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/reqon/reqon/internal/checkpoint"
	"github.com/reqon/reqon/internal/debugctl"
	"github.com/reqon/reqon/internal/evalx"
	"github.com/reqon/reqon/internal/fetch"
	"github.com/reqon/reqon/internal/mission"
	"github.com/reqon/reqon/internal/obslog"
	"github.com/reqon/reqon/internal/schema"
	"github.com/reqon/reqon/internal/store"
	"github.com/reqon/reqon/internal/webhook"
)

// Engine runs one mission's actions. A single Engine is shared by every
// concurrent run of the same mission; RunContext carries the per-run
// mutable state.
type Engine struct {
	Mission *mission.Mission
	Eval    *evalx.Evaluator
	Log     *obslog.Logger

	Checkpoints checkpoint.Store
	Webhooks    *webhook.Server
	Debug       *debugctl.Controller

	Stores  map[string]store.Adapter
	Sources map[string]*fetch.Client
	Schemas *schema.Registry
}

// NewRunContext builds the root RunContext for one action run.
func (e *Engine) NewRunContext() *RunContext {
	return &RunContext{
		Stores:    e.Stores,
		Sources:   e.Sources,
		Schemas:   e.Schemas,
		Variables: make(map[string]any),
	}
}

// RunAction runs the named action to completion, loading its checkpoint
// beforehand and advancing it afterward on success, per spec.md §4.6.
func (e *Engine) RunAction(ctx context.Context, name string) error {
	action, ok := e.Mission.Actions[name]
	if !ok {
		return &MissionError{Kind: KindLoad, Message: fmt.Sprintf("unknown action %q", name)}
	}

	ctx, end := e.Log.Span(ctx, "action:"+name)
	var runErr error
	defer func() { end(&runErr) }()

	rc := e.NewRunContext()
	rc.Action = name
	if e.Checkpoints != nil {
		if last, ok, err := e.Checkpoints.Get(ctx, e.Mission.Name, name); err == nil && ok {
			rc.LastSync = last
		}
	}

	started := time.Now()
	e.Log.Info(ctx, "action.begin", map[string]any{"action": name})

	outcome, err := e.runSteps(ctx, rc, action.Steps, 0)
	if err != nil {
		runErr = e.handleFailure(ctx, rc, action, name, err)
		return runErr
	}
	if outcome.Kind == Abort {
		runErr = &MissionError{Kind: KindUserAbort, Message: outcome.Message, Action: name}
		runErr = e.handleFailure(ctx, rc, action, name, runErr)
		return runErr
	}

	if e.Checkpoints != nil {
		if err := e.Checkpoints.Set(ctx, e.Mission.Name, name, started.UTC()); err != nil {
			e.Log.Warn(ctx, "checkpoint.advance.failed", map[string]any{"action": name, "error": err.Error()})
		}
	}
	e.Log.Info(ctx, "action.end", map[string]any{"action": name, "durationMs": time.Since(started).Milliseconds()})
	return nil
}

func (e *Engine) handleFailure(ctx context.Context, rc *RunContext, action *mission.Action, name string, cause error) error {
	e.Log.Error(ctx, "action.failed", map[string]any{"action": name, "error": cause.Error()})

	if len(action.Compensation) > 0 {
		compCtx := context.WithoutCancel(ctx)
		if _, err := e.runSteps(compCtx, rc, action.Compensation, 0); err != nil {
			e.Log.Error(ctx, "action.compensation.failed", map[string]any{"action": name, "error": err.Error()})
		}
	}

	if len(action.OnError) > 0 {
		scoped := rc.Child()
		scoped.Set("error", errorToMap(cause))
		if outcome, err := e.runSteps(ctx, scoped, action.OnError, 0); err != nil {
			return err
		} else if outcome.Kind == Abort {
			return &MissionError{Kind: KindUserAbort, Message: outcome.Message, Action: name}
		}
		return nil
	}

	return cause
}

func errorToMap(err error) map[string]any {
	if me, ok := err.(*MissionError); ok {
		return map[string]any{"kind": string(me.Kind), "message": me.Message, "retries": me.Retries}
	}
	return map[string]any{"message": err.Error()}
}

// runSteps walks a step list in order, honoring each step's Outcome:
// Proceed falls through to the next step, Skip/Abort stop the list
// immediately, Retry/Jump have already executed their side effect and
// behave like Proceed for the purpose of this list.
func (e *Engine) runSteps(ctx context.Context, rc *RunContext, steps []mission.Step, depth int) (Outcome, error) {
	for i, s := range steps {
		if e.Debug != nil {
			cmd, err := e.Debug.BeforeStep(ctx, debugctl.Snapshot{
				Action:       rc.Action,
				StepIndex:    i,
				StepType:     stepTypeName(s),
				Reason:       debugctl.ReasonStep,
				Variables:    rc.Env(),
				LastResponse: rc.Response,
			})
			if err != nil {
				return Outcome{}, err
			}
			if cmd == debugctl.CmdAbort {
				return abort("debug abort"), nil
			}
		}

		outcome, err := e.runStep(ctx, rc, s)
		if err != nil {
			return Outcome{}, err
		}
		if outcome.terminal() {
			return outcome, nil
		}
	}
	return proceed(), nil
}

func stepTypeName(s mission.Step) string {
	switch s.(type) {
	case *mission.FetchStep:
		return "fetch"
	case *mission.CallStep:
		return "call"
	case *mission.ForStep:
		return "for"
	case *mission.MapStep:
		return "map"
	case *mission.ValidateStep:
		return "validate"
	case *mission.StoreStep:
		return "store"
	case *mission.MatchStep:
		return "match"
	case *mission.WaitStep:
		return "wait"
	case *mission.ContinueStep:
		return "continue"
	case *mission.SkipStep:
		return "skip"
	case *mission.AbortStep:
		return "abort"
	case *mission.RetryStep:
		return "retry"
	case *mission.QueueStep:
		return "queue"
	case *mission.JumpStep:
		return "jump"
	default:
		return "unknown"
	}
}

func (e *Engine) runStep(ctx context.Context, rc *RunContext, s mission.Step) (Outcome, error) {
	switch st := s.(type) {
	case *mission.FetchStep:
		return e.runStepWithRetry(ctx, rc, st.Retry, func() (Outcome, error) { return e.runFetch(ctx, rc, st) })
	case *mission.CallStep:
		return e.runStepWithRetry(ctx, rc, st.Retry, func() (Outcome, error) { return e.runCall(ctx, rc, st) })
	case *mission.ForStep:
		return e.runFor(ctx, rc, st)
	case *mission.MapStep:
		return e.runMap(ctx, rc, st)
	case *mission.ValidateStep:
		return e.runValidate(ctx, rc, st)
	case *mission.StoreStep:
		return e.runStore(ctx, rc, st)
	case *mission.MatchStep:
		return e.runMatch(ctx, rc, st)
	case *mission.WaitStep:
		return e.runWait(ctx, rc, st)
	case *mission.ContinueStep:
		return proceed(), nil
	case *mission.SkipStep:
		return skip(), nil
	case *mission.AbortStep:
		msg, err := evalOrNil(ctx, e.Eval, rc, st.Message)
		if err != nil {
			return Outcome{}, err
		}
		return abort(fmt.Sprintf("%v", msg)), nil
	case *mission.RetryStep:
		return e.runRetry(ctx, rc, st)
	case *mission.QueueStep:
		return e.runQueue(ctx, rc, st)
	case *mission.JumpStep:
		return e.runJump(ctx, rc, st)
	default:
		return Outcome{}, &MissionError{Kind: KindLoad, Message: fmt.Sprintf("unknown step type %T", s)}
	}
}

// runStepWithRetry wraps a fetch/call invocation with the action-level
// retry loop the teacher's executeStepWithRetries implements: attempt,
// and on any error returned by fn retry up to override.MaxAttempts
// (falling back to a single attempt if override is nil — the fetch
// engine itself already retries within one Client.Do call; this layer
// covers errors it cannot, like a RunContext-level abort from a nested
// step).
func (e *Engine) runStepWithRetry(ctx context.Context, rc *RunContext, override *mission.RetryConfig, fn func() (Outcome, error)) (Outcome, error) {
	if override == nil {
		return fn()
	}
	maxAttempts := override.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, err := fn()
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		delay := computeBackoff(*override, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Outcome{}, ctx.Err()
		case <-timer.C:
		}
	}
	return Outcome{}, lastErr
}

func computeBackoff(cfg mission.RetryConfig, attempt int) time.Duration {
	var delay time.Duration
	switch cfg.Backoff {
	case mission.BackoffLinear:
		delay = cfg.InitialDelay * time.Duration(attempt)
	case mission.BackoffExponential:
		delay = time.Duration(float64(cfg.InitialDelay) * math.Pow(2, float64(attempt-1)))
	default:
		delay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		delay += time.Duration(rand.Float64() * 0.1 * float64(delay))
	}
	return delay
}

func (e *Engine) runFor(ctx context.Context, rc *RunContext, s *mission.ForStep) (Outcome, error) {
	items, err := e.resolveIterable(ctx, rc, s)
	if err != nil {
		return Outcome{}, err
	}

	for idx, item := range items {
		scoped := rc.Child()
		scoped.Set(s.Var, item)
		if s.IndexVar != "" {
			scoped.Set(s.IndexVar, idx)
		}

		if e.Debug != nil {
			cmd, err := e.Debug.BeforeStep(ctx, debugctl.Snapshot{
				Action:    scoped.Action,
				StepType:  "for",
				Reason:    debugctl.ReasonIteration,
				Variables: scoped.Env(),
			})
			if err != nil {
				return Outcome{}, err
			}
			if cmd == debugctl.CmdAbort {
				return abort("debug abort"), nil
			}
		}

		outcome, err := e.runSteps(ctx, scoped, s.Body, 0)
		if err != nil {
			return Outcome{}, err
		}
		switch outcome.Kind {
		case Skip:
			continue
		case Abort:
			return outcome, nil
		}
	}
	return proceed(), nil
}

func (e *Engine) resolveIterable(ctx context.Context, rc *RunContext, s *mission.ForStep) ([]any, error) {
	if s.Store != "" {
		adapter, ok := rc.Stores[s.Store]
		if !ok {
			return nil, &MissionError{Kind: KindStore, Message: fmt.Sprintf("unknown store %q", s.Store)}
		}
		var filter store.Filter
		if s.Where != nil {
			filter.Match = func(value any) bool {
				scoped := rc.Child()
				scoped.Set(s.Var, value)
				v, err := eval(ctx, e.Eval, scoped, s.Where)
				if err != nil {
					return false
				}
				b, _ := v.(bool)
				return b
			}
		}
		keys, err := adapter.List(ctx, filter)
		if err != nil {
			return nil, &MissionError{Kind: KindStore, Message: err.Error(), Cause: err}
		}
		items := make([]any, 0, len(keys))
		for _, k := range keys {
			v, ok, err := adapter.Get(ctx, k)
			if err != nil {
				return nil, &MissionError{Kind: KindStore, Message: err.Error(), Cause: err}
			}
			if ok {
				items = append(items, v)
			}
		}
		return items, nil
	}

	v, err := eval(ctx, e.Eval, rc, s.Iterable)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, &MissionError{Kind: KindEval, Message: "for: iterable did not evaluate to an array"}
	}
	if s.Where == nil {
		return arr, nil
	}
	out := make([]any, 0, len(arr))
	for _, item := range arr {
		scoped := rc.Child()
		scoped.Set(s.Var, item)
		keep, err := eval(ctx, e.Eval, scoped, s.Where)
		if err != nil {
			return nil, err
		}
		if b, _ := keep.(bool); b {
			out = append(out, item)
		}
	}
	return out, nil
}

func (e *Engine) runMap(ctx context.Context, rc *RunContext, s *mission.MapStep) (Outcome, error) {
	src, err := eval(ctx, e.Eval, rc, s.Source)
	if err != nil {
		return Outcome{}, err
	}
	scoped := rc.Child()
	scoped.Set(".", src)
	scoped.Response = src

	obj := evalx.ObjectExpr{Fields: s.Fields}
	v, err := eval(ctx, e.Eval, scoped, &obj)
	if err != nil {
		return Outcome{}, err
	}
	if s.Schema != "" {
		ok, err := rc.Schemas.MatchSchema(s.Schema, v)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			return Outcome{}, &MissionError{Kind: KindValidation, Message: fmt.Sprintf("map: result does not match schema %q", s.Schema)}
		}
	}
	rc.Response = v
	return proceed(), nil
}

func (e *Engine) runValidate(ctx context.Context, rc *RunContext, s *mission.ValidateStep) (Outcome, error) {
	target, err := eval(ctx, e.Eval, rc, s.Target)
	if err != nil {
		return Outcome{}, err
	}
	scoped := rc.Child()
	scoped.Set(".", target)

	for _, a := range s.Assumptions {
		v, err := eval(ctx, e.Eval, scoped, a.Predicate)
		if err != nil {
			return Outcome{}, err
		}
		ok, _ := v.(bool)
		if ok {
			continue
		}
		if a.Warning {
			e.Log.Warn(ctx, "validate.warning", map[string]any{"message": a.Message})
			continue
		}
		return Outcome{}, &MissionError{Kind: KindValidation, Message: a.Message}
	}
	return proceed(), nil
}

func (e *Engine) runStore(ctx context.Context, rc *RunContext, s *mission.StoreStep) (Outcome, error) {
	adapter, ok := rc.Stores[s.Store]
	if !ok {
		return Outcome{}, &MissionError{Kind: KindStore, Message: fmt.Sprintf("unknown store %q", s.Store)}
	}
	value, err := eval(ctx, e.Eval, rc, s.Source)
	if err != nil {
		return Outcome{}, err
	}
	key := s.Store
	if s.Options.Key != nil {
		k, err := eval(ctx, e.Eval, rc, s.Options.Key)
		if err != nil {
			return Outcome{}, err
		}
		key = fmt.Sprintf("%v", k)
	}

	if s.Options.Partial {
		err = adapter.Update(ctx, key, func(current any, present bool) (any, error) {
			if !present {
				if !s.Options.Upsert {
					return nil, &store.ErrNotFound{Key: key}
				}
				return value, nil
			}
			merged, ok := current.(map[string]any)
			if !ok {
				return value, nil
			}
			patch, ok := value.(map[string]any)
			if !ok {
				return value, nil
			}
			out := make(map[string]any, len(merged)+len(patch))
			for k, v := range merged {
				out[k] = v
			}
			for k, v := range patch {
				out[k] = v
			}
			return out, nil
		})
	} else {
		err = adapter.Set(ctx, key, value)
	}

	if err != nil {
		return Outcome{}, &MissionError{Kind: KindStore, Message: err.Error(), Cause: err}
	}
	e.Log.Info(ctx, "store.write", map[string]any{"store": s.Store, "key": key})
	return proceed(), nil
}

func (e *Engine) runMatch(ctx context.Context, rc *RunContext, s *mission.MatchStep) (Outcome, error) {
	subject, err := eval(ctx, e.Eval, rc, s.Subject)
	if err != nil {
		return Outcome{}, err
	}

	for _, arm := range s.Arms {
		ok, err := rc.Schemas.MatchSchema(arm.SchemaName, subject)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			continue
		}
		scoped := rc.Child()
		scoped.Set("it", subject)
		if arm.Guard != nil {
			g, err := eval(ctx, e.Eval, scoped, arm.Guard)
			if err != nil {
				return Outcome{}, err
			}
			if b, _ := g.(bool); !b {
				continue
			}
		}

		if e.Debug != nil {
			cmd, err := e.Debug.BeforeStep(ctx, debugctl.Snapshot{
				Action: scoped.Action, StepType: "match", Reason: debugctl.ReasonMatchArm, Variables: scoped.Env(),
			})
			if err != nil {
				return Outcome{}, err
			}
			if cmd == debugctl.CmdAbort {
				return abort("debug abort"), nil
			}
		}
		return e.runSteps(ctx, scoped, arm.Body, 0)
	}
	return proceed(), nil
}

func (e *Engine) runWait(ctx context.Context, rc *RunContext, s *mission.WaitStep) (Outcome, error) {
	if e.Webhooks == nil {
		return Outcome{}, &MissionError{Kind: KindLoad, Message: "wait: no webhook server configured"}
	}

	var filterFn func(webhook.Event) (bool, error)
	if s.Filter != nil {
		filterFn = func(ev webhook.Event) (bool, error) {
			scoped := rc.Child()
			scoped.Webhook = ev.Body
			v, err := eval(ctx, e.Eval, scoped, s.Filter)
			if err != nil {
				return false, err
			}
			b, _ := v.(bool)
			return b, nil
		}
	}

	reg := e.Webhooks.Register(s.ExpectedEvents, time.Duration(s.Timeout)*time.Millisecond, filterFn)
	defer e.Webhooks.Unregister(reg.Path)

	e.Log.Info(ctx, "wait.begin", map[string]any{"path": reg.Path, "expected": s.ExpectedEvents})
	result, err := webhook.Wait(ctx, reg, time.Duration(s.Timeout)*time.Millisecond)
	if err != nil {
		return Outcome{}, err
	}
	if result.TimedOut {
		e.Log.Warn(ctx, "wait.timeout", map[string]any{"path": reg.Path, "received": len(result.Events)})
		return Outcome{}, &MissionError{Kind: KindTimeout, Message: "wait: timed out before expected events arrived"}
	}

	bodies := make([]any, len(result.Events))
	for i, ev := range result.Events {
		bodies[i] = ev.Body
	}
	if len(bodies) == 1 {
		rc.Webhook = bodies[0]
	} else {
		rc.Webhook = bodies
	}
	e.Log.Info(ctx, "wait.end", map[string]any{"path": reg.Path, "received": len(result.Events)})
	return proceed(), nil
}

func (e *Engine) runRetry(ctx context.Context, rc *RunContext, s *mission.RetryStep) (Outcome, error) {
	if err := e.redriveLastFetch(ctx, rc); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: Retry}, nil
}

func (e *Engine) runQueue(ctx context.Context, rc *RunContext, s *mission.QueueStep) (Outcome, error) {
	adapter, ok := rc.Stores[s.Store]
	if !ok {
		return Outcome{}, &MissionError{Kind: KindStore, Message: fmt.Sprintf("unknown store %q", s.Store)}
	}
	item, err := eval(ctx, e.Eval, rc, s.Item)
	if err != nil {
		return Outcome{}, err
	}
	key := fmt.Sprintf("%d", time.Now().UnixNano())
	if err := adapter.Set(ctx, key, item); err != nil {
		return Outcome{}, &MissionError{Kind: KindStore, Message: err.Error(), Cause: err}
	}
	return proceed(), nil
}

func (e *Engine) runJump(ctx context.Context, rc *RunContext, s *mission.JumpStep) (Outcome, error) {
	target, ok := e.Mission.Actions[s.Action]
	if !ok {
		return Outcome{}, &MissionError{Kind: KindLoad, Message: fmt.Sprintf("jump: unknown action %q", s.Action)}
	}

	e.Log.Info(ctx, "jump", map[string]any{"to": s.Action, "mode": string(s.Mode)})
	outcome, err := e.runSteps(ctx, rc, target.Steps, 0)
	if err != nil {
		return Outcome{}, err
	}
	if outcome.Kind == Abort {
		return outcome, nil
	}

	if s.Mode == mission.JumpThenRetry {
		if err := e.redriveLastFetch(ctx, rc); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{Kind: Jump, JumpAction: s.Action, JumpMode: s.Mode}, nil
}
