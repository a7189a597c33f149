// Package pipeline runs a mission's declared stage sequence (C9): a
// list of mission.Stage entries, each either a single action name (run
// sequentially) or several names (run concurrently, bracketed by a
// barrier before the next stage starts). Grounded on the teacher's
// runtime.App flow-iteration loop (runtime/app.go), generalized from
// "one flow per HTTP route" to an ordered multi-stage batch.
//
// Concurrent stage members run on a plain sync.WaitGroup rather than
// golang.org/x/sync/errgroup: errgroup.WithContext cancels its derived
// context the instant any member returns an error, which would abort
// the *other* members mid-flight. Spec requires the opposite — a
// sibling abort must let every other action in the stage run to
// completion (its writes preserved) before the pipeline stops — so
// each member gets the stage's own, uncancelled context.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/reqon/reqon/internal/mission"
	"github.com/reqon/reqon/internal/obslog"
)

// ActionRunner is the subset of executor.Engine a Runner needs: running
// one action to completion. Kept as an interface so pipeline tests
// don't need a full executor.Engine.
type ActionRunner interface {
	RunAction(ctx context.Context, name string) error
}

// StageError reports which action(s) in a stage failed.
type StageError struct {
	StageIndex int
	Failures   map[string]error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: stage %d failed (%d action(s))", e.StageIndex, len(e.Failures))
}

// Runner walks a mission's Pipeline in order.
type Runner struct {
	Mission *mission.Mission
	Actions ActionRunner
	Log     *obslog.Logger
}

// Run executes every stage in sequence. A stage with more than one
// action name runs its members concurrently on a sync.WaitGroup and waits for
// all of them (success or failure) before continuing; the first stage
// to report any failure stops the pipeline and returns a *StageError
// aggregating every member's outcome, per spec.md §4.8's
// fail-the-pipeline-on-any-stage-failure semantics.
func (r *Runner) Run(ctx context.Context) error {
	for i, stage := range r.Mission.Pipeline {
		if err := r.runStage(ctx, i, stage); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runStage(ctx context.Context, index int, stage mission.Stage) error {
	r.Log.Info(ctx, "pipeline.stage.begin", map[string]any{"stage": index, "actions": stage.Actions})

	if len(stage.Actions) == 1 {
		err := r.Actions.RunAction(ctx, stage.Actions[0])
		if err != nil {
			r.Log.Error(ctx, "pipeline.stage.failed", map[string]any{"stage": index, "action": stage.Actions[0], "error": err.Error()})
			return &StageError{StageIndex: index, Failures: map[string]error{stage.Actions[0]: err}}
		}
		r.Log.Info(ctx, "pipeline.stage.end", map[string]any{"stage": index})
		return nil
	}

	failures := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range stage.Actions {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Actions.RunAction(ctx, name); err != nil {
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(failures) > 0 {
		r.Log.Error(ctx, "pipeline.stage.failed", map[string]any{"stage": index, "failures": len(failures)})
		return &StageError{StageIndex: index, Failures: failures}
	}
	r.Log.Info(ctx, "pipeline.stage.end", map[string]any{"stage": index})
	return nil
}
