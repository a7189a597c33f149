package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/reqon/reqon/internal/mission"
	"github.com/reqon/reqon/internal/obslog"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeRunner) RunAction(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.fail != nil {
		if err, ok := f.fail[name]; ok {
			return err
		}
	}
	return nil
}

func newTestLogger() *obslog.Logger {
	return obslog.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunnerRunsSequentialStage(t *testing.T) {
	m := &mission.Mission{Pipeline: []mission.Stage{{Actions: []string{"a"}}, {Actions: []string{"b"}}}}
	runner := &fakeRunner{}
	r := &Runner{Mission: m, Actions: runner, Log: newTestLogger()}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.calls) != 2 || runner.calls[0] != "a" || runner.calls[1] != "b" {
		t.Errorf("unexpected call order: %v", runner.calls)
	}
}

func TestRunnerRunsParallelStageConcurrently(t *testing.T) {
	m := &mission.Mission{Pipeline: []mission.Stage{{Actions: []string{"a", "b", "c"}}}}
	runner := &fakeRunner{}
	r := &Runner{Mission: m, Actions: runner, Log: newTestLogger()}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(runner.calls))
	}
}

func TestRunnerStopsOnStageFailure(t *testing.T) {
	m := &mission.Mission{Pipeline: []mission.Stage{
		{Actions: []string{"a"}},
		{Actions: []string{"b"}},
	}}
	runner := &fakeRunner{fail: map[string]error{"a": errors.New("boom")}}
	r := &Runner{Mission: m, Actions: runner, Log: newTestLogger()}

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StageError, got %T", err)
	}
	if len(runner.calls) != 1 {
		t.Errorf("expected the pipeline to stop after stage 0 failed, got calls: %v", runner.calls)
	}
}
