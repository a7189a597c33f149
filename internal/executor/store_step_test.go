package executor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/reqon/reqon/internal/evalx"
	"github.com/reqon/reqon/internal/mission"
	"github.com/reqon/reqon/internal/obslog"
	"github.com/reqon/reqon/internal/store"
)

func newTestEngine() *Engine {
	return &Engine{
		Eval: evalx.NewEvaluator(),
		Log:  obslog.New(slog.Default()),
		Stores: map[string]store.Adapter{
			"scratch": store.NewMemory(),
		},
	}
}

// TestRunStoreNonPartialOverwritesExistingKey guards against a Store
// step (partial=false, upsert=false) aborting on a key that already
// exists: per spec.md §4.7 it must behave like an unconditional Set.
func TestRunStoreNonPartialOverwritesExistingKey(t *testing.T) {
	e := newTestEngine()
	adapter := e.Stores["scratch"]
	ctx := context.Background()

	if err := adapter.Set(ctx, "scratch", "first"); err != nil {
		t.Fatalf("seed Set failed: %v", err)
	}

	step := &mission.StoreStep{
		Source: &evalx.Literal{Value: "second"},
		Store:  "scratch",
	}
	rc := e.NewRunContext()
	outcome, err := e.runStore(ctx, rc, step)
	if err != nil {
		t.Fatalf("runStore returned error on re-run of an existing key: %v", err)
	}
	if outcome.Kind != Proceed {
		t.Fatalf("got outcome %v, want Proceed", outcome.Kind)
	}

	got, ok, err := adapter.Get(ctx, "scratch")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected key to be present")
	}
	if got != "second" {
		t.Fatalf("got value %v, want overwritten value %q", got, "second")
	}
}
