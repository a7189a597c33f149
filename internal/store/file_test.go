package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFileAdapterPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.Set(ctx, "key", map[string]any{"n": 1.0}); err != nil {
		t.Fatalf("set: %v", err)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, ok, err := reopened.Get(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["n"] != 1.0 {
		t.Fatalf("unexpected value: %+v", v)
	}
}

func TestFileAdapterOpenMissingFileStartsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.json")

	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	keys, err := f.List(ctx, Filter{})
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected empty store, got keys=%v err=%v", keys, err)
	}
}

func TestFileAdapterDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f, err := OpenFile(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = f.Set(ctx, "a", 1.0)
	_ = f.Set(ctx, "b", 2.0)

	if err := f.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := f.Get(ctx, "a"); ok {
		t.Fatal("expected a to be deleted")
	}

	if err := f.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	keys, _ := f.List(ctx, Filter{})
	if len(keys) != 0 {
		t.Fatalf("expected empty store after clear, got %v", keys)
	}
}
