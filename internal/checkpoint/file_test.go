package checkpoint

import (
	"context"
	"testing"
)

func TestFileStoreGetMissingReturnsFalse(t *testing.T) {
	s := NewFileStore(t.TempDir())
	_, ok, err := s.Get(context.Background(), "m1", "fetch_users")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no checkpoint for a fresh store")
	}
}

func TestFileStoreSetThenGet(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	if err := s.Set(ctx, "m1", "fetch_users", "2026-07-01T00:00:00Z"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ctx, "m1", "fetch_users")
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
	if v != "2026-07-01T00:00:00Z" {
		t.Fatalf("got %v", v)
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s1 := NewFileStore(dir)
	if err := s1.Set(ctx, "m1", "a", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}

	s2 := NewFileStore(dir)
	v, ok, err := s2.Get(ctx, "m1", "a")
	if err != nil || !ok || v != "v1" {
		t.Fatalf("got v=%v ok=%v err=%v", v, ok, err)
	}
}

func TestFileStoreResetDeletesEverything(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())
	_ = s.Set(ctx, "m1", "a", "v1")
	_ = s.Set(ctx, "m2", "b", "v2")

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "m1", "a"); ok {
		t.Fatal("expected checkpoint to be gone after reset")
	}
	if _, ok, _ := s.Get(ctx, "m2", "b"); ok {
		t.Fatal("expected checkpoint to be gone after reset")
	}
}

func TestFileStoreIndependentActionsDontCollide(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())
	_ = s.Set(ctx, "m1", "a", "v1")
	_ = s.Set(ctx, "m1", "b", "v2")

	va, _, _ := s.Get(ctx, "m1", "a")
	vb, _, _ := s.Get(ctx, "m1", "b")
	if va != "v1" || vb != "v2" {
		t.Fatalf("got va=%v vb=%v", va, vb)
	}
}
