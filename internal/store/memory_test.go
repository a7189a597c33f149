package store

import (
	"context"
	"testing"
)

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, err := m.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := m.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || v != "v1" {
		t.Fatalf("got v=%v ok=%v err=%v", v, ok, err)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestMemoryUpdateUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.Update(ctx, "counter", func(current any, present bool) (any, error) {
		if !present {
			return 1, nil
		}
		return current.(int) + 1, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	v, _, _ := m.Get(ctx, "counter")
	if v != 1 {
		t.Fatalf("got %v, want 1", v)
	}

	_ = m.Update(ctx, "counter", func(current any, present bool) (any, error) {
		return current.(int) + 1, nil
	})
	v, _, _ = m.Get(ctx, "counter")
	if v != 2 {
		t.Fatalf("got %v, want 2", v)
	}
}

func TestMemoryListWithFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "a", 1)
	_ = m.Set(ctx, "b", 2)
	_ = m.Set(ctx, "c", 3)

	keys, err := m.List(ctx, Filter{Match: func(v any) bool { return v.(int) >= 2 }})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2: %v", len(keys), keys)
	}
}

func TestMemoryClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "a", 1)
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	keys, _ := m.List(ctx, Filter{})
	if len(keys) != 0 {
		t.Fatalf("expected empty store after clear, got %v", keys)
	}
}

func TestMemoryRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()
	if err := m.Set(ctx, "k", "v"); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}
