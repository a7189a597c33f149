package store

import (
	"path/filepath"
	"testing"

	"github.com/reqon/reqon/internal/mission"
)

func TestOpenMemoryAndFile(t *testing.T) {
	a, err := Open(&mission.StoreDef{Kind: mission.StoreMemory, Name: "scratch"}, nil)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := a.(*Memory); !ok {
		t.Fatalf("expected *Memory, got %T", a)
	}

	dir := t.TempDir()
	a, err = Open(&mission.StoreDef{Kind: mission.StoreFile, Name: "f", Identifier: filepath.Join(dir, "s.json")}, nil)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	if _, ok := a.(*File); !ok {
		t.Fatalf("expected *File, got %T", a)
	}
}

func TestOpenUnknownKindWithoutFactoryErrors(t *testing.T) {
	_, err := Open(&mission.StoreDef{Kind: mission.StoreSQL, Name: "db"}, nil)
	if err == nil {
		t.Fatal("expected an error for an unregistered store kind")
	}
}

func TestOpenUsesRegisteredFactory(t *testing.T) {
	called := false
	factories := map[mission.StoreKind]Factory{
		mission.StoreSQL: func(def *mission.StoreDef) (Adapter, error) {
			called = true
			return NewMemory(), nil
		},
	}
	_, err := Open(&mission.StoreDef{Kind: mission.StoreSQL, Name: "db"}, factories)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected the registered factory to be invoked")
	}
}
