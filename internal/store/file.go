package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is an Adapter backed by a single JSON document on disk. Every
// mutating call rewrites the whole document through a temp-file+rename
// sequence so a crash mid-write never corrupts the previous state,
// mirroring the atomic-write pattern other file-backed stores in this
// codebase use.
type File struct {
	path string

	mu     sync.Mutex
	values map[string]any
}

// OpenFile loads (or creates) the JSON document at path.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, values: make(map[string]any)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f.values); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return f, nil
}

func (f *File) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *File) Set(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return f.persistLocked()
}

func (f *File) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	current, present := f.values[key]
	next, err := fn(current, present)
	if err != nil {
		return err
	}
	f.values[key] = next
	return f.persistLocked()
}

func (f *File) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return f.persistLocked()
}

func (f *File) List(ctx context.Context, filter Filter) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.values))
	for k, v := range f.values {
		if filter.accepts(v) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *File) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = make(map[string]any)
	return f.persistLocked()
}

func (f *File) Close(ctx context.Context) error { return nil }

// persistLocked must be called with mu held.
func (f *File) persistLocked() error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".reqon-store-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f.values); err != nil {
		tmp.Close()
		return fmt.Errorf("store: encode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("store: rename temp file: %w", err)
	}
	return nil
}
