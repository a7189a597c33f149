// Package store implements the key/value persistence contract missions
// use to carry state across actions and across runs: a get/set/update/
// delete/list/clear adapter with read-your-writes guarantees within a
// single run.
package store

import "context"

// Adapter is the contract every store kind (memory, file, and
// pluggable SQL/NoSQL backends) implements. Every method takes a
// context so long-running backends can honor cancellation; callers
// within one run are guaranteed to observe their own prior writes.
type Adapter interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	// Update applies fn to the current value (nil, false if the key is
	// absent) and persists the result. Update is atomic with respect to
	// other Update/Set/Delete calls on the same key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Delete(ctx context.Context, key string) error
	// List returns every key whose value matches filter. A nil filter
	// returns every key. Adapters without a native query capability
	// fall back to scanning and applying filter client-side.
	List(ctx context.Context, filter Filter) ([]string, error)
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// UpdateFunc computes a new value from the current one. present is
// false when the key did not previously exist. Returning an error
// aborts the update, leaving the stored value unchanged.
type UpdateFunc func(current any, present bool) (any, error)

// Filter narrows List to keys whose value satisfies Match. A nil
// Filter (or a nil Match) matches everything.
type Filter struct {
	Match func(value any) bool
}

func (f Filter) accepts(value any) bool {
	if f.Match == nil {
		return true
	}
	return f.Match(value)
}

// ErrNotFound reports an update of a key that does not exist. The
// adapters never return it themselves; the executor's partial store
// step returns it from its UpdateFunc when StoreOptions.Upsert is false
// (the default) and the key is absent.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "store: key not found: " + e.Key
}
