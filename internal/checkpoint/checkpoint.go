// Package checkpoint implements the per-(mission,action) lastSync
// store the executor consults at the start of an action and advances
// at the end of a successful run.
package checkpoint

import "context"

// Store is the checkpoint contract. Implementations must make Set
// atomic with respect to concurrent readers: a reader must observe
// either the old or the new value, never a partially written one.
type Store interface {
	// Get returns the lastSync value for (mission, action), or
	// (nil, false) if no checkpoint has been recorded yet.
	Get(ctx context.Context, mission, action string) (any, bool, error)
	Set(ctx context.Context, mission, action string, value any) error
	// Reset deletes every checkpoint, honoring a CLI-requested full
	// reset.
	Reset(ctx context.Context) error
}
