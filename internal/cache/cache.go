// Package cache stores rendered balance snapshots so repeated reads skip the ledger store.
package cache

import (
	"context"

	"github.com/ivasann/daisy-copilot/internal/progress"
)

// SnapshotCache caches balance snapshots keyed by user, calendar day and generation.
//
// Invalidate bumps the user's generation instead of deleting a value, so a reader that
// loaded from the store before a write stores its result under a generation nobody reads.
// Readers must call Version before loading from the store and pass that version to Set.
type SnapshotCache interface {
	// Version returns the user's current generation.
	Version(ctx context.Context, userID string) (int64, error)
	// Get returns the snapshot cached under version. The bool is false on a miss.
	Get(ctx context.Context, userID, day string, version int64) (*progress.Snapshot, bool, error)
	Set(ctx context.Context, userID, day string, version int64, snap progress.Snapshot) error
	Invalidate(ctx context.Context, userID string) error
}

// Noop never stores anything.
type Noop struct{}

// Version is always zero.
func (Noop) Version(context.Context, string) (int64, error) { return 0, nil }

// Get always misses.
func (Noop) Get(context.Context, string, string, int64) (*progress.Snapshot, bool, error) {
	return nil, false, nil
}

// Set performs no action.
func (Noop) Set(context.Context, string, string, int64, progress.Snapshot) error { return nil }

// Invalidate performs no action.
func (Noop) Invalidate(context.Context, string) error { return nil }
