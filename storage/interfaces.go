package storage

import (
	"context"

	"github.com/poiesic/embedpipe/core"
)

// IdempotencyRepository persists the state of keyed runs.
// Implementations must be thread-safe and support concurrent access.
type IdempotencyRepository interface {
	// Get retrieves the record stored under key.
	// Returns ErrNotFound if no record exists.
	Get(ctx context.Context, key string) (*core.IdempotencyRecord, error)

	// Create stores record only if no record exists under record.Key.
	// Returns ErrDuplicateKey if one exists or a concurrent Create won.
	Create(ctx context.Context, record *core.IdempotencyRecord) error

	// CompareAndSwap replaces the record under next.Key with next, but only if the
	// stored record still has expected's Status, Owner and StartedAt.
	// Returns ErrNotFound if no record exists and ErrConflict if it has changed.
	CompareAndSwap(ctx context.Context, expected, next *core.IdempotencyRecord) error

	// Delete removes the record stored under key.
	// Returns ErrNotFound if no record exists.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the repository.
	Close() error
}
