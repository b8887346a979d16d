package idempotency

import (
	"context"

	"github.com/poiesic/embedpipe/core"
	"github.com/poiesic/embedpipe/storage"
)

// RunOutcomes is Run for operations producing embedding outcomes.
// Outcomes are stored in their mus encoding and decoded on replay. When fn fails
// after producing outcomes, or the run succeeded but its completion could not be
// recorded, both the outcomes and the error are returned.
func RunOutcomes(ctx context.Context, c *Coordinator, key, operation string,
	fn func(ctx context.Context) ([]core.Outcome, error)) ([]core.Outcome, error) {
	var produced []core.Outcome
	data, err := c.Run(ctx, key, operation, func(ctx context.Context) ([]byte, error) {
		outcomes, err := fn(ctx)
		produced = outcomes
		if err != nil {
			return nil, err
		}
		return storage.MarshalOutcomes(outcomes), nil
	})
	if err != nil && data == nil {
		return produced, err
	}

	outcomes, decodeErr := storage.UnmarshalOutcomes(data)
	if decodeErr != nil {
		return nil, decodeErr
	}
	// A run whose completion could not be recorded still returns its outcomes
	return outcomes, err
}
