// Package idempotency runs keyed operations at most once.
//
// A Coordinator persists an IdempotencyRecord per key. The first caller atomically
// creates the record in the processing state and runs the operation. Later callers
// get the stored result of a completed run, ErrInProgress while another live run
// holds the key, or take the key over when the previous run failed or went stale.
//
//	c := idempotency.NewCoordinator(repo, idempotency.WithStaleAfter(10*time.Minute))
//	outcomes, err := idempotency.RunOutcomes(ctx, c, key, "embed", func(ctx context.Context) ([]core.Outcome, error) {
//	    return pipeline.Process(ctx, records), nil
//	})
package idempotency
