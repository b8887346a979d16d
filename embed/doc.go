// Package embed turns text records into normalized vector embeddings through an
// embedding provider that limits request size and fails transiently.
//
// The Pipeline estimates a batch size once per run from a leading sample, slices the
// input into batches of that size and hands each batch to a RetryingEmbedder. The
// RetryingEmbedder splits batches the provider rejects as too large, retries
// transient failures with exponential backoff and degrades records it cannot embed.
// Provider failures never escape: every input record yields exactly one Outcome, in
// input order.
//
// Basic usage:
//
//	p, err := embed.NewPipeline(provider.Embedder(), embed.WithConfig(cfg))
//	if err != nil {
//	    return err
//	}
//	defer p.Release()
//	outcomes := p.Process(ctx, records)
//	indexable, skipped := core.Partition(outcomes)
package embed
