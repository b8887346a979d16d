// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/embedpipe/ai"
	"github.com/poiesic/embedpipe/core"
	"github.com/poiesic/embedpipe/retry"
	"github.com/poiesic/embedpipe/telemetry"
)

// RetryingEmbedder embeds one batch of records, recovering from provider faults.
//
// Oversized batches are split in half and each half is embedded on its own. Transient
// failures are retried with exponential backoff. Permanent failures, exhausted
// retries and cancellation degrade the affected records. Embed never fails: it
// always returns one Outcome per input record, in input order.
type RetryingEmbedder struct {
	client ai.Embedder
	config Config
	sink   telemetry.Sink
	logger *slog.Logger
}

// NewRetryingEmbedder creates a RetryingEmbedder.
// A nil config uses DefaultConfig, a nil sink discards events and a nil logger uses slog.Default().
func NewRetryingEmbedder(client ai.Embedder, config *Config, sink telemetry.Sink, logger *slog.Logger) (*RetryingEmbedder, error) {
	if client == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = telemetry.Nop()
	}
	if logger == nil {
		logger = slog.Default().With("component", "retrying-embedder")
	}

	return &RetryingEmbedder{
		client: client,
		config: *config,
		sink:   sink,
		logger: logger,
	}, nil
}

// Embed returns one Outcome per record in batch.
// Records with blank content get an empty, non-degraded embedding and are not sent
// to the provider.
func (e *RetryingEmbedder) Embed(ctx context.Context, batch []core.Record) []core.Outcome {
	out := make([]core.Outcome, len(batch))

	pending := make([]int, 0, len(batch))
	for i, r := range batch {
		if core.IsBlank(r.Content) {
			out[i] = core.Outcome{Record: r, Embedding: []float32{}}
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out
	}

	records := make([]core.Record, len(pending))
	for j, idx := range pending {
		records[j] = batch[idx]
	}

	results := e.embed(ctx, records, e.config.InitialDelay)
	for j, idx := range pending {
		out[idx] = results[j]
	}
	return out
}

// embed runs the attempt/split/backoff loop for batch, starting from delay.
func (e *RetryingEmbedder) embed(ctx context.Context, batch []core.Record, delay time.Duration) []core.Outcome {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return e.cancelled(ctx, batch)
		}

		vectors, err := e.call(ctx, batch)
		if err == nil {
			out := make([]core.Outcome, len(batch))
			for i, r := range batch {
				out[i] = core.Outcome{Record: r, Embedding: NormalizeVector(vectors[i])}
			}
			if attempt > 0 {
				e.logger.Debug("batch embedded after retry", "attempt", attempt+1, "batch_size", len(batch))
			}
			return out
		}

		if ctx.Err() != nil {
			return e.cancelled(ctx, batch)
		}

		kind := ai.Classify(err)
		switch {
		case kind == ai.KindPayloadTooLarge && len(batch) > 1:
			mid := len(batch) / 2
			e.report(ctx, telemetry.CodeSplit, "payload too large, splitting batch", err, map[string]any{
				"batch_size": len(batch),
				"left":       mid,
				"right":      len(batch) - mid,
			})
			left := e.embed(ctx, batch[:mid], delay)
			right := e.embed(ctx, batch[mid:], delay)
			return append(left, right...)

		case kind == ai.KindPermanent:
			e.report(ctx, telemetry.CodeDegrade, "permanent provider error, degrading batch", err, map[string]any{
				"batch_size": len(batch),
				"attempts":   attempt + 1,
				"kind":       kind.String(),
			})
			return degrade(batch)

		case attempt >= e.config.MaxRetries:
			e.report(ctx, telemetry.CodeDegrade, "retries exhausted, degrading batch", err, map[string]any{
				"batch_size": len(batch),
				"attempts":   attempt + 1,
				"kind":       kind.String(),
			})
			return degrade(batch)
		}

		e.report(ctx, telemetry.CodeRetry, "embedding failed, backing off", err, map[string]any{
			"batch_size": len(batch),
			"attempt":    attempt + 1,
			"delay":      delay.String(),
			"kind":       kind.String(),
		})
		if retry.Sleep(ctx, delay) != nil {
			return e.cancelled(ctx, batch)
		}
		delay = time.Duration(float64(delay) * e.config.BackoffFactor)
		attempt++
	}
}

// call sends batch to the provider and checks the shape of the answer.
func (e *RetryingEmbedder) call(ctx context.Context, batch []core.Record) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.Content
	}

	vectors, err := e.client.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, ai.Transient(fmt.Errorf("%w: expected %d, got %d", ErrCountMismatch, len(batch), len(vectors)))
	}
	if e.config.Dimensions > 0 {
		for i, v := range vectors {
			if len(v) != e.config.Dimensions {
				return nil, ai.Permanent(fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
					ErrDimensionMismatch, i, len(v), e.config.Dimensions))
			}
		}
	}
	return vectors, nil
}

func (e *RetryingEmbedder) cancelled(ctx context.Context, batch []core.Record) []core.Outcome {
	e.report(ctx, telemetry.CodeCancelled, "context done, degrading batch", context.Cause(ctx), map[string]any{
		"batch_size": len(batch),
	})
	return degrade(batch)
}

func (e *RetryingEmbedder) report(ctx context.Context, code, msg string, err error, kv map[string]any) {
	if err != nil {
		kv["error"] = err.Error()
	}
	e.sink.Report(ctx, telemetry.NewEvent(telemetry.OpEmbedBatch, code, msg, kv))
}

func degrade(batch []core.Record) []core.Outcome {
	out := make([]core.Outcome, len(batch))
	for i, r := range batch {
		out[i] = core.DegradedOutcome(r)
	}
	return out
}
