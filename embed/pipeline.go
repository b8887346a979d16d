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
	"io"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/embedpipe/ai"
	"github.com/poiesic/embedpipe/core"
	"github.com/poiesic/embedpipe/telemetry"
)

// Pipeline embeds arbitrarily large record sets in provider-sized batches.
type Pipeline struct {
	client         ai.Embedder
	embedder       *RetryingEmbedder
	config         *Config
	pool           *ants.Pool
	sink           telemetry.Sink
	logger         *slog.Logger
	progress       io.Writer
	reportInterval int
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithConfig replaces the pipeline configuration.
// Default is DefaultConfig().
func WithConfig(config *Config) Option {
	return func(p *Pipeline) error {
		if config == nil {
			config = DefaultConfig()
		}
		cfg := *config
		p.config = &cfg
		return nil
	}
}

// WithWorkers sets how many batches are embedded concurrently.
// Values below 1 are treated as 1, which processes batches in sequence.
func WithWorkers(workers int) Option {
	return func(p *Pipeline) error {
		if workers < 1 {
			workers = 1
		}
		p.config.Workers = workers
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithSink sets the telemetry sink that receives retry, split and degrade events.
// Default discards events.
func WithSink(sink telemetry.Sink) Option {
	return func(p *Pipeline) error {
		if sink == nil {
			sink = telemetry.Nop()
		}
		p.sink = sink
		return nil
	}
}

// WithProgress writes a progress line to w every interval records.
func WithProgress(w io.Writer, interval int) Option {
	return func(p *Pipeline) error {
		p.progress = w
		p.reportInterval = interval
		return nil
	}
}

// NewPipeline creates a pipeline that embeds records through client.
func NewPipeline(client ai.Embedder, opts ...Option) (*Pipeline, error) {
	if client == nil {
		return nil, ErrEmbedderRequired
	}

	p := &Pipeline{
		client: client,
		config: DefaultConfig(),
		sink:   telemetry.Nop(),
		logger: slog.Default().With("component", "embed-pipeline"),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if err := p.config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := NewRetryingEmbedder(client, p.config, p.sink, p.logger)
	if err != nil {
		return nil, err
	}
	p.embedder = embedder

	if p.config.Workers > 1 {
		pool, err := ants.NewPool(p.config.Workers)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker pool: %w", err)
		}
		p.pool = pool
	}

	return p, nil
}

// Config returns a copy of the pipeline configuration.
func (p *Pipeline) Config() Config {
	return *p.config
}

// Process embeds records and returns exactly one Outcome per record, in input order.
//
// The batch size is estimated once from the first SampleSize records. Batches run in
// sequence unless the pipeline has more than one worker. A batch whose processing
// panics is degraded without affecting other batches. Once ctx is done no new
// provider calls are made and unresolved records are degraded.
func (p *Pipeline) Process(ctx context.Context, records []core.Record) []core.Outcome {
	out := make([]core.Outcome, len(records))
	if len(records) == 0 {
		return out
	}

	sample := records[:min(SampleSize, len(records))]
	batchSize := EstimateBatchSize(sample, p.config.Budget())
	p.logger.Debug("processing records", "records", len(records), "batch_size", batchSize, "workers", p.config.Workers)

	var tracker *ProgressTracker
	if p.progress != nil {
		tracker = NewProgressTracker(p.progress, len(records), p.reportInterval)
		tracker.Start()
		defer tracker.Finish()
	}

	if p.pool == nil {
		for start := 0; start < len(records); start += batchSize {
			end := min(start+batchSize, len(records))
			p.processSlice(ctx, records[start:end], out[start:end], tracker)
		}
		return out
	}

	var wg sync.WaitGroup
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		slice, dst := records[start:end], out[start:end]

		wg.Add(1)
		task := func() {
			defer wg.Done()
			p.processSlice(ctx, slice, dst, tracker)
		}
		if err := p.pool.Submit(task); err != nil {
			p.logger.Warn("worker pool rejected batch, running inline", "err", err)
			task()
		}
	}
	wg.Wait()

	return out
}

// processSlice embeds one slice into dst, turning a panic into degraded outcomes.
func (p *Pipeline) processSlice(ctx context.Context, slice []core.Record, dst []core.Outcome, tracker *ProgressTracker) {
	defer func() {
		if r := recover(); r != nil {
			p.sink.Report(ctx, telemetry.NewEvent(telemetry.OpPipeline, telemetry.CodePanic,
				"batch processing panicked, degrading batch", map[string]any{
					"batch_size": len(slice),
					"panic":      fmt.Sprint(r),
				}))
			for i, rec := range slice {
				dst[i] = core.DegradedOutcome(rec)
			}
			if tracker != nil {
				tracker.Add(len(slice), len(slice))
			}
		}
	}()

	outcomes := p.embedder.Embed(ctx, slice)
	copy(dst, outcomes)

	if tracker != nil {
		degraded := 0
		for _, o := range outcomes {
			if o.Degraded {
				degraded++
			}
		}
		tracker.Add(len(slice), degraded)
	}
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
