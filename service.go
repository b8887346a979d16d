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

package embedpipe

import (
	"context"
	"log/slog"

	"github.com/poiesic/embedpipe/ai"
	"github.com/poiesic/embedpipe/ai/breaker"
	"github.com/poiesic/embedpipe/ai/openai"
	"github.com/poiesic/embedpipe/core"
	"github.com/poiesic/embedpipe/embed"
	"github.com/poiesic/embedpipe/idempotency"
	"github.com/poiesic/embedpipe/storage"
	"github.com/poiesic/embedpipe/storage/badger"
	"github.com/poiesic/embedpipe/telemetry"
)

// OperationEmbed is the idempotency operation name of an embedding run.
const OperationEmbed = "embed"

// Service wires an embedding provider, the embedding pipeline and the idempotency
// store into one handle.
type Service struct {
	backend     *badger.Backend
	repo        storage.IdempotencyRepository
	provider    ai.AIProvider
	pipeline    *embed.Pipeline
	coordinator *idempotency.Coordinator
	logger      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	aiConfig        *ai.Config
	provider        ai.AIProvider
	pipelineConfig  *embed.Config
	pipelineOpts    []embed.Option
	coordinatorOpts []idempotency.Option
	breakerConfig   *breaker.Config
	sink            telemetry.Sink
	inMemory        bool
}

// WithAIConfig sets the configuration of the default OpenAI-compatible provider.
func WithAIConfig(config *ai.Config) ServiceOption {
	return func(o *serviceOptions) {
		o.aiConfig = config
	}
}

// WithProvider supplies the embedding provider, replacing the OpenAI-compatible default.
// The Service takes ownership and closes it.
func WithProvider(provider ai.AIProvider) ServiceOption {
	return func(o *serviceOptions) {
		o.provider = provider
	}
}

// WithPipelineConfig sets the pipeline configuration.
func WithPipelineConfig(config *embed.Config) ServiceOption {
	return func(o *serviceOptions) {
		o.pipelineConfig = config
	}
}

// WithPipelineOptions appends options passed to embed.NewPipeline.
func WithPipelineOptions(opts ...embed.Option) ServiceOption {
	return func(o *serviceOptions) {
		o.pipelineOpts = append(o.pipelineOpts, opts...)
	}
}

// WithCoordinatorOptions appends options passed to idempotency.NewCoordinator.
func WithCoordinatorOptions(opts ...idempotency.Option) ServiceOption {
	return func(o *serviceOptions) {
		o.coordinatorOpts = append(o.coordinatorOpts, opts...)
	}
}

// WithCircuitBreaker guards the provider with a circuit breaker.
func WithCircuitBreaker(config breaker.Config) ServiceOption {
	return func(o *serviceOptions) {
		o.breakerConfig = &config
	}
}

// WithSink sets the telemetry sink shared by the pipeline and the coordinator.
func WithSink(sink telemetry.Sink) ServiceOption {
	return func(o *serviceOptions) {
		o.sink = sink
	}
}

// WithInMemory keeps idempotency records in memory instead of on disk.
func WithInMemory() ServiceOption {
	return func(o *serviceOptions) {
		o.inMemory = true
	}
}

// NewService creates a Service storing idempotency records under filePath.
// An empty filePath without WithInMemory disables idempotency: keyed runs execute every time.
func NewService(filePath string, opts ...ServiceOption) (*Service, error) {
	options := &serviceOptions{
		aiConfig:       ai.DefaultConfig(),
		pipelineConfig: embed.DefaultConfig(),
		sink:           telemetry.NewLogSink(nil),
	}
	for _, opt := range opts {
		opt(options)
	}

	logger := slog.Default().With("component", "embedpipe")
	s := &Service{logger: logger}

	if filePath != "" || options.inMemory {
		backend, err := badger.OpenBackend(filePath, options.inMemory)
		if err != nil {
			return nil, err
		}
		repo, err := badger.NewIdempotencyRepository(backend)
		if err != nil {
			backend.Close()
			return nil, err
		}
		s.backend = backend
		s.repo = repo
	} else {
		logger.Warn("no idempotency store configured, keyed runs are not deduplicated")
	}

	provider := options.provider
	if provider == nil {
		if options.aiConfig.RequestBatchSize < options.pipelineConfig.MaxBatchSize {
			logger.Warn("raising provider request batch size to pipeline max batch size",
				"request_batch_size", options.aiConfig.RequestBatchSize,
				"max_batch_size", options.pipelineConfig.MaxBatchSize)
			options.aiConfig.RequestBatchSize = options.pipelineConfig.MaxBatchSize
		}
		var err error
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			s.closeStorage()
			return nil, err
		}
	}
	s.provider = provider

	embedder := provider.Embedder()
	if options.breakerConfig != nil {
		embedder = breaker.New(embedder, *options.breakerConfig)
	}

	pipelineOpts := append([]embed.Option{
		embed.WithConfig(options.pipelineConfig),
		embed.WithSink(options.sink),
	}, options.pipelineOpts...)
	pipeline, err := embed.NewPipeline(embedder, pipelineOpts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.pipeline = pipeline

	coordinatorOpts := append([]idempotency.Option{
		idempotency.WithSink(options.sink),
	}, options.coordinatorOpts...)
	s.coordinator = idempotency.NewCoordinator(s.repo, coordinatorOpts...)

	return s, nil
}

// Embed embeds records. With a non-empty key the run executes at most once: a
// repeated call returns the outcomes of the completed run.
// Provider failures never produce an error; they show up as degraded outcomes.
// A keyed run interrupted by ctx returns its partial outcomes with the cancellation
// cause and is not recorded as completed.
func (s *Service) Embed(ctx context.Context, key string, records []core.Record) ([]core.Outcome, error) {
	if key == "" {
		return s.pipeline.Process(ctx, records), nil
	}
	return idempotency.RunOutcomes(ctx, s.coordinator, key, OperationEmbed,
		func(ctx context.Context) ([]core.Outcome, error) {
			outcomes := s.pipeline.Process(ctx, records)
			if ctx.Err() != nil {
				// An interrupted run is recorded as failed so the next call takes it over
				return outcomes, context.Cause(ctx)
			}
			return outcomes, nil
		})
}

// Pipeline returns the embedding pipeline.
func (s *Service) Pipeline() *embed.Pipeline {
	return s.pipeline
}

// Coordinator returns the idempotency coordinator.
func (s *Service) Coordinator() *idempotency.Coordinator {
	return s.coordinator
}

// Close releases the pipeline, the provider and the store.
func (s *Service) Close() error {
	if s.pipeline != nil {
		s.pipeline.Release()
	}

	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
		}
	}

	return s.closeStorage()
}

func (s *Service) closeStorage() error {
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			s.logger.Error("error closing idempotency repository", "err", err)
			return err
		}
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Error("error closing backend storage", "err", err)
			return err
		}
	}
	return nil
}
