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

package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/embedpipe/core"
	"github.com/poiesic/embedpipe/retry"
	"github.com/poiesic/embedpipe/storage"
	"github.com/poiesic/embedpipe/telemetry"
)

// DefaultStaleAfter is how old a processing record must be before another run may take it over.
const DefaultStaleAfter = 15 * time.Minute

const (
	defaultWriteAttempts = 3
	defaultWriteDelay    = 50 * time.Millisecond
)

// Func is a keyed operation. Its result is stored verbatim on success.
type Func func(ctx context.Context) ([]byte, error)

// Coordinator guarantees that at most one run per key commits a result.
type Coordinator struct {
	repo          storage.IdempotencyRepository
	staleAfter    time.Duration
	writeAttempts int
	writeDelay    time.Duration
	sink          telemetry.Sink
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStaleAfter sets the age after which a processing record is considered abandoned.
// Zero never takes over a processing record.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Coordinator) {
		if d < 0 {
			d = 0
		}
		c.staleAfter = d
	}
}

// WithWriteRetry sets how often the final state write is attempted and the initial backoff.
func WithWriteRetry(attempts int, delay time.Duration) Option {
	return func(c *Coordinator) {
		if attempts < 1 {
			attempts = 1
		}
		c.writeAttempts = attempts
		c.writeDelay = delay
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSink sets the telemetry sink that receives state transitions.
func WithSink(sink telemetry.Sink) Option {
	return func(c *Coordinator) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// NewCoordinator creates a Coordinator backed by repo.
// A nil repo yields a coordinator that runs every operation directly, without any guarantee.
func NewCoordinator(repo storage.IdempotencyRepository, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:          repo,
		staleAfter:    DefaultStaleAfter,
		writeAttempts: defaultWriteAttempts,
		writeDelay:    defaultWriteDelay,
		sink:          telemetry.Nop(),
		logger:        slog.Default().With("component", "idempotency"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes fn under key unless a run under key already completed.
//
// A completed run's stored result is returned without invoking fn. If another run
// holds the key and is younger than the stale threshold, ErrInProgress is returned.
// When fn fails the failure is recorded and fn's error is returned.
func (c *Coordinator) Run(ctx context.Context, key, operation string, fn Func) ([]byte, error) {
	if c.repo == nil {
		return fn(ctx)
	}
	if key == "" {
		return nil, core.ErrEmptyKey
	}
	if operation == "" {
		return nil, core.ErrEmptyOperation
	}

	claimed, done, err := c.claim(ctx, key, operation)
	if err != nil {
		return nil, err
	}
	if done != nil {
		return done.Result, nil
	}

	result, fnErr := fn(ctx)

	// Bookkeeping outlives cancellation of the run itself
	writeCtx := context.WithoutCancel(ctx)

	if fnErr != nil {
		next := *claimed
		next.Status = core.RunStatusFailed
		next.Error = fnErr.Error()
		next.FailedAt = c.now().UTC()
		if err := c.finish(writeCtx, claimed, &next); err != nil {
			return nil, errors.Join(fnErr, err)
		}
		c.report(ctx, telemetry.CodeRunFailed, "run failed", &next)
		return nil, fnErr
	}

	next := *claimed
	next.Status = core.RunStatusCompleted
	next.Result = result
	next.CompletedAt = c.now().UTC()
	if err := c.finish(writeCtx, claimed, &next); err != nil {
		return result, err
	}
	c.report(ctx, telemetry.CodeRunCompleted, "run completed", &next)
	return result, nil
}

// claim takes ownership of key, or returns the completed record to replay.
func (c *Coordinator) claim(ctx context.Context, key, operation string) (claimed, done *core.IdempotencyRecord, err error) {
	// Two passes: a lost create or takeover race is re-read once
	for pass := 0; pass < 2; pass++ {
		current, err := c.repo.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			rec := c.newProcessing(key, operation)
			err = c.repo.Create(ctx, rec)
			if err == nil {
				c.report(ctx, telemetry.CodeRunStarted, "run started", rec)
				return rec, nil, nil
			}
			if errors.Is(err, storage.ErrDuplicateKey) {
				continue
			}
			return nil, nil, fmt.Errorf("failed to create idempotency record: %w", err)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read idempotency record: %w", err)
		}

		if current.Operation != operation {
			return nil, nil, fmt.Errorf("%w: key %q is used by %q", ErrOperationMismatch, key, current.Operation)
		}

		switch current.Status {
		case core.RunStatusCompleted:
			c.report(ctx, telemetry.CodeRunReplayed, "returning stored result", current)
			return nil, current, nil
		case core.RunStatusProcessing:
			if !c.isStale(current) {
				c.report(ctx, telemetry.CodeRunConflict, "run already in progress", current)
				return nil, nil, fmt.Errorf("%w: key %q started at %s", ErrInProgress, key, current.StartedAt.Format(time.RFC3339))
			}
		}

		rec := c.newProcessing(key, operation)
		err = c.repo.CompareAndSwap(ctx, current, rec)
		if err == nil {
			c.report(ctx, telemetry.CodeRunTakeover, "took over "+current.Status.String()+" run", rec)
			return rec, nil, nil
		}
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			continue
		}
		return nil, nil, fmt.Errorf("failed to take over idempotency record: %w", err)
	}

	c.report(ctx, telemetry.CodeRunConflict, "lost race for idempotency key", &core.IdempotencyRecord{Key: key, Operation: operation})
	return nil, nil, fmt.Errorf("%w: key %q", ErrInProgress, key)
}

// finish writes the final state of a claimed run, retrying transient storage failures.
func (c *Coordinator) finish(ctx context.Context, claimed, next *core.IdempotencyRecord) error {
	err := retry.WithBackoffIf(ctx, func() error {
		return c.repo.CompareAndSwap(ctx, claimed, next)
	}, c.writeAttempts, c.writeDelay, isTransientStorageError)
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		c.report(ctx, telemetry.CodeRunConflict, "run lost ownership before finishing", claimed)
		return fmt.Errorf("%w: key %q: %w", ErrNotOwner, claimed.Key, err)
	}
	return fmt.Errorf("failed to record %s run: %w", next.Status, err)
}

func isTransientStorageError(err error) bool {
	return !errors.Is(err, storage.ErrConflict) &&
		!errors.Is(err, storage.ErrNotFound) &&
		!errors.Is(err, storage.ErrStorageClosed) &&
		!errors.Is(err, core.ErrInvalidIdempotencyRecord)
}

func (c *Coordinator) isStale(rec *core.IdempotencyRecord) bool {
	return c.staleAfter > 0 && c.now().Sub(rec.StartedAt) >= c.staleAfter
}

func (c *Coordinator) newProcessing(key, operation string) *core.IdempotencyRecord {
	return &core.IdempotencyRecord{
		Key:       key,
		Operation: operation,
		Status:    core.RunStatusProcessing,
		Owner:     uuid.NewString(),
		StartedAt: c.now().UTC().Truncate(time.Microsecond),
	}
}

func (c *Coordinator) report(ctx context.Context, code, msg string, rec *core.IdempotencyRecord) {
	kv := map[string]any{
		"key":       rec.Key,
		"operation": rec.Operation,
	}
	if rec.Status != 0 {
		kv["status"] = rec.Status.String()
	}
	if rec.Owner != "" {
		kv["owner"] = rec.Owner
	}
	if rec.Error != "" {
		kv["error"] = rec.Error
	}
	c.sink.Report(ctx, telemetry.NewEvent(telemetry.OpIdempotency, code, msg, kv))
}

// Status returns the record stored under key.
func (c *Coordinator) Status(ctx context.Context, key string) (*core.IdempotencyRecord, error) {
	if c.repo == nil {
		return nil, ErrNoRepository
	}
	return c.repo.Get(ctx, key)
}

// Forget deletes the record stored under key so the next run executes again.
func (c *Coordinator) Forget(ctx context.Context, key string) error {
	if c.repo == nil {
		return ErrNoRepository
	}
	if err := c.repo.Delete(ctx, key); err != nil {
		return err
	}
	c.logger.Info("forgot idempotency record", "key", key)
	return nil
}
