package breaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/embedpipe/ai"
	"github.com/sony/gobreaker"
)

// Config holds circuit breaker settings.
type Config struct {
	// Name identifies the breaker in logs.
	Name string

	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which counts are cleared.
	// Zero never clears counts while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// FailureRatio trips the breaker once at least MinRequests have been seen
	// and this fraction of them failed.
	FailureRatio float64

	// MinRequests is the number of requests required before FailureRatio applies.
	MinRequests uint32
}

// DefaultConfig returns breaker settings suited to a rate-limited embedding API.
func DefaultConfig() Config {
	return Config{
		Name:         "embedder",
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  5,
	}
}

// Embedder wraps an ai.Embedder with a circuit breaker.
//
// Only transient failures count against the breaker: an oversized payload or a
// permanent error says nothing about the provider's health. While the breaker is
// open, calls fail fast with a transient error wrapping gobreaker.ErrOpenState.
type Embedder struct {
	inner  ai.Embedder
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// New wraps inner with a circuit breaker configured by cfg.
func New(inner ai.Embedder, cfg Config) *Embedder {
	logger := slog.Default().With("component", "embedder-breaker", "breaker", cfg.Name)

	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				logger.Warn("circuit breaker opened", "from", from.String(), "to", to.String())
				return
			}
			logger.Info("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || ai.Classify(err) != ai.KindTransient
		},
	}

	return &Embedder{
		inner:  inner,
		cb:     gobreaker.NewCircuitBreaker(st),
		logger: logger,
	}
}

// State returns the breaker's current state.
func (e *Embedder) State() gobreaker.State {
	return e.cb.State()
}

// EmbedText implements ai.Embedder.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.cb.Execute(func() (interface{}, error) {
		return e.inner.EmbedText(ctx, text)
	})
	if err != nil {
		return nil, wrapBreakerError(err)
	}
	return resp.([]float32), nil
}

// EmbedTexts implements ai.Embedder.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.cb.Execute(func() (interface{}, error) {
		return e.inner.EmbedTexts(ctx, texts)
	})
	if err != nil {
		return nil, wrapBreakerError(err)
	}
	return resp.([][]float32), nil
}

func wrapBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ai.Transient(err)
	}
	return err
}
