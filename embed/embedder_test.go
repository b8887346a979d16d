package embed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/embedpipe/ai"
	"github.com/poiesic/embedpipe/ai/mock"
	"github.com/poiesic/embedpipe/core"
	"github.com/poiesic/embedpipe/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recordingSink) Report(_ context.Context, e telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) count(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.ErrorCode == code {
			n++
		}
	}
	return n
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	return cfg
}

func newTestEmbedder(t *testing.T, client ai.Embedder, cfg *Config) (*RetryingEmbedder, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	e, err := NewRetryingEmbedder(client, cfg, sink, nil)
	require.NoError(t, err)
	return e, sink
}

func alwaysFail(err error) func(context.Context, []string) ([][]float32, error) {
	return func(context.Context, []string) ([][]float32, error) {
		return nil, err
	}
}

func TestNewRetryingEmbedder_Validation(t *testing.T) {
	_, err := NewRetryingEmbedder(nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	cfg := DefaultConfig()
	cfg.BackoffFactor = 0
	_, err = NewRetryingEmbedder(mock.NewMockEmbedder(), cfg, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEmbed_EndToEndNormalization(t *testing.T) {
	client := mock.NewMockEmbedder().WithEmbedTextsFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		lookup := map[string][]float32{
			"a": {3, 0, 0, 0},
			"b": {0, 4, 0, 0},
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = lookup[text]
		}
		return out, nil
	})
	e, _ := newTestEmbedder(t, client, testConfig())

	outcomes := e.Embed(context.Background(), recordsOf("a", "b"))

	require.Len(t, outcomes, 2)
	assert.Equal(t, []float32{1, 0, 0, 0}, outcomes[0].Embedding)
	assert.Equal(t, []float32{0, 1, 0, 0}, outcomes[1].Embedding)
	assert.False(t, outcomes[0].Degraded)
	assert.False(t, outcomes[1].Degraded)
	assert.Equal(t, "a", outcomes[0].Record.Content)
	assert.Equal(t, "b", outcomes[1].Record.Content)
	assert.Equal(t, 1, client.CallCount())
}

func TestEmbed_DegradesAfterRetries(t *testing.T) {
	client := mock.NewMockEmbedder().WithEmbedTextsFunc(alwaysFail(errors.New("rate limited")))
	cfg := testConfig()
	cfg.MaxRetries = 1
	e, sink := newTestEmbedder(t, client, cfg)

	batch := recordsOf("one", "two", "three")
	outcomes := e.Embed(context.Background(), batch)

	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.True(t, o.Degraded)
		assert.NotNil(t, o.Embedding)
		assert.Empty(t, o.Embedding)
		assert.Equal(t, batch[i], o.Record)
	}
	assert.Equal(t, 2, client.CallCount(), "maxRetries+1 attempts")
	assert.Equal(t, 1, sink.count(telemetry.CodeRetry))
	assert.Equal(t, 1, sink.count(telemetry.CodeDegrade))
}

func TestEmbed_BackoffSchedule(t *testing.T) {
	var mu sync.Mutex
	var calls []time.Time
	client := mock.NewMockEmbedder().WithEmbedTextsFunc(func(context.Context, []string) ([][]float32, error) {
		mu.Lock()
		calls = append(calls, time.Now())
		mu.Unlock()
		return nil, ai.Transient(errors.New("503 service unavailable"))
	})
	cfg := testConfig()
	cfg.MaxRetries = 3
	cfg.InitialDelay = 10 * time.Millisecond
	e, _ := newTestEmbedder(t, client, cfg)

	outcomes := e.Embed(context.Background(), recordsOf("x", "y"))

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Degraded)
	assert.True(t, outcomes[1].Degraded)
	require.Len(t, calls, 4, "exactly maxRetries+1 attempts")

	expected := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	for i, want := range expected {
		got := calls[i+1].Sub(calls[i])
		assert.GreaterOrEqual(t, got, want, "delay %d", i)
		assert.Less(t, got, want+100*time.Millisecond, "delay %d", i)
	}
}

func TestEmbed_SplitsOversizedBatches(t *testing.T) {
	const limit = 3
	client := mock.NewMockEmbedder()
	client.Dimensions = 8
	client.WithEmbedTextsFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		if len(texts) > limit {
			return nil, ai.PayloadTooLarge(errors.New("request entity too large"))
		}
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 2, 3, 4, 5, 6, 7, float32(i + 1)}
		}
		return out, nil
	})
	cfg := testConfig()
	cfg.MaxRetries = 0
	e, sink := newTestEmbedder(t, client, cfg)

	batch := make([]core.Record, 20)
	for i := range batch {
		batch[i] = core.Record{Id: string(rune('a' + i)), Content: "text " + string(rune('a'+i))}
	}
	outcomes := e.Embed(context.Background(), batch)

	require.Len(t, outcomes, len(batch))
	for i, o := range outcomes {
		assert.False(t, o.Degraded, "record %d", i)
		assert.Equal(t, batch[i], o.Record, "order preserved")
		assert.Len(t, o.Embedding, 8)
	}
	assert.Zero(t, sink.count(telemetry.CodeRetry), "splitting does not consume retries")
	assert.Positive(t, sink.count(telemetry.CodeSplit))

	batches := client.Batches()
	require.NotEmpty(t, batches)
	assert.Len(t, batches[0], len(batch), "whole batch is tried first")
}

func TestEmbed_SingleOversizedRecordRetriesThenDegrades(t *testing.T) {
	client := mock.NewMockEmbedder().WithEmbedTextsFunc(alwaysFail(ai.PayloadTooLarge(errors.New("413"))))
	cfg := testConfig()
	cfg.MaxRetries = 2
	e, sink := newTestEmbedder(t, client, cfg)

	outcomes := e.Embed(context.Background(), recordsOf("huge"))

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Degraded)
	assert.Equal(t, 3, client.CallCount())
	assert.Zero(t, sink.count(telemetry.CodeSplit))
}

func TestEmbed_OnlyOversizedRecordDegrades(t *testing.T) {
	client := mock.NewMockEmbedder().WithEmbedTextsFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		for _, text := range texts {
			if text == "huge" {
				return nil, ai.PayloadTooLarge(errors.New("payload too large"))
			}
		}
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0, 2}
		}
		return out, nil
	})
	cfg := testConfig()
	cfg.MaxRetries = 1
	e, _ := newTestEmbedder(t, client, cfg)

	outcomes := e.Embed(context.Background(), recordsOf("a", "b", "huge", "c"))

	require.Len(t, outcomes, 4)
	assert.False(t, outcomes[0].Degraded)
	assert.False(t, outcomes[1].Degraded)
	assert.True(t, outcomes[2].Degraded)
	assert.False(t, outcomes[3].Degraded)
	assert.Equal(t, []float32{0, 1}, outcomes[3].Embedding)
}

func TestEmbed_PermanentErrorFailsFast(t *testing.T) {
	client := mock.NewMockEmbedder().WithEmbedTextsFunc(alwaysFail(ai.Permanent(errors.New("401 unauthorized"))))
	cfg := testConfig()
	cfg.MaxRetries = 5
	e, sink := newTestEmbedder(t, client, cfg)

	outcomes := e.Embed(context.Background(), recordsOf("a", "b"))

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Degraded)
	assert.True(t, outcomes[1].Degraded)
	assert.Equal(t, 1, client.CallCount())
	assert.Zero(t, sink.count(telemetry.CodeRetry))
}

func TestEmbed_BlankContentShortCircuits(t *testing.T) {
	client := mock.NewMockEmbedder()
	client.Dimensions = 4
	e, _ := newTestEmbedder(t, client, testConfig())

	outcomes := e.Embed(context.Background(), recordsOf("", "real", "  \n\t"))

	require.Len(t, outcomes, 3)
	assert.False(t, outcomes[0].Degraded)
	assert.Empty(t, outcomes[0].Embedding)
	assert.Len(t, outcomes[1].Embedding, 4)
	assert.False(t, outcomes[2].Degraded)
	assert.Empty(t, outcomes[2].Embedding)

	require.Len(t, client.Batches(), 1)
	assert.Equal(t, []string{"real"}, client.Batches()[0])

	client.Reset()
	outcomes = e.Embed(context.Background(), recordsOf(" ", ""))
	assert.Len(t, outcomes, 2)
	assert.Zero(t, client.CallCount(), "all-blank batch never reaches the provider")
}

func TestEmbed_CancelledBeforeCall(t *testing.T) {
	client := mock.NewMockEmbedder()
	e, sink := newTestEmbedder(t, client, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes := e.Embed(ctx, recordsOf("a", "b"))

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Degraded)
	assert.True(t, outcomes[1].Degraded)
	assert.Zero(t, client.CallCount())
	assert.Equal(t, 1, sink.count(telemetry.CodeCancelled))
}

func TestEmbed_CancelledDuringBackoff(t *testing.T) {
	client := mock.NewMockEmbedder().WithEmbedTextsFunc(alwaysFail(errors.New("rate limited")))
	cfg := testConfig()
	cfg.InitialDelay = time.Hour
	e, _ := newTestEmbedder(t, client, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	outcomes := e.Embed(ctx, recordsOf("a"))

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Degraded)
	assert.Equal(t, 1, client.CallCount())
}

func TestEmbed_CountMismatchIsRetried(t *testing.T) {
	calls := 0
	client := mock.NewMockEmbedder().WithEmbedTextsFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			return [][]float32{{1}}, nil
		}
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{2}
		}
		return out, nil
	})
	e, sink := newTestEmbedder(t, client, testConfig())

	outcomes := e.Embed(context.Background(), recordsOf("a", "b"))

	require.Len(t, outcomes, 2)
	assert.Equal(t, []float32{1}, outcomes[0].Embedding)
	assert.Equal(t, []float32{1}, outcomes[1].Embedding)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, sink.count(telemetry.CodeRetry))
}

func TestEmbed_DimensionMismatchIsPermanent(t *testing.T) {
	client := mock.NewMockEmbedder()
	client.Dimensions = 3
	cfg := testConfig()
	cfg.Dimensions = 4
	e, _ := newTestEmbedder(t, client, cfg)

	outcomes := e.Embed(context.Background(), recordsOf("a"))

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Degraded)
	assert.Equal(t, 1, client.CallCount())
}

func TestEmbed_EmptyBatch(t *testing.T) {
	client := mock.NewMockEmbedder()
	e, _ := newTestEmbedder(t, client, testConfig())

	outcomes := e.Embed(context.Background(), nil)
	assert.Empty(t, outcomes)
	assert.Zero(t, client.CallCount())
}
