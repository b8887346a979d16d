package embed

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/poiesic/embedpipe/core"
)

// SampleSize is the number of leading records used to estimate a run's batch size.
const SampleSize = 10

// Budget bounds how many records go into a single provider request.
type Budget struct {
	MaxPayloadBytes int
	MinBatchSize    int
	MaxBatchSize    int
}

// DefaultBudget returns the default request budget.
func DefaultBudget() Budget {
	return Budget{
		MaxPayloadBytes: 30000,
		MinBatchSize:    1,
		MaxBatchSize:    50,
	}
}

// Validate checks that the budget bounds are consistent.
func (b Budget) Validate() error {
	if b.MaxPayloadBytes < 1 {
		return fmt.Errorf("%w: max payload bytes must be at least 1", ErrInvalidBudget)
	}
	if b.MinBatchSize < 1 {
		return fmt.Errorf("%w: min batch size must be at least 1", ErrInvalidBudget)
	}
	if b.MaxBatchSize < b.MinBatchSize {
		return fmt.Errorf("%w: max batch size %d is below min batch size %d",
			ErrInvalidBudget, b.MaxBatchSize, b.MinBatchSize)
	}
	return nil
}

// EstimateBatchSize returns the number of records per request whose payload should
// stay under budget.MaxPayloadBytes, judged from the average size of sample.
//
// The result is clamped to [MinBatchSize, MaxBatchSize] and is never below 1.
// An empty sample yields MaxBatchSize. The estimate is a heuristic: batches of
// uneven records can still exceed the provider limit.
func EstimateBatchSize(sample []core.Record, budget Budget) int {
	size := budget.MaxBatchSize
	if len(sample) > 0 {
		total := 0
		for _, r := range sample {
			total += payloadSize(r.Content)
		}
		average := float64(total) / float64(len(sample))
		size = int(float64(budget.MaxPayloadBytes) / average)
	}

	if size > budget.MaxBatchSize {
		size = budget.MaxBatchSize
	}
	if size < budget.MinBatchSize {
		size = budget.MinBatchSize
	}
	if size < 1 {
		size = 1
	}
	return size
}

type payloadItem struct {
	Text string `json:"text"`
}

// payloadSize is the UTF-8 byte length of content as the provider sees it: {"text":content}.
func payloadSize(content string) int {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payloadItem{Text: content}); err != nil {
		return len(content) + len(`{"text":""}`)
	}
	// Encode appends a newline
	return buf.Len() - 1
}
