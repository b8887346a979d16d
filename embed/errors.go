package embed

import "errors"

var (
	// ErrEmbedderRequired is returned when a nil ai.Embedder is supplied.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrInvalidBudget is returned when a Budget's bounds are inconsistent.
	ErrInvalidBudget = errors.New("invalid batch size budget")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid pipeline config")

	// ErrCountMismatch is returned when the provider answers with a different number
	// of vectors than texts sent.
	ErrCountMismatch = errors.New("embedding count mismatch")

	// ErrDimensionMismatch is returned when a vector does not have the configured dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
