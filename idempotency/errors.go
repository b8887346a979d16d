package idempotency

import "errors"

var (
	// ErrInProgress is returned when another live run holds the key.
	ErrInProgress = errors.New("run already in progress")

	// ErrNotOwner is returned when the run's final state could not be recorded
	// because another run took the key over in the meantime.
	ErrNotOwner = errors.New("run no longer owns the idempotency key")

	// ErrOperationMismatch is returned when a key is reused for a different operation.
	ErrOperationMismatch = errors.New("idempotency key belongs to another operation")

	// ErrNoRepository is returned by inspection methods of a coordinator without storage.
	ErrNoRepository = errors.New("no idempotency repository configured")
)
