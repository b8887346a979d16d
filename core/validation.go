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


package core

import (
	"fmt"
)

// ValidateIdempotencyRecord validates an IdempotencyRecord according to domain rules.
//
// Validation rules:
//   - Key must not be empty
//   - Operation must not be empty
//   - Status must be valid
//   - StartedAt must be set
//   - CompletedAt must be set for completed records, FailedAt for failed records
//
// NOT validated:
//   - Result (a completed run may legitimately produce an empty result)
//   - Owner (records written by older versions carry none)
func ValidateIdempotencyRecord(record *IdempotencyRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidIdempotencyRecord)
	}

	if record.Key == "" {
		return fmt.Errorf("%w: %w", ErrInvalidIdempotencyRecord, ErrEmptyKey)
	}

	if record.Operation == "" {
		return fmt.Errorf("%w: %w", ErrInvalidIdempotencyRecord, ErrEmptyOperation)
	}

	if err := ValidateRunStatus(record.Status); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidIdempotencyRecord, err)
	}

	if record.StartedAt.IsZero() {
		return fmt.Errorf("%w: %w: startedAt", ErrInvalidIdempotencyRecord, ErrMissingTimestamp)
	}

	switch record.Status {
	case RunStatusCompleted:
		if record.CompletedAt.IsZero() {
			return fmt.Errorf("%w: %w: completedAt", ErrInvalidIdempotencyRecord, ErrMissingTimestamp)
		}
	case RunStatusFailed:
		if record.FailedAt.IsZero() {
			return fmt.Errorf("%w: %w: failedAt", ErrInvalidIdempotencyRecord, ErrMissingTimestamp)
		}
	}

	return nil
}

// ValidateRunStatus validates that a RunStatus has a valid value.
func ValidateRunStatus(status RunStatus) error {
	if status < RunStatusProcessing || status > RunStatusFailed {
		return fmt.Errorf("%w: value %d", ErrInvalidRunStatus, status)
	}
	return nil
}
