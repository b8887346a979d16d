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

import "errors"

// Domain validation errors
var (
	// ErrInvalidIdempotencyRecord indicates an IdempotencyRecord failed validation.
	ErrInvalidIdempotencyRecord = errors.New("invalid idempotency record")

	// ErrEmptyKey indicates the idempotency key is empty.
	ErrEmptyKey = errors.New("idempotency key cannot be empty")

	// ErrEmptyOperation indicates the operation name is empty.
	ErrEmptyOperation = errors.New("operation cannot be empty")

	// ErrInvalidRunStatus indicates an invalid RunStatus value.
	ErrInvalidRunStatus = errors.New("invalid run status")

	// ErrMissingTimestamp indicates a timestamp required by the record's status is zero.
	ErrMissingTimestamp = errors.New("required timestamp is missing")
)

// ErrMalformedData indicates serialized data declares an impossible length.
var ErrMalformedData = errors.New("malformed serialized data")
