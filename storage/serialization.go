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

package storage

import (
	"fmt"

	"github.com/poiesic/embedpipe/core"
)

// MarshalIdempotencyRecord serializes an IdempotencyRecord to bytes.
func MarshalIdempotencyRecord(record *core.IdempotencyRecord) []byte {
	buf := make([]byte, core.IdempotencyRecordMUS.Size(*record))
	core.IdempotencyRecordMUS.Marshal(*record, buf)
	return buf
}

// UnmarshalIdempotencyRecord deserializes an IdempotencyRecord from bytes.
func UnmarshalIdempotencyRecord(data []byte) (*core.IdempotencyRecord, error) {
	record, _, err := core.IdempotencyRecordMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &record, nil
}

// MarshalOutcomes serializes a slice of Outcomes to bytes.
func MarshalOutcomes(outcomes []core.Outcome) []byte {
	buf := make([]byte, core.OutcomesMUS.Size(outcomes))
	core.OutcomesMUS.Marshal(outcomes, buf)
	return buf
}

// UnmarshalOutcomes deserializes a slice of Outcomes from bytes.
func UnmarshalOutcomes(data []byte) ([]core.Outcome, error) {
	outcomes, _, err := core.OutcomesMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return outcomes, nil
}
