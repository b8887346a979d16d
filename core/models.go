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
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-crypt/x/blake2b"
)

// ID is a content-derived identifier.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Record is a unit of text submitted for embedding.
// Id is optional; when empty, identity is the record's position within its batch.
type Record struct {
	Id      string
	Content string
}

// IsBlank reports whether content is empty or contains only whitespace.
func IsBlank(content string) bool {
	return strings.IndexFunc(content, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}

// Outcome is the embedding result for a single Record.
//
// A degraded outcome means the provider permanently failed for this record and
// Embedding is empty. A non-degraded outcome with an empty Embedding means the
// record had blank content and was never sent to the provider.
type Outcome struct {
	Record    Record
	Embedding []float32
	Degraded  bool
}

// Indexable reports whether the outcome carries a vector that may be written to a vector store.
func (o Outcome) Indexable() bool {
	return !o.Degraded && len(o.Embedding) > 0
}

// DegradedOutcome returns the outcome used for a record that could not be embedded.
func DegradedOutcome(record Record) Outcome {
	return Outcome{Record: record, Embedding: []float32{}, Degraded: true}
}

// Partition splits outcomes into those that can be indexed and those that cannot.
// Relative order is preserved in both slices.
func Partition(outcomes []Outcome) (indexable, rest []Outcome) {
	for _, o := range outcomes {
		if o.Indexable() {
			indexable = append(indexable, o)
		} else {
			rest = append(rest, o)
		}
	}
	return indexable, rest
}

// RunKey derives a deterministic idempotency key for running operation over records.
// The key carries the full 256-bit BLAKE2b digest of the operation and every record,
// with each field length-prefixed. Record ids take part in the key when present, so
// renaming a record changes the key.
func RunKey(operation string, records []Record) string {
	h, _ := blake2b.New(32, nil)
	var lenBuf [binary.MaxVarintLen64]byte
	writeField := func(s string) {
		n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
		h.Write(lenBuf[:n])
		h.Write([]byte(s))
	}
	writeField(operation)
	for _, r := range records {
		writeField(r.Id)
		writeField(r.Content)
	}
	return operation + ":" + hex.EncodeToString(h.Sum(nil))
}

// RunStatus is the lifecycle state of an idempotent run.
type RunStatus int

const (
	// RunStatusProcessing marks a run that has started but not finished.
	RunStatusProcessing RunStatus = iota + 1
	// RunStatusCompleted marks a run whose result has been committed.
	RunStatusCompleted
	// RunStatusFailed marks a run that ended with an error.
	RunStatusFailed
)

func (s RunStatus) String() string {
	switch s {
	case RunStatusProcessing:
		return "processing"
	case RunStatusCompleted:
		return "completed"
	case RunStatusFailed:
		return "failed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseRunStatus converts the textual form produced by RunStatus.String back to a RunStatus.
func ParseRunStatus(s string) (RunStatus, error) {
	switch strings.ToLower(s) {
	case "processing":
		return RunStatusProcessing, nil
	case "completed":
		return RunStatusCompleted, nil
	case "failed":
		return RunStatusFailed, nil
	}
	return 0, ErrInvalidRunStatus
}

// IdempotencyRecord is the persisted state of a run keyed by an idempotency key.
type IdempotencyRecord struct {
	Key         string
	Operation   string
	Status      RunStatus
	Owner       string    // Token of the run that wrote the processing transition
	Result      []byte    // Serialized result, set when completed
	Error       string    // Error text, set when failed
	StartedAt   time.Time // When the processing transition was written
	CompletedAt time.Time
	FailedAt    time.Time
}
