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

package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/embedpipe/core"
	"github.com/poiesic/embedpipe/storage"
)

// IdempotencyRepository implements storage.IdempotencyRepository for BadgerDB.
//
// Conditional writes rely on badger's serializable transactions: a write transaction
// that read a key another transaction has since committed fails with
// badger.ErrConflict, which is reported as storage.ErrDuplicateKey or
// storage.ErrConflict.
type IdempotencyRepository struct {
	backend *Backend
}

var _ storage.IdempotencyRepository = (*IdempotencyRepository)(nil)

// NewIdempotencyRepository creates a repository on top of backend.
// The backend stays owned by the caller; Close on the repository does not close it.
func NewIdempotencyRepository(backend *Backend) (storage.IdempotencyRepository, error) {
	if backend == nil {
		return nil, errors.New("badger backend is required")
	}
	return &IdempotencyRepository{backend: backend}, nil
}

// Close is a no-op; the backend is closed by its owner.
func (r *IdempotencyRepository) Close() error {
	return nil
}

// Get retrieves the record stored under key.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*core.IdempotencyRecord, error) {
	var record *core.IdempotencyRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		record, err = readRecord(tx, key)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Create stores record if no record exists under record.Key.
func (r *IdempotencyRepository) Create(ctx context.Context, record *core.IdempotencyRecord) error {
	if err := core.ValidateIdempotencyRecord(record); err != nil {
		return err
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		_, err := readRecord(tx, record.Key)
		if err == nil {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateKey, record.Key)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if err := tx.Set(makeIdempotencyKey(record.Key), storage.MarshalIdempotencyRecord(record)); err != nil {
			return err
		}
		return commit(tx, storage.ErrDuplicateKey)
	}, true)
}

// CompareAndSwap replaces the stored record with next if it still matches expected.
func (r *IdempotencyRepository) CompareAndSwap(ctx context.Context, expected, next *core.IdempotencyRecord) error {
	if expected == nil {
		return fmt.Errorf("%w: expected record is nil", core.ErrInvalidIdempotencyRecord)
	}
	if err := core.ValidateIdempotencyRecord(next); err != nil {
		return err
	}
	if expected.Key != next.Key {
		return fmt.Errorf("%w: key mismatch %q != %q", core.ErrInvalidIdempotencyRecord, expected.Key, next.Key)
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		current, err := readRecord(tx, next.Key)
		if err != nil {
			return err
		}
		if !sameRun(current, expected) {
			return fmt.Errorf("%w: record %s is %s owned by %q", storage.ErrConflict,
				current.Key, current.Status, current.Owner)
		}

		if err := tx.Set(makeIdempotencyKey(next.Key), storage.MarshalIdempotencyRecord(next)); err != nil {
			return err
		}
		return commit(tx, storage.ErrConflict)
	}, true)
}

// Delete removes the record stored under key.
func (r *IdempotencyRepository) Delete(ctx context.Context, key string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if _, err := readRecord(tx, key); err != nil {
			return err
		}
		if err := tx.Delete(makeIdempotencyKey(key)); err != nil {
			return err
		}
		return commit(tx, storage.ErrConflict)
	}, true)
}

// sameRun reports whether two records describe the same state of the same run.
func sameRun(a, b *core.IdempotencyRecord) bool {
	return a.Status == b.Status &&
		a.Owner == b.Owner &&
		a.StartedAt.Equal(b.StartedAt)
}

func readRecord(tx *badger.Txn, key string) (*core.IdempotencyRecord, error) {
	item, err := tx.Get(makeIdempotencyKey(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, err
	}

	var record *core.IdempotencyRecord
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		record, unmarshalErr = storage.UnmarshalIdempotencyRecord(val)
		return unmarshalErr
	})
	return record, err
}
