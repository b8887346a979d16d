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

// Package storage provides the storage abstraction layer for embedpipe.
//
// This package defines repository interfaces that decouple storage implementation
// from business logic. Only one kind of state is persisted: the idempotency record
// that lets a keyed pipeline run execute at most once.
//
// # Constructor Return Type Pattern
//
// Public constructors of storage backends return interfaces to enforce abstraction:
//
//	repo, err := badger.NewIdempotencyRepository(backend)  // returns storage.IdempotencyRepository
//
// Internal package constructors may return concrete types since they're only used
// within the implementation package.
//
// # Conditional Writes
//
// IdempotencyRepository offers create-if-absent (Create) and compare-and-swap
// (CompareAndSwap). Both are atomic with respect to other writers of the same key,
// which is what closes the read-then-write race between concurrent runs.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	repo, err := badger.NewIdempotencyRepository(backend)
//
// Use in tests with in-memory storage:
//
//	repo, backend, err := badger.NewMemoryRepository()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
