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


// Package storage provides the storage abstraction layer for podhub.
//
// This package defines repository interfaces that decouple storage implementation
// from the indexing pipeline. Different backends (BadgerDB, PostgreSQL with
// pgvector) can be used interchangeably.
//
// # Constructor Return Type Pattern
//
// Public constructors in backend packages return the storage interfaces:
//
//	jobs, err := badger.NewJobRepository(backend)  // returns storage.JobRepository
//
// Internal constructors may return concrete types since they're only used
// within the implementation package.
//
// # Architecture
//
//   - PodRepository: pods and their append-only items, streamed by ItemCursor
//   - JobRepository: indexing jobs with conditional status transitions
//   - VectorStore: embedded chunks and similarity search
//   - PodIndexRepository: plain-text fallback aggregate per pod
//   - DeadLetterRepository: archive of messages that could not be processed
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	repos, err := badger.NewMemoryRepositories()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repos.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
