// Copyright 2025 Noctiluca Labs
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


// Package storage provides the storage abstraction layer for reverie.
//
// This package defines repository interfaces that decouple storage
// implementation from business logic, so different backends (BadgerDB,
// in-memory, etc.) can be used interchangeably.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - JobRepository: the durable embedding job queue plus the denormalized
//     per-narrative status written by the same transitions
//   - ChunkRepository: embedding chunk records, idempotent by
//     (narrative, chunk index, embedding version)
//   - ThemeRepository: the theme catalog (a set keyed by code) and
//     narrative-theme links
//   - FragmentRepository: the reference fragment catalog and
//     nearest-neighbor candidate generation
//
// # Claim semantics
//
// JobRepository.ClaimJobs is the only shared-mutation point of the whole
// subsystem. Implementations must make the pending -> processing transition
// an atomic conditional update: when two claimers race on the same job,
// exactly one wins and the other observes the job as already claimed.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation and
// timeout support.
package storage
