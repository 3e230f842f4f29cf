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


package core

import "errors"

// Error classification sentinels. The queue manager inspects these to
// decide retry vs terminal failure; other components only wrap them.
var (
	// ErrPermanent marks a failure that must not be retried, such as an
	// embedding dimension mismatch. Attempts are still recorded.
	ErrPermanent = errors.New("permanent failure")

	// ErrIneligible marks a narrative that cannot be embedded at all,
	// such as text below the minimum length. Not an error state: jobs
	// finish as skipped.
	ErrIneligible = errors.New("narrative ineligible for embedding")
)

// Domain validation errors
var (
	// ErrInvalidJob indicates an EmbeddingJob failed validation.
	ErrInvalidJob = errors.New("invalid embedding job")

	// ErrInvalidChunk indicates an EmbeddingChunk failed validation.
	ErrInvalidChunk = errors.New("invalid embedding chunk")

	// ErrInvalidTheme indicates a Theme failed validation.
	ErrInvalidTheme = errors.New("invalid theme")

	// ErrInvalidFragment indicates a ReferenceFragment failed validation.
	ErrInvalidFragment = errors.New("invalid reference fragment")

	// ErrEmptyThemeCode indicates the theme Code field is empty.
	ErrEmptyThemeCode = errors.New("theme code cannot be empty")

	// ErrEmptyThemeLabel indicates the theme Label field is empty.
	ErrEmptyThemeLabel = errors.New("theme label cannot be empty")

	// ErrEmptyFragmentText indicates the fragment Text field is empty.
	ErrEmptyFragmentText = errors.New("fragment text cannot be empty")

	// ErrInvalidJobStatus indicates an unknown JobStatus value.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrEmptyChunkText indicates the chunk SourceText field is empty.
	ErrEmptyChunkText = errors.New("chunk source text cannot be empty")

	// ErrEmptyEmbeddingVersion indicates the chunk has no embedding version tag.
	ErrEmptyEmbeddingVersion = errors.New("embedding version cannot be empty")
)
