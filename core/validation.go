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

import "fmt"

// ValidateJob validates an EmbeddingJob according to domain rules.
//
// Validation rules:
//   - NarrativeId must be set
//   - Status must be a known JobStatus
//   - Attempts must never exceed MaxAttempts
//   - Status=processing implies StartedAt is set
//
// NOT validated:
//   - Id (0 is valid before the job is stored)
//   - Priority (any int is a valid priority)
func ValidateJob(job *EmbeddingJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidJob)
	}

	if job.NarrativeId == 0 {
		return fmt.Errorf("%w: narrative id is required", ErrInvalidJob)
	}

	if err := ValidateJobStatus(job.Status); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if job.MaxAttempts > 0 && job.Attempts > job.MaxAttempts {
		return fmt.Errorf("%w: attempts %d exceed max attempts %d",
			ErrInvalidJob, job.Attempts, job.MaxAttempts)
	}

	if job.Status == JobProcessing && job.StartedAt.IsZero() {
		return fmt.Errorf("%w: processing job has no start time", ErrInvalidJob)
	}

	return nil
}

// ValidateJobStatus validates that a JobStatus has a known value.
func ValidateJobStatus(status JobStatus) error {
	switch status {
	case JobPending, JobProcessing, JobCompleted, JobFailed, JobSkipped:
		return nil
	default:
		return fmt.Errorf("%w: value %d", ErrInvalidJobStatus, status)
	}
}

// ValidateChunk validates an EmbeddingChunk according to domain rules.
//
// Validation rules:
//   - NarrativeId must be set
//   - SourceText must not be empty
//   - EmbeddingVersion must not be empty
//   - TokenCount must be positive
//   - ChunkIndex must not be negative
func ValidateChunk(chunk *EmbeddingChunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.NarrativeId == 0 {
		return fmt.Errorf("%w: narrative id is required", ErrInvalidChunk)
	}

	if chunk.SourceText == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyChunkText)
	}

	if chunk.EmbeddingVersion == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyEmbeddingVersion)
	}

	if chunk.TokenCount <= 0 {
		return fmt.Errorf("%w: token count must be positive, got %d",
			ErrInvalidChunk, chunk.TokenCount)
	}

	if chunk.ChunkIndex < 0 {
		return fmt.Errorf("%w: chunk index must not be negative, got %d",
			ErrInvalidChunk, chunk.ChunkIndex)
	}

	return nil
}

// ValidateTheme validates a Theme according to domain rules.
//
// Validation rules:
//   - Code must not be empty
//   - Label must not be empty
//
// NOT validated (populated during catalog ingestion):
//   - Vector (nil until the catalog is embedded)
//   - Sparse (optional)
func ValidateTheme(theme *Theme) error {
	if theme == nil {
		return fmt.Errorf("%w: theme is nil", ErrInvalidTheme)
	}

	if theme.Code == "" {
		return fmt.Errorf("%w: %w", ErrInvalidTheme, ErrEmptyThemeCode)
	}

	if theme.Label == "" {
		return fmt.Errorf("%w: %w", ErrInvalidTheme, ErrEmptyThemeLabel)
	}

	return nil
}

// ValidateFragment validates a ReferenceFragment according to domain rules.
//
// Validation rules:
//   - Text must not be empty
//
// NOT validated:
//   - Vector and Sparse (both optional)
//   - Id (0 is valid before ingestion assigns a content hash)
func ValidateFragment(fragment *ReferenceFragment) error {
	if fragment == nil {
		return fmt.Errorf("%w: fragment is nil", ErrInvalidFragment)
	}

	if fragment.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidFragment, ErrEmptyFragmentText)
	}

	return nil
}
