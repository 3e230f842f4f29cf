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


package badger

import "github.com/noctiluca/reverie/storage"

// Repositories bundles every repository backed by one BadgerDB instance.
type Repositories struct {
	Jobs      storage.JobRepository
	Chunks    storage.ChunkRepository
	Themes    storage.ThemeRepository
	Fragments storage.FragmentRepository
}

// NewRepositories constructs all repositories over an open backend.
func NewRepositories(backend *Backend) (*Repositories, error) {
	jobRepo, err := NewJobRepository(backend)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Jobs:      jobRepo,
		Chunks:    NewChunkRepository(backend),
		Themes:    NewThemeRepository(backend),
		Fragments: NewFragmentRepository(backend),
	}, nil
}

// Close closes every repository. The backend is closed separately.
func (r *Repositories) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{r.Jobs, r.Chunks, r.Themes, r.Fragments} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must close the repositories and the backend when done.
func NewMemoryRepositories() (*Repositories, *Backend, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, nil, err
	}

	repos, err := NewRepositories(backend)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return repos, backend, nil
}
