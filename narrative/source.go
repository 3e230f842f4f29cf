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


// Package narrative resolves narrative ids to their text. The queue stores
// only ids; the worker fetches the text through a Source when a job runs.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/noctiluca/reverie/core"
)

// ErrNarrativeNotFound indicates the source has no text for the id.
var ErrNarrativeNotFound = errors.New("narrative not found")

// Source resolves a narrative id to its full text.
type Source interface {
	NarrativeText(ctx context.Context, id core.ID) (string, error)
}

// DirSource reads narratives from a directory, one <id>.txt file per
// narrative.
type DirSource struct {
	dir string
}

// NewDirSource creates a DirSource rooted at dir.
func NewDirSource(dir string) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("narrative directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("narrative directory: %s is not a directory", dir)
	}
	return &DirSource{dir: dir}, nil
}

func (s *DirSource) NarrativeText(_ context.Context, id core.ID) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%d.txt", id))
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %d", ErrNarrativeNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("reading narrative %d: %w", id, err)
	}
	return string(data), nil
}

// StaticSource serves narratives from memory.
type StaticSource struct {
	mutex      sync.RWMutex
	narratives map[core.ID]string
}

// NewStaticSource creates a StaticSource seeded with the given narratives.
func NewStaticSource(narratives map[core.ID]string) *StaticSource {
	stored := make(map[core.ID]string, len(narratives))
	for id, text := range narratives {
		stored[id] = text
	}
	return &StaticSource{narratives: stored}
}

// Put adds or replaces a narrative.
func (s *StaticSource) Put(id core.ID, text string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.narratives[id] = text
}

func (s *StaticSource) NarrativeText(_ context.Context, id core.ID) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	text, ok := s.narratives[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNarrativeNotFound, id)
	}
	return text, nil
}
