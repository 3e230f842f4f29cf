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


// Package reverie embeds dream narratives and retrieves interpretive
// reference fragments against them. Database is the assembly point: it owns
// the storage backend and hands out the queue, pipeline, catalog, and
// retrieval components wired to it.
package reverie

import (
	"io"
	"log/slog"

	"github.com/noctiluca/reverie/ai"
	"github.com/noctiluca/reverie/ai/openai"
	"github.com/noctiluca/reverie/catalog"
	"github.com/noctiluca/reverie/chunk"
	"github.com/noctiluca/reverie/ingestion"
	"github.com/noctiluca/reverie/narrative"
	"github.com/noctiluca/reverie/queue"
	"github.com/noctiluca/reverie/reembed"
	"github.com/noctiluca/reverie/search"
	"github.com/noctiluca/reverie/storage"
	"github.com/noctiluca/reverie/storage/badger"
	"github.com/noctiluca/reverie/themes"
)

type Database struct {
	backend        *badger.Backend
	repos          *badger.Repositories
	embedder       ai.Embedder
	aiConfig       *ai.Config
	queueConfig    queue.Config
	themeThreshold float32
	counter        chunk.TokenCounter
	logger         *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig       *ai.Config
	queueConfig    queue.Config
	embedder       ai.Embedder
	themeThreshold float32
	counter        chunk.TokenCounter
	inMemory       bool
}

// WithAIConfig sets the embedding provider configuration.
func WithAIConfig(cfg *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = cfg
	}
}

// WithQueueConfig sets the job queue tuning.
func WithQueueConfig(cfg queue.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.queueConfig = cfg
	}
}

// WithEmbedder injects an embedder directly, bypassing the provider built
// from the AI config. The AI config still supplies dimension and version.
func WithEmbedder(embedder ai.Embedder) DatabaseOption {
	return func(o *databaseOptions) {
		o.embedder = embedder
	}
}

// WithThemeThreshold sets the minimum chunk-to-theme similarity for a link.
func WithThemeThreshold(threshold float32) DatabaseOption {
	return func(o *databaseOptions) {
		o.themeThreshold = threshold
	}
}

// WithTokenCounter overrides the token counter used for chunk sizing.
func WithTokenCounter(counter chunk.TokenCounter) DatabaseOption {
	return func(o *databaseOptions) {
		o.counter = counter
	}
}

// WithInMemoryStorage keeps all data in memory. Used by tests.
func WithInMemoryStorage() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		aiConfig:       ai.DefaultConfig(),
		queueConfig:    queue.DefaultConfig(),
		themeThreshold: themes.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(options)
	}

	if err := options.aiConfig.Validate(); err != nil {
		return nil, err
	}
	if err := options.queueConfig.Validate(); err != nil {
		return nil, err
	}

	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	repos, err := badger.NewRepositories(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	embedder := options.embedder
	if embedder == nil {
		embedder, err = openai.NewEmbedder(options.aiConfig)
		if err != nil {
			repos.Close()
			backend.Close()
			return nil, err
		}
	}

	counter := options.counter
	if counter == nil {
		counter, err = chunk.NewTiktokenCounter("cl100k_base")
		if err != nil {
			repos.Close()
			backend.Close()
			return nil, err
		}
	}

	return &Database{
		backend:        backend,
		repos:          repos,
		embedder:       embedder,
		aiConfig:       options.aiConfig,
		queueConfig:    options.queueConfig,
		themeThreshold: options.themeThreshold,
		counter:        counter,
		logger:         slog.Default(),
	}, nil
}

func (db *Database) Close() error {
	if err := db.repos.Close(); err != nil {
		db.logger.Error("error closing repositories", "err", err)
		return err
	}
	if err := db.backend.Close(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

func (db *Database) JobRepository() storage.JobRepository {
	return db.repos.Jobs
}

func (db *Database) ChunkRepository() storage.ChunkRepository {
	return db.repos.Chunks
}

func (db *Database) ThemeRepository() storage.ThemeRepository {
	return db.repos.Themes
}

func (db *Database) FragmentRepository() storage.FragmentRepository {
	return db.repos.Fragments
}

func (db *Database) Embedder() ai.Embedder {
	return db.embedder
}

// EmbeddingVersion is the version tag the current configuration writes.
func (db *Database) EmbeddingVersion() string {
	return db.aiConfig.Version
}

// NewQueueManager creates a queue manager over the job repository.
func (db *Database) NewQueueManager() (*queue.Manager, error) {
	return queue.NewManager(db.repos.Jobs, db.queueConfig)
}

// NewWorker assembles the full processing stack: a chunk generator, a theme
// extractor, and the per-narrative pipeline, driven by a queue worker that
// reads narrative text from source.
func (db *Database) NewWorker(source narrative.Source) (*queue.Worker, error) {
	manager, err := db.NewQueueManager()
	if err != nil {
		return nil, err
	}

	generator, err := chunk.NewGenerator(db.repos.Chunks, db.embedder, db.counter, chunk.GeneratorConfig{
		Dimension: db.aiConfig.Dimension,
		Version:   db.aiConfig.Version,
	})
	if err != nil {
		return nil, err
	}

	extractor, err := themes.NewExtractor(db.repos.Themes, db.themeThreshold)
	if err != nil {
		return nil, err
	}

	pipeline, err := ingestion.NewPipeline(source, generator, extractor, db.repos.Chunks)
	if err != nil {
		return nil, err
	}

	return queue.NewWorker(manager, pipeline)
}

// NewThemeExtractor creates an extractor for scoring and reading theme links.
func (db *Database) NewThemeExtractor() (*themes.Extractor, error) {
	return themes.NewExtractor(db.repos.Themes, db.themeThreshold)
}

// NewThemeCatalog creates a catalog for seeding and re-embedding themes.
func (db *Database) NewThemeCatalog() (*themes.Catalog, error) {
	return themes.NewCatalog(db.repos.Themes, db.embedder, db.aiConfig.Version)
}

// NewFragmentIngestor creates an ingestor for seeding reference fragments.
func (db *Database) NewFragmentIngestor(batchSize int) (*catalog.Ingestor, error) {
	return catalog.NewIngestor(db.repos.Fragments, db.embedder, batchSize)
}

// NewRetriever creates a hybrid retriever over the fragment catalog.
func (db *Database) NewRetriever(opts ...search.Option) (*search.Retriever, error) {
	return search.NewRetriever(db.repos.Fragments, db.embedder, opts...)
}

// NewReembedRunner creates a runner that rebuilds catalog vectors under the
// current embedding configuration.
func (db *Database) NewReembedRunner(progressOut io.Writer) (*reembed.Runner, error) {
	return reembed.NewRunner(db.repos.Themes, db.repos.Fragments, db.embedder, db.aiConfig.Version, 0, progressOut)
}
