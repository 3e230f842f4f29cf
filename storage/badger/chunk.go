package badger

import (
	"context"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
//
// Chunks are keyed by (narrative, embedding version, chunk index), so
// re-running a job over the same narrative rewrites the same keys instead
// of accumulating duplicates.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

// Close releases repository resources.
func (r *ChunkRepository) Close() error {
	return nil
}

// UpsertChunks writes chunk records, replacing any existing record under
// the same key.
func (r *ChunkRepository) UpsertChunks(ctx context.Context, chunks ...*core.EmbeddingChunk) error {
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
		if strings.ContainsRune(chunk.EmbeddingVersion, ':') {
			return core.ErrInvalidChunk
		}
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			key := makeChunkKey(chunk.NarrativeId, chunk.EmbeddingVersion, chunk.ChunkIndex)
			if err := tx.Set(key, storage.MarshalChunk(chunk)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetChunks retrieves all chunks for a narrative under one embedding
// version, ordered by chunk index.
func (r *ChunkRepository) GetChunks(ctx context.Context, narrativeID core.ID, version string) ([]*core.EmbeddingChunk, error) {
	var results []*core.EmbeddingChunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkVersionPrefix(narrativeID, version)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := iter.Item().Value(func(val []byte) error {
				chunk, err := storage.UnmarshalChunk(val)
				if err != nil {
					return err
				}
				results = append(results, chunk)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	}, false)

	return results, err
}

// DeleteChunks removes all chunks for a narrative under one embedding
// version. Missing chunks are not an error.
func (r *ChunkRepository) DeleteChunks(ctx context.Context, narrativeID core.ID, version string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkVersionPrefix(narrativeID, version)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)

		var keys [][]byte
		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		iter.Close()

		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		if len(keys) == 0 {
			return nil
		}
		return tx.Commit()
	}, true)
}
