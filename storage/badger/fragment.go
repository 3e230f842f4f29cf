package badger

import (
	"context"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/storage"
)

// FragmentRepository implements storage.FragmentRepository for BadgerDB.
//
// Candidate generation is a brute-force scan over the catalog. Reference
// catalogs are small (thousands of fragments), so a scan with an early
// similarity cutoff beats maintaining an approximate index.
type FragmentRepository struct {
	backend *Backend
}

var _ storage.FragmentRepository = (*FragmentRepository)(nil)

// NewFragmentRepository creates a new FragmentRepository.
func NewFragmentRepository(backend *Backend) *FragmentRepository {
	return &FragmentRepository{backend: backend}
}

// Close releases repository resources.
func (r *FragmentRepository) Close() error {
	return nil
}

// UpsertFragments writes fragments keyed by ID.
func (r *FragmentRepository) UpsertFragments(ctx context.Context, fragments ...*core.ReferenceFragment) error {
	for _, fragment := range fragments {
		if err := core.ValidateFragment(fragment); err != nil {
			return err
		}
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, fragment := range fragments {
			if err := tx.Set(makeFragmentKey(fragment.Id), storage.MarshalFragment(fragment)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetFragment retrieves a fragment by ID.
func (r *FragmentRepository) GetFragment(ctx context.Context, id core.ID) (*core.ReferenceFragment, error) {
	var result *core.ReferenceFragment
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeFragmentKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			result, unmarshalErr = storage.UnmarshalFragment(val)
			return unmarshalErr
		})
	}, false)
	return result, err
}

// GetAllFragments retrieves the full catalog.
func (r *FragmentRepository) GetAllFragments(ctx context.Context) ([]*core.ReferenceFragment, error) {
	var results []*core.ReferenceFragment
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanFragments(tx, func(fragment *core.ReferenceFragment) {
			results = append(results, fragment)
		})
	}, false)
	return results, err
}

// FindCandidates returns fragments whose cosine similarity to the query
// vector is >= minSimilarity, best first, up to limit. Fragments without a
// vector score zero and therefore pass only a zero threshold.
func (r *FragmentRepository) FindCandidates(ctx context.Context, vector []float32, minSimilarity float32, limit int, filter *storage.FragmentFilter) ([]*storage.Candidate, error) {
	var candidates []*storage.Candidate
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanFragments(tx, func(fragment *core.ReferenceFragment) {
			if filter != nil {
				if filter.Source != "" && fragment.Source != filter.Source {
					return
				}
				if filter.Chapter != "" && fragment.Chapter != filter.Chapter {
					return
				}
			}

			var similarity float32
			if len(fragment.Vector) > 0 {
				similarity = core.CosineSimilarity(vector, fragment.Vector)
			}
			if similarity < minSimilarity {
				return
			}
			candidates = append(candidates, &storage.Candidate{
				Fragment:   fragment,
				Similarity: similarity,
			})
		})
	}, false)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Fragment.Id < candidates[j].Fragment.Id
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// scanFragments iterates every fragment record in the transaction.
func scanFragments(tx *badger.Txn, fn func(*core.ReferenceFragment)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = fragmentScanPrefix()
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := iter.Item().Value(func(val []byte) error {
			fragment, err := storage.UnmarshalFragment(val)
			if err != nil {
				return err
			}
			fn(fragment)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}
