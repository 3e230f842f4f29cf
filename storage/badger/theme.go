package badger

import (
	"context"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/storage"
)

// ThemeRepository implements storage.ThemeRepository for BadgerDB.
type ThemeRepository struct {
	backend *Backend
}

var _ storage.ThemeRepository = (*ThemeRepository)(nil)

// NewThemeRepository creates a new ThemeRepository.
func NewThemeRepository(backend *Backend) *ThemeRepository {
	return &ThemeRepository{backend: backend}
}

// Close releases repository resources.
func (r *ThemeRepository) Close() error {
	return nil
}

// UpsertThemes writes catalog entries keyed by code.
func (r *ThemeRepository) UpsertThemes(ctx context.Context, themes ...*core.Theme) error {
	for _, theme := range themes {
		if err := core.ValidateTheme(theme); err != nil {
			return err
		}
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, theme := range themes {
			if err := tx.Set(makeThemeKey(theme.Code), storage.MarshalTheme(theme)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetTheme retrieves a catalog entry by code.
func (r *ThemeRepository) GetTheme(ctx context.Context, code string) (*core.Theme, error) {
	var result *core.Theme
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeThemeKey(code))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			result, unmarshalErr = storage.UnmarshalTheme(val)
			return unmarshalErr
		})
	}, false)
	return result, err
}

// GetAllThemes retrieves the full catalog. Codes are the key suffix, so the
// scan already yields code order.
func (r *ThemeRepository) GetAllThemes(ctx context.Context) ([]*core.Theme, error) {
	var results []*core.Theme
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = themeScanPrefix()
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := iter.Item().Value(func(val []byte) error {
				theme, err := storage.UnmarshalTheme(val)
				if err != nil {
					return err
				}
				results = append(results, theme)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	}, false)

	return results, err
}

// UpsertThemeLinks writes links keyed by (narrative, code). When a link
// already exists the higher similarity wins, so extraction re-runs never
// degrade a stored association.
func (r *ThemeRepository) UpsertThemeLinks(ctx context.Context, links ...*core.ThemeLink) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, link := range links {
			key := makeThemeLinkKey(link.NarrativeId, link.ThemeCode)

			item, err := tx.Get(key)
			if err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			if err == nil {
				var existing *core.ThemeLink
				if err := item.Value(func(val []byte) error {
					var unmarshalErr error
					existing, unmarshalErr = storage.UnmarshalThemeLink(val)
					return unmarshalErr
				}); err != nil {
					return err
				}
				if existing.Similarity >= link.Similarity {
					continue
				}
			}

			if err := tx.Set(key, storage.MarshalThemeLink(link)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetThemeLinks retrieves links for a narrative with similarity >=
// minSimilarity, ordered by similarity descending then code ascending.
func (r *ThemeRepository) GetThemeLinks(ctx context.Context, narrativeID core.ID, minSimilarity float32) ([]*core.ThemeLink, error) {
	var results []*core.ThemeLink
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeThemeLinkNarrativePrefix(narrativeID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := iter.Item().Value(func(val []byte) error {
				link, err := storage.UnmarshalThemeLink(val)
				if err != nil {
					return err
				}
				if link.Similarity >= minSimilarity {
					results = append(results, link)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	// Keys yield code order; re-sort for the similarity-major contract.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ThemeCode < results[j].ThemeCode
	})
	return results, nil
}
