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


// Package search ranks reference fragments against hybrid queries that mix
// semantic, sparse, and lexical signals.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/noctiluca/reverie/ai"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/storage"
)

// Weights are the relative importance of each scoring component. When a
// component is absent from a query its weight is redistributed across the
// present ones, so weights always sum to 1 at scoring time.
type Weights struct {
	Semantic float32
	Sparse   float32
	Lexical  float32
}

// DefaultWeights favor the semantic signal.
var DefaultWeights = Weights{Semantic: 0.4, Sparse: 0.3, Lexical: 0.3}

const (
	// DefaultThemeBoost is the bonus when every query theme hint appears in
	// a fragment's tags; partial matches scale by the matched fraction.
	DefaultThemeBoost = 0.10
	// DefaultConceptBoost is the concept-hint counterpart of
	// DefaultThemeBoost.
	DefaultConceptBoost = 0.05
	// DefaultK is the result count when the query leaves it unset.
	DefaultK = 10
	// defaultCandidateFactor oversizes the candidate set relative to K, so
	// sparse and lexical signals can promote fragments the vector phase
	// ranked lower.
	defaultCandidateFactor = 4
)

// Query is a hybrid retrieval request. Any combination of Vector, Sparse,
// and Text may be set; at least one must carry signal. A malformed Sparse
// map (empty, or any non-positive or non-finite weight) is treated as
// absent.
type Query struct {
	Vector       []float32
	Sparse       map[string]float32
	Text         string
	ThemeHints   []string
	ConceptHints []string
	Filter       *storage.FragmentFilter
	K            int
}

// Retriever scores reference fragments against hybrid queries in two
// phases: vector candidate generation, then full hybrid ranking over the
// candidates.
type Retriever struct {
	fragments          storage.FragmentRepository
	embedder           ai.Embedder
	weights            Weights
	themeBoost         float32
	conceptBoost       float32
	candidateThreshold float32
	logger             *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithWeights overrides the component weights. Negative weights are
// rejected at query time by renormalization, so callers should pass
// non-negative values.
func WithWeights(w Weights) Option {
	return func(r *Retriever) error {
		r.weights = w
		return nil
	}
}

// WithBoosts overrides the per-hint tag bonuses.
func WithBoosts(themeBoost, conceptBoost float32) Option {
	return func(r *Retriever) error {
		r.themeBoost = themeBoost
		r.conceptBoost = conceptBoost
		return nil
	}
}

// WithCandidateThreshold sets the minimum cosine similarity a fragment
// needs to survive the candidate-generation phase of a semantic query.
// Default is 0, which lets vectorless fragments through as well.
func WithCandidateThreshold(threshold float32) Option {
	return func(r *Retriever) error {
		if threshold < 0 || threshold > 1 {
			return ErrInvalidCandidateThreshold
		}
		r.candidateThreshold = threshold
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRetriever creates a Retriever. The embedder may be nil when only
// pre-embedded queries (Retrieve) are used; RetrieveText requires it.
func NewRetriever(fragments storage.FragmentRepository, embedder ai.Embedder, opts ...Option) (*Retriever, error) {
	if fragments == nil {
		return nil, ErrFragmentRepositoryRequired
	}

	r := &Retriever{
		fragments:    fragments,
		embedder:     embedder,
		weights:      DefaultWeights,
		themeBoost:   DefaultThemeBoost,
		conceptBoost: DefaultConceptBoost,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// RetrieveText embeds the text and runs a hybrid query carrying both the
// resulting vector and the text's lexical signal.
func (r *Retriever) RetrieveText(ctx context.Context, text string, k int) ([]*core.RankedFragment, error) {
	if r.embedder == nil {
		return nil, ErrEmbedderRequired
	}

	vector, err := r.embedder.EmbedText(ctx, text)
	if err != nil {
		r.logger.Error("error generating embedding for query", "err", err)
		return nil, err
	}

	return r.Retrieve(ctx, &Query{
		Vector: core.NormalizeVector(vector),
		Text:   text,
		K:      k,
	})
}

// Retrieve runs a hybrid query. Results are ordered by final score
// descending with ties broken by fragment ID ascending, at most K of them.
func (r *Retriever) Retrieve(ctx context.Context, query *Query) ([]*core.RankedFragment, error) {
	return r.RetrieveWithMonitor(ctx, query, nil)
}

// RetrieveWithMonitor runs a hybrid query with observation hooks.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, query *Query, monitor RetrievalMonitor) ([]*core.RankedFragment, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(query)

	hasSemantic := len(query.Vector) > 0
	hasSparse := sparseUsable(query.Sparse)
	hasLexical := strings.TrimSpace(query.Text) != ""
	if !hasSemantic && !hasSparse && !hasLexical {
		return nil, ErrEmptyQuery
	}

	k := query.K
	if k <= 0 {
		k = DefaultK
	}

	candidates, err := r.generateCandidates(ctx, query, hasSemantic, k)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []*core.RankedFragment{}, nil
	}

	candidateIds := make([]uint64, len(candidates))
	for i, c := range candidates {
		candidateIds[i] = uint64(c.Fragment.Id)
	}
	monitor.AfterCandidateGeneration(candidateIds)

	// Redistribute the weights of absent components over the present ones
	weights := r.normalizedWeights(hasSemantic, hasSparse, hasLexical)

	results := make([]*core.RankedFragment, 0, len(candidates))
	for _, candidate := range candidates {
		fragment := candidate.Fragment

		var semantic, sparse, lexical float32
		if hasSemantic {
			semantic = candidate.Similarity
		}
		if hasSparse {
			sparse = sparseOverlap(query.Sparse, fragment.Sparse)
		}
		if hasLexical {
			lexical = lexicalScore(fragment.Text, query.Text)
		}
		monitor.ComponentScores(uint64(fragment.Id), semantic, sparse, lexical)

		weighted := weights.Semantic*semantic + weights.Sparse*sparse + weights.Lexical*lexical

		bonus := r.tagBonus(fragment, query)
		if bonus > 0 {
			monitor.BoostApplied(uint64(fragment.Id), bonus)
		}

		results = append(results, &core.RankedFragment{
			Fragment: fragment,
			Score:    weighted * (1 + bonus),
			Semantic: semantic,
			Sparse:   sparse,
			Lexical:  lexical,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Fragment.Id < results[j].Fragment.Id
	})
	if len(results) > k {
		results = results[:k]
	}
	monitor.Finish(results)

	return results, nil
}

// generateCandidates performs phase one. With a query vector the fragment
// store serves nearest neighbors; without one every fragment passing the
// filter is a candidate, since sparse and lexical scoring need a full pass.
func (r *Retriever) generateCandidates(ctx context.Context, query *Query, hasSemantic bool, k int) ([]*storage.Candidate, error) {
	if hasSemantic {
		return r.fragments.FindCandidates(ctx, query.Vector, r.candidateThreshold, k*defaultCandidateFactor, query.Filter)
	}

	fragments, err := r.fragments.GetAllFragments(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]*storage.Candidate, 0, len(fragments))
	for _, fragment := range fragments {
		if query.Filter != nil {
			if query.Filter.Source != "" && fragment.Source != query.Filter.Source {
				continue
			}
			if query.Filter.Chapter != "" && fragment.Chapter != query.Filter.Chapter {
				continue
			}
		}
		candidates = append(candidates, &storage.Candidate{Fragment: fragment})
	}
	return candidates, nil
}

// normalizedWeights zeroes absent components and rescales the rest to sum
// to 1. At least one component is known to be present.
func (r *Retriever) normalizedWeights(hasSemantic, hasSparse, hasLexical bool) Weights {
	w := r.weights
	if !hasSemantic {
		w.Semantic = 0
	}
	if !hasSparse {
		w.Sparse = 0
	}
	if !hasLexical {
		w.Lexical = 0
	}

	total := w.Semantic + w.Sparse + w.Lexical
	if total <= 0 {
		// Degenerate configuration; fall back to equal weights over the
		// present components
		var present float32
		if hasSemantic {
			present++
		}
		if hasSparse {
			present++
		}
		if hasLexical {
			present++
		}
		equal := 1 / present
		w = Weights{}
		if hasSemantic {
			w.Semantic = equal
		}
		if hasSparse {
			w.Sparse = equal
		}
		if hasLexical {
			w.Lexical = equal
		}
		return w
	}

	w.Semantic /= total
	w.Sparse /= total
	w.Lexical /= total
	return w
}

// tagBonus scales each boost by the fraction of its hint list found in the
// fragment's tags, so the bonus is bounded by themeBoost+conceptBoost no
// matter how many hints the query carries.
func (r *Retriever) tagBonus(fragment *core.ReferenceFragment, query *Query) float32 {
	var bonus float32
	if total := len(query.ThemeHints); total > 0 {
		matched := 0
		for _, hint := range query.ThemeHints {
			if fragment.HasTag(hint) {
				matched++
			}
		}
		bonus += r.themeBoost * float32(matched) / float32(total)
	}
	if total := len(query.ConceptHints); total > 0 {
		matched := 0
		for _, hint := range query.ConceptHints {
			if fragment.HasTag(hint) {
				matched++
			}
		}
		bonus += r.conceptBoost * float32(matched) / float32(total)
	}
	return bonus
}
