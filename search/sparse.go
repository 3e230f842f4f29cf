package search

import "math"

// sparseUsable reports whether a sparse term-weight map is well formed:
// non-empty, with every weight positive and finite. Malformed maps are
// treated as absent rather than failing the query.
func sparseUsable(m map[string]float32) bool {
	if len(m) == 0 {
		return false
	}
	for _, w := range m {
		if w <= 0 || math.IsNaN(float64(w)) || math.IsInf(float64(w), 0) {
			return false
		}
	}
	return true
}

// sparseOverlap scores two sparse maps as the sum of min weights over
// shared terms, normalized by the number of distinct terms compared (the
// size of the key union). Disjoint maps score 0.
func sparseOverlap(query, doc map[string]float32) float32 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}

	var shared float64
	distinct := len(query)
	for term, qw := range query {
		dw, ok := doc[term]
		if !ok {
			continue
		}
		if qw < dw {
			shared += float64(qw)
		} else {
			shared += float64(dw)
		}
	}
	for term := range doc {
		if _, ok := query[term]; !ok {
			distinct++
		}
	}

	return float32(shared / float64(distinct))
}
