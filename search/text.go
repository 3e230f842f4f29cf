package search

import "strings"

// Stop words to filter out when scoring lexical overlap
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "i": true, "my": true,
}

// tokenizeAndFilter splits text into words, lowercases, trims punctuation, and removes stop words
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))

		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// BuildSparse turns text into a sparse term-weight map: term frequency
// normalized by the most frequent term, so the dominant term weighs 1.
// Returns nil when the text has no content words.
func BuildSparse(text string) map[string]float32 {
	words := tokenizeAndFilter(text)
	if len(words) == 0 {
		return nil
	}

	counts := make(map[string]int, len(words))
	maxCount := 0
	for _, word := range words {
		counts[word]++
		if counts[word] > maxCount {
			maxCount = counts[word]
		}
	}

	sparse := make(map[string]float32, len(counts))
	for word, count := range counts {
		sparse[word] = float32(count) / float32(maxCount)
	}
	return sparse
}

// lexicalScore is the fraction of filtered query words that appear in the
// document. 1 means every query word is present, 0 means none are.
func lexicalScore(document, query string) float32 {
	queryWords := tokenizeAndFilter(query)
	if len(queryWords) == 0 {
		return 0
	}

	docWords := tokenizeAndFilter(document)
	docWordSet := make(map[string]bool, len(docWords))
	for _, word := range docWords {
		docWordSet[word] = true
	}

	matched := 0
	for _, qWord := range queryWords {
		if docWordSet[qWord] {
			matched++
		}
	}

	return float32(matched) / float32(len(queryWords))
}
