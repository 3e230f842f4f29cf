package chunk

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts the tokens a piece of text occupies in the embedding
// model's vocabulary. Implementations must be thread-safe.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var _ TokenCounter = (*TiktokenCounter)(nil)

// NewTiktokenCounter creates a counter for the given encoding name,
// e.g. "cl100k_base". The encoding is downloaded on first use and cached.
func NewTiktokenCounter(encodingName string) (*TiktokenCounter, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encoding: encoding}, nil
}

// Count returns the number of BPE tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// WordCounter approximates token counts by whitespace-separated words.
// Used where the BPE tables are unavailable (offline tests).
type WordCounter struct{}

var _ TokenCounter = WordCounter{}

// Count returns the number of whitespace-separated fields in text.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}
