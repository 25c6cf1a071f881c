package embedding

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer used when none is named.
const DefaultEncoding = "cl100k_base"

// Truncator bounds text to a maximum number of tokens.
type Truncator struct {
	encoding  *tiktoken.Tiktoken
	maxTokens int
}

// NewTruncator loads the named encoding. The encoding data is fetched and
// cached by tiktoken-go on first use.
func NewTruncator(encoding string, maxTokens int) (*Truncator, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("maxTokens must be greater than 0, got %d", maxTokens)
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Truncator{encoding: enc, maxTokens: maxTokens}, nil
}

// Truncate returns text cut to at most maxTokens tokens.
func (t *Truncator) Truncate(text string) string {
	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= t.maxTokens {
		return text
	}
	return t.encoding.Decode(tokens[:t.maxTokens])
}

// CountTokens returns the number of tokens in text.
func (t *Truncator) CountTokens(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}
