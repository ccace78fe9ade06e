package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// longest prefixes first
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"gpt-4.1", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5-turbo", "cl100k_base"},
}

// TokenCounter estimates token usage when a provider omits it.
// The encoding is loaded lazily; when it cannot be loaded counts fall back
// to a rune based estimate.
type TokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

func NewTokenCounter(model string) *TokenCounter {
	encoding := "cl100k_base"
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			encoding = m.encoding
			break
		}
	}
	return &TokenCounter{encoding: encoding}
}

func (t *TokenCounter) load() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err == nil {
			t.enc = enc
		}
	})
	return t.enc
}

// Count returns the number of tokens in text
func (t *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := t.load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	n := len([]rune(text)) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// CountMessages adds the per-message framing overhead used by chat models
func (t *TokenCounter) CountMessages(messages []Message) int {
	total := 3
	for _, m := range messages {
		total += 4 + t.Count(m.Role) + t.Count(m.Content)
	}
	return total
}
