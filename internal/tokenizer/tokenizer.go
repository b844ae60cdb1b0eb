// Package tokenizer estimates token counts for prompts and provider
// output, used for accounting on the stats endpoints.
package tokenizer

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer provides token counting using tiktoken encodings.
// Encodings are cached via sync.Once to avoid repeated initialization.
type Tokenizer struct {
	cl100kOnce sync.Once
	cl100kEnc  *tiktoken.Tiktoken
	cl100kErr  error

	o200kOnce sync.Once
	o200kEnc  *tiktoken.Tiktoken
	o200kErr  error
}

// modelEncodings maps model names to their tiktoken encoding. Models from
// providers without a published tokenizer get cl100k_base, which is close
// enough for accounting purposes.
var modelEncodings = map[string]string{
	// OpenAI o200k_base models
	"gpt-4o":      "o200k_base",
	"gpt-4o-mini": "o200k_base",

	// OpenAI legacy cl100k_base models
	"gpt-4":       "cl100k_base",
	"gpt-4-turbo": "cl100k_base",

	// Gemini, Groq-hosted Llama, and HuggingFace-hosted models have no
	// tiktoken encoding; cl100k_base is used as an approximation.
	"gemini-2.0-flash":       "cl100k_base",
	"gemini-1.5-pro":         "cl100k_base",
	"llama-3.3-70b-versatile": "cl100k_base",
}

// New creates a new Tokenizer instance.
func New() *Tokenizer {
	return &Tokenizer{}
}

// GetEncoding returns the encoding name for the given model.
// Unknown models default to cl100k_base.
func (t *Tokenizer) GetEncoding(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}

	// Try prefix matching for versioned model names.
	lower := strings.ToLower(model)
	for m, enc := range modelEncodings {
		if strings.HasPrefix(lower, m) {
			return enc
		}
	}

	return "cl100k_base"
}

// getEncoder returns the cached tiktoken encoder for the given model.
func (t *Tokenizer) getEncoder(model string) (*tiktoken.Tiktoken, error) {
	encName := t.GetEncoding(model)

	switch encName {
	case "o200k_base":
		t.o200kOnce.Do(func() {
			t.o200kEnc, t.o200kErr = tiktoken.GetEncoding("o200k_base")
		})
		return t.o200kEnc, t.o200kErr
	default:
		t.cl100kOnce.Do(func() {
			t.cl100kEnc, t.cl100kErr = tiktoken.GetEncoding("cl100k_base")
		})
		return t.cl100kEnc, t.cl100kErr
	}
}

// CountTokens counts the tokens in text for the specified model. When the
// encoder cannot be initialised (tiktoken downloads encoding data on
// first use), it falls back to the rough len/4 heuristic so accounting
// still works offline.
func (t *Tokenizer) CountTokens(model, text string) int {
	enc, err := t.getEncoder(model)
	if err != nil {
		return EstimateTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateTokens approximates a token count as one token per four bytes.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
