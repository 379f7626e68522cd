// Package tokenizer counts tokens the way the target model does.
//
// The BPE tables are loaded through tiktoken-go. When they cannot be loaded
// (offline host, unknown encoding) the Counter switches to a rune-count proxy
// scaled by a conservative multiplier and reports itself as degraded: chunk
// boundaries become approximate, never fatal.
package tokenizer

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultEncoding is used when the model name has no known encoding.
	DefaultEncoding = "cl100k_base"

	// DefaultMultiplier overestimates: Han characters cost one to two tokens
	// each in cl100k_base, Latin text far less.
	DefaultMultiplier = 2.0
)

// Counter returns token counts for text. It is safe for concurrent use.
type Counter struct {
	enc        *tiktoken.Tiktoken
	encoding   string
	multiplier float64
	reason     string
}

// New returns a Counter for the given model name. Models unknown to tiktoken
// (Gemini, local Ollama models) use DefaultEncoding.
func New(model string) *Counter {
	enc, err := tiktoken.EncodingForModel(model)
	encoding := model
	if err != nil {
		enc, err = tiktoken.GetEncoding(DefaultEncoding)
		encoding = DefaultEncoding
	}
	if err != nil {
		c := NewApprox(DefaultMultiplier)
		c.reason = fmt.Sprintf("load encoding %s: %v", DefaultEncoding, err)
		return c
	}
	return &Counter{enc: enc, encoding: encoding}
}

// NewApprox returns a degraded Counter: ceil(runes × multiplier).
// A multiplier ≤ 0 falls back to DefaultMultiplier.
func NewApprox(multiplier float64) *Counter {
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	return &Counter{multiplier: multiplier, reason: "approximate counting requested"}
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		return c.approx(text)
	}
	n, ok := c.encode(text)
	if !ok {
		return c.approx(text)
	}
	return n
}

// encode guards against tiktoken panicking on special-token text such as
// "<|endoftext|>" appearing in the source.
func (c *Counter) encode(text string) (n int, ok bool) {
	defer func() {
		if recover() != nil {
			n, ok = 0, false
		}
	}()
	return len(c.enc.Encode(text, nil, nil)), true
}

func (c *Counter) approx(text string) int {
	m := c.multiplier
	if m <= 0 {
		m = DefaultMultiplier
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) * m))
}

// Degraded reports whether counts are approximations.
func (c *Counter) Degraded() bool { return c.enc == nil }

// Reason explains why the counter is degraded; empty otherwise.
func (c *Counter) Reason() string {
	if c.enc != nil {
		return ""
	}
	return c.reason
}

// Encoding names the BPE scheme in use, or "approx".
func (c *Counter) Encoding() string {
	if c.enc == nil {
		return "approx"
	}
	return c.encoding
}
