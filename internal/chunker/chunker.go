// Package chunker splits chapters into token-bounded chunks while preserving
// paragraph and sentence integrity. Units are taken from an ordered list of
// boundary tiers, coarse to fine; a finer tier is consulted only for a unit
// that does not fit the budget on its own. It also extracts a context
// snippet from the tail of a chunk for continuity across chunk boundaries.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/valpere/wenyan/internal/splitter"
)

// DefaultContextRunes is the default length of the context snippet.
const DefaultContextRunes = 100

// TokenCounter counts tokens in a span of text.
type TokenCounter interface {
	Count(text string) int
}

// Chunk is a contiguous piece of one chapter.
type Chunk struct {
	ChapterIndex int
	Index        int
	Text         string
	Tokens       int
	// Oversized marks an atomic unit that exceeds the budget by itself.
	Oversized bool
}

// Chunker packs chapter text into chunks of at most maxTokens tokens.
type Chunker struct {
	counter   TokenCounter
	maxTokens int
	tiers     []Tier
}

// New returns a Chunker. With no tiers, DefaultTiers is used.
func New(counter TokenCounter, maxTokens int, tiers ...Tier) (*Chunker, error) {
	if counter == nil {
		return nil, errors.New("chunker: nil token counter")
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("chunker: max tokens must be positive, got %d", maxTokens)
	}
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	for i, t := range tiers {
		if t.Split == nil {
			return nil, fmt.Errorf("chunker: tier %d (%s) has no split function", i, t.Name)
		}
	}
	return &Chunker{counter: counter, maxTokens: maxTokens, tiers: tiers}, nil
}

// MaxTokens returns the configured budget.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

type piece struct {
	text      string
	oversized bool
}

// Chunk splits ch into ordered chunks whose concatenation is ch.Text.
func (c *Chunker) Chunk(ch splitter.Chapter) ([]Chunk, error) {
	if ch.Text == "" {
		return nil, nil
	}

	var pieces []piece
	if c.counter.Count(ch.Text) <= c.maxTokens {
		pieces = []piece{{text: ch.Text}}
	} else {
		pieces = c.pack(ch.Text, 0, nil)
	}

	chunks := make([]Chunk, 0, len(pieces))
	var b strings.Builder
	b.Grow(len(ch.Text))
	for i, p := range pieces {
		n := c.counter.Count(p.text)
		if !p.oversized && n > c.maxTokens {
			return nil, &splitter.StructuralError{
				Op:     "chunk",
				Detail: fmt.Sprintf("chapter %d chunk %d has %d tokens, budget %d", ch.Index, i, n, c.maxTokens),
			}
		}
		chunks = append(chunks, Chunk{
			ChapterIndex: ch.Index,
			Index:        i,
			Text:         p.text,
			Tokens:       n,
			Oversized:    p.oversized,
		})
		b.WriteString(p.text)
	}
	if b.String() != ch.Text {
		return nil, &splitter.StructuralError{
			Op:     "chunk",
			Detail: fmt.Sprintf("chunks of chapter %d do not reconstruct its text", ch.Index),
		}
	}
	return chunks, nil
}

// pack greedily accumulates units of the given tier. A unit that does not
// fit on its own is split with the next tier; past the finest tier it is
// emitted as an oversized piece.
func (c *Chunker) pack(text string, tier int, out []piece) []piece {
	var cur string
	flush := func() {
		if cur != "" {
			out = append(out, piece{text: cur})
			cur = ""
		}
	}

	for _, u := range c.tiers[tier].Split(text) {
		if cur != "" && c.counter.Count(cur+u) <= c.maxTokens {
			cur += u
			continue
		}
		flush()
		if c.counter.Count(u) <= c.maxTokens {
			cur = u
			continue
		}
		if tier+1 < len(c.tiers) {
			out = c.pack(u, tier+1, out)
			// Keep filling the last finer piece with following units.
			if last := len(out) - 1; last >= 0 && !out[last].oversized {
				cur = out[last].text
				out = out[:last]
			}
			continue
		}
		out = append(out, piece{text: u, oversized: true})
	}
	flush()
	return out
}

// ExtractContext returns the last n runes of text with surrounding
// whitespace trimmed. n ≤ 0 disables the snippet.
func ExtractContext(text string, n int) string {
	if n <= 0 {
		return ""
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[len(r)-n:]))
}
