// Package splitter partitions a document into chapter spans at boundary
// markers. It never alters a character of its input: concatenating the
// returned chapters reproduces the document byte for byte.
package splitter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultPattern matches headings numbered in the 第…回 convention.
const DefaultPattern = `第[\p{Han}\d]+回`

// ErrStructural marks invariant violations in splitting or chunking.
var ErrStructural = errors.New("structural invariant violated")

// StructuralError reports a reconstruction or ordering defect. It is never
// transient: the run must stop.
type StructuralError struct {
	Op     string
	Detail string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, ErrStructural.Error(), e.Detail)
}

func (e *StructuralError) Unwrap() error { return ErrStructural }

// Pattern is one boundary rule. TitleGroup selects the capture group used as
// the chapter title; 0 uses the whole match.
type Pattern struct {
	Expr       string `mapstructure:"pattern" validate:"required"`
	TitleGroup int    `mapstructure:"title_group" validate:"gte=0"`
}

// Match is a boundary found in the document. Start and End are byte offsets.
type Match struct {
	Start int
	End   int
	Title string
}

// BoundaryDetector finds chapter headings. Matches must be ordered, inside
// the text, and non-overlapping.
type BoundaryDetector interface {
	Detect(text string) []Match
}

type rule struct {
	re    *regexp.Regexp
	group int
}

// RegexDetector detects boundaries with an ordered list of patterns.
type RegexDetector struct {
	rules []rule
}

// NewRegexDetector compiles the patterns. With no patterns, DefaultPattern
// is used.
func NewRegexDetector(patterns ...Pattern) (*RegexDetector, error) {
	if len(patterns) == 0 {
		patterns = []Pattern{{Expr: DefaultPattern}}
	}
	d := &RegexDetector{}
	for i, p := range patterns {
		if strings.TrimSpace(p.Expr) == "" {
			return nil, fmt.Errorf("pattern %d: empty expression", i)
		}
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		if p.TitleGroup < 0 || p.TitleGroup > re.NumSubexp() {
			return nil, fmt.Errorf("pattern %d: title group %d out of range (expression has %d groups)",
				i, p.TitleGroup, re.NumSubexp())
		}
		d.rules = append(d.rules, rule{re: re, group: p.TitleGroup})
	}
	return d, nil
}

// Detect scans left to right. At each scan position every pattern is tried
// on the remaining text; the earliest match wins, ties going to the pattern
// listed first, and scanning resumes after it. Empty matches are ignored.
func (d *RegexDetector) Detect(text string) []Match {
	var out []Match
	pos := 0
	for pos < len(text) {
		best, ok := d.next(text, pos)
		if !ok {
			break
		}
		out = append(out, best)
		pos = best.End
	}
	return out
}

// next returns the earliest non-empty match starting at or after pos.
func (d *RegexDetector) next(text string, pos int) (Match, bool) {
	var (
		best  Match
		found bool
	)
	for _, r := range d.rules {
		from := pos
		for from <= len(text) {
			loc := r.re.FindStringSubmatchIndex(text[from:])
			if loc == nil {
				break
			}
			start, end := loc[0]+from, loc[1]+from
			if end > start {
				if !found || start < best.Start {
					title := text[start:end]
					if g := r.group; g > 0 && loc[2*g] >= 0 {
						title = text[loc[2*g]+from : loc[2*g+1]+from]
					}
					best = Match{Start: start, End: end, Title: strings.TrimSpace(title)}
					found = true
				}
				break
			}
			// Step past an empty match by one rune.
			if start >= len(text) {
				break
			}
			_, size := utf8.DecodeRuneInString(text[start:])
			from = start + size
		}
	}
	return best, found
}

// Chapter is a contiguous span of the document.
type Chapter struct {
	Index    int
	Title    string
	Text     string
	Start    int
	End      int
	Preamble bool
}

// Splitter partitions documents into chapters.
type Splitter struct {
	detector BoundaryDetector
}

// New returns a Splitter using the given detector.
func New(detector BoundaryDetector) *Splitter {
	return &Splitter{detector: detector}
}

// Split returns the chapters of doc in order. Text before the first heading
// becomes a preamble chapter; a document without headings is one chapter.
// An empty document has no chapters.
func (s *Splitter) Split(doc string) ([]Chapter, error) {
	if doc == "" {
		return nil, nil
	}
	matches := s.detector.Detect(doc)

	prev := 0
	for i, m := range matches {
		if m.Start < prev || m.End < m.Start || m.End > len(doc) {
			return nil, &StructuralError{
				Op:     "split",
				Detail: fmt.Sprintf("boundary %d at [%d,%d) is out of order or outside the document", i, m.Start, m.End),
			}
		}
		prev = m.End
	}

	var chapters []Chapter
	add := func(title string, start, end int, preamble bool) {
		chapters = append(chapters, Chapter{
			Index:    len(chapters),
			Title:    title,
			Text:     doc[start:end],
			Start:    start,
			End:      end,
			Preamble: preamble,
		})
	}

	if len(matches) == 0 {
		add("", 0, len(doc), false)
		return chapters, verify(doc, chapters)
	}
	if matches[0].Start > 0 {
		add("", 0, matches[0].Start, true)
	}
	for i, m := range matches {
		end := len(doc)
		if i+1 < len(matches) {
			end = matches[i+1].Start
		}
		add(m.Title, m.Start, end, false)
	}
	return chapters, verify(doc, chapters)
}

func verify(doc string, chapters []Chapter) error {
	var b strings.Builder
	b.Grow(len(doc))
	for _, c := range chapters {
		b.WriteString(c.Text)
	}
	if b.String() != doc {
		return &StructuralError{Op: "split", Detail: "chapters do not reconstruct the document"}
	}
	return nil
}

// Normalized reports whether doc is in Unicode NFC. Splitting works on any
// input, but mixed normalization forms can hide headings from the patterns.
func Normalized(doc string) bool {
	return norm.NFC.IsNormalString(doc)
}
