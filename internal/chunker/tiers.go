package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tier is one level of boundary detection. Split must return units whose
// concatenation is exactly its input.
type Tier struct {
	Name  string
	Split func(text string) []string
}

// DefaultTiers returns paragraph, line, sentence and clause tiers.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "paragraph", Split: SplitParagraphs},
		{Name: "line", Split: SplitLines},
		{Name: "sentence", Split: SplitSentences},
		{Name: "clause", Split: SplitClauses},
	}
}

// A blank line, possibly holding indentation or ideographic spaces.
var paragraphBreak = regexp.MustCompile(`\r?\n(?:[ \t\x{3000}]*\r?\n)+`)

// SplitParagraphs cuts after each run of blank lines. The separator stays
// with the preceding paragraph.
func SplitParagraphs(text string) []string {
	var units []string
	start := 0
	for _, loc := range paragraphBreak.FindAllStringIndex(text, -1) {
		if loc[1] > start {
			units = append(units, text[start:loc[1]])
			start = loc[1]
		}
	}
	if start < len(text) {
		units = append(units, text[start:])
	}
	return units
}

// SplitLines cuts after each newline.
func SplitLines(text string) []string {
	var units []string
	for text != "" {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			units = append(units, text)
			break
		}
		units = append(units, text[:i+1])
		text = text[i+1:]
	}
	return units
}

// SplitSentences cuts after sentence-terminal punctuation. Full-width marks
// (。！？) always end a sentence; ASCII marks only when followed by
// whitespace, and a period after an abbreviation or an initial does not.
// Trailing closing quotes, brackets and spaces stay with the sentence.
func SplitSentences(text string) []string {
	return scan(text, sentenceBreak, isSentenceTail)
}

// SplitClauses cuts after clause punctuation (，、；： and ASCII ,;: before
// whitespace).
func SplitClauses(text string) []string {
	return scan(text, clauseBreak, isClauseTail)
}

func scan(text string, isBreak func(before string, r rune, after string) bool, tail func(rune) bool) []string {
	var units []string
	start, i := 0, 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isBreak(text[start:i], r, text[i+size:]) {
			i += size
			continue
		}
		end := i + size
		for end < len(text) {
			r2, s2 := utf8.DecodeRuneInString(text[end:])
			if !tail(r2) {
				break
			}
			end += s2
		}
		units = append(units, text[start:end])
		start, i = end, end
	}
	if start < len(text) {
		units = append(units, text[start:])
	}
	return units
}

func isFullWidthTerminal(r rune) bool {
	switch r {
	case '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '」', '』', '”', '’', '"', '\'', '）', ')', ']', '》', '〉', '】':
		return true
	}
	return false
}

func isHorizontalSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '　'
}

func isSentenceTail(r rune) bool {
	return isFullWidthTerminal(r) || r == '.' || r == '!' || r == '?' || isCloser(r) || isHorizontalSpace(r)
}

func isClauseTail(r rune) bool {
	return isCloser(r) || isHorizontalSpace(r)
}

// followedBySpace reports whether after starts with whitespace once closing
// punctuation is skipped, or is empty.
func followedBySpace(after string) bool {
	for after != "" {
		r, size := utf8.DecodeRuneInString(after)
		if isCloser(r) {
			after = after[size:]
			continue
		}
		return unicode.IsSpace(r)
	}
	return true
}

func sentenceBreak(before string, r rune, after string) bool {
	if isFullWidthTerminal(r) {
		return true
	}
	switch r {
	case '!', '?':
		return followedBySpace(after)
	case '.':
		return followedBySpace(after) && !abbreviated(before)
	}
	return false
}

func clauseBreak(_ string, r rune, after string) bool {
	switch r {
	case '，', '、', '；', '：':
		return true
	case ',', ';', ':':
		return followedBySpace(after)
	}
	return false
}

var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "st": true, "prof": true,
	"sr": true, "jr": true, "vs": true, "etc": true, "cf": true, "no": true,
	"vol": true, "ch": true, "pp": true, "fig": true, "ed": true, "trans": true,
}

// abbreviated reports whether the word ending before a period looks like an
// abbreviation, so the period is ambiguous and the text is kept together.
func abbreviated(before string) bool {
	fields := strings.Fields(before)
	if len(fields) == 0 {
		return false
	}
	word := strings.TrimLeftFunc(fields[len(fields)-1], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if word == "" {
		return false
	}
	if utf8.RuneCountInString(word) == 1 {
		r, _ := utf8.DecodeRuneInString(word)
		return unicode.IsLetter(r) && r < utf8.RuneSelf
	}
	if strings.Contains(word, ".") {
		return true
	}
	return abbreviations[strings.ToLower(word)]
}
