// Package validator checks a translated chunk for gross truncation or an
// unusable response. The checks are heuristics: they catch incomplete
// generations, refusals and output in the wrong language, not bad
// translations.
package validator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valpere/wenyan/internal/chunker"
	"github.com/valpere/wenyan/internal/detector"
)

// minDetectionLength is the minimum rune count required to attempt language
// detection. Shorter texts produce unreliable results and pass.
const minDetectionLength = 20

// Config holds the tunable thresholds. Zero ratios disable their check.
type Config struct {
	// MinSentenceRatio fails a translation with fewer than this fraction of
	// the source's sentence count.
	MinSentenceRatio float64 `mapstructure:"min_sentence_ratio" validate:"gte=0,lte=1"`
	// MinSourceSentences is the source sentence count below which the
	// sentence ratio is not checked.
	MinSourceSentences int `mapstructure:"min_source_sentences" validate:"gte=0"`
	// MinLengthRatio fails a translation shorter than this fraction of the
	// source's token count.
	MinLengthRatio  float64 `mapstructure:"min_length_ratio" validate:"gte=0"`
	MinSourceTokens int     `mapstructure:"min_source_tokens" validate:"gte=0"`
	// NearEmptyRunes is the letter count under which a translation of a
	// non-empty source counts as empty.
	NearEmptyRunes int `mapstructure:"near_empty_runes" validate:"gte=0"`
	// TargetLang is an ISO 639-1 code; empty skips the language check.
	TargetLang    string `mapstructure:"target_lang"`
	CheckRefusals bool   `mapstructure:"check_refusals"`
}

// DefaultConfig returns lenient defaults for Classical Chinese to English.
func DefaultConfig() Config {
	return Config{
		MinSentenceRatio:   0.5,
		MinSourceSentences: 3,
		MinLengthRatio:     0.25,
		MinSourceTokens:    20,
		NearEmptyRunes:     3,
		TargetLang:         "en",
		CheckRefusals:      true,
	}
}

// Result is the outcome of a validation.
type Result struct {
	Passed bool
	Reason string
}

func pass() Result { return Result{Passed: true} }

func fail(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Validator compares a source chunk with its translation.
// The language detector is expensive to build; reuse the instance.
type Validator struct {
	cfg     Config
	counter chunker.TokenCounter
	det     *detector.Detector
}

// New returns a Validator. counter may be nil, which disables the length
// check. The language detector is built only when TargetLang is set.
func New(cfg Config, counter chunker.TokenCounter) *Validator {
	v := &Validator{cfg: cfg, counter: counter}
	if cfg.TargetLang != "" {
		v.det = detector.New()
	}
	return v
}

// Validate runs the checks in order and reports the first failure.
func (v *Validator) Validate(source, translated string) Result {
	srcLetters := letters(source)
	if srcLetters == 0 {
		return pass()
	}

	text := strings.TrimSpace(translated)
	if text == "" {
		return fail("translation is empty")
	}
	if n := letters(text); n < v.cfg.NearEmptyRunes {
		return fail("translation is near-empty (%d letters for %d in source)", n, srcLetters)
	}

	if v.cfg.CheckRefusals {
		if phrase, ok := refusal(text); ok {
			return fail("model refused: %q", phrase)
		}
	}

	if v.cfg.MinSentenceRatio > 0 {
		src := Sentences(source)
		if src >= v.cfg.MinSourceSentences && src > 0 {
			got := Sentences(text)
			if float64(got) < v.cfg.MinSentenceRatio*float64(src) {
				return fail("sentence count %d is below %.2f of source count %d", got, v.cfg.MinSentenceRatio, src)
			}
		}
	}

	if v.cfg.MinLengthRatio > 0 && v.counter != nil {
		src := v.counter.Count(source)
		if src >= v.cfg.MinSourceTokens && src > 0 {
			got := v.counter.Count(text)
			if float64(got) < v.cfg.MinLengthRatio*float64(src) {
				return fail("token count %d is below %.2f of source count %d", got, v.cfg.MinLengthRatio, src)
			}
		}
	}

	if v.det != nil && utf8.RuneCountInString(text) >= minDetectionLength {
		if detected, ok := v.det.DetectISO(text); ok && !strings.EqualFold(detected, v.cfg.TargetLang) {
			return fail("expected %s but detected %s", v.cfg.TargetLang, detected)
		}
	}

	return pass()
}

// Sentences counts sentence units that contain at least one letter.
func Sentences(text string) int {
	n := 0
	for _, s := range chunker.SplitSentences(text) {
		if letters(s) > 0 {
			n++
		}
	}
	return n
}

func letters(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

var refusalPhrases = []string{
	"i am unable to",
	"i'm unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"i can't provide",
	"i can't help with",
	"as a large language model",
	"as an ai language model",
}

// refusal looks for refusal boilerplate at the start of the response, where
// models put it; narrative dialogue later in a chunk is not matched.
func refusal(text string) (string, bool) {
	head := text
	if r := []rune(text); len(r) > 200 {
		head = string(r[:200])
	}
	head = strings.ToLower(strings.ReplaceAll(head, "’", "'"))
	for _, p := range refusalPhrases {
		if strings.Contains(head, p) {
			return p, true
		}
	}
	return "", false
}
