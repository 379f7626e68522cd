// Package postprocess removes common LLM artifacts from translated chunks
// before they are validated and stored.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean strips reasoning blocks, prompt echoes and a wrapping code fence,
// and returns the trimmed result.
func Clean(text string) string {
	text = removeThinkingBlocks(text)
	text = removeInstructionEchoes(text)
	text = removeCodeFence(text)
	return strings.TrimSpace(text)
}

// thinkingBlockRe lists each tag variant explicitly: RE2 has no
// backreferences.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// truncatedThinkingRe matches an opened tag whose closing tag never came.
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// echoPatterns are anchored at the start and require a colon, so a sentence
// that merely mentions a translation is left alone.
var echoPatterns = []*regexp.Regexp{
	// "Here is / Here's [the] [English|full|complete] translation:"
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the| my)? (?:english |full |complete |translated )?(?:translation|text)(?: in english)?\s*:`),
	// "[The] [English] translation:" and "Translation (English):"
	regexp.MustCompile(`(?i)^(?:the )?(?:english |full |complete )?(?:translation|translated text)(?: \(english\))?\s*:`),
	// "Certainly / Sure / Of course[,] here is [the] translation:"
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.!]? here(?:'s| is)(?: the| my)? (?:english |full |complete |translated )?(?:translation|text)\s*:`),
}

func removeInstructionEchoes(text string) string {
	for _, re := range echoPatterns {
		if loc := re.FindStringIndex(text); loc != nil {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// fenceRe matches output wrapped whole in a ``` block, with an optional
// language tag.
var fenceRe = regexp.MustCompile("(?s)^```[A-Za-z]*[ \t]*\r?\n(.*?)\r?\n?```$")

func removeCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}
