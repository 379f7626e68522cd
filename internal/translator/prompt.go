package translator

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultSystemPrompt is the translation role sent with every chunk.
const DefaultSystemPrompt = "You are a translator who provides accurate, complete translations " +
	"from Classical Chinese to English. Do not omit any details."

// BuildSystemPrompt appends the glossary and the previous passage to the
// base instruction. Glossary entries are sorted so identical requests
// produce identical prompts.
func BuildSystemPrompt(base string, glossary map[string]string, previousContext string) string {
	if base == "" {
		base = DefaultSystemPrompt
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\nOnly respond with the translation, nothing else. No explanations, no notes.")

	if len(glossary) > 0 {
		terms := make([]string, 0, len(glossary))
		for src := range glossary {
			terms = append(terms, src)
		}
		sort.Strings(terms)

		sb.WriteString("\n\nTERMINOLOGY (use these exact translations):\n")
		for _, src := range terms {
			sb.WriteString(fmt.Sprintf("  %s → %s\n", src, glossary[src]))
		}
	}

	if previousContext != "" {
		sb.WriteString(fmt.Sprintf("\n\nCONTEXT (end of the previous passage, for continuity; do NOT translate it again):\n...%s", previousContext))
	}

	return sb.String()
}
