package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// NameEntry is one line of a name list: a Classical Chinese term and the
// rendering every chapter should use for it.
type NameEntry struct {
	Line   int
	Source string
	Target string
}

// ParseNameList reads a name list. Each non-blank line holds a term and its
// rendering separated by a tab or by "=" (for example "諸葛亮 = Zhuge Liang").
// Lines starting with "#" are comments. A term listed twice keeps the last
// rendering.
func ParseNameList(r io.Reader) ([]NameEntry, error) {
	var (
		entries []NameEntry
		seen    = map[string]int{}
	)
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if n == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		src, tgt, ok := strings.Cut(trimmed, "\t")
		if !ok {
			src, tgt, ok = strings.Cut(trimmed, "=")
		}
		src = norm.NFC.String(strings.TrimSpace(src))
		tgt = strings.TrimSpace(tgt)
		if !ok || src == "" || tgt == "" {
			return nil, fmt.Errorf("line %d: expected \"term<TAB>rendering\" or \"term = rendering\", got %q", n, trimmed)
		}

		e := NameEntry{Line: n, Source: src, Target: tgt}
		if i, dup := seen[src]; dup {
			entries[i] = e
			continue
		}
		seen[src] = len(entries)
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read name list: %w", err)
	}
	return entries, nil
}

// ImportGlossary stores entries for a language pair in one transaction,
// replacing existing renderings of the same terms. Either every entry is
// stored or none is.
func (s *Store) ImportGlossary(ctx context.Context, sourceLang, targetLang string, entries []NameEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO glossary (id, source_lang, target_lang, source_term, target_term)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), sourceLang, targetLang, e.Source, e.Target); err != nil {
			return 0, fmt.Errorf("line %d (%s): %w", e.Line, e.Source, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// TermUsage counts how often each glossary term occurs in doc. Terms that
// never occur are reported with a zero count.
func TermUsage(doc string, entries []GlossaryEntry) map[string]int {
	doc = norm.NFC.String(doc)
	usage := make(map[string]int, len(entries))
	for _, e := range entries {
		usage[e.SourceTerm] = strings.Count(doc, e.SourceTerm)
	}
	return usage
}
