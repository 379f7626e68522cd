// Package output writes translated chapters and the chunk failure log.
// Chapters go to a local directory or a GCS prefix, one unit per chapter,
// named so lexical order is chapter order.
package output

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Format is the chapter file format.
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

// ParseFormat accepts txt, md or html; empty means txt.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatMarkdown, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want txt, md or html)", s)
}

// ChapterFile is one reassembled chapter.
type ChapterFile struct {
	Index int
	Title string
	Text  string
	// Complete is false when any chunk carries an untranslated marker.
	Complete bool
}

// Failure is one line of the error log.
type Failure struct {
	RunID    string    `json:"run_id"`
	Chapter  int       `json:"chapter"`
	Chunk    int       `json:"chunk"`
	Status   string    `json:"status"`
	Kind     string    `json:"kind,omitempty"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	Time     time.Time `json:"time"`
}

// Sink receives chapters as they complete.
type Sink interface {
	// WriteChapter persists one chapter, replacing an earlier version, and
	// returns where it was written.
	WriteChapter(ctx context.Context, ch ChapterFile) (string, error)
	AppendFailure(ctx context.Context, f Failure) error
	ErrorLogLocation() string
	Close() error
}

// ErrorLogName is the error log file name inside the destination.
const ErrorLogName = "errors.jsonl"

// FileName returns the chapter file name: chapter_001.txt for index 0.
func FileName(index int, f Format) string {
	return fmt.Sprintf("chapter_%03d.%s", index+1, f)
}

// Render formats a chapter. Markdown and HTML get the chapter title as a
// heading; plain text is written as translated.
func Render(ch ChapterFile, f Format) []byte {
	switch f {
	case FormatMarkdown:
		return []byte(markdownBody(ch))
	case FormatHTML:
		return toHTML(ch)
	}
	text := ch.Text
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return []byte(text)
}

func markdownBody(ch ChapterFile) string {
	var b strings.Builder
	if ch.Title != "" {
		b.WriteString("# ")
		b.WriteString(ch.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimRight(ch.Text, "\n"))
	b.WriteString("\n")
	return b.String()
}

func toHTML(ch ChapterFile) []byte {
	title := ch.Title
	if title == "" {
		title = fmt.Sprintf("Chapter %d", ch.Index+1)
	}
	opts := html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: title,
	}
	renderer := html.NewRenderer(opts)
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := p.Parse([]byte(markdownBody(ch)))
	return bytes.TrimSpace(markdown.Render(doc, renderer))
}
