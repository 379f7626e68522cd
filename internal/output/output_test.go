package output

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatText},
		{in: "txt", want: FormatText},
		{in: "MD", want: FormatMarkdown},
		{in: " html ", want: FormatHTML},
		{in: "pdf", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileName_PreservesOrder(t *testing.T) {
	if got := FileName(0, FormatText); got != "chapter_001.txt" {
		t.Errorf("unexpected name %q", got)
	}
	if got := FileName(119, FormatHTML); got != "chapter_120.html" {
		t.Errorf("unexpected name %q", got)
	}
	if !(FileName(8, FormatText) < FileName(9, FormatText)) {
		t.Error("names must sort in chapter order")
	}
}

func TestRender(t *testing.T) {
	ch := ChapterFile{Index: 0, Title: "第一回", Text: "Liu Bei met Guan Yu.\n\nThey swore an oath."}

	txt := string(Render(ch, FormatText))
	if txt != ch.Text+"\n" {
		t.Errorf("unexpected txt %q", txt)
	}

	md := string(Render(ch, FormatMarkdown))
	if !strings.HasPrefix(md, "# 第一回\n\n") || !strings.Contains(md, "They swore an oath.") {
		t.Errorf("unexpected md %q", md)
	}

	page := string(Render(ch, FormatHTML))
	for _, want := range []string{"<title>第一回</title>", "<h1", "<p>Liu Bei met Guan Yu.</p>"} {
		if !strings.Contains(page, want) {
			t.Errorf("html missing %q:\n%s", want, page)
		}
	}
}

func TestDirSink_WriteChapter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s, err := NewDirSink(dir, FormatText)
	if err != nil {
		t.Fatalf("NewDirSink: %v", err)
	}
	defer s.Close()

	loc, err := s.WriteChapter(context.Background(), ChapterFile{Index: 2, Text: "first"})
	if err != nil {
		t.Fatalf("WriteChapter: %v", err)
	}
	if loc != filepath.Join(dir, "chapter_003.txt") {
		t.Errorf("unexpected location %q", loc)
	}

	// Rewriting replaces the chapter.
	if _, err := s.WriteChapter(context.Background(), ChapterFile{Index: 2, Text: "second"}); err != nil {
		t.Fatalf("WriteChapter: %v", err)
	}
	data, err := os.ReadFile(loc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second\n" {
		t.Errorf("unexpected content %q", data)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestDirSink_AppendFailure(t *testing.T) {
	s, err := NewDirSink(t.TempDir(), FormatText)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if err := s.AppendFailure(ctx, Failure{RunID: "r1", Chapter: 1, Chunk: i, Status: "failed_exhausted", Reason: "timeout", Attempts: 3, Time: now}); err != nil {
			t.Fatalf("AppendFailure: %v", err)
		}
	}

	f, err := os.Open(s.ErrorLogLocation())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []Failure
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var fl Failure
		if err := json.Unmarshal(sc.Bytes(), &fl); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		lines = append(lines, fl)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[1].Chunk != 1 || lines[1].Attempts != 3 || lines[1].Reason != "timeout" {
		t.Errorf("unexpected failure %+v", lines[1])
	}
}

func TestParseGCSURL(t *testing.T) {
	tests := []struct {
		in      string
		bucket  string
		prefix  string
		wantErr bool
	}{
		{in: "gs://books", bucket: "books"},
		{in: "gs://books/sanguo/en/", bucket: "books", prefix: "sanguo/en"},
		{in: "gs:///x", wantErr: true},
		{in: "s3://books", wantErr: true},
	}
	for _, tt := range tests {
		b, p, err := ParseGCSURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseGCSURL(%q) error = %v", tt.in, err)
			continue
		}
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseGCSURL(%q) = %q, %q", tt.in, b, p)
		}
	}
}

func TestOpen_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), dir, FormatMarkdown)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*DirSink); !ok {
		t.Errorf("expected *DirSink, got %T", s)
	}
	if s.ErrorLogLocation() != filepath.Join(dir, ErrorLogName) {
		t.Errorf("unexpected error log location %q", s.ErrorLogLocation())
	}
}
