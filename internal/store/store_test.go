package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createRun(t *testing.T, s *Store) string {
	t.Helper()
	id, err := s.CreateRun(context.Background(), Run{
		InputPath: "sanguo.txt",
		DocHash:   SourceHash("doc"),
		Provider:  "openai",
		Model:     "gpt-4",
		MaxTokens: 6000,
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return id
}

func TestStore_New(t *testing.T) {
	s := newTestStore(t)
	if s == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestStore_New_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/test.db")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestStore_Run(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createRun(t, s)

	r, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if r.InputPath != "sanguo.txt" || r.MaxTokens != 6000 || r.Model != "gpt-4" {
		t.Errorf("unexpected run %+v", r)
	}
	if r.Status != RunRunning || r.LastChapter != -1 || r.LastChunk != -1 {
		t.Errorf("unexpected initial state %+v", r)
	}

	if err := s.UpdateRunProgress(ctx, id, 2, 5); err != nil {
		t.Fatalf("UpdateRunProgress failed: %v", err)
	}
	if err := s.SetRunStatus(ctx, id, RunAborted); err != nil {
		t.Fatalf("SetRunStatus failed: %v", err)
	}
	r, err = s.GetRun(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if r.LastChapter != 2 || r.LastChunk != 5 || r.Status != RunAborted {
		t.Errorf("progress not stored: %+v", r)
	}
}

func TestStore_GetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetRunStatus(context.Background(), "missing", RunCompleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListRuns(t *testing.T) {
	s := newTestStore(t)
	a := createRun(t, s)
	b := createRun(t, s)

	runs, err := s.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	seen := map[string]bool{runs[0].ID: true, runs[1].ID: true}
	if !seen[a] || !seen[b] {
		t.Errorf("missing runs: %+v", runs)
	}
}

func TestStore_ChunkResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createRun(t, s)

	recs := []ChunkRecord{
		{RunID: id, Chapter: 0, Chunk: 0, SourceHash: SourceHash("甲"), TranslatedText: "A", Attempts: 1, Status: "success"},
		{RunID: id, Chapter: 0, Chunk: 1, SourceHash: SourceHash("乙"), Attempts: 3, Status: "failed_exhausted", Kind: "transport", Reason: "timeout"},
		{RunID: id, Chapter: 1, Chunk: 0, SourceHash: SourceHash("丙"), TranslatedText: "C", Attempts: 2, Status: "success"},
	}
	for _, r := range recs {
		if err := s.SaveChunkResult(ctx, r); err != nil {
			t.Fatalf("SaveChunkResult failed: %v", err)
		}
	}

	got, err := s.ChunkResults(ctx, id, 0)
	if err != nil {
		t.Fatalf("ChunkResults failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].TranslatedText != "A" || got[1].Reason != "timeout" || got[1].Kind != "transport" {
		t.Errorf("unexpected records %+v", got)
	}

	// A retry replaces the failed record.
	recs[1].Status = "success"
	recs[1].TranslatedText = "B"
	recs[1].Kind = ""
	recs[1].Reason = ""
	if err := s.SaveChunkResult(ctx, recs[1]); err != nil {
		t.Fatal(err)
	}
	got, _ = s.ChunkResults(ctx, id, 0)
	if got[1].Status != "success" || got[1].TranslatedText != "B" {
		t.Errorf("record not replaced: %+v", got[1])
	}
}

func TestStore_ListFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createRun(t, s)

	for _, r := range []ChunkRecord{
		{RunID: id, Chapter: 2, Chunk: 1, SourceHash: "h", Attempts: 3, Status: "failed_validation", Reason: "empty"},
		{RunID: id, Chapter: 0, Chunk: 4, SourceHash: "h", Attempts: 3, Status: "failed_exhausted", Reason: "timeout"},
		{RunID: id, Chapter: 1, Chunk: 0, SourceHash: "h", TranslatedText: "ok", Attempts: 1, Status: "success"},
	} {
		if err := s.SaveChunkResult(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	failures, err := s.ListFailures(ctx, id)
	if err != nil {
		t.Fatalf("ListFailures failed: %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	if failures[0].Chapter != 0 || failures[1].Chapter != 2 {
		t.Errorf("failures not in document order: %+v", failures)
	}
}

func TestStore_Chapters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createRun(t, s)

	if _, err := s.GetChapter(ctx, id, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	for i, status := range []string{ChapterComplete, ChapterPartial} {
		err := s.SaveChapter(ctx, ChapterRecord{RunID: id, Chapter: i, Title: "第一回", Status: status, Location: "out/chapter.txt"})
		if err != nil {
			t.Fatalf("SaveChapter failed: %v", err)
		}
	}

	c, err := s.GetChapter(ctx, id, 1)
	if err != nil {
		t.Fatalf("GetChapter failed: %v", err)
	}
	if c.Status != ChapterPartial || c.Title != "第一回" {
		t.Errorf("unexpected chapter %+v", c)
	}

	list, err := s.ListChapters(ctx, id)
	if err != nil {
		t.Fatalf("ListChapters failed: %v", err)
	}
	if len(list) != 2 || list[0].Chapter != 0 || list[1].Chapter != 1 {
		t.Errorf("unexpected chapters %+v", list)
	}
}

func TestSourceHash_Normalization(t *testing.T) {
	if SourceHash("\u00e9") != SourceHash("e\u0301") {
		t.Error("hash should not depend on normalization form")
	}
	if SourceHash("甲") == SourceHash("乙") {
		t.Error("different text must hash differently")
	}
}

func TestStore_Glossary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddGlossaryTerm(ctx, SourceLang, TargetLang, "劉備", "Liu Bei"); err != nil {
		t.Fatalf("AddGlossaryTerm failed: %v", err)
	}
	if err := s.AddGlossaryTerm(ctx, SourceLang, TargetLang, "曹操", "Cao Cao"); err != nil {
		t.Fatal(err)
	}
	// Replacing an existing term keeps one entry.
	if err := s.AddGlossaryTerm(ctx, SourceLang, TargetLang, "曹操", "Cao Mengde"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddGlossaryTerm(ctx, SourceLang, TargetLang, " ", "x"); err == nil {
		t.Error("expected error for empty term")
	}

	terms, err := s.GetGlossaryTerms(ctx, SourceLang, TargetLang)
	if err != nil {
		t.Fatalf("GetGlossaryTerms failed: %v", err)
	}
	if len(terms) != 2 || terms["曹操"] != "Cao Mengde" {
		t.Errorf("unexpected terms %v", terms)
	}

	entries, err := s.ListGlossaryTerms(ctx, "", "")
	if err != nil {
		t.Fatalf("ListGlossaryTerms failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if err := s.DeleteGlossaryTerm(ctx, entries[0].ID); err != nil {
		t.Fatalf("DeleteGlossaryTerm failed: %v", err)
	}
	if err := s.DeleteGlossaryTerm(ctx, entries[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	terms, _ = s.GetGlossaryTerms(ctx, SourceLang, TargetLang)
	if len(terms) != 1 {
		t.Errorf("expected 1 term after delete, got %d", len(terms))
	}
}
