// Package store persists run progress in SQLite so an interrupted or
// partially failed run can be resumed: per-chunk results, per-chapter
// status, the last settled position, and the terminology glossary.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run or chapter does not exist.
var ErrNotFound = errors.New("not found")

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunAborted   = "aborted"
)

// Chapter statuses.
const (
	ChapterComplete = "complete"
	ChapterPartial  = "partial"
)

// Default glossary language pair.
const (
	SourceLang = "lzh"
	TargetLang = "en"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		input_path TEXT NOT NULL,
		doc_hash TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		max_tokens INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		last_chapter INTEGER NOT NULL DEFAULT -1,
		last_chunk INTEGER NOT NULL DEFAULT -1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- chunk_results holds the settled outcome of every chunk, success or not
	CREATE TABLE IF NOT EXISTS chunk_results (
		run_id TEXT NOT NULL,
		chapter_idx INTEGER NOT NULL,
		chunk_idx INTEGER NOT NULL,
		source_hash TEXT NOT NULL,
		translated_text TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		status TEXT NOT NULL,
		kind TEXT,
		reason TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, chapter_idx, chunk_idx),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	-- chapters records each written chapter and whether it was complete
	CREATE TABLE IF NOT EXISTS chapters (
		run_id TEXT NOT NULL,
		chapter_idx INTEGER NOT NULL,
		title TEXT,
		status TEXT NOT NULL,
		location TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, chapter_idx),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	-- glossary stores user-defined terminology for consistent translation of names and titles
	CREATE TABLE IF NOT EXISTS glossary (
		id TEXT PRIMARY KEY,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		source_term TEXT NOT NULL,
		target_term TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_lang, target_lang, source_term)
	);

	CREATE INDEX IF NOT EXISTS idx_chunk_status ON chunk_results(run_id, status);
	CREATE INDEX IF NOT EXISTS idx_glossary_lookup ON glossary(source_lang, target_lang);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SourceHash identifies chunk text independent of Unicode normalization
// form, so cached results survive a re-encoded input file.
func SourceHash(text string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(text)))
	return hex.EncodeToString(sum[:])
}

// Run is one invocation over one input document.
type Run struct {
	ID          string
	InputPath   string
	DocHash     string
	Provider    string
	Model       string
	MaxTokens   int
	Status      string
	LastChapter int
	LastChunk   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateRun stores a new run and returns its generated ID.
func (s *Store) CreateRun(ctx context.Context, r Run) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input_path, doc_hash, provider, model, max_tokens, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.InputPath, r.DocHash, r.Provider, r.Model, r.MaxTokens, RunRunning, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

const runColumns = `id, input_path, doc_hash, provider, model, max_tokens, status, last_chapter, last_chunk, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.InputPath, &r.DocHash, &r.Provider, &r.Model, &r.MaxTokens,
		&r.Status, &r.LastChapter, &r.LastChunk, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// UpdateRunProgress records the last settled chapter and chunk.
func (s *Store) UpdateRunProgress(ctx context.Context, id string, chapter, chunk int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET last_chapter = ?, last_chunk = ?, updated_at = ? WHERE id = ?`,
		chapter, chunk, time.Now().UTC(), id)
	return err
}

// SetRunStatus marks a run running, completed, partial or aborted.
func (s *Store) SetRunStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ChunkRecord is the settled outcome of one chunk.
type ChunkRecord struct {
	RunID          string
	Chapter        int
	Chunk          int
	SourceHash     string
	TranslatedText string
	Attempts       int
	Status         string
	Kind           string
	Reason         string
	UpdatedAt      time.Time
}

// SaveChunkResult inserts or replaces a chunk outcome.
func (s *Store) SaveChunkResult(ctx context.Context, rec ChunkRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chunk_results
		 (run_id, chapter_idx, chunk_idx, source_hash, translated_text, attempts, status, kind, reason, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Chapter, rec.Chunk, rec.SourceHash, rec.TranslatedText, rec.Attempts,
		rec.Status, rec.Kind, rec.Reason, time.Now().UTC())
	return err
}

const chunkColumns = `run_id, chapter_idx, chunk_idx, source_hash, translated_text, attempts, status, COALESCE(kind, ''), COALESCE(reason, ''), updated_at`

func (s *Store) queryChunks(ctx context.Context, query string, args ...any) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.RunID, &c.Chapter, &c.Chunk, &c.SourceHash, &c.TranslatedText,
			&c.Attempts, &c.Status, &c.Kind, &c.Reason, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChunkResults returns the stored chunks of one chapter keyed by chunk index.
func (s *Store) ChunkResults(ctx context.Context, runID string, chapter int) (map[int]ChunkRecord, error) {
	recs, err := s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunk_results WHERE run_id = ? AND chapter_idx = ?`,
		runID, chapter)
	if err != nil {
		return nil, err
	}
	out := make(map[int]ChunkRecord, len(recs))
	for _, r := range recs {
		out[r.Chunk] = r
	}
	return out, nil
}

// ListFailures returns every chunk of a run that did not succeed, in
// document order.
func (s *Store) ListFailures(ctx context.Context, runID string) ([]ChunkRecord, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunk_results WHERE run_id = ? AND status != 'success'
		 ORDER BY chapter_idx, chunk_idx`,
		runID)
}

// ChapterRecord is a written chapter.
type ChapterRecord struct {
	RunID     string
	Chapter   int
	Title     string
	Status    string
	Location  string
	UpdatedAt time.Time
}

// SaveChapter inserts or replaces a chapter record.
func (s *Store) SaveChapter(ctx context.Context, rec ChapterRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chapters (run_id, chapter_idx, title, status, location, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Chapter, rec.Title, rec.Status, rec.Location, time.Now().UTC())
	return err
}

// GetChapter retrieves a chapter record.
func (s *Store) GetChapter(ctx context.Context, runID string, chapter int) (*ChapterRecord, error) {
	var c ChapterRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, chapter_idx, COALESCE(title, ''), status, location, updated_at
		 FROM chapters WHERE run_id = ? AND chapter_idx = ?`,
		runID, chapter).Scan(&c.RunID, &c.Chapter, &c.Title, &c.Status, &c.Location, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s chapter %d: %w", runID, chapter, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChapters returns the chapters written by a run in order.
func (s *Store) ListChapters(ctx context.Context, runID string) ([]ChapterRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, chapter_idx, COALESCE(title, ''), status, location, updated_at
		 FROM chapters WHERE run_id = ? ORDER BY chapter_idx`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChapterRecord
	for rows.Next() {
		var c ChapterRecord
		if err := rows.Scan(&c.RunID, &c.Chapter, &c.Title, &c.Status, &c.Location, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GlossaryEntry represents a single terminology mapping.
type GlossaryEntry struct {
	ID         string
	SourceLang string
	TargetLang string
	SourceTerm string
	TargetTerm string
	CreatedAt  time.Time
}

// AddGlossaryTerm inserts or replaces a glossary entry.
func (s *Store) AddGlossaryTerm(ctx context.Context, sourceLang, targetLang, sourceTerm, targetTerm string) error {
	sourceTerm = norm.NFC.String(strings.TrimSpace(sourceTerm))
	targetTerm = strings.TrimSpace(targetTerm)
	if sourceTerm == "" || targetTerm == "" {
		return errors.New("glossary terms must not be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO glossary (id, source_lang, target_lang, source_term, target_term)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), sourceLang, targetLang, sourceTerm, targetTerm)
	return err
}

// GetGlossaryTerms returns the glossary for a language pair as a
// source-term → target-term map, ready to embed in a translation prompt.
func (s *Store) GetGlossaryTerms(ctx context.Context, sourceLang, targetLang string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_term, target_term FROM glossary WHERE source_lang = ? AND target_lang = ?`,
		sourceLang, targetLang)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	terms := make(map[string]string)
	for rows.Next() {
		var src, tgt string
		if err := rows.Scan(&src, &tgt); err != nil {
			return nil, err
		}
		terms[src] = tgt
	}
	return terms, rows.Err()
}

// ListGlossaryTerms returns all glossary entries, optionally filtered by
// language pair (pass empty strings to return everything).
func (s *Store) ListGlossaryTerms(ctx context.Context, sourceLang, targetLang string) ([]GlossaryEntry, error) {
	query := `SELECT id, source_lang, target_lang, source_term, target_term, created_at FROM glossary`
	var args []any

	switch {
	case sourceLang != "" && targetLang != "":
		query += ` WHERE source_lang = ? AND target_lang = ?`
		args = append(args, sourceLang, targetLang)
	case sourceLang != "":
		query += ` WHERE source_lang = ?`
		args = append(args, sourceLang)
	case targetLang != "":
		query += ` WHERE target_lang = ?`
		args = append(args, targetLang)
	}
	query += ` ORDER BY source_lang, target_lang, source_term`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []GlossaryEntry
	for rows.Next() {
		var e GlossaryEntry
		if err := rows.Scan(&e.ID, &e.SourceLang, &e.TargetLang, &e.SourceTerm, &e.TargetTerm, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteGlossaryTerm removes a glossary entry by ID.
func (s *Store) DeleteGlossaryTerm(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM glossary WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("glossary term %s: %w", id, ErrNotFound)
	}
	return nil
}
