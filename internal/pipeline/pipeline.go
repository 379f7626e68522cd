// Package pipeline sequences a translation run: split the document into
// chapters, chunk each chapter, translate chunks through the orchestrator,
// reassemble them in chunk order and write each chapter as soon as it is
// done. Progress is checkpointed so an interrupted run can resume.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/valpere/wenyan/internal/chunker"
	"github.com/valpere/wenyan/internal/orchestrator"
	"github.com/valpere/wenyan/internal/output"
	"github.com/valpere/wenyan/internal/splitter"
	"github.com/valpere/wenyan/internal/store"
)

var (
	// ErrAborted wraps every error that ends a run early.
	ErrAborted = errors.New("run aborted")
	// ErrDeclined is returned when a confirmation gate is answered no.
	ErrDeclined = errors.New("declined at confirmation")
	// ErrTooManyFailures is returned when consecutive chunks keep failing.
	ErrTooManyFailures = errors.New("too many consecutive chunk failures")
)

// PreviewRunes is the length of the per-chunk progress preview.
const PreviewRunes = 300

// State is the driver's position in a run.
type State int32

const (
	StateIdle State = iota
	StateSplittingChapters
	StateChunkingChapter
	StateTranslatingChunk
	StateAwaitingReview
	StateWritingOutput
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSplittingChapters:
		return "splitting_chapters"
	case StateChunkingChapter:
		return "chunking_chapter"
	case StateTranslatingChunk:
		return "translating_chunk"
	case StateAwaitingReview:
		return "awaiting_review"
	case StateWritingOutput:
		return "writing_output"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type ChapterSplitter interface {
	Split(doc string) ([]splitter.Chapter, error)
}

type ChapterChunker interface {
	Chunk(ch splitter.Chapter) ([]chunker.Chunk, error)
}

type ChunkTranslator interface {
	TranslateWithContext(ctx context.Context, ch chunker.Chunk, s orchestrator.Sampling, previous string) (orchestrator.Result, error)
}

// Checkpoint persists run progress. *store.Store implements it.
type Checkpoint interface {
	ChunkResults(ctx context.Context, runID string, chapter int) (map[int]store.ChunkRecord, error)
	SaveChunkResult(ctx context.Context, rec store.ChunkRecord) error
	GetChapter(ctx context.Context, runID string, chapter int) (*store.ChapterRecord, error)
	SaveChapter(ctx context.Context, rec store.ChapterRecord) error
	UpdateRunProgress(ctx context.Context, id string, chapter, chunk int) error
	SetRunStatus(ctx context.Context, id, status string) error
}

type Components struct {
	Splitter   ChapterSplitter
	Chunker    ChapterChunker
	Translator ChunkTranslator
	Sink       output.Sink
	// Checkpoint is optional; without it nothing is resumable.
	Checkpoint Checkpoint
	Confirmer  Confirmer
}

type Options struct {
	RunID    string
	Sampling orchestrator.Sampling
	// EarlyVerify asks for confirmation once, after the first chunk of the
	// run translates successfully.
	EarlyVerify bool
	// Review asks for confirmation after each written chapter unless
	// AutoContinue is set.
	Review       bool
	AutoContinue bool
	// ContextRunes of the previous chunk's source are sent as read-only
	// context; 0 disables.
	ContextRunes int
	// MaxConsecutiveFailures aborts the run after that many failed chunks
	// in a row; 0 disables.
	MaxConsecutiveFailures int
	ChapterPause           time.Duration
	Clock                  orchestrator.Clock
	// Progress receives a short preview of every translated chunk.
	Progress io.Writer
	Logger   *slog.Logger
}

// ChapterReport summarizes one chapter of a run.
type ChapterReport struct {
	Index    int
	Title    string
	Chunks   int
	Failed   int
	Reused   int
	Location string
	// Skipped is set when a resumed run found the chapter already complete.
	Skipped bool
}

func (c ChapterReport) Complete() bool { return c.Failed == 0 }

// Report is the outcome of a run, filled in even when the run aborts.
type Report struct {
	RunID     string
	Chapters  []ChapterReport
	Failures  int
	Oversized int
	ErrorLog  string
}

// FullySuccessful reports whether every chunk was translated.
func (r *Report) FullySuccessful() bool { return r.Failures == 0 }

// PartialChapters returns the indexes of chapters with untranslated chunks.
func (r *Report) PartialChapters() []int {
	var out []int
	for _, c := range r.Chapters {
		if !c.Complete() {
			out = append(out, c.Index)
		}
	}
	return out
}

type Driver struct {
	c     Components
	opts  Options
	log   *slog.Logger
	state atomic.Int32
}

func New(c Components, opts Options) (*Driver, error) {
	if c.Splitter == nil || c.Chunker == nil || c.Translator == nil || c.Sink == nil {
		return nil, errors.New("pipeline: splitter, chunker, translator and sink are required")
	}
	if c.Confirmer == nil {
		c.Confirmer = AutoConfirm{}
	}
	if opts.Clock == nil {
		opts.Clock = orchestrator.RealClock()
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Sampling == (orchestrator.Sampling{}) {
		opts.Sampling = orchestrator.DefaultSampling()
	}
	return &Driver{
		c:    c,
		opts: opts,
		log:  opts.Logger.With("component", "pipeline", "run", opts.RunID),
	}, nil
}

// State returns the current state; safe to call from another goroutine.
func (d *Driver) State() State { return State(d.state.Load()) }

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
	d.log.Debug("state", "state", s)
}

// Run translates doc. Chunk failures are contained: they become markers in
// the chapter text and lines in the error log. Run returns an error wrapping
// ErrAborted on a structural fault, a fatal service error, interruption, a
// declined gate or too many consecutive failures. The report covers the
// work done up to that point.
func (d *Driver) Run(ctx context.Context, doc string) (*Report, error) {
	report := &Report{RunID: d.opts.RunID, ErrorLog: d.c.Sink.ErrorLogLocation()}

	d.setState(StateSplittingChapters)
	chapters, err := d.c.Splitter.Split(doc)
	if err != nil {
		return report, d.abort(ctx, err)
	}
	d.log.Info("document split", "chapters", len(chapters))

	r := &run{Driver: d, report: report, verified: !d.opts.EarlyVerify}
	for i, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return report, d.abort(ctx, fmt.Errorf("%w: %w", orchestrator.ErrInterrupted, err))
		}
		if strings.TrimSpace(ch.Text) == "" {
			d.log.Debug("skipping blank chapter", "chapter", ch.Index)
			continue
		}

		written, err := r.chapter(ctx, ch)
		if err != nil {
			return report, d.abort(ctx, err)
		}
		if !written || i == len(chapters)-1 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, d.abort(ctx, fmt.Errorf("%w: %w", orchestrator.ErrInterrupted, err))
		}

		if d.opts.Review && !d.opts.AutoContinue {
			d.setState(StateAwaitingReview)
			last := report.Chapters[len(report.Chapters)-1]
			ok, err := d.c.Confirmer.Confirm(ctx, fmt.Sprintf("Chapter %d written to %s. Continue with the next chapter?", ch.Index, last.Location))
			if err != nil {
				return report, d.abort(ctx, err)
			}
			if !ok {
				return report, d.abort(ctx, ErrDeclined)
			}
		}
		if d.opts.ChapterPause > 0 {
			if err := d.opts.Clock.Sleep(ctx, d.opts.ChapterPause); err != nil {
				return report, d.abort(ctx, fmt.Errorf("%w: %w", orchestrator.ErrInterrupted, err))
			}
		}
	}

	d.setState(StateDone)
	status := store.RunCompleted
	if !report.FullySuccessful() {
		status = store.RunPartial
	}
	if d.c.Checkpoint != nil {
		if err := d.c.Checkpoint.SetRunStatus(ctx, d.opts.RunID, status); err != nil {
			d.log.Warn("failed to record run status", "error", err)
		}
	}
	d.log.Info("run finished", "status", status, "chapters", len(report.Chapters), "failures", report.Failures)
	return report, nil
}

func (d *Driver) abort(ctx context.Context, cause error) error {
	d.setState(StateAborted)
	if d.c.Checkpoint != nil {
		if err := d.c.Checkpoint.SetRunStatus(context.WithoutCancel(ctx), d.opts.RunID, store.RunAborted); err != nil {
			d.log.Warn("failed to record run status", "error", err)
		}
	}
	d.log.Error("run aborted", "error", cause)
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

// run holds the state carried across chapters.
type run struct {
	*Driver
	report      *Report
	verified    bool
	consecutive int
}

// chapter translates and writes one chapter. It reports false when the
// chapter was skipped because an earlier run completed it.
func (r *run) chapter(ctx context.Context, ch splitter.Chapter) (bool, error) {
	log := r.log.With("chapter", ch.Index)

	if r.c.Checkpoint != nil {
		rec, err := r.c.Checkpoint.GetChapter(ctx, r.opts.RunID, ch.Index)
		switch {
		case err == nil && rec.Status == store.ChapterComplete:
			log.Info("chapter already complete, skipping", "location", rec.Location)
			r.report.Chapters = append(r.report.Chapters, ChapterReport{
				Index: ch.Index, Title: ch.Title, Location: rec.Location, Skipped: true,
			})
			return false, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return false, fmt.Errorf("chapter %d: %w", ch.Index, err)
		}
	}

	r.setState(StateChunkingChapter)
	chunks, err := r.c.Chunker.Chunk(ch)
	if err != nil {
		return false, err
	}
	log.Info("chapter chunked", "title", ch.Title, "chunks", len(chunks))

	stored := map[int]store.ChunkRecord{}
	if r.c.Checkpoint != nil {
		if stored, err = r.c.Checkpoint.ChunkResults(ctx, r.opts.RunID, ch.Index); err != nil {
			return false, fmt.Errorf("chapter %d: %w", ch.Index, err)
		}
	}

	rep := ChapterReport{Index: ch.Index, Title: ch.Title, Chunks: len(chunks)}
	results := make([]orchestrator.Result, len(chunks))
	for j, ck := range chunks {
		if ck.Oversized {
			r.report.Oversized++
		}

		if rec, ok := stored[j]; ok && rec.Status == orchestrator.StatusSuccess.String() && rec.SourceHash == store.SourceHash(ck.Text) {
			results[j] = orchestrator.Result{Chunk: ck, TranslatedText: rec.TranslatedText, Attempts: rec.Attempts, Status: orchestrator.StatusSuccess}
			rep.Reused++
			continue
		}
		if strings.TrimSpace(ck.Text) == "" {
			results[j] = orchestrator.Result{Chunk: ck, Status: orchestrator.StatusSuccess}
			continue
		}

		res, err := r.translate(ctx, chunks, j)
		if err != nil {
			return false, err
		}
		results[j] = res
		if res.Status != orchestrator.StatusSuccess {
			rep.Failed++
		}

		if !r.verified && res.Status == orchestrator.StatusSuccess {
			r.verified = true
			ok, err := r.c.Confirmer.Confirm(ctx, "First chunk translated. Continue with the rest of the document?")
			if err != nil {
				return false, err
			}
			if !ok {
				return false, ErrDeclined
			}
		}
		if r.opts.MaxConsecutiveFailures > 0 && r.consecutive >= r.opts.MaxConsecutiveFailures {
			return false, fmt.Errorf("%w: %d in a row, last: %s", ErrTooManyFailures, r.consecutive, res.Reason)
		}
	}

	// A chapter whose chunks all settled is written even after an interrupt.
	saveCtx := context.WithoutCancel(ctx)
	r.setState(StateWritingOutput)
	file := output.ChapterFile{
		Index:    ch.Index,
		Title:    ch.Title,
		Text:     Assemble(results),
		Complete: rep.Failed == 0,
	}
	loc, err := r.c.Sink.WriteChapter(saveCtx, file)
	if err != nil {
		return false, fmt.Errorf("chapter %d: %w", ch.Index, err)
	}
	rep.Location = loc
	r.report.Chapters = append(r.report.Chapters, rep)

	if r.c.Checkpoint != nil {
		status := store.ChapterComplete
		if !file.Complete {
			status = store.ChapterPartial
		}
		err := r.c.Checkpoint.SaveChapter(saveCtx, store.ChapterRecord{
			RunID: r.opts.RunID, Chapter: ch.Index, Title: ch.Title, Status: status, Location: loc,
		})
		if err != nil {
			return false, fmt.Errorf("chapter %d: %w", ch.Index, err)
		}
	}

	if file.Complete {
		log.Info("chapter written", "location", loc)
	} else {
		log.Warn("chapter written with untranslated chunks", "location", loc, "failed", rep.Failed, "error_log", r.report.ErrorLog)
	}
	return true, nil
}

// translate runs one chunk through the orchestrator and records the
// outcome. Only fatal errors are returned.
func (r *run) translate(ctx context.Context, chunks []chunker.Chunk, j int) (orchestrator.Result, error) {
	ck := chunks[j]
	r.setState(StateTranslatingChunk)

	var previous string
	if j > 0 {
		previous = chunker.ExtractContext(chunks[j-1].Text, r.opts.ContextRunes)
	}

	res, err := r.c.Translator.TranslateWithContext(ctx, ck, r.opts.Sampling, previous)
	if err != nil {
		return res, err
	}

	// Settled results are recorded even if ctx has just been cancelled.
	saveCtx := context.WithoutCancel(ctx)
	if r.c.Checkpoint != nil {
		rec := store.ChunkRecord{
			RunID:      r.opts.RunID,
			Chapter:    ck.ChapterIndex,
			Chunk:      ck.Index,
			SourceHash: store.SourceHash(ck.Text),
			Attempts:   res.Attempts,
			Status:     res.Status.String(),
			Kind:       res.Kind,
			Reason:     res.Reason,
		}
		if res.Status == orchestrator.StatusSuccess {
			rec.TranslatedText = res.TranslatedText
		}
		if err := r.c.Checkpoint.SaveChunkResult(saveCtx, rec); err != nil {
			return res, fmt.Errorf("chapter %d chunk %d: %w", ck.ChapterIndex, ck.Index, err)
		}
		if err := r.c.Checkpoint.UpdateRunProgress(saveCtx, r.opts.RunID, ck.ChapterIndex, ck.Index); err != nil {
			r.log.Warn("failed to record progress", "error", err)
		}
	}

	if res.Status == orchestrator.StatusSuccess {
		r.consecutive = 0
		fmt.Fprintf(r.opts.Progress, "[chapter %d chunk %d/%d] %s\n", ck.ChapterIndex, ck.Index+1, len(chunks), Preview(res.TranslatedText, PreviewRunes))
		return res, nil
	}

	r.consecutive++
	r.report.Failures++
	fmt.Fprintf(r.opts.Progress, "[chapter %d chunk %d/%d] %s\n", ck.ChapterIndex, ck.Index+1, len(chunks), Marker(res))
	err = r.c.Sink.AppendFailure(saveCtx, output.Failure{
		RunID:    r.opts.RunID,
		Chapter:  ck.ChapterIndex,
		Chunk:    ck.Index,
		Status:   res.Status.String(),
		Kind:     res.Kind,
		Reason:   res.Reason,
		Attempts: res.Attempts,
		Time:     r.opts.Clock.Now().UTC(),
	})
	if err != nil {
		r.log.Warn("failed to append to error log", "error", err)
	}
	return res, nil
}

// Assemble joins chunk translations in chunk order with a blank line.
// Failed chunks become explicit markers so later text never shifts into
// their place; empty translations of blank chunks are dropped.
func Assemble(results []orchestrator.Result) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		if res.Status != orchestrator.StatusSuccess {
			parts = append(parts, Marker(res))
			continue
		}
		if t := strings.TrimSpace(res.TranslatedText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Marker is the placeholder written in place of an untranslated chunk.
func Marker(res orchestrator.Result) string {
	return fmt.Sprintf("[UNTRANSLATED: chapter %d chunk %d; %s after %d attempts: %s]",
		res.Chunk.ChapterIndex, res.Chunk.Index, res.Status, res.Attempts, res.Reason)
}

// Preview returns the first n runes of text on one line.
func Preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "…"
}
