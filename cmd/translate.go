/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/wenyan/internal/chunker"
	"github.com/valpere/wenyan/internal/orchestrator"
	"github.com/valpere/wenyan/internal/output"
	"github.com/valpere/wenyan/internal/pipeline"
	"github.com/valpere/wenyan/internal/splitter"
	"github.com/valpere/wenyan/internal/store"
	"github.com/valpere/wenyan/internal/tokenizer"
	"github.com/valpere/wenyan/internal/validator"
)

var (
	inputFile string
	resumeID  string
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a document chapter by chapter",
	Long: `Translate a Classical Chinese document into English.

Each chapter is written to its own file in the output destination as soon as
it is finished (a local directory or gs://bucket/prefix). Chunks that could
not be translated are replaced by an [UNTRANSLATED: ...] marker and listed in
errors.jsonl next to the chapters.

Progress is stored in the database; an interrupted or partial run can be
continued with --resume <run-id>, which retranslates only what is missing.

Exit status: 0 when every chunk was translated, 2 when some chapters are
incomplete, 1 on error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		doc := string(data)
		if !splitter.Normalized(doc) {
			fmt.Fprintf(os.Stderr, "Warning: input is not in Unicode NFC; chapter headings in other forms may be missed\n")
		}

		if err := cfg.CheckCredentials(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, closeService, err := buildService(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeService()

		if err := svc.IsAvailable(ctx); err != nil {
			return fmt.Errorf("service %s is not available: %w", svc.Name(), err)
		}

		counter := tokenizer.New(svc.Model())
		if counter.Degraded() {
			fmt.Fprintf(os.Stderr, "Warning: %s; chunk sizes are estimated\n", counter.Reason())
		}

		det, err := splitter.NewRegexDetector(cfg.Patterns...)
		if err != nil {
			return err
		}
		ck, err := chunker.New(counter, cfg.MaxTokens)
		if err != nil {
			return err
		}

		db, err := store.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		runID, err := startRun(ctx, db, doc, svc.Name(), svc.Model())
		if err != nil {
			return err
		}

		glossary, err := db.GetGlossaryTerms(ctx, store.SourceLang, store.TargetLang)
		if err != nil {
			return fmt.Errorf("failed to load glossary: %w", err)
		}

		orch := orchestrator.New(svc, validator.New(cfg.Validation, counter), orchestrator.Config{
			Policy:       cfg.Retry,
			SystemPrompt: cfg.SystemPrompt,
			Glossary:     glossary,
			CallTimeout:  cfg.CallTimeout,
			Pacer:        orchestrator.NewPacer(cfg.RequestsPerSecond, 1),
			Logger:       appLog.With("component", "orchestrator", "run", runID),
		})

		format, err := output.ParseFormat(cfg.Output.Format)
		if err != nil {
			return err
		}
		sink, err := output.Open(ctx, cfg.Output.Dest, format, storageOptions(cfg)...)
		if err != nil {
			return fmt.Errorf("failed to open output: %w", err)
		}
		defer sink.Close()

		var confirmer pipeline.Confirmer = pipeline.AutoConfirm{}
		if cfg.EarlyVerify || (cfg.Review && !cfg.AutoContinue) {
			confirmer = pipeline.NewPromptConfirmer(os.Stdin, os.Stderr)
		}

		driver, err := pipeline.New(pipeline.Components{
			Splitter:   splitter.New(det),
			Chunker:    ck,
			Translator: orch,
			Sink:       sink,
			Checkpoint: db,
			Confirmer:  confirmer,
		}, pipeline.Options{
			RunID:                  runID,
			Sampling:               cfg.Sampling,
			EarlyVerify:            cfg.EarlyVerify,
			Review:                 cfg.Review,
			AutoContinue:           cfg.AutoContinue,
			ContextRunes:           cfg.ContextRunes,
			MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
			ChapterPause:           cfg.ChapterPause,
			Progress:               os.Stderr,
			Logger:                 appLog,
		})
		if err != nil {
			return err
		}

		report, runErr := driver.Run(ctx, doc)
		printReport(report)
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Resume with: wenyan translate -i %s --resume %s\n", inputFile, runID)
			return runErr
		}
		if !report.FullySuccessful() {
			return errPartial
		}
		return nil
	},
}

// startRun creates a new run or reopens the one named by --resume after
// checking that the input has not changed.
func startRun(ctx context.Context, db *store.Store, doc, provider, model string) (string, error) {
	hash := store.SourceHash(doc)
	if resumeID == "" {
		id, err := db.CreateRun(ctx, store.Run{
			InputPath: inputFile,
			DocHash:   hash,
			Provider:  provider,
			Model:     model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return "", err
		}
		fmt.Fprintf(os.Stderr, "Run ID: %s\n", id)
		return id, nil
	}

	run, err := db.GetRun(ctx, resumeID)
	if err != nil {
		return "", err
	}
	if run.DocHash != hash {
		return "", fmt.Errorf("run %s was started on a different input (%s)", run.ID, run.InputPath)
	}
	if err := db.SetRunStatus(ctx, run.ID, store.RunRunning); err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Resuming run %s\n", run.ID)
	return run.ID, nil
}

func printReport(r *pipeline.Report) {
	if r == nil {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAPTER\tTITLE\tCHUNKS\tREUSED\tFAILED\tSTATUS\tLOCATION")
	for _, c := range r.Chapters {
		status := "complete"
		switch {
		case c.Skipped:
			status = "complete (earlier run)"
		case !c.Complete():
			status = "partial"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%s\n", c.Index, c.Title, c.Chunks, c.Reused, c.Failed, status, c.Location)
	}
	w.Flush()

	if r.Oversized > 0 {
		fmt.Printf("%d oversized chunk(s) were sent whole\n", r.Oversized)
	}
	if r.FullySuccessful() {
		fmt.Printf("All chunks translated (run %s)\n", r.RunID)
		return
	}
	fmt.Printf("%d chunk(s) not translated in chapters %v; see %s\n", r.Failures, r.PartialChapters(), r.ErrorLog)
}

func init() {
	rootCmd.AddCommand(translateCmd)

	f := translateCmd.Flags()
	f.StringVarP(&inputFile, "input", "i", "", "Input file to translate (required)")
	f.StringVar(&resumeID, "resume", "", "Resume the run with this ID")
	f.StringP("output", "o", "output", "Output directory or gs://bucket/prefix")
	f.String("format", "txt", "Chapter file format (txt, md, html)")

	f.StringP("provider", "p", "openai", "Translation provider (openai, openrouter, ollama, vertex)")
	f.StringP("model", "m", "", "Model name (provider default if empty)")
	f.String("base-url", "", "Provider base URL")
	f.StringP("credentials", "c", "", "Path to Google Cloud service account file")
	f.String("project", "", "Google Cloud project ID (vertex)")
	f.String("region", "us-central1", "Vertex AI region")

	f.Int("max-tokens", 6000, "Token budget per chunk")
	f.Float64("temperature", 0, "Sampling temperature in [0,1]")
	f.Float64("top-p", 1, "Nucleus sampling in (0,1]")
	f.Int("max-attempts", 3, "Calls per chunk including the first")
	f.Float64("rps", 1, "Maximum requests per second (0 = unlimited)")
	f.Int("context-runes", 100, "Runes of the previous chunk sent as context (0 = off)")

	f.Bool("early-verify", false, "Ask for confirmation after the first translated chunk")
	f.Bool("review", false, "Pause for confirmation after each chapter")
	f.Bool("auto-continue", false, "Skip the pause between chapters")
	f.Duration("chapter-pause", 2*time.Second, "Wait between chapters")

	bindFlag(translateCmd, "output.dest", "output")
	bindFlag(translateCmd, "output.format", "format")
	bindFlag(translateCmd, "provider", "provider")
	bindFlag(translateCmd, "model", "model")
	bindFlag(translateCmd, "base_url", "base-url")
	bindFlag(translateCmd, "credentials", "credentials")
	bindFlag(translateCmd, "project_id", "project")
	bindFlag(translateCmd, "region", "region")
	bindFlag(translateCmd, "max_tokens", "max-tokens")
	bindFlag(translateCmd, "temperature", "temperature")
	bindFlag(translateCmd, "top_p", "top-p")
	bindFlag(translateCmd, "retry.max_attempts", "max-attempts")
	bindFlag(translateCmd, "requests_per_second", "rps")
	bindFlag(translateCmd, "context_runes", "context-runes")
	bindFlag(translateCmd, "early_verify", "early-verify")
	bindFlag(translateCmd, "review", "review")
	bindFlag(translateCmd, "auto_continue", "auto-continue")
	bindFlag(translateCmd, "chapter_pause", "chapter-pause")

	translateCmd.MarkFlagRequired("input")
}
