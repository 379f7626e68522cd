// Package orchestrator drives the external model for one chunk at a time:
// it paces calls, retries transport and rate-limit failures with backoff,
// regenerates translations the validator rejects, and reports chunks it
// could not translate instead of dropping them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/valpere/wenyan/internal/chunker"
	"github.com/valpere/wenyan/internal/translator"
	"github.com/valpere/wenyan/internal/validator"
)

// ErrInterrupted is returned when the context ends between attempts.
var ErrInterrupted = errors.New("translation interrupted")

// Status is the final state of a chunk translation.
type Status int

const (
	StatusSuccess Status = iota
	// StatusFailedValidation: every attempt returned text, none passed
	// validation.
	StatusFailedValidation
	// StatusFailedExhausted: the last attempt failed at the call itself, or
	// the provider refused the chunk.
	StatusFailedExhausted
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailedValidation:
		return "failed_validation"
	case StatusFailedExhausted:
		return "failed_exhausted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "success":
		return StatusSuccess, nil
	case "failed_validation":
		return StatusFailedValidation, nil
	case "failed_exhausted":
		return StatusFailedExhausted, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// KindValidation labels a failure reported by the validator.
const KindValidation = "validation"

// Sampling is passed through to the model unchanged.
type Sampling struct {
	Temperature float64 `mapstructure:"temperature" validate:"gte=0,lte=1"`
	TopP        float64 `mapstructure:"top_p" validate:"gt=0,lte=1"`
}

// DefaultSampling is near-deterministic.
func DefaultSampling() Sampling {
	return Sampling{Temperature: 0, TopP: 1}
}

// Result is the outcome for one chunk. For StatusFailedValidation,
// TranslatedText holds the last rejected output for inspection only.
type Result struct {
	Chunk          chunker.Chunk
	TranslatedText string
	Attempts       int
	Status         Status
	// Kind is the translator.Kind name or KindValidation of the last failure.
	Kind   string
	Reason string
}

// ChunkValidator judges a translation for completeness.
type ChunkValidator interface {
	Validate(source, translated string) validator.Result
}

type Config struct {
	Policy       RetryPolicy
	SystemPrompt string
	Glossary     map[string]string
	// CallTimeout bounds one external call.
	CallTimeout time.Duration
	Clock       Clock
	Pacer       *Pacer
	Logger      *slog.Logger
}

type Orchestrator struct {
	service   translator.TranslationService
	validator ChunkValidator
	config    Config
}

func New(service translator.TranslationService, v ChunkValidator, config Config) *Orchestrator {
	if config.Policy.MaxAttempts < 1 {
		config.Policy = DefaultRetryPolicy()
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 120 * time.Second
	}
	if config.Clock == nil {
		config.Clock = RealClock()
	}
	if config.Pacer == nil {
		config.Pacer = NewPacerWithClock(0, 1, config.Clock)
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{service: service, validator: v, config: config}
}

// Translate translates ch without a context snippet.
func (o *Orchestrator) Translate(ctx context.Context, ch chunker.Chunk, s Sampling) (Result, error) {
	return o.TranslateWithContext(ctx, ch, s, "")
}

// TranslateWithContext translates ch, sending previous as read-only context.
//
// A returned error is fatal for the run: credential failures, or
// ErrInterrupted when ctx ends before the chunk is settled. An in-flight
// call is not cancelled by ctx; it finishes or times out on its own.
// Every other failure is contained and reported through Result.Status.
func (o *Orchestrator) TranslateWithContext(ctx context.Context, ch chunker.Chunk, s Sampling, previous string) (Result, error) {
	res := Result{Chunk: ch}
	log := o.config.Logger.With("chapter", ch.ChapterIndex, "chunk", ch.Index)
	policy := o.config.Policy

	req := translator.TranslateRequest{
		SystemPrompt:    o.config.SystemPrompt,
		Text:            ch.Text,
		PreviousContext: previous,
		Glossary:        o.config.Glossary,
		Temperature:     s.Temperature,
		TopP:            s.TopP,
	}

	if ch.Oversized {
		log.Warn("sending oversized chunk", "tokens", ch.Tokens)
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		if err := o.config.Pacer.Wait(ctx); err != nil {
			return res, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}

		res.Attempts = attempt
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.CallTimeout)
		out, err := o.service.Translate(callCtx, req)
		cancel()

		if err != nil {
			kind := translator.Classify(err)
			res.Kind = kind.String()
			res.Reason = err.Error()
			res.TranslatedText = ""

			var wait time.Duration
			switch kind {
			case translator.KindCredential:
				return res, fmt.Errorf("chapter %d chunk %d: %w", ch.ChapterIndex, ch.Index, err)
			case translator.KindContentPolicy:
				log.Warn("chunk blocked by content policy", "attempt", attempt, "error", err)
				res.Status = StatusFailedExhausted
				return res, nil
			case translator.KindRateLimit:
				wait = policy.RateLimitDelay
				var rl *translator.RateLimitError
				if errors.As(err, &rl) && rl.RetryAfter > 0 {
					wait = rl.RetryAfter
				}
			default:
				wait = policy.Backoff(attempt)
			}

			log.Warn("translation call failed", "attempt", attempt, "kind", res.Kind, "error", err)
			if attempt < policy.MaxAttempts {
				if err := o.config.Clock.Sleep(ctx, wait); err != nil {
					return res, fmt.Errorf("%w: %w", ErrInterrupted, err)
				}
			}
			continue
		}

		verdict := o.check(ch.Text, out)
		if verdict.Passed {
			res.Status = StatusSuccess
			res.TranslatedText = out.TranslatedText
			res.Kind = ""
			res.Reason = ""
			log.Debug("chunk translated", "attempt", attempt, "latency", out.Latency)
			return res, nil
		}

		res.Kind = KindValidation
		res.Reason = verdict.Reason
		res.TranslatedText = out.TranslatedText
		log.Warn("translation rejected", "attempt", attempt, "reason", verdict.Reason)
	}

	if res.Kind == KindValidation {
		res.Status = StatusFailedValidation
	} else {
		res.Status = StatusFailedExhausted
	}
	log.Error("chunk not translated", "attempts", res.Attempts, "status", res.Status, "reason", res.Reason)
	return res, nil
}

func (o *Orchestrator) check(source string, out *translator.ServiceResult) validator.Result {
	if out == nil {
		return validator.Result{Reason: "service returned no result"}
	}
	if truncatedByLimit(out.FinishReason) {
		return validator.Result{Reason: fmt.Sprintf("output cut off by the model (finish reason %s)", out.FinishReason)}
	}
	if o.validator == nil {
		return validator.Result{Passed: true}
	}
	return o.validator.Validate(source, out.TranslatedText)
}

func truncatedByLimit(reason string) bool {
	r := strings.ToLower(reason)
	return r == "length" || strings.Contains(r, "max_tokens") || strings.Contains(r, "maxtokens")
}
