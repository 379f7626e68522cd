package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy bounds the external calls made for one chunk. Transport,
// rate-limit and validation failures all draw from MaxAttempts.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gte=0"`
	Multiplier  float64       `mapstructure:"multiplier" validate:"gte=1"`
	// RateLimitDelay is waited after a throttled call that gave no
	// Retry-After hint.
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay" validate:"gte=0"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2,
		RateLimitDelay: 20 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based):
// BaseDelay × Multiplier^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	d := float64(p.BaseDelay) * math.Pow(m, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Clock abstracts time for backoff waits.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx.Err() then.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer spaces out calls to the external model. One Pacer is shared by
// every call of a run. Waiting goes through its Clock, so pacing and retry
// backoff observe the same time source.
type Pacer struct {
	limiter *rate.Limiter
	clock   Clock
}

// NewPacer allows rps calls per second with the given burst. rps ≤ 0
// disables pacing.
func NewPacer(rps float64, burst int) *Pacer {
	return NewPacerWithClock(rps, burst, RealClock())
}

// NewPacerWithClock is NewPacer driven by clock.
func NewPacerWithClock(rps float64, burst int, clock Clock) *Pacer {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Pacer{limiter: rate.NewLimiter(limit, burst), clock: clock}
}

// Wait blocks until the next call may start. A cancelled wait gives its
// slot back.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := p.clock.Now()
	r := p.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("pacer: cannot reserve a call slot (burst %d)", p.limiter.Burst())
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := p.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(p.clock.Now())
		return err
	}
	return nil
}
