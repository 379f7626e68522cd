package translator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrCredentials reports a missing, invalid or unauthorized credential.
var ErrCredentials = errors.New("missing or invalid credentials")

// TransportError is a network failure, timeout or server-side error.
type TransportError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transport error (status %d): %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transport error: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitError is a throttled call. RetryAfter is the provider-directed
// cool-down, zero when none was given.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s: %v", e.Service, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s: rate limited: %v", e.Service, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ContentPolicyError is a response blocked by the provider's safety filter.
type ContentPolicyError struct {
	Service string
	Reason  string
}

func (e *ContentPolicyError) Error() string {
	return fmt.Sprintf("%s: blocked by content policy: %s", e.Service, e.Reason)
}

// Kind classifies a failed call.
type Kind int

const (
	KindOther Kind = iota
	KindTransport
	KindRateLimit
	KindContentPolicy
	KindCredential
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimit:
		return "rate_limit"
	case KindContentPolicy:
		return "content_policy"
	case KindCredential:
		return "credential"
	default:
		return "other"
	}
}

// Classify maps any error returned by a TranslationService to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	var rl *RateLimitError
	var cp *ContentPolicyError
	var te *TransportError
	var ne net.Error
	switch {
	case errors.Is(err, ErrCredentials):
		return KindCredential
	case errors.As(err, &rl):
		return KindRateLimit
	case errors.As(err, &cp):
		return KindContentPolicy
	case errors.As(err, &te):
		return KindTransport
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransport
	case errors.As(err, &ne):
		return KindTransport
	}
	return KindOther
}

// ParseRetryAfter reads a Retry-After header value given in seconds or as
// an HTTP date. It returns 0 when the value is absent or unusable.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

var policyMarkers = []string{"content_filter", "content policy", "content_policy", "safety"}

// statusError maps a non-200 HTTP response to a typed failure.
func statusError(service string, resp *http.Response, body string) error {
	code := resp.StatusCode
	base := fmt.Errorf("API returned status %d: %s", code, strings.TrimSpace(body))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: status %d: %w", service, code, ErrCredentials)
	case code == http.StatusTooManyRequests:
		return &RateLimitError{
			Service:    service,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        base,
		}
	case code == http.StatusRequestTimeout || code >= 500:
		return &TransportError{Service: service, StatusCode: code, Err: base}
	case code == http.StatusBadRequest:
		lower := strings.ToLower(body)
		for _, m := range policyMarkers {
			if strings.Contains(lower, m) {
				return &ContentPolicyError{Service: service, Reason: strings.TrimSpace(body)}
			}
		}
	}
	return fmt.Errorf("%s: %w", service, base)
}
