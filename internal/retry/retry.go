// Package retry provides the exponential backoff policy shared by every
// outbound network call.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Defaults for the policy used by outbound API calls.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 100 * time.Millisecond
	DefaultMultiplier = 2.0
)

// Policy describes a bounded exponential backoff. The first retry waits
// BaseDelay, each further retry multiplies the wait by Multiplier:
// 100ms, 200ms, 400ms with the defaults.
type Policy struct {
	MaxRetries int           // Retries after the first attempt; 0 means no retries
	BaseDelay  time.Duration // Wait before the first retry
	Multiplier float64       // Growth factor; values below 1 are treated as 1

	// OnRetry, if set, is called before each wait.
	OnRetry func(retry int, delay time.Duration, err error)
}

// Default returns the policy with the package defaults.
func Default() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Multiplier: DefaultMultiplier,
	}
}

// Delay returns the wait before the given retry (0-based).
func (p Policy) Delay(retry int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(retry)))
}

// Do calls fn until it succeeds, returns a permanent error, the context is
// done, or the retries are exhausted. The last error is returned wrapped.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		if attempt >= p.MaxRetries {
			return fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do stops retrying and returns it unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// StatusError is an unexpected HTTP status from an outbound call.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// CheckResponse returns nil for 2xx responses. Otherwise it drains the body
// into a StatusError, marked Permanent unless the status is 429 or 5xx.
// The caller still owns resp.Body.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	if statusErr.Retryable() {
		return statusErr
	}
	return Permanent(statusErr)
}
