// Package publish posts the daily digest of new papers to chat platforms.
package publish

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/retry"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every destination HTTP request.
const DefaultTimeout = 10 * time.Second

// Digest is one day's delta, ready to post.
type Digest struct {
	Date     string      // Run date, YYYY-MM-DD
	Rows     []paper.Row // New rows in ledger order
	SheetURL string      // Link to the full ledger; empty if unknown
}

// Partition splits rows into published papers and preprints, keeping order.
func Partition(rows []paper.Row) (papers, preprints []paper.Row) {
	for _, r := range rows {
		if r.IsPreprint {
			preprints = append(preprints, r)
		} else {
			papers = append(papers, r)
		}
	}
	return papers, preprints
}

// Response identifies what a destination created.
type Response struct {
	ID string `json:"id,omitempty"` // Message/post id as reported by the platform
}

// Destination is one chat platform target.
type Destination interface {
	Name() string
	Publish(ctx context.Context, d Digest) (Response, error)
}

// Result is the outcome of publishing to one destination.
type Result struct {
	Destination string   `json:"destination"`
	OK          bool     `json:"ok"`
	Response    Response `json:"response"`
	Err         error    `json:"-"`
	Error       string   `json:"error,omitempty"`
}

// Publisher fans a digest out to every destination.
type Publisher struct {
	destinations []Destination
	policy       retry.Policy
	logger       zerolog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRetryPolicy sets the policy each destination call runs under.
func WithRetryPolicy(p retry.Policy) Option {
	return func(pub *Publisher) {
		pub.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(pub *Publisher) {
		pub.logger = l
	}
}

// NewPublisher creates a Publisher over the given destinations.
func NewPublisher(destinations []Destination, opts ...Option) *Publisher {
	p := &Publisher{
		destinations: destinations,
		policy:       retry.Default(),
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ErrRateLimited reports a platform reply that refused the message for rate
// limiting. Nothing was posted.
var ErrRateLimited = errors.New("rate limited")

type notSentError struct {
	err error
}

func (e *notSentError) Error() string { return e.err.Error() }
func (e *notSentError) Unwrap() error { return e.err }

// notSent marks a failure that happened before the message was submitted.
func notSent(err error) error {
	return &notSentError{err: err}
}

// undelivered reports whether err proves the message never reached the
// platform, making a resend safe.
func undelivered(err error) bool {
	var ns *notSentError
	if errors.As(err, &ns) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *retry.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests
	}
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}

// Publish posts the digest to every destination concurrently. Results are
// in destination order. A failing destination never affects the others.
// Only failures that prove nothing was posted are retried.
func (p *Publisher) Publish(ctx context.Context, d Digest) []Result {
	results := make([]Result, len(p.destinations))

	var wg sync.WaitGroup
	for i, dest := range p.destinations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.publishOne(ctx, dest, d)
		}()
	}
	wg.Wait()

	return results
}

func (p *Publisher) publishOne(ctx context.Context, dest Destination, d Digest) Result {
	res := Result{Destination: dest.Name()}

	policy := p.policy
	policy.OnRetry = func(retry int, delay time.Duration, err error) {
		p.logger.Warn().Err(err).Str("destination", dest.Name()).Int("retry", retry).
			Dur("delay", delay).Msg("publish failed, retrying")
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		resp, err := dest.Publish(ctx, d)
		if err != nil {
			// A timeout or 5xx may follow a post that went through.
			if !undelivered(err) {
				return retry.Permanent(err)
			}
			return err
		}
		res.Response = resp
		return nil
	})
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		p.logger.Error().Err(err).Str("destination", dest.Name()).Msg("publish failed")
		return res
	}

	res.OK = true
	p.logger.Info().Str("destination", dest.Name()).Str("id", res.Response.ID).
		Int("papers", len(d.Rows)).Msg("published")
	return res
}
