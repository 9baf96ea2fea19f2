// Package resolve finds the canonical DOI URL of every search hit.
package resolve

import (
	"context"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/pubmed"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the resolver's default concurrency.
const DefaultWorkers = 1

// DOILookup finds a DOI for a publication title.
// *pubmed.Client satisfies it.
type DOILookup interface {
	DOIFromTitle(ctx context.Context, title string) (string, error)
}

// Resolver maps raw records to canonical URLs.
type Resolver struct {
	lookup  DOILookup
	logger  zerolog.Logger
	workers int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithWorkers sets the number of concurrent lookups. Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		r.workers = max(n, 1)
	}
}

// WithLogger sets the logger used for per-record diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// New creates a Resolver backed by lookup for PubMed-sourced records.
func New(lookup DOILookup, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:  lookup,
		logger:  zerolog.Nop(),
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the canonical URL for a record. PubMed hits are looked up
// by title; everything else uses the first doi.org URL it carries. Lookup
// failures of any kind leave the record unresolved.
func (r *Resolver) Resolve(ctx context.Context, rec paper.RawRecord) (string, bool) {
	if !rec.FromPubMed() {
		return paper.FirstDOIURL(rec.URLs)
	}

	doi, err := r.lookup.DOIFromTitle(ctx, rec.Title)
	if err != nil {
		if pubmed.IsNotFound(err) {
			r.logger.Debug().Str("title", rec.Title).Msg("no DOI found in PubMed")
		} else {
			r.logger.Warn().Err(err).Str("title", rec.Title).Msg("PubMed lookup failed")
		}
		return "", false
	}
	return paper.DOIURL(doi), true
}

// Result is the outcome of resolving a batch.
type Result struct {
	Records    []paper.ResolvedRecord // Resolved records, in input order
	Unresolved int
}

// ResolveAll resolves records with a bounded worker pool. Unresolved records
// are dropped and counted. Only context cancellation is returned as an error.
func (r *Resolver) ResolveAll(ctx context.Context, records []paper.RawRecord) (Result, error) {
	urls := make([]string, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, rec := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if u, ok := r.Resolve(gctx, rec); ok {
				urls[i] = u
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	res.Records = make([]paper.ResolvedRecord, 0, len(records))
	for i, rec := range records {
		if urls[i] == "" {
			res.Unresolved++
			continue
		}
		res.Records = append(res.Records, paper.ResolvedRecord{RawRecord: rec, CanonicalURL: urls[i]})
	}
	return res, nil
}
