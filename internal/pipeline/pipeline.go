// Package pipeline runs one daily PaperBee cycle: search, resolve,
// normalize, filter, dedup against the ledger, publish and clean up.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/matsen/paperbee/internal/filter"
	"github.com/matsen/paperbee/internal/ledger"
	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/publish"
	"github.com/matsen/paperbee/internal/resolve"
	"github.com/matsen/paperbee/internal/search"
)

// State is a stage of a run.
type State string

const (
	Searching   State = "SEARCHING"
	Resolving   State = "RESOLVING"
	Normalizing State = "NORMALIZING"
	Filtering   State = "FILTERING"
	Deduping    State = "DEDUPING"
	Publishing  State = "PUBLISHING"
	Cleanup     State = "CLEANUP"
	Done        State = "DONE"
)

// Searcher runs a search and writes its artifact.
type Searcher interface {
	Run(ctx context.Context, req search.Request, path string) (int, error)
}

// Resolver finds canonical URLs for raw records.
type Resolver interface {
	ResolveAll(ctx context.Context, records []paper.RawRecord) (resolve.Result, error)
}

// Publisher posts a digest to every configured destination.
type Publisher interface {
	Publish(ctx context.Context, d publish.Digest) []publish.Result
}

// Plan says what to search for on each run.
type Plan struct {
	// Query is used for every database. When nil, PubMed and arXiv use
	// QueryPubMedArxiv and bioRxiv uses QueryBiorxiv.
	Query            *search.Query
	QueryPubMedArxiv *search.Query
	QueryBiorxiv     *search.Query

	Databases        []string
	Since            int // Days back from the run date
	Limit            int
	LimitPerDatabase int
}

type job struct {
	req  search.Request
	path string
}

// jobs lists the searches of a run and the artifact each one writes.
func (p Plan) jobs(root string, runDate time.Time) []job {
	base := search.Request{
		Since:            runDate.AddDate(0, 0, -p.Since),
		Until:            runDate,
		Limit:            p.Limit,
		LimitPerDatabase: p.LimitPerDatabase,
	}

	if p.Query != nil {
		req := base
		req.Query = p.Query
		req.Databases = p.Databases
		return []job{{req: req, path: search.ArtifactPath(root, runDate)}}
	}

	pubArxPath, biorxivPath := search.SplitArtifactPaths(root, runDate)
	var jobs []job
	var pubArx []string
	for _, db := range p.Databases {
		if db == search.PubMed || db == search.ArXiv {
			pubArx = append(pubArx, db)
		}
	}
	if len(pubArx) > 0 {
		req := base
		req.Query = p.QueryPubMedArxiv
		req.Databases = pubArx
		jobs = append(jobs, job{req: req, path: pubArxPath})
	}
	if slices.Contains(p.Databases, search.BioRxiv) {
		req := base
		req.Query = p.QueryBiorxiv
		req.Databases = []string{search.BioRxiv}
		jobs = append(jobs, job{req: req, path: biorxivPath})
	}
	return jobs
}

// Report summarizes a run.
type Report struct {
	RunDate    string           `json:"run_date"`
	State      State            `json:"state"` // DONE, or the stage that failed
	Found      int              `json:"found"`
	Resolved   int              `json:"resolved"`
	Unresolved int              `json:"unresolved"`
	Malformed  int              `json:"malformed"`
	Duplicates int              `json:"duplicates"` // Same DOI seen twice in this run
	Kept       int              `json:"kept"`       // After filtering
	Delta      []paper.Row      `json:"delta"`
	Results    []publish.Result `json:"results"`
	Removed    []string         `json:"removed,omitempty"` // Artifacts purged by cleanup
	Error      string           `json:"error,omitempty"`
	SheetURL   string           `json:"sheet_url,omitempty"`
}

// Pipeline wires the collaborators of a run.
type Pipeline struct {
	plan        Plan
	root        string
	searcher    Searcher
	resolver    Resolver
	classifiers []filter.RelevanceClassifier
	ledger      ledger.Ledger
	publisher   Publisher
	logger      zerolog.Logger
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClassifiers sets the relevance filters, applied in order.
func WithClassifiers(cs ...filter.RelevanceClassifier) Option {
	return func(p *Pipeline) {
		p.classifiers = cs
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithClock overrides the source of the run date.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline that keeps its artifacts under root.
func New(plan Plan, root string, s Searcher, r Resolver, l ledger.Ledger, pub Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		plan:      plan,
		root:      root,
		searcher:  s,
		resolver:  r,
		ledger:    l,
		publisher: pub,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one cycle. The report is always returned; the error is
// the failure that stopped the run, if any. Cleanup runs regardless.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	runDate := today(p.now())
	rep := &Report{RunDate: runDate.Format(time.DateOnly)}

	err := p.run(ctx, runDate, rep)
	if err != nil {
		rep.Error = err.Error()
		p.logger.Error().Err(err).Str("state", string(rep.State)).Msg("run failed")
	}

	failed := rep.State
	rep.State = Cleanup
	removed, cerr := CleanupArtifacts(p.root, runDate)
	rep.Removed = removed
	if cerr != nil {
		p.logger.Warn().Err(cerr).Msg("cleanup")
	}
	for _, path := range removed {
		p.logger.Debug().Str("path", path).Msg("removed old artifact")
	}

	if err != nil {
		rep.State = failed
		return rep, err
	}
	rep.State = Done
	return rep, nil
}

// Candidates runs the search through filtering and returns the rows that
// would be checked against the ledger. Neither the ledger nor any
// destination is touched. Artifacts go to a scratch directory that is
// removed afterward, so the daily artifacts under root are left alone.
func (p *Pipeline) Candidates(ctx context.Context) (*Report, []paper.Row, error) {
	runDate := today(p.now())
	rep := &Report{RunDate: runDate.Format(time.DateOnly)}

	scratch, err := os.MkdirTemp("", "paperbee-search-")
	if err != nil {
		rep.Error = err.Error()
		return rep, nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	rows, err := p.collect(ctx, scratch, runDate, rep)
	if err != nil {
		rep.Error = err.Error()
		return rep, nil, err
	}
	rep.State = Done
	return rep, rows, nil
}

// collect runs SEARCHING through FILTERING.
func (p *Pipeline) collect(ctx context.Context, root string, runDate time.Time, rep *Report) ([]paper.Row, error) {
	rep.State = Searching
	raw, err := p.search(ctx, root, runDate)
	if err != nil {
		return nil, err
	}
	rep.Found = len(raw)
	p.logger.Info().Int("papers", rep.Found).Msg("search complete")

	rep.State = Resolving
	res, err := p.resolver.ResolveAll(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("resolving DOIs: %w", err)
	}
	rep.Resolved = len(res.Records)
	rep.Unresolved = res.Unresolved
	p.logger.Info().Int("resolved", rep.Resolved).Int("unresolved", rep.Unresolved).Msg("resolution complete")

	rep.State = Normalizing
	rows, malformed := paper.Normalize(res.Records, rep.RunDate)
	for _, m := range malformed {
		p.logger.Warn().Str("title", m.Record.Title).Err(m.Err).Msg("skipping malformed record")
	}
	rep.Malformed = len(malformed)
	rows, rep.Duplicates = ledger.DedupeByDOI(rows)

	rep.State = Filtering
	rows, err = filter.Apply(ctx, p.logger, rows, p.classifiers...)
	if err != nil {
		return nil, fmt.Errorf("filtering: %w", err)
	}
	rep.Kept = len(rows)
	return rows, nil
}

func (p *Pipeline) run(ctx context.Context, runDate time.Time, rep *Report) error {
	rows, err := p.collect(ctx, p.root, runDate, rep)
	if err != nil {
		return err
	}

	rep.State = Deduping
	run := ledger.ForRun(p.ledger)
	snap, err := run.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}
	delta := ledger.ComputeDelta(rows, snap)
	if err := run.Commit(ctx, delta); err != nil {
		return fmt.Errorf("updating ledger: %w", err)
	}
	rep.Delta = delta
	p.logger.Info().Int("new", len(delta)).Int("ledger", len(snap.Rows)).Msg("ledger updated")

	rep.State = Publishing
	digest := publish.Digest{Date: rep.RunDate, Rows: delta}
	if name := p.ledger.Name(); strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		digest.SheetURL = name
		rep.SheetURL = name
	}
	rep.Results = p.publisher.Publish(ctx, digest)
	for _, r := range rep.Results {
		if !r.OK {
			p.logger.Warn().Str("destination", r.Destination).Str("error", r.Error).Msg("publish failed")
		}
	}
	return nil
}

func (p *Pipeline) search(ctx context.Context, root string, runDate time.Time) ([]paper.RawRecord, error) {
	jobs := p.plan.jobs(root, runDate)
	if len(jobs) == 0 {
		return nil, search.ErrNoBackends
	}

	var all []paper.RawRecord
	for _, j := range jobs {
		if _, err := p.searcher.Run(ctx, j.req, j.path); err != nil {
			return nil, fmt.Errorf("searching %s: %w", strings.Join(j.req.Databases, ", "), err)
		}
		records, err := search.LoadResults(j.path)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// CleanupArtifacts removes search artifacts in root dated before runDate.
// Artifacts of runDate itself are kept. Every removal is attempted; the
// errors are joined.
func CleanupArtifacts(root string, runDate time.Time) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}

	cutoff := today(runDate)
	var removed []string
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		day, ok := search.ArtifactDate(e.Name())
		if !ok || !day.Before(cutoff) {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}

// today truncates t to midnight UTC of its calendar day.
func today(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
