// Package search queries paper databases for a date window and stores the
// hits as a run artifact.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/rs/zerolog"
)

// Database names accepted in configuration.
const (
	PubMed  = "pubmed"
	ArXiv   = "arxiv"
	BioRxiv = "biorxiv"
)

// AllDatabases lists every supported database.
var AllDatabases = []string{BioRxiv, ArXiv, PubMed}

// DefaultDatabases are searched when none are configured.
var DefaultDatabases = []string{BioRxiv, PubMed}

// Default result limits.
const (
	DefaultLimit            = 1200
	DefaultLimitPerDatabase = 400
)

// ErrNoBackends is returned when a request names no usable database.
var ErrNoBackends = errors.New("no search backends selected")

// ValidateDatabases checks that every name is a supported database.
func ValidateDatabases(dbs []string) error {
	var bad []string
	for _, db := range dbs {
		if !slices.Contains(AllDatabases, db) {
			bad = append(bad, db)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid database(s) %s; allowed: %s",
			strings.Join(bad, ", "), strings.Join(AllDatabases, ", "))
	}
	return nil
}

// Request describes one search over a date window.
type Request struct {
	Query            *Query
	Since            time.Time // Inclusive
	Until            time.Time // Inclusive
	Limit            int       // Total cap across databases; 0 means no cap
	LimitPerDatabase int       // Per-backend cap; 0 means the backend default
	Databases        []string
}

// Backend searches a single database.
type Backend interface {
	Name() string
	Search(ctx context.Context, req Request) ([]paper.RawRecord, error)
}

// Artifact is the on-disk form of a search run.
type Artifact struct {
	Query  string            `json:"query,omitempty"`
	Since  string            `json:"since,omitempty"`
	Until  string            `json:"until,omitempty"`
	Papers []paper.RawRecord `json:"papers"`
}

// Runner fans a request out to the selected backends.
type Runner struct {
	backends map[string]Backend
	logger   zerolog.Logger
}

// NewRunner creates a Runner over the given backends, keyed by Name().
func NewRunner(logger zerolog.Logger, backends ...Backend) *Runner {
	m := make(map[string]Backend, len(backends))
	for _, b := range backends {
		m[b.Name()] = b
	}
	return &Runner{backends: m, logger: logger}
}

// Search queries the backends named in req.Databases concurrently. Results
// are concatenated in req.Databases order and capped at req.Limit. A failing
// backend is logged and skipped; if every backend fails the first error is
// returned.
func (r *Runner) Search(ctx context.Context, req Request) ([]paper.RawRecord, error) {
	if req.Query == nil {
		return nil, ErrEmptyQuery
	}

	var selected []Backend
	for _, db := range req.Databases {
		b, ok := r.backends[db]
		if !ok {
			r.logger.Warn().Str("database", db).Msg("no backend registered, skipping")
			continue
		}
		selected = append(selected, b)
	}
	if len(selected) == 0 {
		return nil, ErrNoBackends
	}

	type backendResult struct {
		records []paper.RawRecord
		err     error
	}
	results := make([]backendResult, len(selected))

	var wg sync.WaitGroup
	for i, b := range selected {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := b.Search(ctx, req)
			results[i] = backendResult{records: recs, err: err}
		}()
	}
	wg.Wait()

	var all []paper.RawRecord
	var firstErr error
	failed := 0
	for i, res := range results {
		name := selected[i].Name()
		if res.err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, res.err)
			}
			r.logger.Warn().Err(res.err).Str("database", name).Msg("backend failed")
			continue
		}
		r.logger.Info().Str("database", name).Int("papers", len(res.records)).Msg("backend finished")
		all = append(all, res.records...)
	}
	if failed == len(selected) {
		return nil, firstErr
	}

	if req.Limit > 0 && len(all) > req.Limit {
		all = all[:req.Limit]
	}
	return all, nil
}

// Run searches and writes the result to path as an Artifact.
// It returns the number of papers written.
func (r *Runner) Run(ctx context.Context, req Request, path string) (int, error) {
	records, err := r.Search(ctx, req)
	if err != nil {
		return 0, err
	}

	art := Artifact{
		Query:  req.Query.String(),
		Since:  req.Since.Format(time.DateOnly),
		Until:  req.Until.Format(time.DateOnly),
		Papers: records,
	}
	if art.Papers == nil {
		art.Papers = []paper.RawRecord{}
	}
	if err := WriteArtifact(path, art); err != nil {
		return 0, err
	}
	return len(records), nil
}

// WriteArtifact writes an artifact as indented JSON, creating parent directories.
func WriteArtifact(path string, art Artifact) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	return nil
}

// LoadResults reads the papers from an artifact. A missing file is an
// error; an artifact with zero papers is not.
func LoadResults(path string) ([]paper.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading search results: %w", err)
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("parsing search results %s: %w", path, err)
	}
	return art.Papers, nil
}
