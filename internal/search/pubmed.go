package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/pubmed"
)

// pubmedArticleBase prefixes a PMID to form the article page.
const pubmedArticleBase = "https://pubmed.ncbi.nlm.nih.gov/"

// PubMedBackend searches PubMed by publication date. Hits carry PubMed
// article URLs only; the resolver finds their DOIs by title.
type PubMedBackend struct {
	client *pubmed.Client
}

// NewPubMedBackend creates a PubMed backend over an E-utilities client.
func NewPubMedBackend(client *pubmed.Client) *PubMedBackend {
	return &PubMedBackend{client: client}
}

// Name returns the database name.
func (b *PubMedBackend) Name() string { return PubMed }

// Search returns PubMed articles published in the request window.
func (b *PubMedBackend) Search(ctx context.Context, req Request) ([]paper.RawRecord, error) {
	retMax := req.LimitPerDatabase
	if retMax <= 0 {
		retMax = DefaultLimitPerDatabase
	}

	term := pubmedTerm(req.Query)
	result, err := b.client.Search(ctx, term, pubmed.SearchOptions{
		RetMax:  retMax,
		MinDate: req.Since,
		MaxDate: req.Until,
	})
	if err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}
	if len(result.IDs) == 0 {
		return nil, nil
	}

	summaries, err := b.client.Summaries(ctx, result.IDs)
	if err != nil {
		return nil, fmt.Errorf("esummary: %w", err)
	}

	records := make([]paper.RawRecord, 0, len(summaries))
	for _, s := range summaries {
		records = append(records, paper.RawRecord{
			Databases:       []string{paper.DatabasePubMed},
			Title:           s.Title,
			PublicationDate: pubmedDate(s),
			URLs:            []string{pubmedArticleBase + s.PMID + "/"},
		})
	}
	return records, nil
}

// pubmedTerm renders the query restricted to titles and abstracts.
func pubmedTerm(q *Query) string {
	return q.Render(func(term string) string {
		return `"` + term + `"[Title/Abstract]`
	}, "AND", "OR", "NOT")
}

// pubmedDate prefers the sortable date and falls back to the display date.
func pubmedDate(s pubmed.Summary) string {
	if len(s.SortDate) >= len("2006/01/02") {
		if t, err := time.Parse("2006/01/02", s.SortDate[:len("2006/01/02")]); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return strings.TrimSpace(s.PubDate)
}
