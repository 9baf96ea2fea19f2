package search

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/retry"
	"github.com/mmcdole/gofeed/atom"
)

// arxivAPIBase is the arXiv search endpoint.
const arxivAPIBase = "https://export.arxiv.org/api/query"

// arxivDOIPrefix is the DataCite prefix arXiv registers for every paper.
const arxivDOIPrefix = "10.48550/arXiv."

// Keyword origin tags.
const (
	tagArXiv   = "AX"
	tagBioRxiv = "BX"
)

// ArxivBackend queries the arXiv Atom API.
type ArxivBackend struct {
	Client  *http.Client
	BaseURL string
	Policy  retry.Policy
}

// NewArxivBackend creates an arXiv backend with default settings.
func NewArxivBackend() *ArxivBackend {
	return &ArxivBackend{Client: defaultHTTPClient(), BaseURL: arxivAPIBase, Policy: retry.Default()}
}

// Name returns the database name.
func (b *ArxivBackend) Name() string { return ArXiv }

// Search returns arXiv submissions in the request window that match the query.
func (b *ArxivBackend) Search(ctx context.Context, req Request) ([]paper.RawRecord, error) {
	maxResults := req.LimitPerDatabase
	if maxResults <= 0 {
		maxResults = DefaultLimitPerDatabase
	}

	params := url.Values{}
	params.Set("search_query", arxivSearchQuery(req))
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")

	body, err := fetch(ctx, b.Client, b.Policy, b.BaseURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}

	feed, err := (&atom.Parser{}).Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	records := make([]paper.RawRecord, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if rec, ok := arxivRecord(entry); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// arxivSearchQuery renders the query in arXiv syntax and restricts it to the
// submission window.
func arxivSearchQuery(req Request) string {
	q := req.Query.Render(func(term string) string {
		if strings.ContainsAny(term, " \t") {
			return `all:"` + term + `"`
		}
		return "all:" + term
	}, "AND", "OR", "ANDNOT")

	if req.Since.IsZero() || req.Until.IsZero() {
		return q
	}
	window := fmt.Sprintf("submittedDate:[%s0000 TO %s2359]",
		req.Since.Format("20060102"), req.Until.Format("20060102"))
	return "(" + q + ") AND " + window
}

// arxivExtension returns the text of an arxiv: namespaced element, such as
// the journal DOI.
func arxivExtension(e *atom.Entry, name string) string {
	for _, x := range e.Extensions["arxiv"][name] {
		if v := strings.TrimSpace(x.Value); v != "" {
			return v
		}
	}
	return ""
}

// arxivRecord converts a feed entry. Entries without an arXiv id are skipped.
func arxivRecord(e *atom.Entry) (paper.RawRecord, bool) {
	id := extractArxivID(e.ID)
	if id == "" {
		return paper.RawRecord{}, false
	}

	rec := paper.RawRecord{
		Databases: []string{paper.DatabaseArXiv},
		Title:     strings.Join(strings.Fields(e.Title), " "),
		URLs:      []string{strings.TrimSpace(e.ID)},
	}
	if e.PublishedParsed != nil {
		rec.PublicationDate = e.PublishedParsed.UTC().Format(time.DateOnly)
	}

	// A journal DOI wins over the arXiv DataCite DOI.
	if doi := arxivExtension(e, "doi"); doi != "" {
		rec.URLs = append(rec.URLs, paper.DOIURL(doi))
	}
	rec.URLs = append(rec.URLs, paper.DOIURL(arxivDOIPrefix+id))

	for _, l := range e.Links {
		if l.Title == "pdf" {
			rec.URLs = append(rec.URLs, l.Href)
		}
	}
	for _, c := range e.Categories {
		if c.Term != "" {
			rec.Keywords = append(rec.Keywords, paper.TagKeyword(tagArXiv, c.Term))
		}
	}
	return rec, true
}

// extractArxivID pulls the arXiv id from an entry id URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" becomes "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := strings.TrimSpace(idURL[idx+len(prefix):])

	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}
