package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/retry"
)

// biorxivAPIBase is the bioRxiv details endpoint.
const biorxivAPIBase = "https://api.biorxiv.org/details/biorxiv"

// biorxivContentBase prefixes a DOI to form the preprint landing page.
const biorxivContentBase = "https://www.biorxiv.org/content/"

// BiorxivBackend pages through the bioRxiv details API for the request
// window and keeps the preprints whose title or abstract match the query.
// The API has no full-text search, so matching happens client-side.
type BiorxivBackend struct {
	Client  *http.Client
	BaseURL string
	Policy  retry.Policy

	// MaxPages bounds how many pages are read; 0 means no bound.
	MaxPages int
}

// NewBiorxivBackend creates a bioRxiv backend with default settings.
func NewBiorxivBackend() *BiorxivBackend {
	return &BiorxivBackend{Client: defaultHTTPClient(), BaseURL: biorxivAPIBase, Policy: retry.Default()}
}

// Name returns the database name.
func (b *BiorxivBackend) Name() string { return BioRxiv }

// Search returns matching preprints posted in the request window.
func (b *BiorxivBackend) Search(ctx context.Context, req Request) ([]paper.RawRecord, error) {
	if req.Since.IsZero() || req.Until.IsZero() {
		return nil, fmt.Errorf("bioRxiv search needs a date window")
	}
	limit := req.LimitPerDatabase
	if limit <= 0 {
		limit = DefaultLimitPerDatabase
	}

	var records []paper.RawRecord
	seen := make(map[string]bool)
	cursor := 0
	for page := 0; b.MaxPages == 0 || page < b.MaxPages; page++ {
		u := fmt.Sprintf("%s/%s/%s/%d/json", strings.TrimRight(b.BaseURL, "/"),
			req.Since.Format(time.DateOnly), req.Until.Format(time.DateOnly), cursor)
		body, err := fetch(ctx, b.Client, b.Policy, u)
		if err != nil {
			return nil, fmt.Errorf("bioRxiv API request: %w", err)
		}

		var resp biorxivResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("parsing bioRxiv response: %w", err)
		}
		if len(resp.Messages) > 0 && resp.Messages[0].Status != "ok" && len(resp.Collection) == 0 {
			// "no posts found" is reported as a status message.
			break
		}

		for _, p := range resp.Collection {
			if seen[p.DOI] || !req.Query.Match(p.Title+"\n"+p.Abstract) {
				continue
			}
			seen[p.DOI] = true
			records = append(records, p.record())
			if len(records) >= limit {
				return records, nil
			}
		}

		cursor += len(resp.Collection)
		if len(resp.Collection) == 0 || len(resp.Messages) == 0 || cursor >= int(resp.Messages[0].Total) {
			break
		}
	}
	return records, nil
}

type biorxivResponse struct {
	Messages []struct {
		Status string  `json:"status"`
		Count  flexInt `json:"count"`
		Total  flexInt `json:"total"`
	} `json:"messages"`
	Collection []biorxivPaper `json:"collection"`
}

type biorxivPaper struct {
	DOI      string `json:"doi"`
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Date     string `json:"date"`
	Category string `json:"category"`
}

func (p biorxivPaper) record() paper.RawRecord {
	rec := paper.RawRecord{
		Databases:       []string{paper.DatabaseBioRxiv},
		Title:           strings.Join(strings.Fields(p.Title), " "),
		PublicationDate: p.Date,
		URLs:            []string{paper.DOIURL(p.DOI), biorxivContentBase + p.DOI},
	}
	if p.Category != "" {
		rec.Keywords = []string{paper.TagKeyword(tagBioRxiv, p.Category)}
	}
	return rec
}

// flexInt decodes numbers the API sometimes sends as strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", data, err)
	}
	*f = flexInt(n)
	return nil
}
