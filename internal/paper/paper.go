// Package paper defines the core domain types for discovered papers.
package paper

import (
	"slices"
	"strings"
)

// Database origin tags as they appear in search results.
const (
	DatabasePubMed  = "PubMed"
	DatabaseArXiv   = "arXiv"
	DatabaseBioRxiv = "bioRxiv"
)

// DOIResolverPrefix is the prefix of canonical DOI URLs.
const DOIResolverPrefix = "https://doi.org"

// RawRecord is one search hit from a source database.
// Records are not deduplicated across databases.
type RawRecord struct {
	Databases       []string `json:"databases"`
	Title           string   `json:"title"`
	PublicationDate string   `json:"publication_date"`
	Keywords        []string `json:"keywords"` // Each carries a KeywordTagLen-character origin tag
	URLs            []string `json:"urls"`
}

// FromPubMed reports whether PubMed is among the record's databases.
func (r RawRecord) FromPubMed() bool {
	return slices.Contains(r.Databases, DatabasePubMed)
}

// ResolvedRecord is a RawRecord with its canonical URL.
// An empty CanonicalURL means resolution failed.
type ResolvedRecord struct {
	RawRecord
	CanonicalURL string `json:"canonical_url,omitempty"`
}

// Row is the canonical ledger row. Field order matches the ledger columns.
type Row struct {
	DOI        string `json:"doi"`
	Date       string `json:"date"`        // Run date, YYYY-MM-DD
	PostedDate string `json:"posted_date"` // Original publication date
	IsPreprint bool   `json:"is_preprint"`
	Title      string `json:"title"`
	Keywords   string `json:"keywords"`
	Preprint   string `json:"preprint"` // Reserved for a link to the published version
	URL        string `json:"url"`
}

// Columns is the ledger header, in row order.
var Columns = []string{"DOI", "Date", "PostedDate", "IsPreprint", "Title", "Keywords", "Preprint", "URL"}

// Values returns the row as spreadsheet cell values in column order.
// IsPreprint is rendered as TRUE/FALSE.
func (r Row) Values() []string {
	return []string{
		r.DOI,
		r.Date,
		r.PostedDate,
		FormatBool(r.IsPreprint),
		r.Title,
		r.Keywords,
		r.Preprint,
		r.URL,
	}
}

// RowFromMap builds a Row from a header-keyed record, as read back from a ledger.
func RowFromMap(m map[string]string) Row {
	return Row{
		DOI:        m["DOI"],
		Date:       m["Date"],
		PostedDate: m["PostedDate"],
		IsPreprint: ParseBool(m["IsPreprint"]),
		Title:      m["Title"],
		Keywords:   m["Keywords"],
		Preprint:   m["Preprint"],
		URL:        m["URL"],
	}
}

// FormatBool renders a boolean the way spreadsheets store it.
func FormatBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// ParseBool parses TRUE/FALSE cells (case-insensitive). Anything else is false.
func ParseBool(s string) bool {
	s = strings.TrimSpace(s)
	return strings.EqualFold(s, "true") || s == "1"
}
