package paper

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// KeywordTagLen is the length of the origin tag every search keyword carries.
const KeywordTagLen = 2

// TagKeyword prefixes a keyword with a KeywordTagLen-character origin tag.
// Tags that are too long are truncated, short ones padded with spaces.
func TagKeyword(tag, keyword string) string {
	switch n := utf8.RuneCountInString(tag); {
	case n > KeywordTagLen:
		tag = string([]rune(tag)[:KeywordTagLen])
	case n < KeywordTagLen:
		tag += strings.Repeat(" ", KeywordTagLen-n)
	}
	return tag + keyword
}

// StripKeywordTag removes the origin tag from a keyword.
// Keywords shorter than the tag strip to the empty string.
func StripKeywordTag(keyword string) string {
	runes := []rune(keyword)
	if len(runes) <= KeywordTagLen {
		return ""
	}
	return string(runes[KeywordTagLen:])
}

// JoinKeywords strips every tag and joins the non-empty results with ", ".
func JoinKeywords(keywords []string) string {
	stripped := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if s := strings.TrimSpace(StripKeywordTag(kw)); s != "" {
			stripped = append(stripped, s)
		}
	}
	return strings.Join(stripped, ", ")
}

// Malformed is a record the normalizer had to exclude.
type Malformed struct {
	Record ResolvedRecord
	Err    error
}

func (m Malformed) Error() string {
	return fmt.Sprintf("%q (%s): %v", m.Record.Title, m.Record.CanonicalURL, m.Err)
}

// Normalize reshapes resolved records into ledger rows dated runDate.
// Input order is preserved. Records whose canonical URL has no DOI are
// returned separately instead of producing garbage keys.
func Normalize(records []ResolvedRecord, runDate string) ([]Row, []Malformed) {
	rows := make([]Row, 0, len(records))
	var malformed []Malformed

	for _, rec := range records {
		doi, err := ExtractDOI(rec.CanonicalURL)
		if err != nil {
			malformed = append(malformed, Malformed{Record: rec, Err: err})
			continue
		}

		rows = append(rows, Row{
			DOI:        doi,
			Date:       runDate,
			PostedDate: rec.PublicationDate,
			IsPreprint: !rec.FromPubMed(),
			Title:      rec.Title,
			Keywords:   JoinKeywords(rec.Keywords),
			URL:        rec.CanonicalURL,
		})
	}

	return rows, malformed
}
