package paper

import (
	"errors"
	"strings"
)

// doiMarker is the literal every DOI starts with.
const doiMarker = "10."

// ErrNoDOI is returned when a URL carries no extractable DOI.
var ErrNoDOI = errors.New("no DOI in URL")

// ExtractDOI returns the substring of url starting at the first "10.".
// URLs without "10.", or with nothing after it, return ErrNoDOI.
func ExtractDOI(url string) (string, error) {
	idx := strings.Index(url, doiMarker)
	if idx == -1 {
		return "", ErrNoDOI
	}
	doi := url[idx:]
	if len(doi) == len(doiMarker) {
		return "", ErrNoDOI
	}
	return doi, nil
}

// DOIURL builds the canonical resolver URL for a DOI.
func DOIURL(doi string) string {
	return DOIResolverPrefix + "/" + doi
}

// FirstDOIURL returns the first URL that points at the DOI resolver.
func FirstDOIURL(urls []string) (string, bool) {
	for _, u := range urls {
		if strings.HasPrefix(u, DOIResolverPrefix) {
			return u, true
		}
	}
	return "", false
}
