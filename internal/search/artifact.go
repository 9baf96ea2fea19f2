package search

import (
	"path/filepath"
	"strings"
	"time"
)

// Artifact file name suffixes for split-query runs.
const (
	suffixPubArx  = "_pub_arx"
	suffixBioRxiv = "_biorxiv"
)

// ArtifactPath is the artifact of a single-query run.
func ArtifactPath(root string, date time.Time) string {
	return filepath.Join(root, date.Format(time.DateOnly)+".json")
}

// SplitArtifactPaths are the artifacts of a split-query run: PubMed and
// arXiv share one query, bioRxiv has its own.
func SplitArtifactPaths(root string, date time.Time) (pubArx, biorxiv string) {
	day := date.Format(time.DateOnly)
	return filepath.Join(root, day+suffixPubArx+".json"),
		filepath.Join(root, day+suffixBioRxiv+".json")
}

// ArtifactDate parses the run date from an artifact file name.
// Names that are not artifacts return false.
func ArtifactDate(name string) (time.Time, bool) {
	base, ok := strings.CutSuffix(filepath.Base(name), ".json")
	if !ok {
		return time.Time{}, false
	}
	if len(base) < len(time.DateOnly) {
		return time.Time{}, false
	}
	day, rest := base[:len(time.DateOnly)], base[len(time.DateOnly):]
	switch rest {
	case "", suffixPubArx, suffixBioRxiv:
	default:
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, day)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
