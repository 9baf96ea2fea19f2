package paper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDOI(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"doi.org URL", "https://doi.org/10.1101/2024.01.01.123456", "10.1101/2024.01.01.123456", false},
		{"short registrant", "https://doi.org/10.1/abc", "10.1/abc", false},
		{"first marker wins", "https://doi.org/10.1234/v10.5", "10.1234/v10.5", false},
		{"publisher URL", "https://www.biorxiv.org/content/10.1101/2024.02.02.5v1", "10.1101/2024.02.02.5v1", false},
		{"no marker", "https://arxiv.org/abs/2401.00001", "", true},
		{"empty", "", "", true},
		{"marker only", "https://doi.org/10.", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractDOI(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoDOI)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractDOI_RoundTrip(t *testing.T) {
	for _, doi := range []string{"10.1/abc", "10.2/def", "10.1038/s41586-024-00001-x", "10.48550/arXiv.2401.00001"} {
		got, err := ExtractDOI(DOIURL(doi))
		require.NoError(t, err)
		assert.Equal(t, doi, got)
	}
}

func TestFirstDOIURL(t *testing.T) {
	url, ok := FirstDOIURL([]string{
		"https://arxiv.org/abs/2401.00001",
		"https://doi.org/10.48550/arXiv.2401.00001",
		"https://doi.org/10.9999/other",
	})
	assert.True(t, ok)
	assert.Equal(t, "https://doi.org/10.48550/arXiv.2401.00001", url)

	_, ok = FirstDOIURL([]string{"http://doi.org/10.1/abc", "https://example.org"})
	assert.False(t, ok, "plain http is not the resolver prefix")

	_, ok = FirstDOIURL(nil)
	assert.False(t, ok)
}
