package pubmed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matsen/paperbee/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const efetchDOI = `<?xml version="1.0" ?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>39000001</PMID>
      <Article>
        <ArticleTitle>Spatial atlas of the mouse brain</ArticleTitle>
        <ELocationID EIdType="pii" ValidYN="Y">S0092-8674(24)00001-1</ELocationID>
        <ELocationID EIdType="doi" ValidYN="Y">10.2/def</ELocationID>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

const efetchNoDOI = `<PubmedArticleSet><PubmedArticle><MedlineCitation><Article>
<ELocationID EIdType="pii">X1</ELocationID></Article></MedlineCitation></PubmedArticle></PubmedArticleSet>`

func testPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 2}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	base := []ClientOption{WithBaseURL(ts.URL), WithRequestDelay(0), WithRetryPolicy(testPolicy())}
	return NewClient(append(base, opts...)...)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient()
	assert.Equal(t, BaseURL, c.baseURL)
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
	assert.Equal(t, retry.Default(), c.policy)
	assert.Empty(t, c.apiKey)
}

func TestDOIFromTitle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/esearch.fcgi":
			assert.Equal(t, "Spatial atlas of the mouse brain", r.URL.Query().Get("term"))
			assert.Equal(t, "1", r.URL.Query().Get("retmax"))
			assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
			fmt.Fprint(w, `{"esearchresult":{"count":"1","idlist":["39000001"]}}`)
		case "/efetch.fcgi":
			assert.Equal(t, "39000001", r.URL.Query().Get("id"))
			fmt.Fprint(w, efetchDOI)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}, WithAPIKey("secret"))

	doi, err := c.DOIFromTitle(context.Background(), "Spatial atlas of the mouse brain")
	require.NoError(t, err)
	assert.Equal(t, "10.2/def", doi)
}

func TestDOIFromTitle_NoMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"esearchresult":{"count":"0","idlist":[]}}`)
	})

	_, err := c.DOIFromTitle(context.Background(), "Nothing like this")
	assert.True(t, IsNotFound(err))
}

func TestDOIFromTitle_EmptyTitle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty title")
	})
	_, err := c.DOIFromTitle(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchDOI_NoDOIElement(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, efetchNoDOI)
	})
	_, err := c.FetchDOI(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearch_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"esearchresult":{"count":"2","idlist":["1","2"]}}`)
	})

	result, err := c.Search(context.Background(), "crispr", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, []string{"1", "2"}, result.IDs)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Search(context.Background(), "crispr", SearchOptions{})
	var statusErr *retry.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, int32(4), calls.Load())
}

func TestSearch_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.Search(context.Background(), "crispr", SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_DateRangeAndAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "pdat", q.Get("datetype"))
		assert.Equal(t, "2026/10/14", q.Get("mindate"))
		assert.Equal(t, "2026/10/15", q.Get("maxdate"))
		fmt.Fprint(w, `{"esearchresult":{"ERROR":"Invalid query"}}`)
	})

	_, err := c.Search(context.Background(), "x", SearchOptions{
		MinDate: time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC),
		MaxDate: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "esearch", apiErr.Endpoint)
}

func TestSummaries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/esummary.fcgi", r.URL.Path)
		assert.Equal(t, "11,22", r.URL.Query().Get("id"))
		fmt.Fprint(w, `{"result":{"uids":["11","22"],
			"11":{"uid":"11","title":"First. ","pubdate":"2026 Oct 14","sortpubdate":"2026/10/14 00:00",
			      "articleids":[{"idtype":"pubmed","value":"11"},{"idtype":"doi","value":"10.5/first"}]},
			"22":{"uid":"22","title":"Second","pubdate":"2026 Oct","sortpubdate":"2026/10/01 00:00","articleids":[]}}}`)
	})

	summaries, err := c.Summaries(context.Background(), []string{"11", "22"})
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, Summary{PMID: "11", Title: "First.", PubDate: "2026 Oct 14", SortDate: "2026/10/14 00:00", DOI: "10.5/first"}, summaries[0])
	assert.Equal(t, "22", summaries[1].PMID)
	assert.Empty(t, summaries[1].DOI)
}

func TestRequestDelay_Throttles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"esearchresult":{"count":"0","idlist":[]}}`)
	}, WithRequestDelay(50*time.Millisecond))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Search(context.Background(), "x", SearchOptions{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
