// Package pubmed is a rate-limited client for the NCBI E-utilities API.
package pubmed

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matsen/paperbee/internal/retry"
	"golang.org/x/time/rate"
)

const (
	// BaseURL is the E-utilities base URL.
	BaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultTimeout bounds every HTTP request.
	DefaultTimeout = 10 * time.Second

	// DefaultRequestDelay is the minimum spacing between requests. NCBI allows
	// 3 requests/second without an API key and 10 with one.
	DefaultRequestDelay = 100 * time.Millisecond

	// maxSummaryBatch is how many ids are sent per esummary request.
	maxSummaryBatch = 200
)

// Client is a rate-limited HTTP client for E-utilities.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	baseURL    string
	policy     retry.Policy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the NCBI API key sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithRequestDelay sets the minimum delay between requests.
// A zero or negative delay disables throttling.
func WithRequestDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRetryPolicy sets the retry policy applied to every request.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// NewClient creates a new E-utilities client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(DefaultRequestDelay), 1),
		baseURL:    BaseURL,
		policy:     retry.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs a throttled, retried GET against an E-utilities endpoint and
// returns the response body.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode())

	var body []byte
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("creating request: %w", err))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetworkError, err)
		}
		defer resp.Body.Close()

		if err := retry.CheckResponse(resp); err != nil {
			return fmt.Errorf("%s: %w", endpoint, err)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: reading body: %v", ErrNetworkError, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// SearchOptions narrows an esearch query.
type SearchOptions struct {
	RetMax  int
	MinDate time.Time // Publication date range; both ends must be set
	MaxDate time.Time
}

// Search runs an esearch query against the pubmed database.
func (c *Client) Search(ctx context.Context, term string, opts SearchOptions) (*SearchResult, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", term)
	params.Set("retmode", "json")
	if opts.RetMax > 0 {
		params.Set("retmax", strconv.Itoa(opts.RetMax))
	}
	if !opts.MinDate.IsZero() && !opts.MaxDate.IsZero() {
		params.Set("datetype", "pdat")
		params.Set("mindate", opts.MinDate.Format("2006/01/02"))
		params.Set("maxdate", opts.MaxDate.Format("2006/01/02"))
	}

	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var resp esearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parsing esearch: %v", ErrInvalidResponse, err)
	}
	if resp.Result.Error != "" {
		return nil, &APIError{Endpoint: "esearch", Message: resp.Result.Error}
	}

	count, _ := strconv.Atoi(resp.Result.Count)
	return &SearchResult{Count: count, IDs: resp.Result.IDList}, nil
}

// FetchDOI returns the DOI of an article: the first ELocationID whose
// EIdType is "doi". Articles without one return ErrNotFound.
func (c *Client) FetchDOI(ctx context.Context, pmid string) (string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", pmid)
	params.Set("retmode", "xml")

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return "", err
	}
	return parseDOI(body)
}

// parseDOI extracts the first DOI ELocationID from an efetch document.
func parseDOI(body []byte) (string, error) {
	var set efetchResponse
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&set); err != nil {
		return "", fmt.Errorf("%w: parsing efetch: %v", ErrInvalidResponse, err)
	}
	for _, article := range set.Articles {
		for _, loc := range article.ELocationIDs {
			if loc.Type == "doi" {
				if doi := strings.TrimSpace(loc.Value); doi != "" {
					return doi, nil
				}
			}
		}
	}
	return "", ErrNotFound
}

// DOIFromTitle looks a publication up by title and returns its DOI.
// Titles that match nothing, or whose best match has no DOI, return ErrNotFound.
func (c *Client) DOIFromTitle(ctx context.Context, title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", ErrNotFound
	}

	result, err := c.Search(ctx, title, SearchOptions{RetMax: 1})
	if err != nil {
		return "", err
	}
	if len(result.IDs) == 0 {
		return "", ErrNotFound
	}

	return c.FetchDOI(ctx, result.IDs[0])
}

// Summaries fetches esummary documents for the given PubMed ids, in order.
func (c *Client) Summaries(ctx context.Context, ids []string) ([]Summary, error) {
	summaries := make([]Summary, 0, len(ids))
	for start := 0; start < len(ids); start += maxSummaryBatch {
		end := min(start+maxSummaryBatch, len(ids))
		batch, err := c.summaryBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, batch...)
	}
	return summaries, nil
}

func (c *Client) summaryBatch(ctx context.Context, ids []string) ([]Summary, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "json")

	body, err := c.get(ctx, "esummary.fcgi", params)
	if err != nil {
		return nil, err
	}

	// The result object mixes a "uids" list with one key per document.
	var resp struct {
		Result map[string]json.RawMessage `json:"result"`
		Error  string                     `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parsing esummary: %v", ErrInvalidResponse, err)
	}
	if resp.Error != "" {
		return nil, &APIError{Endpoint: "esummary", Message: resp.Error}
	}

	var uids []string
	if raw, ok := resp.Result["uids"]; ok {
		if err := json.Unmarshal(raw, &uids); err != nil {
			return nil, fmt.Errorf("%w: parsing esummary uids: %v", ErrInvalidResponse, err)
		}
	}

	summaries := make([]Summary, 0, len(uids))
	for _, uid := range uids {
		raw, ok := resp.Result[uid]
		if !ok {
			continue
		}
		var doc esummaryDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: parsing esummary document %s: %v", ErrInvalidResponse, uid, err)
		}
		s := Summary{
			PMID:     doc.UID,
			Title:    strings.TrimSpace(doc.Title),
			PubDate:  doc.PubDate,
			SortDate: doc.SortPubDate,
		}
		for _, id := range doc.ArticleIDs {
			if id.IDType == "doi" {
				s.DOI = id.Value
				break
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
