package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/matsen/paperbee/internal/retry"
)

// DefaultTimeout bounds every backend HTTP request.
const DefaultTimeout = 10 * time.Second

// userAgent identifies the client to public APIs.
const userAgent = "paperbee (https://github.com/matsen/paperbee)"

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// fetch GETs url under the retry policy and returns the body.
func fetch(ctx context.Context, hc *http.Client, policy retry.Policy, url string) ([]byte, error) {
	var body []byte
	err := policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := retry.CheckResponse(resp); err != nil {
			return err
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}
