package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/matsen/paperbee/internal/retry"
)

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// request is one outbound API call.
type request struct {
	method      string
	url         string
	body        io.Reader
	contentType string
	header      http.Header
}

func jsonRequest(method, url string, payload any) (request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return request{}, fmt.Errorf("marshaling payload: %w", err)
	}
	return request{method: method, url: url, body: bytes.NewReader(data), contentType: "application/json", header: http.Header{}}, nil
}

// do sends the request and returns the body of a 2xx response. Non-2xx
// statuses become retry.StatusError, permanent unless 429 or 5xx.
func do(ctx context.Context, hc *http.Client, r request) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, r.body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := retry.CheckResponse(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// decode unmarshals a response body; malformed bodies are not retried.
func decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return retry.Permanent(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func trimBase(u string) string {
	return strings.TrimRight(u, "/")
}
