package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/matsen/paperbee/internal/retry"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds every LLM HTTP request.
const DefaultTimeout = 10 * time.Second

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func chatMessages(prompt, title string, keywords []string) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: UserMessage(title, keywords)},
	}
}

// chatClient is the HTTP plumbing shared by the OpenAI and Ollama classifiers.
type chatClient struct {
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	headers map[string]string
}

func newChatClient(delay time.Duration) chatClient {
	if delay == 0 {
		delay = DefaultRequestDelay
	}
	return chatClient{
		client:  &http.Client{Timeout: DefaultTimeout},
		limiter: newLimiter(delay),
		policy:  retry.Default(),
		headers: map[string]string{},
	}
}

// post sends body as JSON to url and decodes the response into out.
func (c chatClient) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	return c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		if err := retry.CheckResponse(resp); err != nil {
			return err
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return retry.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})
}
