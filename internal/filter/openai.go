package filter

import (
	"context"
	"errors"
	"strings"
)

const (
	// DefaultOpenAIURL is the OpenAI API base URL.
	DefaultOpenAIURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel is used when no model is configured.
	DefaultOpenAIModel = "gpt-3.5-turbo"
)

// OpenAI classifies papers with the chat completions API.
type OpenAI struct {
	chatClient
	baseURL string
	model   string
	prompt  string
}

// NewOpenAI creates an OpenAI classifier.
func NewOpenAI(opts LLMOptions) *OpenAI {
	c := &OpenAI{
		chatClient: newChatClient(opts.RequestDelay),
		baseURL:    DefaultOpenAIURL,
		model:      DefaultOpenAIModel,
		prompt:     opts.Prompt,
	}
	if opts.BaseURL != "" {
		c.baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Model != "" {
		c.model = opts.Model
	}
	if opts.APIKey != "" {
		c.headers["Authorization"] = "Bearer " + opts.APIKey
	}
	return c
}

type openAIRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify asks the model whether the paper is relevant.
func (c *OpenAI) Classify(ctx context.Context, title string, keywords []string) (bool, error) {
	var resp openAIResponse
	err := c.post(ctx, c.baseURL+"/chat/completions", openAIRequest{
		Model:    c.model,
		Messages: chatMessages(c.prompt, title, keywords),
	}, &resp)
	if err != nil {
		return false, err
	}
	if len(resp.Choices) == 0 {
		return false, errors.New("openai returned no choices")
	}
	return IsAffirmative(resp.Choices[0].Message.Content), nil
}
