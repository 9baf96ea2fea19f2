package filter

import (
	"context"
	"strings"
)

const (
	// DefaultOllamaURL is the default Ollama API endpoint.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultOllamaModel is used when no model is configured.
	DefaultOllamaModel = "llama3.2"

	// apiPathChat is the Ollama chat endpoint.
	apiPathChat = "/api/chat"
)

// Ollama classifies papers with a local Ollama model.
type Ollama struct {
	chatClient
	baseURL string
	model   string
	prompt  string
}

// NewOllama creates an Ollama classifier.
func NewOllama(opts LLMOptions) *Ollama {
	c := &Ollama{
		chatClient: newChatClient(opts.RequestDelay),
		baseURL:    DefaultOllamaURL,
		model:      DefaultOllamaModel,
		prompt:     opts.Prompt,
	}
	if opts.BaseURL != "" {
		c.baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Model != "" {
		c.model = opts.Model
	}
	return c
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaChatResponse struct {
	Message chatMessage `json:"message"`
}

// Classify asks the model whether the paper is relevant.
func (c *Ollama) Classify(ctx context.Context, title string, keywords []string) (bool, error) {
	var resp ollamaChatResponse
	err := c.post(ctx, c.baseURL+apiPathChat, ollamaChatRequest{
		Model:    c.model,
		Messages: chatMessages(c.prompt, title, keywords),
	}, &resp)
	if err != nil {
		return false, err
	}
	return IsAffirmative(resp.Message.Content), nil
}
