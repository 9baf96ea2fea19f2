// Package filter narrows a day's papers to the relevant ones, using a
// language model or a human reviewer.
package filter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderClaude = "claude"
)

// DefaultRequestDelay spaces consecutive LLM requests.
const DefaultRequestDelay = 200 * time.Millisecond

// ErrUnknownProvider is returned for an unsupported LLM provider.
var ErrUnknownProvider = errors.New("unknown LLM provider")

// RelevanceClassifier decides whether a paper is relevant.
// A "not relevant" verdict is (false, nil), never an error.
type RelevanceClassifier interface {
	Classify(ctx context.Context, title string, keywords []string) (bool, error)
}

// RowClassifier is implemented by classifiers that want the whole row,
// such as a human reviewer who should also see dates and preprint status.
type RowClassifier interface {
	ClassifyRow(ctx context.Context, row paper.Row) (bool, error)
}

// Stats summarizes one classifier pass.
type Stats struct {
	Kept     int
	Dropped  int
	Failures int // Rows kept because the classifier errored
}

// Apply runs each classifier over the rows in turn, keeping the rows every
// classifier accepts. Relative order is preserved. A classifier error keeps
// the row and is logged, so a flaky model cannot silently drop papers.
// With no classifiers Apply returns rows unchanged.
func Apply(ctx context.Context, logger zerolog.Logger, rows []paper.Row, classifiers ...RelevanceClassifier) ([]paper.Row, error) {
	for i, c := range classifiers {
		kept, stats, err := applyOne(ctx, logger, rows, c)
		if err != nil {
			return nil, err
		}
		logger.Info().
			Int("classifier", i).
			Int("kept", stats.Kept).
			Int("dropped", stats.Dropped).
			Int("failures", stats.Failures).
			Msg("relevance filter applied")
		rows = kept
	}
	return rows, nil
}

func applyOne(ctx context.Context, logger zerolog.Logger, rows []paper.Row, c RelevanceClassifier) ([]paper.Row, Stats, error) {
	var stats Stats
	kept := make([]paper.Row, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		relevant, err := classify(ctx, c, row)
		if err != nil {
			if ctx.Err() != nil {
				return nil, stats, ctx.Err()
			}
			logger.Warn().Err(err).Str("doi", row.DOI).Msg("classifier failed, keeping paper")
			stats.Failures++
			relevant = true
		}

		if relevant {
			kept = append(kept, row)
			stats.Kept++
		} else {
			stats.Dropped++
		}
	}
	return kept, stats, nil
}

func classify(ctx context.Context, c RelevanceClassifier, row paper.Row) (bool, error) {
	if rc, ok := c.(RowClassifier); ok {
		return rc.ClassifyRow(ctx, row)
	}
	return c.Classify(ctx, row.Title, splitKeywords(row.Keywords))
}

// splitKeywords undoes paper.JoinKeywords.
func splitKeywords(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ", ")
}

// UserMessage is the per-paper message sent to a model.
func UserMessage(title string, keywords []string) string {
	if len(keywords) == 0 {
		return fmt.Sprintf("Title of the publication: '%s'", title)
	}
	return fmt.Sprintf("Title of the publication: '%s'\nKeywords: %s", title, strings.Join(keywords, ", "))
}

// IsAffirmative reports whether a model response says the paper is relevant.
func IsAffirmative(response string) bool {
	return strings.Contains(strings.ToLower(response), "yes")
}

// LLMOptions configures an LLM classifier.
type LLMOptions struct {
	Model        string
	Prompt       string // System prompt describing what is relevant
	APIKey       string // OpenAI only
	BaseURL      string // Overrides the provider endpoint
	RequestDelay time.Duration
}

// NewLLM builds the classifier for a provider.
func NewLLM(provider string, opts LLMOptions) (RelevanceClassifier, error) {
	switch strings.ToLower(provider) {
	case ProviderOpenAI, "":
		return NewOpenAI(opts), nil
	case ProviderOllama:
		return NewOllama(opts), nil
	case ProviderClaude:
		return NewClaude(opts), nil
	default:
		return nil, fmt.Errorf("%w %q (choose %s, %s or %s)", ErrUnknownProvider, provider,
			ProviderOpenAI, ProviderOllama, ProviderClaude)
	}
}

// newLimiter spaces requests by delay. Zero or negative means no pacing.
func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
