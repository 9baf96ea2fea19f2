package filter

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultClaudeModel is used when no model is configured.
	DefaultClaudeModel = "haiku"

	// claudeTimeout bounds one CLI invocation.
	claudeTimeout = 2 * time.Minute
)

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Claude classifies papers by calling the claude CLI.
type Claude struct {
	model   string
	prompt  string
	limiter *rate.Limiter
	run     runFunc
}

// NewClaude creates a classifier backed by the claude CLI.
func NewClaude(opts LLMOptions) *Claude {
	delay := opts.RequestDelay
	if delay == 0 {
		delay = DefaultRequestDelay
	}
	c := &Claude{
		model:   DefaultClaudeModel,
		prompt:  opts.Prompt,
		limiter: newLimiter(delay),
		run:     execRun,
	}
	if opts.Model != "" {
		c.model = opts.Model
	}
	return c
}

// Classify asks the model whether the paper is relevant.
func (c *Claude) Classify(ctx context.Context, title string, keywords []string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, claudeTimeout)
	defer cancel()

	prompt := c.prompt + "\n\n" + UserMessage(title, keywords)
	output, err := c.run(ctx, "claude", "--model", c.model, "-p", prompt)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, fmt.Errorf("claude CLI timed out after %s", claudeTimeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, fmt.Errorf("claude CLI error: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return false, fmt.Errorf("claude CLI error: %w", err)
	}
	return IsAffirmative(string(output)), nil
}
