package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/retry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcClassifier func(title string, keywords []string) (bool, error)

func (f funcClassifier) Classify(_ context.Context, title string, keywords []string) (bool, error) {
	return f(title, keywords)
}

func rows(titles ...string) []paper.Row {
	out := make([]paper.Row, len(titles))
	for i, t := range titles {
		out[i] = paper.Row{DOI: "10.1/" + t, Title: t, Keywords: "genomics, cs.LG"}
	}
	return out
}

func titles(rs []paper.Row) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.Title)
	}
	return out
}

func TestApply_NoClassifiers(t *testing.T) {
	in := rows("a", "b")
	got, err := Apply(context.Background(), zerolog.Nop(), in)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestApply_PreservesOrder(t *testing.T) {
	keep := funcClassifier(func(title string, keywords []string) (bool, error) {
		assert.Equal(t, []string{"genomics", "cs.LG"}, keywords)
		return title != "b", nil
	})

	got, err := Apply(context.Background(), zerolog.Nop(), rows("a", "b", "c", "d"), keep)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, titles(got))
}

func TestApply_FailOpen(t *testing.T) {
	flaky := funcClassifier(func(title string, _ []string) (bool, error) {
		switch title {
		case "err":
			return false, errors.New("model unavailable")
		case "no":
			return false, nil
		}
		return true, nil
	})

	got, err := Apply(context.Background(), zerolog.Nop(), rows("yes", "err", "no"), flaky)
	require.NoError(t, err)
	assert.Equal(t, []string{"yes", "err"}, titles(got))
}

func TestApply_Chained(t *testing.T) {
	dropA := funcClassifier(func(title string, _ []string) (bool, error) { return title != "a", nil })
	dropC := funcClassifier(func(title string, _ []string) (bool, error) { return title != "c", nil })

	got, err := Apply(context.Background(), zerolog.Nop(), rows("a", "b", "c"), dropA, dropC)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, titles(got))
}

func TestApply_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	never := funcClassifier(func(string, []string) (bool, error) {
		t.Error("classifier should not run")
		return true, nil
	})
	_, err := Apply(ctx, zerolog.Nop(), rows("a"), never)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Title of the publication: 'X'", UserMessage("X", nil))
	assert.Equal(t, "Title of the publication: 'X'\nKeywords: a, b", UserMessage("X", []string{"a", "b"}))
}

func TestIsAffirmative(t *testing.T) {
	assert.True(t, IsAffirmative("Yes."))
	assert.True(t, IsAffirmative("The answer is YES"))
	assert.False(t, IsAffirmative("No"))
	assert.False(t, IsAffirmative(""))
}

func TestNewLLM(t *testing.T) {
	c, err := NewLLM("openai", LLMOptions{})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, c)

	c, err = NewLLM("Ollama", LLMOptions{})
	require.NoError(t, err)
	assert.IsType(t, &Ollama{}, c)

	c, err = NewLLM("claude", LLMOptions{})
	require.NoError(t, err)
	assert.IsType(t, &Claude{}, c)

	_, err = NewLLM("gemini", LLMOptions{})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestOpenAI_Classify(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "Is it about genomics?", req.Messages[0].Content)

		answer := "No"
		if strings.Contains(req.Messages[1].Content, "genome") {
			answer = "Yes"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": answer}}},
		})
	}))
	defer ts.Close()

	c := NewOpenAI(LLMOptions{
		Model:        "gpt-4o-mini",
		Prompt:       "Is it about genomics?",
		APIKey:       "sk-test",
		BaseURL:      ts.URL,
		RequestDelay: -1,
	})

	ok, err := c.Classify(context.Background(), "A genome assembly", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Classify(context.Background(), "Bird migration", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenAI_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := NewOpenAI(LLMOptions{BaseURL: ts.URL, RequestDelay: -1})
	_, err := c.Classify(context.Background(), "x", nil)
	var statusErr *retry.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestOllama_Classify(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "llama3.2", req.Model)
		assert.Equal(t, "Title of the publication: 'X'\nKeywords: genomics", req.Messages[1].Content)
		w.Write([]byte(`{"message":{"role":"assistant","content":"yes, relevant"}}`))
	}))
	defer ts.Close()

	c := NewOllama(LLMOptions{BaseURL: ts.URL + "/", RequestDelay: -1})
	ok, err := c.Classify(context.Background(), "X", []string{"genomics"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChatClient_Pacing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"no"}}`))
	}))
	defer ts.Close()

	c := NewOllama(LLMOptions{BaseURL: ts.URL, RequestDelay: 40 * time.Millisecond})
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Classify(context.Background(), "x", nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestClaude_Classify(t *testing.T) {
	c := NewClaude(LLMOptions{Prompt: "Relevant to immunology?", RequestDelay: -1})
	var gotArgs []string
	c.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "claude", name)
		gotArgs = args
		return []byte("Yes\n"), nil
	}

	ok, err := c.Classify(context.Background(), "T cell memory", []string{"immunology"})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, gotArgs, 4)
	assert.Equal(t, []string{"--model", "haiku", "-p"}, gotArgs[:3])
	assert.Equal(t, "Relevant to immunology?\n\nTitle of the publication: 'T cell memory'\nKeywords: immunology", gotArgs[3])
}

func TestClaude_Error(t *testing.T) {
	c := NewClaude(LLMOptions{RequestDelay: -1})
	c.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("executable file not found")
	}
	_, err := c.Classify(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claude CLI error")
}

func TestInteractive(t *testing.T) {
	in := strings.NewReader("maybe\ny\nN\n")
	var out bytes.Buffer
	r := NewInteractive(in, &out)

	got, err := Apply(context.Background(), zerolog.Nop(), []paper.Row{
		{DOI: "10.1/a", Title: "First", PostedDate: "2026-10-15", IsPreprint: true},
		{DOI: "10.1/b", Title: "Second"},
	}, r)
	require.NoError(t, err)
	assert.Equal(t, []string{"First"}, titles(got))

	assert.Contains(t, out.String(), "Title: First")
	assert.Contains(t, out.String(), "Posted Date: 2026-10-15")
	assert.Contains(t, out.String(), "Preprint: TRUE")
	assert.Contains(t, out.String(), "Invalid input")
}

func TestInteractive_EOFKeepsPaper(t *testing.T) {
	r := NewInteractive(strings.NewReader(""), &bytes.Buffer{})
	got, err := Apply(context.Background(), zerolog.Nop(), rows("a"), r)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, titles(got))
}

func TestInteractive_LastLineWithoutNewline(t *testing.T) {
	r := NewInteractive(strings.NewReader("n"), &bytes.Buffer{})
	ok, err := r.Classify(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
