package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlack_Publish(t *testing.T) {
	var got slackPostMessage
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"ok":true,"ts":"1700000000.000100"}`)
	}))
	defer ts.Close()

	s := NewSlack("xoxb-test", "C123", WithSlackBaseURL(ts.URL))
	resp, err := s.Publish(context.Background(), Digest{
		Date:     "2026-10-16",
		Rows:     testRows(),
		SheetURL: "https://docs.google.com/spreadsheets/d/sid",
	})
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000100", resp.ID)

	assert.Equal(t, "C123", got.Channel)
	var texts []string
	for _, b := range got.Blocks {
		if b.Text != nil {
			texts = append(texts, b.Text.Text)
		}
	}
	joined := strings.Join(texts, "\n")
	assert.Contains(t, joined, ":pencil: <https://doi.org/10.1/abc|A preprint>")
	assert.Contains(t, joined, ":rolled_up_newspaper: <https://doi.org/10.2/def|A paper>")
	assert.Contains(t, joined, "<https://docs.google.com/spreadsheets/d/sid|Google Sheet>")
	assert.Contains(t, joined, "Published on 2026-10-16")
}

func TestSlack_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":"channel_not_found"}`)
	}))
	defer ts.Close()

	_, err := NewSlack("xoxb", "C1", WithSlackBaseURL(ts.URL)).Publish(context.Background(), Digest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSlack_MissingCredentials(t *testing.T) {
	_, err := NewSlack("", "").Publish(context.Background(), Digest{})
	assert.Error(t, err)
}

func TestSlack_Webhook(t *testing.T) {
	var got slackPostMessage
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, "ok")
	}))
	defer ts.Close()

	_, err := NewSlackWebhook(ts.URL).Publish(context.Background(), Digest{Date: "2026-10-16"})
	require.NoError(t, err)
	assert.Empty(t, got.Channel)

	var texts []string
	for _, b := range got.Blocks {
		if b.Text != nil {
			texts = append(texts, b.Text.Text)
		}
	}
	assert.Contains(t, texts, "No preprints found today.")
	assert.Contains(t, texts, "No papers found today.")
}

func TestSlackItem_EscapesTitle(t *testing.T) {
	r := testRows()[1]
	r.Title = "A<B & C>D"
	assert.Equal(t, ":rolled_up_newspaper: <https://doi.org/10.2/def|A&lt;B &amp; C&gt;D>", slackItem(r))
}

func TestEscapeMarkdownV2(t *testing.T) {
	assert.Equal(t, `Hello\! a\.b \(c\) d\-e x\_y`, EscapeMarkdownV2("Hello! a.b (c) d-e x_y"))
	assert.Equal(t, "plain", EscapeMarkdownV2("plain"))
	assert.Equal(t, `https://doi.org/10.1/a\(b\)`, escapeMarkdownV2URL("https://doi.org/10.1/a(b)"))
}

func TestTelegram_Publish(t *testing.T) {
	var got telegramSendMessage
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:ABC/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":42}}`)
	}))
	defer ts.Close()

	tg := NewTelegram("123:ABC", "@papers", WithTelegramBaseURL(ts.URL))
	resp, err := tg.Publish(context.Background(), Digest{Date: "2026-10-16", Rows: testRows()})
	require.NoError(t, err)
	assert.Equal(t, "42", resp.ID)

	assert.Equal(t, "@papers", got.ChatID)
	assert.Equal(t, "MarkdownV2", got.ParseMode)
	assert.Contains(t, got.Text, "✏️ [A preprint](https://doi.org/10.1/abc)")
	assert.Contains(t, got.Text, "🗞️ [A paper](https://doi.org/10.2/def)")
	assert.Contains(t, got.Text, "Here are today's papers\\!")
}

func TestTelegram_EmptyDigest(t *testing.T) {
	msg := telegramMessage(Digest{})
	assert.Contains(t, msg, `No preprints found today\.`)
	assert.Contains(t, msg, `No papers found today\.`)
}

func TestTelegram_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"description":"Bad Request: can't parse entities"}`)
	}))
	defer ts.Close()

	_, err := NewTelegram("t", "c", WithTelegramBaseURL(ts.URL)).Publish(context.Background(), Digest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't parse entities")
}

func TestReadZuliprc(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zuliprc")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
email=paperbee-bot@example.zulipchat.com
key = secret
site=https://example.zulipchat.com

[other]
key=ignored
`), 0600))

	s, err := ReadZuliprc(path)
	require.NoError(t, err)
	assert.Equal(t, "paperbee-bot@example.zulipchat.com", s.Email)
	assert.Equal(t, "secret", s.APIKey)
	assert.Equal(t, "https://example.zulipchat.com", s.Site)

	incomplete := filepath.Join(t.TempDir(), "zuliprc")
	require.NoError(t, os.WriteFile(incomplete, []byte("[api]\nemail=x\n"), 0600))
	_, err = ReadZuliprc(incomplete)
	assert.Error(t, err)
}

func TestZulip_Publish(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/messages", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "key", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "stream", r.PostForm.Get("type"))
		assert.Equal(t, "papers", r.PostForm.Get("to"))
		assert.Equal(t, "daily", r.PostForm.Get("topic"))
		content := r.PostForm.Get("content")
		assert.Contains(t, content, "(2026-10-16)")
		assert.Contains(t, content, "🖊️ [A preprint](https://doi.org/10.1/abc)")
		assert.Contains(t, content, "📰 [A paper](https://doi.org/10.2/def)")
		fmt.Fprint(w, `{"result":"success","msg":"","id":99}`)
	}))
	defer ts.Close()

	z := NewZulip(ZulipSettings{Site: ts.URL + "/", Email: "bot@example.com", APIKey: "key", Stream: "papers", Topic: "daily"})
	resp, err := z.Publish(context.Background(), Digest{Date: "2026-10-16", Rows: testRows()})
	require.NoError(t, err)
	assert.Equal(t, "99", resp.ID)
}

func TestZulip_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"error","msg":"Stream does not exist"}`)
	}))
	defer ts.Close()

	_, err := NewZulip(ZulipSettings{Site: ts.URL, Stream: "nope"}).Publish(context.Background(), Digest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Stream does not exist")

	_, err = NewZulip(ZulipSettings{Site: ts.URL}).Publish(context.Background(), Digest{})
	assert.Error(t, err)
}

func TestMattermost_Publish(t *testing.T) {
	var lookups int
	var post map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer mm-token", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v4/teams/name/lab":
			lookups++
			fmt.Fprint(w, `{"id":"team1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v4/teams/team1/channels/name/papers":
			lookups++
			fmt.Fprint(w, `{"id":"chan1"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/v4/posts":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&post))
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":"post1"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	m := NewMattermost(MattermostSettings{URL: ts.URL, Token: "mm-token", Team: "lab", Channel: "papers"})
	for i := 0; i < 2; i++ {
		resp, err := m.Publish(context.Background(), Digest{Date: "2026-10-16", Rows: testRows()})
		require.NoError(t, err)
		assert.Equal(t, "post1", resp.ID)
	}
	assert.Equal(t, 2, lookups, "channel lookup is cached")
	assert.Equal(t, "chan1", post["channel_id"])
	assert.Contains(t, post["message"], "**Preprints:** 👇")
	assert.Contains(t, post["message"], "✏️ [A preprint](https://doi.org/10.1/abc)")
}

func TestMattermost_UnknownTeam(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := NewMattermost(MattermostSettings{URL: ts.URL, Token: "t", Team: "ghost", Channel: "c"}).
		Publish(context.Background(), Digest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `team "ghost"`)
}
