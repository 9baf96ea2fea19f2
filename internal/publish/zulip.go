package publish

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/matsen/paperbee/internal/retry"
)

// ZulipSettings are the bot credentials and target of a Zulip destination.
type ZulipSettings struct {
	Site   string // Server URL, e.g. https://example.zulipchat.com
	Email  string // Bot email
	APIKey string
	Stream string
	Topic  string
}

// ReadZuliprc reads site, email and key from the [api] section of a
// zuliprc file.
func ReadZuliprc(path string) (ZulipSettings, error) {
	f, err := os.Open(path)
	if err != nil {
		return ZulipSettings{}, fmt.Errorf("opening zuliprc: %w", err)
	}
	defer f.Close()

	var s ZulipSettings
	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		if section != "api" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "site":
			s.Site = value
		case "email":
			s.Email = value
		case "key":
			s.APIKey = value
		}
	}
	if err := scanner.Err(); err != nil {
		return ZulipSettings{}, fmt.Errorf("reading zuliprc: %w", err)
	}
	if s.Site == "" || s.Email == "" || s.APIKey == "" {
		return ZulipSettings{}, fmt.Errorf("zuliprc %s: [api] section needs site, email and key", path)
	}
	return s, nil
}

// Zulip posts digests to a stream topic.
type Zulip struct {
	settings ZulipSettings
	client   *http.Client
}

// NewZulip creates a Zulip destination.
func NewZulip(s ZulipSettings) *Zulip {
	s.Site = trimBase(s.Site)
	return &Zulip{settings: s, client: defaultHTTPClient()}
}

// Name returns "zulip".
func (z *Zulip) Name() string { return "zulip" }

func zulipMessage(d Digest) string {
	heading := fmt.Sprintf("Good morning ☕ Here are today's papers (%s)! 📚", d.Date)
	return markdownMessage(d, heading, "---", "🖊️", "📰")
}

type zulipResponse struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
	ID     int64  `json:"id"`
}

// Publish sends the digest as a stream message.
func (z *Zulip) Publish(ctx context.Context, d Digest) (Response, error) {
	if z.settings.Stream == "" {
		return Response{}, retry.Permanent(errors.New("zulip stream is required"))
	}

	form := url.Values{}
	form.Set("type", "stream")
	form.Set("to", z.settings.Stream)
	form.Set("topic", z.settings.Topic)
	form.Set("content", zulipMessage(d))

	req := request{
		method:      http.MethodPost,
		url:         z.settings.Site + "/api/v1/messages",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		header:      http.Header{},
	}
	req.header.Set("Authorization", basicAuth(z.settings.Email, z.settings.APIKey))

	body, err := do(ctx, z.client, req)
	if err != nil {
		return Response{}, fmt.Errorf("posting to Zulip: %w", err)
	}
	var resp zulipResponse
	if err := decode(body, &resp); err != nil {
		return Response{}, err
	}
	if resp.Result != "success" {
		return Response{}, retry.Permanent(fmt.Errorf("zulip API error: %s", resp.Msg))
	}
	return Response{ID: strconv.FormatInt(resp.ID, 10)}, nil
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}
