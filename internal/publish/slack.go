package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/retry"
)

// SlackAPIBase is the Slack Web API base URL.
const SlackAPIBase = "https://slack.com/api"

const slackHeader = "Good morning :coffee: Here are today's papers! Enjoy your reading! :wave:\n"

// Slack posts Block Kit digests with chat.postMessage, or to an incoming
// webhook when no bot token is configured.
type Slack struct {
	token      string
	channelID  string
	webhookURL string
	baseURL    string
	client     *http.Client
}

// SlackOption configures a Slack destination.
type SlackOption func(*Slack)

// WithSlackBaseURL sets a custom API base URL (for testing).
func WithSlackBaseURL(u string) SlackOption {
	return func(s *Slack) {
		s.baseURL = trimBase(u)
	}
}

// NewSlack creates a destination that posts as a bot to channelID.
func NewSlack(token, channelID string, opts ...SlackOption) *Slack {
	s := &Slack{token: token, channelID: channelID, baseURL: SlackAPIBase, client: defaultHTTPClient()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSlackWebhook creates a destination that posts to an incoming webhook.
func NewSlackWebhook(webhookURL string) *Slack {
	return &Slack{webhookURL: webhookURL, client: defaultHTTPClient()}
}

// Name returns "slack".
func (s *Slack) Name() string { return "slack" }

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

func section(text string) slackBlock {
	return slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: text}}
}

var divider = slackBlock{Type: "divider"}

// slackItem renders a row as a Slack mrkdwn link.
func slackItem(r paper.Row) string {
	emoji := ":rolled_up_newspaper:"
	if r.IsPreprint {
		emoji = ":pencil:"
	}
	title := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(r.Title)
	return fmt.Sprintf("%s <%s|%s>", emoji, r.URL, title)
}

// slackBlocks builds the Block Kit message for a digest.
func slackBlocks(d Digest) []slackBlock {
	papers, preprints := Partition(d.Rows)

	blocks := []slackBlock{section(slackHeader), divider, section("*Preprints:*:point_down:")}
	if len(preprints) == 0 {
		blocks = append(blocks, section(noPreprints))
	}
	for _, r := range preprints {
		blocks = append(blocks, section(slackItem(r)))
	}

	blocks = append(blocks, divider, section("*Papers:*:point_down:"))
	if len(papers) == 0 {
		blocks = append(blocks, section(noPapers))
	}
	for _, r := range papers {
		blocks = append(blocks, section(slackItem(r)))
	}

	blocks = append(blocks, divider)
	if d.SheetURL != "" {
		blocks = append(blocks, section(fmt.Sprintf("*View all papers:* <%s|Google Sheet> :books:", d.SheetURL)))
	}
	blocks = append(blocks, section("Published on "+d.Date))
	return blocks
}

type slackPostMessage struct {
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text"`
	Blocks      []slackBlock `json:"blocks"`
	UnfurlLinks bool         `json:"unfurl_links"`
	UnfurlMedia bool         `json:"unfurl_media"`
}

type slackAPIResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

// Publish posts the digest.
func (s *Slack) Publish(ctx context.Context, d Digest) (Response, error) {
	msg := slackPostMessage{Text: slackHeader, Blocks: slackBlocks(d)}

	if s.webhookURL != "" {
		req, err := jsonRequest(http.MethodPost, s.webhookURL, msg)
		if err != nil {
			return Response{}, retry.Permanent(err)
		}
		if _, err := do(ctx, s.client, req); err != nil {
			return Response{}, fmt.Errorf("posting to Slack webhook: %w", err)
		}
		return Response{}, nil
	}

	if s.token == "" || s.channelID == "" {
		return Response{}, retry.Permanent(errors.New("slack bot token and channel id are required"))
	}
	msg.Channel = s.channelID
	req, err := jsonRequest(http.MethodPost, s.baseURL+"/chat.postMessage", msg)
	if err != nil {
		return Response{}, retry.Permanent(err)
	}
	req.header.Set("Authorization", "Bearer "+s.token)

	body, err := do(ctx, s.client, req)
	if err != nil {
		return Response{}, fmt.Errorf("posting to Slack: %w", err)
	}
	var resp slackAPIResponse
	if err := decode(body, &resp); err != nil {
		return Response{}, err
	}
	if !resp.OK {
		if resp.Error == "ratelimited" {
			return Response{}, fmt.Errorf("slack API error: %w", ErrRateLimited)
		}
		return Response{}, retry.Permanent(fmt.Errorf("slack API error: %s", resp.Error))
	}
	return Response{ID: resp.TS}, nil
}
