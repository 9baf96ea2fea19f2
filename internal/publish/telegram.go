package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/retry"
)

// TelegramAPIBase is the Telegram Bot API base URL.
const TelegramAPIBase = "https://api.telegram.org"

// markdownV2Reserved must be escaped anywhere in MarkdownV2 text.
const markdownV2Reserved = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 escapes text for Telegram's MarkdownV2 parse mode.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, r := range text {
		if strings.ContainsRune(markdownV2Reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeMarkdownV2URL escapes the inside of a (...) link target.
func escapeMarkdownV2URL(u string) string {
	return strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(u)
}

// Telegram posts digests with the Bot API sendMessage method.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// TelegramOption configures a Telegram destination.
type TelegramOption func(*Telegram)

// WithTelegramBaseURL sets a custom API base URL (for testing).
func WithTelegramBaseURL(u string) TelegramOption {
	return func(t *Telegram) {
		t.baseURL = trimBase(u)
	}
}

// NewTelegram creates a destination posting to chatID as the bot with token.
func NewTelegram(token, chatID string, opts ...TelegramOption) *Telegram {
	t := &Telegram{token: token, chatID: chatID, baseURL: TelegramAPIBase, client: defaultHTTPClient()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

func telegramItem(r paper.Row) string {
	emoji := "🗞️"
	if r.IsPreprint {
		emoji = "✏️"
	}
	return fmt.Sprintf("%s [%s](%s)", emoji, EscapeMarkdownV2(r.Title), escapeMarkdownV2URL(r.URL))
}

// telegramMessage renders a digest in MarkdownV2.
func telegramMessage(d Digest) string {
	papers, preprints := Partition(d.Rows)
	divider := EscapeMarkdownV2("────────────")

	lines := []string{"Good morning ☕ Here are today's papers\\!\n", "*Preprints:*👇"}
	if len(preprints) == 0 {
		lines = append(lines, EscapeMarkdownV2(noPreprints))
	}
	for _, r := range preprints {
		lines = append(lines, telegramItem(r))
	}

	lines = append(lines, divider, "\n*Papers:*👇")
	if len(papers) == 0 {
		lines = append(lines, EscapeMarkdownV2(noPapers))
	}
	for _, r := range papers {
		lines = append(lines, telegramItem(r))
	}

	lines = append(lines, divider)
	if d.SheetURL != "" {
		lines = append(lines, fmt.Sprintf("View all papers: [Google Sheet](%s) 📖", escapeMarkdownV2URL(d.SheetURL)))
	}
	lines = append(lines, "\nEnjoy your reading\\! 👋\n")
	return strings.Join(lines, "\n")
}

type telegramSendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Publish sends the digest.
func (t *Telegram) Publish(ctx context.Context, d Digest) (Response, error) {
	if t.token == "" || t.chatID == "" {
		return Response{}, retry.Permanent(errors.New("telegram bot token and channel id are required"))
	}

	req, err := jsonRequest(http.MethodPost, fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token), telegramSendMessage{
		ChatID:                t.chatID,
		Text:                  telegramMessage(d),
		ParseMode:             "MarkdownV2",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return Response{}, retry.Permanent(err)
	}

	body, err := do(ctx, t.client, req)
	if err != nil {
		return Response{}, fmt.Errorf("posting to Telegram: %w", err)
	}
	var resp telegramResponse
	if err := decode(body, &resp); err != nil {
		return Response{}, err
	}
	if !resp.OK {
		return Response{}, retry.Permanent(fmt.Errorf("telegram API error: %s", resp.Description))
	}
	return Response{ID: strconv.FormatInt(resp.Result.MessageID, 10)}, nil
}
