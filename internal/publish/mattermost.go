package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/matsen/paperbee/internal/retry"
)

// MattermostSettings are the server, token and target of a Mattermost destination.
type MattermostSettings struct {
	URL     string // Server URL, e.g. https://mattermost.example.com
	Token   string // Personal access or bot token
	Team    string // Team name
	Channel string // Channel name within the team
}

// Mattermost posts digests to a channel, looked up by team and channel name.
type Mattermost struct {
	settings  MattermostSettings
	client    *http.Client
	channelID string
}

// NewMattermost creates a Mattermost destination.
func NewMattermost(s MattermostSettings) *Mattermost {
	s.URL = trimBase(s.URL)
	return &Mattermost{settings: s, client: defaultHTTPClient()}
}

// Name returns "mattermost".
func (m *Mattermost) Name() string { return "mattermost" }

func mattermostMessage(d Digest) string {
	return markdownMessage(d, "Good morning ☕ Here are today's papers!", "────────────", "✏️", "🗞️")
}

type mattermostObject struct {
	ID string `json:"id"`
}

func (m *Mattermost) get(ctx context.Context, path string) (mattermostObject, error) {
	req := request{method: http.MethodGet, url: m.settings.URL + path, header: http.Header{}}
	req.header.Set("Authorization", "Bearer "+m.settings.Token)

	body, err := do(ctx, m.client, req)
	if err != nil {
		return mattermostObject{}, err
	}
	var obj mattermostObject
	if err := decode(body, &obj); err != nil {
		return mattermostObject{}, err
	}
	return obj, nil
}

// resolveChannel maps the team and channel names to a channel id, once.
func (m *Mattermost) resolveChannel(ctx context.Context) (string, error) {
	if m.channelID != "" {
		return m.channelID, nil
	}

	team, err := m.get(ctx, "/api/v4/teams/name/"+url.PathEscape(m.settings.Team))
	if err != nil {
		return "", fmt.Errorf("finding Mattermost team %q: %w", m.settings.Team, err)
	}
	channel, err := m.get(ctx, fmt.Sprintf("/api/v4/teams/%s/channels/name/%s",
		url.PathEscape(team.ID), url.PathEscape(m.settings.Channel)))
	if err != nil {
		return "", fmt.Errorf("finding Mattermost channel %q in team %q: %w", m.settings.Channel, m.settings.Team, err)
	}
	m.channelID = channel.ID
	return m.channelID, nil
}

// Publish creates a post with the digest.
func (m *Mattermost) Publish(ctx context.Context, d Digest) (Response, error) {
	if m.settings.URL == "" || m.settings.Token == "" {
		return Response{}, retry.Permanent(errors.New("mattermost url and token are required"))
	}

	channelID, err := m.resolveChannel(ctx)
	if err != nil {
		return Response{}, notSent(err)
	}

	req, err := jsonRequest(http.MethodPost, m.settings.URL+"/api/v4/posts", map[string]string{
		"channel_id": channelID,
		"message":    mattermostMessage(d),
	})
	if err != nil {
		return Response{}, retry.Permanent(err)
	}
	req.header.Set("Authorization", "Bearer "+m.settings.Token)

	body, err := do(ctx, m.client, req)
	if err != nil {
		return Response{}, fmt.Errorf("posting to Mattermost: %w", err)
	}
	var post mattermostObject
	if err := decode(body, &post); err != nil {
		return Response{}, err
	}
	return Response{ID: post.ID}, nil
}
