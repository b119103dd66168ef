// Package discord implements chat.Client against the Discord REST API.
// The bot is outbound-only plus polling; there is no gateway connection.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/chat"
)

const defaultBaseURL = "https://discord.com/api/v10"

// threadTypePublic is the Discord channel type for a public thread.
const threadTypePublic = 11

// APIError is a non-2xx Discord reply.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord api: status=%d code=%d %s", e.StatusCode, e.Code, e.Message)
}

// Client talks to the Discord REST API with bot-token auth. Transient 429
// replies are retried after the server-provided delay.
type Client struct {
	token  string
	base   string
	http   *http.Client
	logger *slog.Logger
	sleep  func(time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.base = base }
}

// WithSleep overrides the rate-limit sleep, for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates a Discord REST client.
func NewClient(token string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		token:  token,
		base:   defaultBaseURL,
		http:   &http.Client{Timeout: 20 * time.Second},
		logger: logger,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs one API call, retrying after rate limits. out may be nil
// for calls whose reply body is irrelevant.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	for attempt := 0; attempt < 4; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bot "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		data, readErr := io.ReadAll(res.Body)
		res.Body.Close()
		if readErr != nil {
			return fmt.Errorf("%s %s: reading reply: %w", method, path, readErr)
		}

		if res.StatusCode == http.StatusTooManyRequests {
			var rl struct {
				RetryAfter float64 `json:"retry_after"`
			}
			_ = json.Unmarshal(data, &rl)
			delay := time.Duration(rl.RetryAfter * float64(time.Second))
			if delay <= 0 {
				delay = time.Second
			}
			c.logger.Warn("discord rate limited", "path", path, "retry_after", delay)
			c.sleep(delay)
			continue
		}
		if res.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: res.StatusCode}
			var detail struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(data, &detail) == nil {
				apiErr.Code = detail.Code
				apiErr.Message = detail.Message
			}
			return fmt.Errorf("%s %s: %w", method, path, apiErr)
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("%s %s: decode reply: %w", method, path, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%s %s: rate limited, retries exhausted", method, path)
}

type wireUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Bot        bool   `json:"bot"`
}

type wireChannel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type wireMessage struct {
	ID          string   `json:"id"`
	ChannelID   string   `json:"channel_id"`
	Author      wireUser `json:"author"`
	Member      *struct {
		Nick string `json:"nick"`
	} `json:"member"`
	Content     string `json:"content"`
	Attachments []struct {
		ID string `json:"id"`
	} `json:"attachments"`
	Timestamp string `json:"timestamp"`
}

func (w wireMessage) toChat() chat.Message {
	name := w.Author.Username
	if w.Author.GlobalName != "" {
		name = w.Author.GlobalName
	}
	if w.Member != nil && w.Member.Nick != "" {
		name = w.Member.Nick
	}
	created, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		created = time.Time{}
	}
	return chat.Message{
		ID:            w.ID,
		ChannelID:     w.ChannelID,
		AuthorID:      w.Author.ID,
		AuthorName:    name,
		AuthorIsBot:   w.Author.Bot,
		Content:       w.Content,
		HasAttachment: len(w.Attachments) > 0,
		CreatedAt:     created,
	}
}

func (c *Client) CreateThread(ctx context.Context, channelID, name string, autoArchiveMinutes int) (chat.ThreadRef, error) {
	body := map[string]any{
		"name":                  name,
		"type":                  threadTypePublic,
		"auto_archive_duration": autoArchiveMinutes,
	}
	var ch wireChannel
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/threads", body, &ch); err != nil {
		return chat.ThreadRef{}, err
	}
	return chat.ThreadRef{ID: ch.ID, Name: ch.Name}, nil
}

func (c *Client) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	var msg wireMessage
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", map[string]any{"content": content}, &msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s/@me", channelID, messageID, url.PathEscape(emoji))
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

func (c *Client) RemoveUserReaction(ctx context.Context, channelID, messageID, userID, emoji string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s/%s", channelID, messageID, url.PathEscape(emoji), userID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) RemoveAllReactions(ctx context.Context, channelID, messageID string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions", channelID, messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) ListReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]chat.User, error) {
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s?limit=100", channelID, messageID, url.PathEscape(emoji))
	var users []wireUser
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	out := make([]chat.User, 0, len(users))
	for _, u := range users {
		name := u.Username
		if u.GlobalName != "" {
			name = u.GlobalName
		}
		out = append(out, chat.User{ID: u.ID, Name: name, IsBot: u.Bot})
	}
	return out, nil
}

func (c *Client) ArchiveThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodPatch, "/channels/"+threadID, map[string]any{"archived": true}, nil)
}

func (c *Client) LockThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodPatch, "/channels/"+threadID, map[string]any{"locked": true}, nil)
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+threadID, nil, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, nil, nil)
}

func (c *Client) FetchMember(ctx context.Context, guildID, userID string) (chat.Member, error) {
	var member struct {
		User  wireUser `json:"user"`
		Nick  string   `json:"nick"`
		Roles []string `json:"roles"`
	}
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/members/"+userID, nil, &member); err != nil {
		return chat.Member{}, err
	}
	name := member.User.Username
	if member.User.GlobalName != "" {
		name = member.User.GlobalName
	}
	if member.Nick != "" {
		name = member.Nick
	}
	return chat.Member{ID: member.User.ID, DisplayName: name, RoleIDs: member.Roles}, nil
}

func (c *Client) ListActiveThreads(ctx context.Context, guildID, parentChannelID string) ([]chat.ThreadRef, error) {
	var reply struct {
		Threads []wireChannel `json:"threads"`
	}
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/threads/active", nil, &reply); err != nil {
		return nil, err
	}
	var out []chat.ThreadRef
	for _, th := range reply.Threads {
		if th.ParentID == parentChannelID {
			out = append(out, chat.ThreadRef{ID: th.ID, Name: th.Name})
		}
	}
	return out, nil
}

func (c *Client) FetchMessages(ctx context.Context, channelID string, limit int) ([]chat.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	path := fmt.Sprintf("/channels/%s/messages?limit=%d", channelID, limit)
	return c.fetchMessages(ctx, path)
}

func (c *Client) FetchMessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]chat.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	path := fmt.Sprintf("/channels/%s/messages?after=%s&limit=%d", channelID, afterID, limit)
	return c.fetchMessages(ctx, path)
}

func (c *Client) fetchMessages(ctx context.Context, path string) ([]chat.Message, error) {
	var wire []wireMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toChat())
	}
	// the API returns newest first; callers expect oldest first
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
