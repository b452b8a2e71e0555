// Package twitter is the transport collaborator: REST calls against the
// Twitter v1.1 API plus the filtered statuses stream. Retry and timeout
// policy live here, not in the engine.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/dghubble/oauth1"

	"vaxhunterbot/internal/domain"
)

const defaultBaseURL = "https://api.twitter.com/1.1"

// Credentials holds the OAuth1 user-context keys for the bot account.
type Credentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

// Client calls the Twitter REST API with OAuth1 request signing.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient builds a client whose underlying transport signs every request.
func NewClient(creds Credentials, logger *slog.Logger) *Client {
	cfg := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)

	httpClient := cfg.Client(oauth1.NoContext, token)
	httpClient.Timeout = 30 * time.Second

	return &Client{
		httpClient: httpClient,
		baseURL:    defaultBaseURL,
		logger:     logger,
	}
}

// NewStreamingHTTPClient builds an OAuth1-signed HTTP client without an
// overall timeout, suitable for the long-lived stream connection.
func NewStreamingHTTPClient(creds Credentials) *http.Client {
	cfg := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)
	return cfg.Client(oauth1.NoContext, token)
}

// NewClientWithBaseURL is for tests that point the client at a local server.
func NewClientWithBaseURL(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// MentionsSince fetches mentions of the bot newer than sinceID, newest-first.
// An empty sinceID fetches from the beginning of the timeline window. The
// fetch is idempotent, so transient failures are retried here.
func (c *Client) MentionsSince(ctx context.Context, sinceID string, count int) ([]domain.Post, error) {
	params := url.Values{}
	params.Set("count", fmt.Sprintf("%d", count))
	if sinceID != "" {
		params.Set("since_id", sinceID)
	}

	endpoint := c.baseURL + "/statuses/mentions_timeline.json?" + params.Encode()

	var mentions []domain.Post

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("fetch mentions: %w", err)
			}
			defer resp.Body.Close()

			c.logRateLimit("mentions_timeline", resp)

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				err := fmt.Errorf("mentions timeline: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(err)
				}
				return err
			}

			mentions = mentions[:0]
			if err := json.NewDecoder(resp.Body).Decode(&mentions); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode mentions: %w", err))
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("retrying mentions fetch", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	return mentions, nil
}

// PostReply posts a public status in reply to an existing post. Not retried:
// a duplicate reply is worse than a dropped one.
func (c *Client) PostReply(ctx context.Context, text, inReplyToPostID string) error {
	form := url.Values{}
	form.Set("status", text)
	form.Set("in_reply_to_status_id", inReplyToPostID)

	endpoint := c.baseURL + "/statuses/update.json"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	defer resp.Body.Close()

	c.logRateLimit("statuses_update", resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post reply: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}

// dmEvent mirrors the direct_messages/events/new request shape.
type dmEvent struct {
	Event struct {
		Type          string `json:"type"`
		MessageCreate struct {
			Target struct {
				RecipientID string `json:"recipient_id"`
			} `json:"target"`
			MessageData struct {
				Text string `json:"text"`
			} `json:"message_data"`
		} `json:"message_create"`
	} `json:"event"`
}

// SendDirectMessage sends one private message. Not retried, same as replies.
func (c *Client) SendDirectMessage(ctx context.Context, recipientID, text string) error {
	var payload dmEvent
	payload.Event.Type = "message_create"
	payload.Event.MessageCreate.Target.RecipientID = recipientID
	payload.Event.MessageCreate.MessageData.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal dm: %w", err)
	}

	endpoint := c.baseURL + "/direct_messages/events/new.json"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send dm: %w", err)
	}
	defer resp.Body.Close()

	c.logRateLimit("direct_messages", resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send dm: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return nil
}

// logRateLimit surfaces the rate-limit bookkeeping headers; nothing acts on
// them, they only go to the log.
func (c *Client) logRateLimit(endpoint string, resp *http.Response) {
	remaining := resp.Header.Get("X-Rate-Limit-Remaining")
	reset := resp.Header.Get("X-Rate-Limit-Reset")
	if remaining == "" && reset == "" {
		return
	}
	c.logger.Debug("rate limit",
		"endpoint", endpoint,
		"remaining", remaining,
		"reset", reset,
	)
}
