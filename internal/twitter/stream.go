package twitter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"vaxhunterbot/internal/domain"
)

// PostHandler receives one streamed post. Handlers run off the read loop so
// a slow handler never blocks the stream.
type PostHandler func(ctx context.Context, post domain.Post) error

// Stream holds a filtered statuses stream open and dispatches each post to
// the handler under a bounded number of in-flight handler goroutines.
type Stream struct {
	httpClient *http.Client
	baseURL    string
	followID   string
	handler    PostHandler
	logger     *slog.Logger

	// maxInFlight bounds concurrently running handlers.
	maxInFlight int
}

// NewStream builds a stream listener following one account. The httpClient
// must sign requests (share it with the REST client) and must not enforce an
// overall timeout, since the connection is long-lived.
func NewStream(httpClient *http.Client, baseURL, followID string, handler PostHandler, logger *slog.Logger) *Stream {
	return &Stream{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		followID:    followID,
		handler:     handler,
		logger:      logger,
		maxInFlight: 4,
	}
}

// Run connects and consumes the stream until the context is cancelled.
// Dropped connections are re-established with backoff.
func (s *Stream) Run(ctx context.Context) error {
	err := retry.Do(
		func() error {
			if err := s.consume(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return retry.Unrecoverable(err)
				}
				s.logger.Warn("stream disconnected", "error", err)
				return err
			}
			return nil
		},
		retry.Attempts(0), // reconnect forever until cancelled
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("reconnecting stream", "attempt", n, "error", err)
		}),
	)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// consume opens one connection and reads newline-delimited JSON posts until
// the connection drops or the context ends.
func (s *Stream) consume(ctx context.Context) error {
	params := url.Values{}
	params.Set("follow", s.followID)

	endpoint := s.baseURL + "/statuses/filter.json?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: HTTP %d", resp.StatusCode)
	}

	s.logger.Info("stream connected", "follow", s.followID)

	// Semaphore bounding in-flight handlers; each handler captures its own
	// error so a failure never reaches the read loop.
	sem := make(chan struct{}, s.maxInFlight)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			// Keep-alive newline.
			continue
		}

		var post domain.Post
		if err := json.Unmarshal([]byte(line), &post); err != nil {
			s.logger.Warn("unparseable stream message", "error", err)
			continue
		}
		if post.ID == "" {
			// Control message (limit notice, delete, etc.); not a post.
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		go func() {
			defer func() { <-sem }()
			if err := s.handler(ctx, post); err != nil {
				s.logger.Error("stream post handler failed",
					"post_id", post.ID,
					"error", err,
				)
			}
		}()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("stream closed by remote")
}
