package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"vaxhunterbot/internal/engine"
	ws "vaxhunterbot/internal/websocket"
)

// sentKeyTTL bounds how long per-(post, user) send markers live in Redis.
const sentKeyTTL = 24 * time.Hour

// deferDelay is how far into the future a rate-limited job is re-queued.
const deferDelay = time.Second

// DirectMessenger sends one private message to one user.
type DirectMessenger interface {
	SendDirectMessage(ctx context.Context, recipientID, text string) error
}

// Notifier sends one queued DM notification. Each send is its own failure
// domain: errors are recorded against the recipient's circuit and logged,
// never propagated.
type Notifier struct {
	messenger      DirectMessenger
	redisClient    *redis.Client
	circuitBreaker *engine.CircuitBreaker
	rateLimiter    *engine.RateLimiter
	hub            *ws.Hub
	logger         *slog.Logger

	watchedAccountUsername string
	rateLimitPerSecond     int
}

func NewNotifier(messenger DirectMessenger, redisClient *redis.Client, cb *engine.CircuitBreaker, rl *engine.RateLimiter, hub *ws.Hub, logger *slog.Logger, watchedAccountUsername string, rateLimitPerSecond int) *Notifier {
	return &Notifier{
		messenger:              messenger,
		redisClient:            redisClient,
		circuitBreaker:         cb,
		rateLimiter:            rl,
		hub:                    hub,
		logger:                 logger,
		watchedAccountUsername: watchedAccountUsername,
		rateLimitPerSecond:     rateLimitPerSecond,
	}
}

func sentKey(postID, recipientID string) string {
	return fmt.Sprintf("sent:%s:%s", postID, recipientID)
}

// Notify sends the DM for one job. A SETNX marker per (post, recipient)
// keeps a re-queued job from producing a second DM for the same post.
func (n *Notifier) Notify(ctx context.Context, job engine.NotifyJob) {
	if !n.circuitBreaker.AllowSend(ctx, job.RecipientID) {
		n.logger.Warn("dm skipped, circuit open",
			"recipient_id", job.RecipientID,
			"post_id", job.PostID,
		)
		n.broadcast(ws.EventNotifySkipped, job, "circuit open")
		return
	}

	if !n.rateLimiter.AllowSend(ctx, n.rateLimitPerSecond) {
		// The window is full; push the job back with a future score so the
		// dispatcher picks it up once the window has room again.
		n.requeue(ctx, job)
		return
	}

	claimed, err := n.redisClient.SetNX(ctx, sentKey(job.PostID, job.RecipientID), 1, sentKeyTTL).Result()
	if err != nil {
		// Dedup is best effort; if Redis is down the send still goes out.
		n.logger.Error("send marker check failed", "error", err)
	} else if !claimed {
		n.logger.Info("dm already sent for this post, skipping",
			"recipient_id", job.RecipientID,
			"post_id", job.PostID,
		)
		return
	}

	text := notificationText(n.watchedAccountUsername, job.PostalCodes, job.PostID)

	if err := n.messenger.SendDirectMessage(ctx, job.RecipientID, text); err != nil {
		n.circuitBreaker.RecordFailure(ctx, job.RecipientID)
		// Release the marker so a future job for this post can retry.
		n.redisClient.Del(ctx, sentKey(job.PostID, job.RecipientID))
		n.logger.Warn("dm send failed",
			"recipient_id", job.RecipientID,
			"post_id", job.PostID,
			"error", err,
		)
		n.broadcast(ws.EventNotifyFailed, job, err.Error())
		return
	}

	n.circuitBreaker.RecordSuccess(ctx, job.RecipientID)
	n.logger.Info("dm sent",
		"recipient_id", job.RecipientID,
		"post_id", job.PostID,
		"postal_codes", job.PostalCodes,
	)
	n.broadcast(ws.EventNotified, job, "")
}

func (n *Notifier) requeue(ctx context.Context, job engine.NotifyJob) {
	data, err := json.Marshal(job)
	if err != nil {
		n.logger.Error("failed to marshal deferred job", "error", err)
		return
	}

	err = n.redisClient.ZAdd(ctx, engine.NotifyQueueKey, redis.Z{
		Score:  float64(time.Now().Add(deferDelay).UnixMicro()),
		Member: string(data),
	}).Err()
	if err != nil {
		n.logger.Error("failed to re-queue rate-limited job",
			"recipient_id", job.RecipientID,
			"post_id", job.PostID,
			"error", err,
		)
		return
	}

	n.logger.Debug("dm deferred, rate limit reached",
		"recipient_id", job.RecipientID,
		"post_id", job.PostID,
	)
}

func (n *Notifier) broadcast(eventType string, job engine.NotifyJob, errMsg string) {
	n.hub.Broadcast(ws.ActivityEvent{
		Type:        eventType,
		UserID:      job.RecipientID,
		PostID:      job.PostID,
		PostalCodes: job.PostalCodes,
		Error:       errMsg,
		Timestamp:   time.Now(),
	})
}

func notificationText(watchedUsername string, postalCodes []string, postID string) string {
	return fmt.Sprintf(
		"Hey! @%s just tweeted about %s:\nhttps://twitter.com/i/web/status/%s\n\nReply 'unsubscribe' to stop receiving alerts.",
		watchedUsername, strings.Join(postalCodes, ", "), postID,
	)
}
