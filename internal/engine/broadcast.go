package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"vaxhunterbot/internal/domain"
	"vaxhunterbot/internal/store"
)

// NotifyQueueKey is the Redis sorted set holding queued DM notifications.
const NotifyQueueKey = "notify_queue"

// NotifyJob is one direct-message notification queued for a single user.
type NotifyJob struct {
	RecipientID string   `json:"recipient_id"`
	PostID      string   `json:"post_id"`
	PostalCodes []string `json:"postal_codes"`
}

// BroadcastConfig carries the identity and policy knobs for broadcast
// handling of watched-account posts.
type BroadcastConfig struct {
	WatchedAccountID       string
	WatchedAccountUsername string
	NotifyUsersActive      bool
	SelfPromoteActive      bool
	SelfPromoteOnMatch     bool
}

// SubscriptionFinder looks up subscriptions matching a set of postal codes.
type SubscriptionFinder interface {
	FindSubscriptionsByPostalCodes(ctx context.Context, postalCodes []string) ([]domain.Subscription, error)
}

// Broadcaster reacts to new posts from the watched account: it matches
// postal codes against the subscription registry and queues one notification
// per distinct subscribed user.
type Broadcaster struct {
	finder     SubscriptionFinder
	redisStore *store.RedisStore
	replier    Replier
	logger     *slog.Logger
	cfg        BroadcastConfig
}

func NewBroadcaster(finder SubscriptionFinder, rs *store.RedisStore, replier Replier, logger *slog.Logger, cfg BroadcastConfig) *Broadcaster {
	return &Broadcaster{
		finder:     finder,
		redisStore: rs,
		replier:    replier,
		logger:     logger,
		cfg:        cfg,
	}
}

// OnNewPost handles one post pushed by the stream. Posts not authored by the
// watched account, and the watched account's own replies, are ignored.
// Returns the number of notifications queued.
func (b *Broadcaster) OnNewPost(ctx context.Context, post domain.Post) (int, error) {
	if post.User.ID != b.cfg.WatchedAccountID || post.IsReply() {
		return 0, nil
	}

	codes := ExtractPostalCodes(post.Text)

	b.logger.Info("watched account posted",
		"post_id", post.ID,
		"postal_codes", codes,
	)

	// Self-promotion runs on its own policy, independent of whether any
	// notification succeeds.
	b.selfPromote(ctx, post, codes)

	if len(codes) == 0 || !b.cfg.NotifyUsersActive {
		return 0, nil
	}

	subs, err := b.finder.FindSubscriptionsByPostalCodes(ctx, codes)
	if err != nil {
		return 0, fmt.Errorf("finding subscriptions for %v: %w", codes, err)
	}

	// A user subscribed to several matched codes gets exactly one DM.
	seen := make(map[string]struct{}, len(subs))
	var recipients []string
	for _, sub := range subs {
		if _, ok := seen[sub.UserID]; ok {
			continue
		}
		seen[sub.UserID] = struct{}{}
		recipients = append(recipients, sub.UserID)
	}

	if len(recipients) == 0 {
		b.logger.Info("no subscribers for matched postal codes", "post_id", post.ID, "postal_codes", codes)
		return 0, nil
	}

	pipe := b.redisStore.Client().Pipeline()
	for _, userID := range recipients {
		job := NotifyJob{
			RecipientID: userID,
			PostID:      post.ID,
			PostalCodes: codes,
		}

		jobBytes, err := json.Marshal(job)
		if err != nil {
			b.logger.Error("failed to marshal notify job", "error", err, "recipient_id", userID)
			continue
		}

		pipe.ZAdd(ctx, NotifyQueueKey, redis.Z{
			Score:  float64(time.Now().UnixMicro()),
			Member: string(jobBytes),
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queuing notifications: %w", err)
	}

	b.logger.Info("notification fan-out queued",
		"post_id", post.ID,
		"postal_codes", codes,
		"recipients", len(recipients),
	)

	return len(recipients), nil
}

func (b *Broadcaster) selfPromote(ctx context.Context, post domain.Post, codes []string) {
	if !b.cfg.SelfPromoteActive {
		return
	}
	if b.cfg.SelfPromoteOnMatch && len(codes) == 0 {
		return
	}

	text := fmt.Sprintf("I'm a bot. Tweet me your postal code and I'll notify you if @%s mentions it!",
		b.cfg.WatchedAccountUsername)

	if err := b.replier.PostReply(ctx, text, post.ID); err != nil {
		b.logger.Warn("self-promotion reply failed", "post_id", post.ID, "error", err)
	}
}

// QueueDepth returns the number of notifications waiting in the queue.
func (b *Broadcaster) QueueDepth(ctx context.Context) (int64, error) {
	return b.redisStore.Client().ZCard(ctx, NotifyQueueKey).Result()
}
