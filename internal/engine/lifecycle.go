package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"vaxhunterbot/internal/domain"
	ws "vaxhunterbot/internal/websocket"
)

// SubscriptionStore is the durable registry the lifecycle writes to.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error)
	FindSubscriptionsByUser(ctx context.Context, userID string) ([]domain.Subscription, error)
	DeleteSubscriptionsByUser(ctx context.Context, userID string) (int64, error)
	PendingConfirmations(ctx context.Context) ([]domain.Subscription, error)
	MarkConfirmedByUsername(ctx context.Context, username string) error
}

// Replier posts a public reply to an existing post.
type Replier interface {
	PostReply(ctx context.Context, text, inReplyToPostID string) error
}

// LifecycleConfig carries the tunables for subscription mutation and
// confirmation fan-out.
type LifecycleConfig struct {
	WatchedAccountUsername string
	ConfirmationsActive    bool
	SubscribeConcurrency   int
	ConfirmConcurrency     int
}

// Lifecycle applies classified mentions to the subscription store and sends
// confirmation replies for newly recorded subscriptions.
type Lifecycle struct {
	store   SubscriptionStore
	replier Replier
	hub     *ws.Hub
	logger  *slog.Logger
	cfg     LifecycleConfig
}

func NewLifecycle(store SubscriptionStore, replier Replier, hub *ws.Hub, logger *slog.Logger, cfg LifecycleConfig) *Lifecycle {
	if cfg.SubscribeConcurrency < 1 {
		cfg.SubscribeConcurrency = 1
	}
	if cfg.ConfirmConcurrency < 1 {
		cfg.ConfirmConcurrency = 1
	}
	return &Lifecycle{
		store:   store,
		replier: replier,
		hub:     hub,
		logger:  logger,
		cfg:     cfg,
	}
}

// Apply routes one classification to the matching mutation. ActionNone is a
// successful no-op.
func (l *Lifecycle) Apply(ctx context.Context, cls Classification) error {
	switch cls.Action {
	case ActionUnsubscribe:
		return l.ApplyUnsubscribe(ctx, cls)
	case ActionSubscribe:
		return l.ApplySubscribe(ctx, cls)
	default:
		return nil
	}
}

// ApplyUnsubscribe deletes every subscription held by the user and, when
// confirmations are enabled, replies to the mention that asked for it. The
// delete is one atomic statement; a concurrent subscribe for the same user is
// best-effort racy, not linearizable.
func (l *Lifecycle) ApplyUnsubscribe(ctx context.Context, cls Classification) error {
	deleted, err := l.store.DeleteSubscriptionsByUser(ctx, cls.UserID)
	if err != nil {
		return fmt.Errorf("unsubscribing user %s: %w", cls.UserID, err)
	}

	l.logger.Info("user unsubscribed",
		"user_id", cls.UserID,
		"username", cls.Username,
		"rows_deleted", deleted,
	)

	l.hub.Broadcast(ws.ActivityEvent{
		Type:      ws.EventUnsubscribed,
		UserID:    cls.UserID,
		Username:  cls.Username,
		PostID:    cls.PostID,
		Timestamp: time.Now(),
	})

	if l.cfg.ConfirmationsActive {
		text := fmt.Sprintf("@%s Done! You've been unsubscribed and won't receive any more alerts.", cls.Username)
		if err := l.replier.PostReply(ctx, text, cls.PostID); err != nil {
			// The unsubscribe itself is durable; a lost reply is not worth
			// failing the mention over.
			l.logger.Warn("unsubscribe reply failed",
				"user_id", cls.UserID,
				"post_id", cls.PostID,
				"error", err,
			)
		}
	}

	return nil
}

// ApplySubscribe records one subscription row per postal code the user is
// not already subscribed to. Row creation runs in parallel under the
// subscribe concurrency limit; one postal code failing never blocks its
// siblings. Returns an error if any row failed to persist, so the caller can
// decide whether the mention counts as applied.
func (l *Lifecycle) ApplySubscribe(ctx context.Context, cls Classification) error {
	existing, err := l.store.FindSubscriptionsByUser(ctx, cls.UserID)
	if err != nil {
		return fmt.Errorf("reading subscriptions for user %s: %w", cls.UserID, err)
	}

	held := make(map[string]struct{}, len(existing))
	for _, sub := range existing {
		held[sub.PostalCode] = struct{}{}
	}

	var newCodes []string
	for _, code := range cls.PostalCodes {
		if _, ok := held[code]; !ok {
			newCodes = append(newCodes, code)
		}
	}

	if len(newCodes) == 0 {
		l.logger.Info("subscribe mention held no new postal codes",
			"user_id", cls.UserID,
			"post_id", cls.PostID,
		)
		return nil
	}

	l.logger.Info("subscribing user",
		"user_id", cls.UserID,
		"username", cls.Username,
		"postal_codes", newCodes,
	)

	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.SubscribeConcurrency)
	for _, code := range newCodes {
		g.Go(func() error {
			_, err := l.store.CreateSubscription(gctx, domain.Subscription{
				UserID:       cls.UserID,
				Username:     cls.Username,
				PostalCode:   code,
				SourcePostID: cls.PostID,
				Confirmed:    false,
			})
			if err != nil {
				failed.Add(1)
				l.logger.Error("subscription create failed",
					"user_id", cls.UserID,
					"postal_code", code,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d subscription rows failed for user %s", n, len(newCodes), cls.UserID)
	}

	l.hub.Broadcast(ws.ActivityEvent{
		Type:        ws.EventSubscribed,
		UserID:      cls.UserID,
		Username:    cls.Username,
		PostID:      cls.PostID,
		PostalCodes: newCodes,
		Timestamp:   time.Now(),
	})

	return nil
}

// SendPendingConfirmations replies once per originating mention for all
// unconfirmed subscriptions, then marks the user's rows confirmed. A failed
// reply skips the mark so the same mention is retried next cycle. Does
// nothing when confirmations are disabled.
func (l *Lifecycle) SendPendingConfirmations(ctx context.Context) {
	if !l.cfg.ConfirmationsActive {
		return
	}

	pending, err := l.store.PendingConfirmations(ctx)
	if err != nil {
		l.logger.Error("querying pending confirmations failed", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	l.logger.Info("sending confirmations", "pending", len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.ConfirmConcurrency)
	for _, sub := range pending {
		g.Go(func() error {
			text := fmt.Sprintf("@%s Got it! I will DM you if @%s tweets about your postal code.",
				sub.Username, l.cfg.WatchedAccountUsername)

			if err := l.replier.PostReply(gctx, text, sub.SourcePostID); err != nil {
				l.logger.Warn("confirmation reply failed",
					"username", sub.Username,
					"post_id", sub.SourcePostID,
					"error", err,
				)
				return nil
			}

			if err := l.store.MarkConfirmedByUsername(gctx, sub.Username); err != nil {
				l.logger.Error("marking confirmed failed",
					"username", sub.Username,
					"error", err,
				)
				return nil
			}

			l.hub.Broadcast(ws.ActivityEvent{
				Type:      ws.EventConfirmed,
				UserID:    sub.UserID,
				Username:  sub.Username,
				PostID:    sub.SourcePostID,
				Timestamp: time.Now(),
			})
			return nil
		})
	}
	_ = g.Wait()
}
