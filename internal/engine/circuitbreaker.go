package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// CircuitBreaker tracks per-recipient DM delivery health in Redis. A user
// whose DMs keep failing (typically because they don't follow the bot) stops
// consuming send attempts until the cooldown passes.
//
// State transitions: closed → open → half-open → closed.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
}

func NewCircuitBreaker(redisClient *redis.Client, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: 5,
		cooldownPeriod:   30 * time.Minute,
	}
}

func cbKey(recipientID string) string {
	return fmt.Sprintf("dm_cb:%s", recipientID)
}

// AllowSend checks whether a DM to this recipient should be attempted.
func (cb *CircuitBreaker) AllowSend(ctx context.Context, recipientID string) bool {
	key := cbKey(recipientID)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		// No state yet — circuit is closed (default)
		return true
	}

	switch data["state"] {
	case StateOpen:
		lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
		if time.Now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds()) {
			// Cooldown elapsed: allow one test send
			cb.redisClient.HSet(ctx, key, "state", StateHalfOpen)
			cb.logger.Info("dm circuit half-open", "recipient_id", recipientID)
			return true
		}
		return false

	default: // StateHalfOpen, StateClosed
		return true
	}
}

// RecordSuccess resets the recipient's circuit to closed.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, recipientID string) {
	key := cbKey(recipientID)

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	cb.redisClient.HSet(ctx, key,
		"state", StateClosed,
		"failures", 0,
	)

	if state == StateHalfOpen {
		cb.logger.Info("dm circuit closed (recovered)", "recipient_id", recipientID)
	}
}

// RecordFailure counts a failed send and opens the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, recipientID string) {
	key := cbKey(recipientID)

	failures, err := cb.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		cb.logger.Error("failed to record dm circuit failure", "error", err)
		return
	}

	cb.redisClient.HSet(ctx, key, "last_failed_at", time.Now().Unix())

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	switch {
	case state == StateHalfOpen:
		// Half-open test failed → back to open
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("dm circuit re-opened", "recipient_id", recipientID)
	case failures >= int64(cb.failureThreshold):
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("dm circuit opened",
			"recipient_id", recipientID,
			"failures", failures,
			"threshold", cb.failureThreshold,
		)
	case state == "":
		cb.redisClient.HSet(ctx, key, "state", StateClosed)
	}
}
