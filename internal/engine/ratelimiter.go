package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateKey is the single sliding window shared by every DM send. Twitter rate
// limits apply to the bot account as a whole, not per recipient.
const rateKey = "dm_rate"

// RateLimiter is a sliding-window limiter over Redis bounding how many DMs
// the bot sends per second across all workers. A sorted set holds one member
// per send with its timestamp as score; a Lua script atomically trims the
// window, checks the count and records the new send.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
else
    return 0
end
`)

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
	}
}

// AllowSend reports whether another DM may go out right now under the given
// sends-per-second limit. A limit of zero or less disables limiting. Redis
// failures fail open so a limiter outage never stops notifications.
func (rl *RateLimiter) AllowSend(ctx context.Context, limit int) bool {
	if limit <= 0 {
		return true
	}

	now := time.Now().UnixMilli()
	window := int64(1000)
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%10000)

	result, err := rl.script.Run(ctx, rl.redisClient, []string{rateKey},
		now, window, limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err)
		return true
	}

	if result == 0 {
		rl.logger.Debug("dm send rate limited", "limit", limit)
		return false
	}

	return true
}
