package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Cursor advance policies for the mention poll cycle.
const (
	// AdvanceAlways moves the cursor past a batch even when individual
	// mentions failed to apply. Failed mentions are permanently dropped.
	AdvanceAlways = "always"
	// AdvanceOnSuccess leaves the cursor untouched when any mention in the
	// batch failed, so the whole batch is re-fetched next cycle.
	AdvanceOnSuccess = "on-success"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// Twitter credentials (OAuth1 user context).
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string

	// Watched account and bot identity.
	WatchedAccountID       string
	WatchedAccountUsername string
	BotAccountID           string

	// Feature flags.
	SelfPromoteActive   bool
	SelfPromoteOnMatch  bool
	NotifyUsersActive   bool
	ConfirmationsActive bool
	CursorAdvancePolicy string

	// Fan-out widths.
	NotifyConcurrency    int
	SubscribeConcurrency int
	MentionConcurrency   int
	ConfirmConcurrency   int

	// DM sends per second across all workers; 0 disables limiting.
	DMRateLimitPerSecond int

	// Mention polling.
	MentionsFetchCount int
	MentionsCursorName string
	MentionsPollPeriod time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		ConsumerKey:       getEnv("TWITTER_CONSUMER_KEY", ""),
		ConsumerSecret:    getEnv("TWITTER_CONSUMER_SECRET", ""),
		AccessToken:       getEnv("TWITTER_ACCESS_TOKEN", ""),
		AccessTokenSecret: getEnv("TWITTER_ACCESS_TOKEN_SECRET", ""),

		WatchedAccountID:       getEnv("WATCHED_ACCOUNT_ID", "1373531468744552448"),
		WatchedAccountUsername: getEnv("WATCHED_ACCOUNT_USERNAME", "VaxHuntersCan"),
		BotAccountID:           getEnv("BOT_ACCOUNT_ID", "1385030381435506688"),

		SelfPromoteActive:   getEnvBool("SELF_PROMOTE_ACTIVE", false),
		SelfPromoteOnMatch:  getEnvBool("SELF_PROMOTE_ON_MATCH", true),
		NotifyUsersActive:   getEnvBool("NOTIFY_USERS_ACTIVE", true),
		ConfirmationsActive: getEnvBool("SUBSCRIPTION_CONFIRMATIONS_ACTIVE", true),
		CursorAdvancePolicy: getEnv("CURSOR_ADVANCE_POLICY", AdvanceAlways),

		NotifyConcurrency:    getEnvInt("NOTIFY_USER_CONCURRENCY", 2),
		SubscribeConcurrency: getEnvInt("SUBSCRIBE_CONCURRENCY", 2),
		MentionConcurrency:   getEnvInt("PROCESS_MENTIONS_CONCURRENCY", 2),
		ConfirmConcurrency:   getEnvInt("CONFIRMATION_CONCURRENCY", 2),
		DMRateLimitPerSecond: getEnvInt("DM_RATE_LIMIT_PER_SECOND", 4),

		MentionsFetchCount: getEnvInt("MENTIONS_FETCH_COUNT", 200),
		MentionsCursorName: getEnv("MENTIONS_CURSOR_NAME", "root"),
		MentionsPollPeriod: time.Duration(getEnvInt("MENTIONS_POLL_INTERVAL_SECONDS", 30)) * time.Second,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.CursorAdvancePolicy != AdvanceAlways && cfg.CursorAdvancePolicy != AdvanceOnSuccess {
		return nil, fmt.Errorf("CURSOR_ADVANCE_POLICY must be %q or %q", AdvanceAlways, AdvanceOnSuccess)
	}
	if cfg.MentionsPollPeriod <= 0 {
		return nil, fmt.Errorf("MENTIONS_POLL_INTERVAL_SECONDS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
