package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vaxhunterbot/internal/api"
	"vaxhunterbot/internal/config"
	"vaxhunterbot/internal/domain"
	"vaxhunterbot/internal/engine"
	"vaxhunterbot/internal/store"
	"vaxhunterbot/internal/twitter"
	ws "vaxhunterbot/internal/websocket"
	"vaxhunterbot/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Transport
	twitterClient := twitter.NewClient(twitter.Credentials{
		ConsumerKey:       cfg.ConsumerKey,
		ConsumerSecret:    cfg.ConsumerSecret,
		AccessToken:       cfg.AccessToken,
		AccessTokenSecret: cfg.AccessTokenSecret,
	}, logger)

	// Dashboard activity feed
	hub := ws.NewHub(logger)
	go hub.Run()

	// Core engine
	classifier := engine.NewClassifier(cfg.BotAccountID)
	lifecycle := engine.NewLifecycle(pgStore, twitterClient, hub, logger, engine.LifecycleConfig{
		WatchedAccountUsername: cfg.WatchedAccountUsername,
		ConfirmationsActive:    cfg.ConfirmationsActive,
		SubscribeConcurrency:   cfg.SubscribeConcurrency,
		ConfirmConcurrency:     cfg.ConfirmConcurrency,
	})
	broadcaster := engine.NewBroadcaster(pgStore, redisStore, twitterClient, logger, engine.BroadcastConfig{
		WatchedAccountID:       cfg.WatchedAccountID,
		WatchedAccountUsername: cfg.WatchedAccountUsername,
		NotifyUsersActive:      cfg.NotifyUsersActive,
		SelfPromoteActive:      cfg.SelfPromoteActive,
		SelfPromoteOnMatch:     cfg.SelfPromoteOnMatch,
	})
	poller := engine.NewPoller(twitterClient, pgStore, classifier, lifecycle, logger, engine.PollerConfig{
		CursorName:          cfg.MentionsCursorName,
		FetchCount:          cfg.MentionsFetchCount,
		MentionConcurrency:  cfg.MentionConcurrency,
		CursorAdvancePolicy: cfg.CursorAdvancePolicy,
	})

	// Notification workers
	circuitBreaker := engine.NewCircuitBreaker(redisStore.Client(), logger)
	rateLimiter := engine.NewRateLimiter(redisStore.Client(), logger)
	notifier := worker.NewNotifier(twitterClient, redisStore.Client(), circuitBreaker, rateLimiter, hub, logger, cfg.WatchedAccountUsername, cfg.DMRateLimitPerSecond)
	pool := worker.NewPool(cfg.NotifyConcurrency, notifier, logger)
	pool.Start(ctx)

	dispatcher := worker.NewDispatcher(redisStore.Client(), pool, logger)
	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Start(ctx)
		close(dispatcherDone)
	}()

	// Live stream of watched-account posts
	stream := twitter.NewStream(
		twitter.NewStreamingHTTPClient(twitter.Credentials{
			ConsumerKey:       cfg.ConsumerKey,
			ConsumerSecret:    cfg.ConsumerSecret,
			AccessToken:       cfg.AccessToken,
			AccessTokenSecret: cfg.AccessTokenSecret,
		}),
		"https://stream.twitter.com/1.1",
		cfg.WatchedAccountID,
		func(ctx context.Context, post domain.Post) error {
			_, err := broadcaster.OnNewPost(ctx, post)
			return err
		},
		logger,
	)
	go func() {
		if err := stream.Run(ctx); err != nil {
			logger.Error("stream stopped", "error", err)
		}
	}()

	// Mention poll scheduler: cycles never overlap because the next tick is
	// only consumed after Run returns.
	go func() {
		ticker := time.NewTicker(cfg.MentionsPollPeriod)
		defer ticker.Stop()

		for {
			if err := poller.Run(ctx); err != nil {
				logger.Error("poll cycle failed", "error", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	// HTTP server: liveness, subscriptions, stats, dashboard websocket.
	router := api.NewRouter(pgStore, broadcaster, hub, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	cancel()

	// The dispatcher must exit before the jobs channel closes, or a claimed
	// job could be submitted to a closed channel.
	<-dispatcherDone
	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("stopped")
}
