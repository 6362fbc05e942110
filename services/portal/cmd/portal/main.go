package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"chapterhub/internal/usertoken"
	"chapterhub/internal/util"
	"chapterhub/pkg/queue"
	"chapterhub/pkg/store"
	"chapterhub/pkg/wizard"
	"chapterhub/services/portal/internal/app"
	"chapterhub/services/portal/internal/chapterclient"
	"chapterhub/services/portal/internal/config"
	"chapterhub/services/portal/internal/editionclient"
	"chapterhub/services/portal/internal/identityclient"
	"chapterhub/services/portal/internal/server"
	"chapterhub/services/portal/internal/session"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse JWT leeway: %v", err)
	}
	retryDelay, err := config.ParseRetryDelay(cfg.AttachRetryDelay)
	if err != nil {
		log.Fatalf("failed to parse attach retry delay: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	sessions, err := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}
	outbox, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init attachment outbox: %v", err)
	}
	retryQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.AttachStream,
		MaxRetries: cfg.AttachMaxRetries,
		RetryDelay: retryDelay,
	})
	if err != nil {
		log.Fatalf("failed to init retry queue: %v", err)
	}

	appCore, err := app.New(app.Config{
		Editions:      editionclient.NewClient(cfg.EditionServiceURL),
		Identities:    identityclient.NewClient(cfg.IdentityServiceURL),
		Chapters:      chapterclient.NewClient(cfg.ChapterServiceURL),
		Sessions:      sessions,
		Outbox:        outbox,
		Queue:         retryQueue,
		Rules:         wizard.DefaultRuleset(),
		InternalToken: cfg.InternalToken,
		MaxRetries:    cfg.AttachMaxRetries,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	workers := cfg.AttachWorkers
	if workers <= 0 {
		workers = 2
	}
	appCore.StartAttachWorker(context.Background(), workers)

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		TokenVerifier:            verifier,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		TrustedProxyCIDRs:        cfg.TrustedProxyCIDRs,
		SearchRateLimitPerMinute: cfg.SearchRateLimitPerMinute,
		CommitRateLimitPerMinute: cfg.CommitRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("portal server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
