// Package main is the entry point of the eSchool diary watcher.
//
// The watcher logs in to the electronic diary (or restores the last saved
// session), then polls for new homework, marks and chat messages and reports
// each new item once. Seen items and the session are saved after every cycle
// so a restart picks up where the last run stopped.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/eschool-hub/eschool-watcher/config"
	"github.com/eschool-hub/eschool-watcher/internal/application/account"
	"github.com/eschool-hub/eschool-watcher/internal/application/attachments"
	"github.com/eschool-hub/eschool-watcher/internal/application/poller"
	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/external/eschool"
	"github.com/eschool-hub/eschool-watcher/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting eschool watcher",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"storage", cfg.Storage.Backend,
		"features", cfg.Features.Enabled(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SNAPSHOT STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open snapshot storage: %w", err)
	}
	defer closeStore()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. DIARY CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	clientCfg := eschool.DefaultClientConfig()
	clientCfg.BaseURL = cfg.Eschool.BaseURL
	clientCfg.Period = cfg.Eschool.Period
	clientCfg.Timeout = cfg.Eschool.RequestTimeout
	clientCfg.ChatCount = cfg.Eschool.ChatCount
	clientCfg.MessageCount = cfg.Eschool.MessageCount
	clientCfg.RateLimiterConfig = eschool.DefaultRateLimiterConfig()
	clientCfg.RateLimiterConfig.RequestsPerSecond = cfg.Eschool.RateLimit
	clientCfg.RateLimiterConfig.BurstSize = cfg.Eschool.RateLimitBurst
	clientCfg.Logger = log
	clientCfg.Debug = cfg.App.Debug

	client, err := eschool.NewClient(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create diary client: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SESSION
	// ─────────────────────────────────────────────────────────────────────────
	bootstrap := account.NewBootstrapHandler(client, store, log)
	session, err := bootstrap.Handle(ctx, account.BootstrapCommand{
		Username:       cfg.Eschool.Username,
		PasswordDigest: eschool.HashPassword(cfg.Eschool.Password),
		ForceLogin:     cfg.Eschool.ForceLogin,
	})
	if err != nil {
		return fmt.Errorf("failed to establish session: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. POLLER
	// ─────────────────────────────────────────────────────────────────────────
	pollCfg := poller.DefaultConfig()
	pollCfg.Interval = cfg.Poller.Interval
	pollCfg.ThreadThrottle = cfg.Poller.ThreadThrottle
	pollCfg.Handlers = buildHandlers(cfg, client, log)
	pollCfg.Store = store
	pollCfg.Registries = session.Registries
	pollCfg.Logger = log

	p, err := poller.New(client, pollCfg)
	if err != nil {
		return fmt.Errorf("failed to create poller: %w", err)
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}

	log.Info("eschool watcher is running",
		"user_id", session.UserID,
		"restored", session.Restored,
		"interval", cfg.Poller.Interval.String(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal", "timeout", cfg.App.ShutdownTimeout.String())

	if err := p.Stop(); err != nil && !errors.Is(err, poller.ErrNotRunning) {
		log.Error("failed to stop poller", logger.Err(err))
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := p.Save(saveCtx); err != nil {
		log.Error("final snapshot save failed", logger.Err(err))
	}

	stats := p.Stats()
	log.Info("shutdown completed",
		"cycles", stats.Cycles,
		"failures", stats.Failures,
		"delivered", stats.Delivered,
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// buildHandlers logs every new item. Kinds switched off by feature flags get
// a nil handler, which stops the poller from fetching them at all.
func buildHandlers(cfg *config.Config, client *eschool.Client, log *slog.Logger) poller.Handlers {
	var h poller.Handlers
	log = log.With(logger.Component("notify"))

	if cfg.Features.IsEnabled(config.FeatureWatchHomework) {
		var downloader *attachments.Downloader
		if cfg.App.DownloadDir != "" && cfg.Features.IsEnabled(config.FeatureDownloadAttachments) {
			downloader = attachments.NewDownloader(client, cfg.App.DownloadDir, nil, log)
		}

		h.OnHomework = func(ctx context.Context, hw diary.Homework) error {
			log.Info("new homework",
				logger.ItemID(hw.ID),
				"lesson", hw.Lesson,
				"date", hw.Date,
				"text", hw.Text,
				"attachments", len(hw.Attachments),
			)
			if downloader != nil {
				// A failed download must not make the homework redelivered.
				if _, err := downloader.Download(ctx, hw); err != nil {
					log.Warn("attachment download failed", logger.ItemID(hw.ID), logger.Err(err))
				}
			}
			return nil
		}
	}

	if cfg.Features.IsEnabled(config.FeatureWatchMarks) {
		h.OnMark = func(_ context.Context, m diary.Mark) error {
			log.Info("new mark",
				"subject", m.Subject,
				"value", m.Value,
				"weight", m.Weight,
				"date", m.Date,
				"work", m.WorkName,
				"lesson_id", m.LessonID,
			)
			return nil
		}
	}

	if cfg.Features.IsEnabled(config.FeatureWatchMessages) {
		h.OnMessage = func(_ context.Context, m diary.Message) error {
			log.Info("new message",
				logger.ItemID(m.ID),
				logger.ThreadID(m.ThreadID),
				"sender", m.Sender,
				"body", m.Body,
			)
			return nil
		}
	}

	return h
}

// setupLogger builds the root logger and installs it as the default.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := logger.DefaultOptions()
	opts.Level = cfg.Observability.LogLevel
	opts.Format = cfg.Observability.LogFormat
	if cfg.App.Debug {
		opts.Level = "debug"
	}

	log := logger.New(opts).With("app", cfg.App.Name)
	slog.SetDefault(log)
	return log
}
