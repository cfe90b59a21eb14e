package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"banana-mall/internal/catalog"
	"banana-mall/internal/config"
	"banana-mall/internal/export"
	"banana-mall/internal/generative"
	"banana-mall/internal/handlers"
	"banana-mall/internal/httpclient"
	"banana-mall/internal/mediagroup"
	"banana-mall/internal/session"
	"banana-mall/internal/store"
	"banana-mall/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	if cfg.TelegramToken == "" {
		logger.Error("TELEGRAM_BOT_TOKEN is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	cat := catalog.Default()
	if cfg.PromptsFile != "" {
		cat, err = catalog.Load(cfg.PromptsFile)
		if err != nil {
			logger.Error("prompt catalog load failed", "path", cfg.PromptsFile, "err", err)
			os.Exit(1)
		}
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = store.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var exportSink export.Sink
	if cfg.ExportS3Bucket != "" {
		sink, err := export.NewS3Sink(ctx, cfg.AWSRegion, cfg.ExportS3Bucket, cfg.ExportS3Prefix)
		if err != nil {
			logger.Error("s3 init failed", "err", err)
			os.Exit(1)
		}
		exportSink = sink
	}

	sessions := session.NewStore(session.Options{
		Factory: session.DirFactory(session.WorkspaceOptions{
			DataDir:    cfg.DataDir,
			Redis:      rdb,
			SeedAPIKey: cfg.GeminiAPIKey,
			Deps: generative.Deps{
				HTTPClient: httpClient,
				Logger:     logger,
				Catalog:    cat,
				APIVersion: cfg.GeminiAPIVersion,
				Timeout:    cfg.RequestTimeout,
				MockDelay:  cfg.MockDelay,
			},
			Catalog:  cat,
			Exporter: export.New(export.ExporterOptions{HTTPClient: httpClient, Logger: logger}),
			Logger:   logger,
		}),
		IdleTTL: cfg.WorkspaceIdleTTL,
	})
	go sessions.RunEvictor(ctx, time.Minute)

	handler := handlers.New(handlers.Options{
		Telegram:   tg,
		Sessions:   sessions,
		ExportSink: exportSink,
		RunContext: ctx,
		Logger:     logger,
	})

	sem := make(chan struct{}, cfg.MaxConcurrent)
	onGroupFlush := func(group mediagroup.Group) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()

			handler.HandleMediaGroup(reqCtx, group)
		}()
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush:  onGroupFlush,
	})
	defer aggregator.Stop()
	handler.SetMediaGroupAggregator(aggregator)

	logger.Info("bot started", "username", tg.Username(), "data_dir", cfg.DataDir, "redis", rdb != nil, "s3_export", exportSink != nil)

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			go func(update telegram.Update) {
				defer func() { <-sem }()

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()

				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "err", err)
				}
			}(update)
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
