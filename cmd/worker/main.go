// Command worker consumes chat events from the broker, enriches and persists
// them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roboricindustries/chat-ingest/pkg/config"
	"github.com/roboricindustries/chat-ingest/pkg/dispatcher"
	"github.com/roboricindustries/chat-ingest/pkg/dispatcher/buffer"
	"github.com/roboricindustries/chat-ingest/pkg/enrich"
	"github.com/roboricindustries/chat-ingest/pkg/gateway"
	"github.com/roboricindustries/chat-ingest/pkg/llm"
	"github.com/roboricindustries/chat-ingest/pkg/logging"
	"github.com/roboricindustries/chat-ingest/pkg/media"
	"github.com/roboricindustries/chat-ingest/pkg/metrics"
	"github.com/roboricindustries/chat-ingest/pkg/notify"
	"github.com/roboricindustries/chat-ingest/pkg/pubsub"
	"github.com/roboricindustries/chat-ingest/pkg/render"
	"github.com/roboricindustries/chat-ingest/pkg/store"
)

const appID = "chat-ingest-worker"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger, err := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format, "worker")
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	records, err := store.Open(cfg.Records.Path, logger.With(slog.String("component", "records")))
	if err != nil {
		return fmt.Errorf("open records: %w", err)
	}
	defer func() { _ = records.Close() }()

	blobs, err := store.NewBlobs(store.BlobConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return err
	}

	notifier, err := notify.New(notify.TelegramConfig{
		Token:          cfg.Telegram.Token,
		SecondaryToken: cfg.Telegram.SecondaryToken,
		ChatID:         cfg.Telegram.ChatID,
		RatePerSecond:  cfg.Telegram.RatePerSecond,
		Burst:          cfg.Telegram.Burst,
	}, logger.With(slog.String("component", "notify")), notify.WithObserver(m.Notified))
	if err != nil {
		return err
	}

	ai := llm.New(llm.Config{
		APIKey:             cfg.OpenAI.APIKey,
		BaseURL:            cfg.OpenAI.BaseURL,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		VisionModel:        cfg.OpenAI.VisionModel,
		TranslationModel:   cfg.OpenAI.TranslationModel,
	})
	downloader := media.NewDownloader(media.DownloaderConfig{
		Endpoint:   cfg.ChatClient.MediaEndpoint,
		ScratchDir: cfg.ChatClient.ScratchDir,
		Timeout:    cfg.ChatClient.DownloadTimeout,
	}, logger)
	interp := media.NewInterpreter(ai, ai, media.FFmpeg(cfg.ChatClient.FFmpegPath), cfg.OpenAI.ImagePrompt, logger)
	renderer := render.New(downloader, interp, logger)
	forwarder := enrich.NewForwarder(cfg.Worker.TranslateGroups, cfg.Worker.ContextMessages, ai, records, notifier, logger)

	client, err := pubsub.NewClient(ctx, cfg.Broker.RabbitMQ(appID, m), logger.With(slog.String("component", "rabbitmq")))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	d, err := dispatcher.New(dispatcher.Config{
		HandlerTimeout: cfg.Worker.HandlerTimeout,
		Prefetch:       cfg.Broker.Prefetch,
		PoisonToFinal:  true,
	}, dispatcher.Deps{
		Renderer:  renderer,
		Uploader:  blobs,
		Records:   records,
		Forwarder: forwarder,
		Notifier:  notifier,
		Replies:   client,
		Buffer:    buffer.NewUserBuffer(cfg.Worker.BufferSize, cfg.Worker.BufferTTL),
		Observer:  m,
	}, logger)
	if err != nil {
		return err
	}

	ops := &http.Server{
		Addr:              cfg.Worker.Addr,
		Handler:           gateway.NewOpsRouter(m.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server stopped", slog.Any("error", err))
		}
	}()

	logger.Info("worker started", slog.String("ops_addr", cfg.Worker.Addr))
	err = client.RunWithConsumers(ctx, d.Specs()...)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = ops.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}
