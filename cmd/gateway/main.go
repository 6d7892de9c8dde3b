// Command gateway receives chat-client events over HTTP and publishes them to
// the broker.
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

	"github.com/roboricindustries/chat-ingest/pkg/config"
	"github.com/roboricindustries/chat-ingest/pkg/gateway"
	"github.com/roboricindustries/chat-ingest/pkg/logging"
	"github.com/roboricindustries/chat-ingest/pkg/metrics"
	"github.com/roboricindustries/chat-ingest/pkg/notify"
	"github.com/roboricindustries/chat-ingest/pkg/producer"
	"github.com/roboricindustries/chat-ingest/pkg/pubsub"
)

const appID = "chat-ingest-gateway"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateGateway(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger, err := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format, "gateway")
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
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

	var (
		pub     pubsub.Publisher
		replies producer.Replies
	)
	if cfg.Broker.Disabled {
		pub = pubsub.NewFallback(logger)
	} else {
		client, err := pubsub.NewClient(ctx, cfg.Broker.RabbitMQ(appID, m), logger.With(slog.String("component", "rabbitmq")))
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		rq, err := client.NewReplyQueue(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = rq.Close() }()

		pub, replies = client, rq
		// no consumers: supervises the connection and re-binds the reply queue
		go func() {
			if err := client.RunWithConsumers(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("broker supervisor stopped", slog.Any("error", err))
			}
		}()
	}

	p := producer.New(pub, replies, producer.Options{ReplyTimeout: cfg.Gateway.ReplyTimeout}, logger)
	srv := gateway.New(gateway.Config{
		Addr:         cfg.Server.Addr,
		WaitForReply: cfg.Gateway.WaitForReply,
		ScratchDir:   cfg.ChatClient.ScratchDir,
	}, p, notifier, m, m.Handler(), logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}
