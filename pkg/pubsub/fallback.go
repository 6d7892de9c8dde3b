package pubsub

import (
	"context"
	"log/slog"

	"github.com/roboricindustries/chat-ingest/pkg/schemas/common"
)

// FallbackPublisher drops every message. It stands in for the broker when
// publishing is disabled.
type FallbackPublisher struct {
	log *slog.Logger
}

func (p *FallbackPublisher) Publish(_ context.Context, queue string, env common.Envelope, _ ...PublishOption) error {
	p.log.Warn("FallbackPublisher: skipped publish",
		slog.String("queue", queue),
		slog.String("type", env.Meta.Type),
		slog.String("id", env.Meta.ID),
	)
	return nil
}

func (p *FallbackPublisher) Close() error {
	return nil
}

func NewFallback(logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackPublisher{
		log: logger,
	}
}
