// Package notify delivers operator notifications. Delivery is best effort:
// failures are logged and never returned.
package notify

import (
	"context"
	"log/slog"
)

const ErrorPrefix = "❌ ERROR: "

type Notifier interface {
	SendMessage(ctx context.Context, text string, secondary bool)
	SendPhoto(ctx context.Context, path, caption string, secondary bool)
	SendError(ctx context.Context, text string)
}

// Nop logs notifications instead of sending them.
type Nop struct {
	Logger *slog.Logger
}

func (n Nop) log() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n Nop) SendMessage(_ context.Context, text string, secondary bool) {
	n.log().Info("notification", slog.String("text", text), slog.Bool("secondary", secondary))
}

func (n Nop) SendPhoto(_ context.Context, path, caption string, secondary bool) {
	n.log().Info("photo notification", slog.String("path", path), slog.String("caption", caption), slog.Bool("secondary", secondary))
}

func (n Nop) SendError(_ context.Context, text string) {
	n.log().Warn("error notification", slog.String("text", ErrorPrefix+text))
}
