package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/roboricindustries/chat-ingest/pkg/logging"
	"golang.org/x/time/rate"
)

// maxMessageLen is Telegram's text limit in UTF-16 units; runes are close enough.
const maxMessageLen = 4096

type TelegramConfig struct {
	Token          string
	SecondaryToken string
	ChatID         int64
	RatePerSecond  float64
	Burst          int
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends to a chat through a primary bot and, when configured, a
// secondary bot used for forwarded content.
type Telegram struct {
	primary   sender
	secondary sender
	chatID    int64
	limiter   *rate.Limiter
	logger    *slog.Logger
	observe   func(error)
}

type Option func(*Telegram)

// WithObserver is called with the result of every send attempt.
func WithObserver(fn func(error)) Option {
	return func(t *Telegram) { t.observe = fn }
}

func NewTelegram(cfg TelegramConfig, logger *slog.Logger, opts ...Option) (*Telegram, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := tgbotapi.SetLogger(&logging.BotAPILogger{Logger: logger}); err != nil {
		return nil, fmt.Errorf("set bot api logger: %w", err)
	}
	primary, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot api: %w", err)
	}
	logger.Info("notifier authorized", slog.String("username", primary.Self.UserName))

	var secondary sender
	if cfg.SecondaryToken != "" {
		api, err := tgbotapi.NewBotAPI(cfg.SecondaryToken)
		if err != nil {
			return nil, fmt.Errorf("failed to create secondary bot api: %w", err)
		}
		secondary = api
	}
	return newTelegram(primary, secondary, cfg, logger, opts...), nil
}

func newTelegram(primary, secondary sender, cfg TelegramConfig, logger *slog.Logger, opts ...Option) *Telegram {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	t := &Telegram{
		primary:   primary,
		secondary: secondary,
		chatID:    cfg.ChatID,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		logger:    logger,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Telegram) pick(secondary bool) sender {
	if secondary && t.secondary != nil {
		return t.secondary
	}
	return t.primary
}

func (t *Telegram) send(ctx context.Context, s sender, c tgbotapi.Chattable, what string) {
	err := t.limiter.Wait(ctx)
	if err == nil {
		_, err = s.Send(c)
	}
	if t.observe != nil {
		t.observe(err)
	}
	if err != nil {
		t.logger.Error("telegram send failed", slog.String("what", what), slog.Any("error", err))
	}
}

func (t *Telegram) SendMessage(ctx context.Context, text string, secondary bool) {
	msg := tgbotapi.NewMessage(t.chatID, truncate(text, maxMessageLen))
	msg.DisableWebPagePreview = true
	t.send(ctx, t.pick(secondary), msg, "message")
}

func (t *Telegram) SendPhoto(ctx context.Context, path, caption string, secondary bool) {
	photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FilePath(path))
	photo.Caption = truncate(caption, 1024)
	t.send(ctx, t.pick(secondary), photo, "photo")
}

func (t *Telegram) SendError(ctx context.Context, text string) {
	t.SendMessage(ctx, ErrorPrefix+text, false)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// New returns a Telegram notifier, or a Nop one when no token is configured.
func New(cfg TelegramConfig, logger *slog.Logger, opts ...Option) (Notifier, error) {
	if cfg.Token == "" {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("no telegram token configured, notifications are logged only")
		return Nop{Logger: logger}, nil
	}
	t, err := NewTelegram(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	return t, nil
}
