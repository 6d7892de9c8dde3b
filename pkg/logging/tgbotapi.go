package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// BotAPILogger routes go-telegram-bot-api's internal logging into slog.
type BotAPILogger struct {
	Logger *slog.Logger
}

func (a *BotAPILogger) Println(v ...interface{}) {
	a.Logger.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (a *BotAPILogger) Printf(format string, v ...interface{}) {
	a.Logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
