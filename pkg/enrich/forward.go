// Package enrich forwards messages from selected group chats to the operator
// channel, translated to English.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
)

const instructions = "Translate the WhatsApp group message to English if it is not already. " +
	"Use the previous messages only as context. Output ONLY the translated message, never anything else. " +
	"If the message is already in English, return it as is."

type Translator interface {
	Translate(ctx context.Context, instructions, text string) (string, error)
}

type History interface {
	RecentInGroup(ctx context.Context, groupID string, n int) ([]chat.CanonicalRecord, error)
}

type Sender interface {
	SendMessage(ctx context.Context, text string, secondary bool)
}

// Forwarder is a no-op for groups it was not configured with.
type Forwarder struct {
	groups     map[string]struct{}
	contextLen int
	translator Translator
	history    History
	sender     Sender
	logger     *slog.Logger
}

func NewForwarder(groups []string, contextLen int, tr Translator, h History, s Sender, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			set[g] = struct{}{}
		}
	}
	return &Forwarder{
		groups:     set,
		contextLen: contextLen,
		translator: tr,
		history:    h,
		sender:     s,
		logger:     logger,
	}
}

// Enabled reports whether rec belongs to a forwarded group.
func (f *Forwarder) Enabled(rec chat.CanonicalRecord) bool {
	if !rec.IsGroup || rec.GroupID == nil {
		return false
	}
	_, ok := f.groups[*rec.GroupID]
	return ok
}

// Forward runs after rec is stored; rec itself is left out of the history
// context. Media messages are forwarded untranslated. Errors never escape.
func (f *Forwarder) Forward(ctx context.Context, rec chat.CanonicalRecord) {
	if !f.Enabled(rec) {
		return
	}
	log := f.logger.With("op", "enrich.Forward", slog.String("group", *rec.GroupID))

	body := rec.Body
	if !rec.RawMsgObject.HasMedia && f.translator != nil {
		translated, err := f.translate(ctx, rec)
		if err != nil {
			log.Warn("translation failed, forwarding original", slog.Any("error", err))
		} else {
			body = translated
		}
	}
	f.sender.SendMessage(ctx, Format(rec, body), true)
}

func (f *Forwarder) translate(ctx context.Context, rec chat.CanonicalRecord) (string, error) {
	var prior []chat.CanonicalRecord
	if f.history != nil && f.contextLen > 0 {
		recent, err := f.history.RecentInGroup(ctx, *rec.GroupID, f.contextLen+1)
		if err != nil {
			f.logger.Warn("load translation context", slog.Any("error", err))
		}
		for _, p := range recent {
			if rec.UID.ID != "" && p.UID.ID == rec.UID.ID && p.AuthorID == rec.AuthorID {
				continue
			}
			if len(prior) == f.contextLen {
				break
			}
			prior = append(prior, p)
		}
	}

	var b strings.Builder
	b.WriteString("Message:\n")
	b.WriteString(rec.Body)
	if len(prior) > 0 {
		fmt.Fprintf(&b, "\n\nContext, previous %d messages:\n", len(prior))
		for _, p := range prior {
			fmt.Fprintf(&b, "%s: %s\n", p.AuthorName, p.Body)
		}
	}
	out, err := f.translator.Translate(ctx, instructions, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Format renders the forwarded text: the original is appended when the
// translation differs, the media key when there is one.
func Format(rec chat.CanonicalRecord, body string) string {
	var b strings.Builder
	b.WriteString(rec.AuthorName)
	b.WriteString(": ")
	b.WriteString(body)
	if body != rec.Body {
		b.WriteString("\n\n(Original: ")
		b.WriteString(rec.Body)
		b.WriteString(")")
	}
	if rec.MediaPath != nil && *rec.MediaPath != "" {
		b.WriteString("\n\nMedia link: ")
		b.WriteString(*rec.MediaPath)
	}
	return b.String()
}
