// Package render normalizes raw chat events into canonical records.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roboricindustries/chat-ingest/pkg/media"
	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
)

const (
	TimestampLayout = "1/2/2006, 3:04:05 PM"
	UnknownAuthor   = "Unknown User"

	quoteLimit = 100
)

type MediaFetcher interface {
	Download(ctx context.Context, ev chat.RawEvent, chatID string) *media.Download
}

type Interpreter interface {
	TranscribeVoice(ctx context.Context, path string) (string, bool)
	CaptionImage(ctx context.Context, path string) (string, bool)
}

type Renderer struct {
	fetcher MediaFetcher
	interp  Interpreter
	loc     *time.Location
	logger  *slog.Logger
}

type Option func(*Renderer)

// WithLocation sets the zone of the display timestamp (default time.Local).
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) { r.loc = loc }
}

func New(fetcher MediaFetcher, interp Interpreter, logger *slog.Logger, opts ...Option) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Renderer{fetcher: fetcher, interp: interp, loc: time.Local, logger: logger}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Render builds the canonical record for ev. It never fails: media and
// interpretation problems degrade to sentinel bodies.
func (r *Renderer) Render(ctx context.Context, ev chat.RawEvent) chat.CanonicalRecord {
	chatID := ev.ChatID()
	rec := chat.CanonicalRecord{
		UID:             ev.ID,
		Timestamp:       time.Unix(ev.Timestamp, 0).In(r.loc).Format(TimestampLayout),
		AuthorName:      ev.NotifyName,
		AuthorID:        ev.AuthorID(),
		IsFromMe:        ev.ID.FromMe,
		IsGroup:         ev.IsGroup(),
		MsgType:         ev.Type,
		IsQuotedMessage: ev.HasQuotedMsg,
		RawMsgObject:    ev,
	}
	if rec.AuthorName == "" {
		rec.AuthorName = UnknownAuthor
	}
	if rec.IsGroup {
		from := ev.From
		rec.GroupID = &from
	}

	var dl *media.Download
	if ev.HasMedia && r.fetcher != nil {
		dl = r.fetcher.Download(ctx, ev, chatID)
		if dl != nil {
			rec.MediaPath = &dl.Path
			rec.MediaType = &dl.MimeType
		}
	}

	kind := chat.ParseKind(ev.Type)
	switch kind {
	case chat.KindText:
		rec.Body = ev.Body
		if rec.Body == "" {
			rec.Body = "[empty message]"
		}

	case chat.KindAudio, chat.KindVoice:
		rec.IsVoiceMessage = true
		if text, ok := r.transcribe(ctx, dl); ok {
			rec.Body = text
		} else {
			rec.Body = fmt.Sprintf("[%s message]", strings.ToLower(ev.Type))
			rec.DidInterpreterFail = true
		}

	case chat.KindImage:
		rec.IsImage = true
		if text, ok := r.caption(ctx, dl); ok {
			rec.Body = text
		} else {
			rec.Body = "[no image description available]"
			rec.DidInterpreterFail = true
		}

	case chat.KindVideo:
		rec.Body = "[video]"
	case chat.KindDocument:
		rec.Body = `[file "` + ev.Body + `"]`
	case chat.KindSticker:
		rec.Body = "[sticker]"
	case chat.KindLocation:
		rec.Body = "[location]"
	case chat.KindContact:
		rec.Body = "[shared contact]"
	case chat.KindRevoked:
		rec.Body = "[message deleted]"

	case chat.KindNotification:
		rec.Body = ev.Body
		if rec.Body == "" {
			rec.Body = "[system notification]"
		}

	default:
		rec.Body = fmt.Sprintf("[unsupported message type: %s]", ev.Type)
	}

	if q := ev.QuotedMsg; q != nil {
		qc := *q
		rec.QuotedMessageObject = &qc
		if q.Type != "" {
			t := q.Type
			rec.QuotedMessageType = &t
		}
		rec.QuotedMessageBody = QuotedSummary(q)
	}

	r.logger.Debug("rendered message",
		slog.String("id", ev.ID.ID),
		slog.String("type", ev.Type),
		slog.String("kind", kind.String()),
		slog.Bool("interpreter_failed", rec.DidInterpreterFail),
	)
	return rec
}

func (r *Renderer) transcribe(ctx context.Context, dl *media.Download) (string, bool) {
	if dl == nil || r.interp == nil {
		return "", false
	}
	text, ok := r.interp.TranscribeVoice(ctx, dl.Path)
	return text, ok && text != ""
}

func (r *Renderer) caption(ctx context.Context, dl *media.Download) (string, bool) {
	if dl == nil || r.interp == nil {
		return "", false
	}
	text, ok := r.interp.CaptionImage(ctx, dl.Path)
	return text, ok && text != ""
}

// QuotedSummary collapses media quotes to a tag and truncates text quotes to
// 100 characters. It returns nil when there is nothing to show.
func QuotedSummary(q *chat.QuotedMessage) *string {
	if q == nil {
		return nil
	}
	var s string
	switch {
	case q.Type == "image":
		s = "[image]"
	case chat.IsSpoken(q.Type):
		s = "[voice]"
	case q.Body == "":
		return nil
	case utf8.RuneCountInString(q.Body) > quoteLimit:
		s = string([]rune(q.Body)[:quoteLimit]) + "..."
	default:
		s = q.Body
	}
	return &s
}
