// Package dispatcher consumes the new-message and edit-message queues and
// drives each event through rendering, media upload, forwarding and
// persistence.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/roboricindustries/chat-ingest/pkg/dispatcher/buffer"
	"github.com/roboricindustries/chat-ingest/pkg/pubsub"
	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
	"github.com/roboricindustries/chat-ingest/pkg/schemas/common"
	"github.com/roboricindustries/chat-ingest/pkg/store"
)

const notifyTimeout = 10 * time.Second

type Renderer interface {
	Render(ctx context.Context, ev chat.RawEvent) chat.CanonicalRecord
}

type Uploader interface {
	Upload(ctx context.Context, localPath, chatID, mimeType string) (string, error)
}

type Records interface {
	Get(ctx context.Context, id string) (chat.CanonicalRecord, error)
	Store(ctx context.Context, rec chat.CanonicalRecord) (string, bool, error)
	ApplyEdit(ctx context.Context, ev chat.RawEvent, prevBody, newBody string) (string, bool, error)
}

type Forwarder interface {
	Forward(ctx context.Context, rec chat.CanonicalRecord)
}

type Notifier interface {
	SendError(ctx context.Context, text string)
}

// Observer receives per-message results; metrics.Metrics satisfies it.
type Observer interface {
	Record(op, result string)
	InterpreterFailed(kind string)
}

type Config struct {
	HandlerTimeout time.Duration
	Prefetch       int
	PoisonToFinal  bool
}

type Deps struct {
	Renderer  Renderer
	Uploader  Uploader
	Records   Records
	Forwarder Forwarder // optional
	Notifier  Notifier
	Replies   pubsub.Publisher // optional
	Buffer    *buffer.UserBuffer
	Observer  Observer // optional
}

type Dispatcher struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

func New(cfg Config, deps Deps, logger *slog.Logger) (*Dispatcher, error) {
	if deps.Renderer == nil || deps.Records == nil || deps.Notifier == nil || deps.Buffer == nil {
		return nil, errors.New("dispatcher: renderer, records, notifier and buffer are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Dispatcher{cfg: cfg, deps: deps, logger: logger}, nil
}

// Specs returns one consumer per queue.
func (d *Dispatcher) Specs() []pubsub.ConsumerSpec {
	return []pubsub.ConsumerSpec{
		{
			Name:          "dispatcher." + chat.QueueNewMessage,
			Queue:         chat.QueueNewMessage,
			Prefetch:      d.cfg.Prefetch,
			Timeout:       d.cfg.HandlerTimeout,
			PoisonToFinal: d.cfg.PoisonToFinal,
			Consume:       d.HandleNewMessage,
		},
		{
			Name:          "dispatcher." + chat.QueueEditMessage,
			Queue:         chat.QueueEditMessage,
			Prefetch:      d.cfg.Prefetch,
			Timeout:       d.cfg.HandlerTimeout,
			PoisonToFinal: d.cfg.PoisonToFinal,
			Consume:       pubsub.JSONHandler(d.handleEdit),
		},
	}
}

// HandleNewMessage processes one new-message delivery. A returned error makes
// the consumer Nack; ErrPoison marks a body that can never be processed.
func (d *Dispatcher) HandleNewMessage(ctx context.Context, del amqp.Delivery) error {
	const op = "dispatcher.HandleNewMessage"

	env, err := pubsub.DecodeEnvelope[chat.RawEvent](del.Body)
	if err != nil {
		d.reply(ctx, del, chat.Reply{Status: chat.ReplyFailed, Error: "undecodable message"})
		return err
	}
	ev := env.Data
	if err := ev.Validate(); err != nil {
		d.reply(ctx, del, chat.Reply{Status: chat.ReplyFailed, Error: err.Error()})
		return fmt.Errorf("%w: %v", pubsub.ErrPoison, err)
	}

	log := d.logger.With("op", op,
		slog.String("message_id", ev.SerializedID()),
		slog.String("type", ev.Type),
	)

	id, stored, err := d.process(ctx, ev)
	if err != nil {
		d.deps.Observer.Record("store", "error")
		log.Error("message processing failed", slog.Any("error", err))
		d.notifyError(ctx, fmt.Sprintf("processing message %s failed: %v", ev.SerializedID(), err))
		return fmt.Errorf("%s: %w", op, err)
	}

	status := chat.ReplyStored
	if !stored {
		status = chat.ReplyDuplicate
	}
	d.deps.Observer.Record("store", string(status))
	log.Info("message handled", slog.String("record_id", id), slog.String("status", string(status)))
	d.reply(ctx, del, chat.Reply{RecordID: id, Status: status})
	return nil
}

func (d *Dispatcher) process(ctx context.Context, ev chat.RawEvent) (string, bool, error) {
	d.deps.Buffer.Append(ev.AuthorID(), ev)

	// skip rendering for redeliveries; Store stays idempotent regardless
	id := store.RecordID(ev.AuthorID(), ev.ID.ID)
	if _, err := d.deps.Records.Get(ctx, id); err == nil {
		return id, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", false, fmt.Errorf("lookup %s: %w", id, err)
	}

	rec := d.deps.Renderer.Render(ctx, ev)
	if rec.DidInterpreterFail {
		d.deps.Observer.InterpreterFailed(ev.Type)
	}

	if rec.MediaPath != nil {
		key, err := d.upload(ctx, ev, rec)
		if err != nil {
			return "", false, err
		}
		rec.MediaPath = &key
	}

	id, stored, err := d.deps.Records.Store(ctx, rec)
	if err != nil {
		return "", false, fmt.Errorf("store record: %w", err)
	}
	// forwarded once, by the delivery that wrote the record
	if stored && d.deps.Forwarder != nil {
		d.deps.Forwarder.Forward(ctx, rec)
	}
	return id, stored, nil
}

// upload moves the downloaded file to the blob store. The scratch file is
// removed whether or not the upload worked.
func (d *Dispatcher) upload(ctx context.Context, ev chat.RawEvent, rec chat.CanonicalRecord) (string, error) {
	local := *rec.MediaPath
	defer func() {
		if err := os.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("remove scratch file", slog.String("path", local), slog.Any("error", err))
		}
	}()
	if d.deps.Uploader == nil {
		return "", errors.New("media downloaded but no uploader configured")
	}
	var mimeType string
	if rec.MediaType != nil {
		mimeType = *rec.MediaType
	}
	key, err := d.deps.Uploader.Upload(ctx, local, ev.ChatID(), mimeType)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	return key, nil
}

func (d *Dispatcher) handleEdit(ctx context.Context, _ amqp.Delivery, edit chat.EditEvent) error {
	const op = "dispatcher.handleEdit"
	if err := edit.Validate(); err != nil {
		return fmt.Errorf("%w: %v", pubsub.ErrPoison, err)
	}
	log := d.logger.With("op", op, slog.String("message_id", edit.Message.SerializedID()))

	id, ok, err := d.deps.Records.ApplyEdit(ctx, edit.Message, edit.PrevBody, edit.NewBody)
	if err != nil {
		d.deps.Observer.Record("edit", "error")
		log.Error("apply edit failed", slog.Any("error", err))
		d.notifyError(ctx, fmt.Sprintf("applying edit to %s failed: %v", edit.Message.SerializedID(), err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		d.deps.Observer.Record("edit", "unknown")
		log.Warn("edit for unknown message ignored")
		return nil
	}
	d.deps.Observer.Record("edit", "ok")
	log.Info("edit applied", slog.String("record_id", id))
	return nil
}

// notifyError runs detached from ctx: a handler that hit its deadline still
// gets its failure reported.
func (d *Dispatcher) notifyError(ctx context.Context, text string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	d.deps.Notifier.SendError(nctx, text)
}

// reply answers a request-style delivery. Failures are logged only.
func (d *Dispatcher) reply(ctx context.Context, del amqp.Delivery, r chat.Reply) {
	if del.ReplyTo == "" || d.deps.Replies == nil {
		return
	}
	r.CorrelationID = del.CorrelationId
	if err := r.Validate(); err != nil {
		d.logger.Warn("invalid reply not sent", slog.Any("error", err))
		return
	}
	env := common.Envelope{
		Meta: common.Meta{
			ID:            uuid.NewString(),
			CorrelationID: del.CorrelationId,
			Type:          chat.EventTypeReply,
			Time:          time.Now().UTC(),
		},
		Data: r,
	}
	if err := d.deps.Replies.Publish(ctx, del.ReplyTo, env); err != nil {
		d.logger.Warn("reply publish failed",
			slog.String("reply_to", del.ReplyTo),
			slog.String("correlation_id", del.CorrelationId),
			slog.Any("error", err),
		)
	}
}

type nopObserver struct{}

func (nopObserver) Record(string, string)    {}
func (nopObserver) InterpreterFailed(string) {}
