package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/roboricindustries/chat-ingest/pkg/pubsub"
	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
	"github.com/roboricindustries/chat-ingest/pkg/schemas/common"
)

var (
	ErrReplyTimeout = errors.New("timed out waiting for reply")
	ErrNoReplies    = errors.New("reply channel not configured")
)

// Replies is the correlation-id waiter registry of a private reply queue.
type Replies interface {
	Register(correlationID string) (<-chan amqp.Delivery, error)
	Cancel(correlationID string)
	Name() string
}

type Options struct {
	// ReplyTimeout bounds PendingReply.Wait, measured from publish.
	ReplyTimeout time.Duration
}

// Producer turns chat-client events into durable broker messages.
type Producer struct {
	pub     pubsub.Publisher
	replies Replies
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a Producer over an initialized publisher. replies may be nil, in
// which case every PendingReply.Wait returns ErrNoReplies.
func New(pub pubsub.Publisher, replies Replies, opts Options, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 30 * time.Second
	}
	return &Producer{
		pub:     pub,
		replies: replies,
		timeout: opts.ReplyTimeout,
		logger:  logger,
	}
}

// Publish sends ev to the new-message queue with a fresh correlation id. The
// reply waiter is registered before the publish so a fast reply is not lost.
func (p *Producer) Publish(ctx context.Context, ev chat.RawEvent) (*PendingReply, error) {
	const op = "producer.Publish"
	log := p.logger.With("op", op)

	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cid := uuid.NewString()
	pending := &PendingReply{
		CorrelationID: cid,
		deadline:      time.Now().Add(p.timeout),
	}

	var opts []pubsub.PublishOption
	if p.replies != nil {
		w, err := p.replies.Register(cid)
		if err != nil {
			return nil, fmt.Errorf("%s: register reply: %w", op, err)
		}
		pending.ch = w
		pending.cancel = func() { p.replies.Cancel(cid) }
		opts = append(opts, pubsub.WithReplyTo(p.replies.Name()))
	}

	env := common.Envelope{
		Meta: common.Meta{
			ID:            ev.SerializedID(),
			CorrelationID: cid,
			Type:          chat.NewMessageMeta.EventType,
			Time:          time.Now().UTC(),
		},
		Data: ev,
	}
	if err := p.pub.Publish(ctx, chat.NewMessageMeta.Queue, env, opts...); err != nil {
		pending.Release()
		log.Error("publish failed", slog.String("message_id", env.Meta.ID), slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Debug("published", slog.String("message_id", env.Meta.ID), slog.String("correlation_id", cid))
	return pending, nil
}

// PublishEdit sends an edit notification; no reply is requested.
func (p *Producer) PublishEdit(ctx context.Context, ev chat.RawEvent, prevBody, newBody string) error {
	const op = "producer.PublishEdit"

	edit := chat.EditEvent{Message: ev, NewBody: newBody, PrevBody: prevBody}
	if err := edit.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	env := common.Envelope{
		Meta: common.Meta{
			ID:   uuid.NewString(),
			Type: chat.EditMessageMeta.EventType,
			Time: time.Now().UTC(),
		},
		Data: edit,
	}
	if err := p.pub.Publish(ctx, chat.EditMessageMeta.Queue, env); err != nil {
		p.logger.With("op", op).Error("publish failed", slog.String("message_id", ev.SerializedID()), slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PendingReply is the handle for one outstanding request.
type PendingReply struct {
	CorrelationID string

	ch       <-chan amqp.Delivery
	cancel   func()
	deadline time.Time
	once     sync.Once
}

// Release deregisters the waiter without waiting. It is safe to call more
// than once.
func (r *PendingReply) Release() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
}

// Wait blocks until the matching reply arrives, ctx is done or the reply
// deadline passes. The waiter is deregistered in every case.
func (r *PendingReply) Wait(ctx context.Context) (chat.Reply, error) {
	defer r.Release()
	if r.ch == nil {
		return chat.Reply{}, ErrNoReplies
	}

	timer := time.NewTimer(time.Until(r.deadline))
	defer timer.Stop()

	select {
	case d := <-r.ch:
		env, err := pubsub.DecodeEnvelope[chat.Reply](d.Body)
		if err != nil {
			return chat.Reply{}, fmt.Errorf("decode reply: %w", err)
		}
		reply := env.Data
		if reply.CorrelationID == "" {
			reply.CorrelationID = d.CorrelationId
		}
		return reply, nil
	case <-ctx.Done():
		return chat.Reply{}, ctx.Err()
	case <-timer.C:
		return chat.Reply{}, ErrReplyTimeout
	}
}
