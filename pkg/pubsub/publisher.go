package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/roboricindustries/chat-ingest/pkg/schemas/common"
)

// ErrNacked is returned when the broker negatively confirms a publish.
var ErrNacked = errors.New("publish not confirmed by broker")

type Publisher interface {
	Publish(ctx context.Context, queue string, env common.Envelope, opts ...PublishOption) error
	Close() error
}

type publishOptions struct {
	replyTo string
}

type PublishOption func(*publishOptions)

// WithReplyTo sets the queue the consumer should send its reply to.
func WithReplyTo(queue string) PublishOption {
	return func(o *publishOptions) { o.replyTo = queue }
}

// Publish sends env as a persistent JSON message to queue on the default
// exchange and waits for the broker confirm.
func (c *Client) Publish(ctx context.Context, queue string, env common.Envelope, opts ...PublishOption) error {
	var o publishOptions
	for _, fn := range opts {
		fn(&o)
	}
	msg, err := newPublishing(env, c.config.AppID, o)
	if err != nil {
		return err
	}
	return c.publishConfirmed(ctx, queue, msg)
}

func (c *Client) publishConfirmed(ctx context.Context, queue string, msg amqp.Publishing) error {
	pool := c.channelPool()
	if pool == nil {
		return errConnClosed
	}
	ch, err := pool.Borrow(ctx, c.config.PoolRetryDelayMs)
	if err != nil {
		return fmt.Errorf("borrow channel: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, Dsec(c.config.ConfirmTimeoutSeconds, 5))
	defer cancel()

	dc, err := ch.PublishWithDeferredConfirmWithContext(confirmCtx, "", queue, false, false, msg)
	if err != nil {
		pool.Discard(ch)
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	acked, err := dc.WaitContext(confirmCtx)
	if err != nil {
		// the confirm may still arrive later; don't reuse a channel with an
		// outstanding sequence number
		pool.Discard(ch)
		return fmt.Errorf("await confirm for %s: %w", queue, err)
	}
	pool.Return(ch)
	if !acked {
		return fmt.Errorf("%w: queue %s", ErrNacked, queue)
	}
	return nil
}

func newPublishing(env common.Envelope, appID string, o publishOptions) (amqp.Publishing, error) {
	if env.Meta.ID == "" {
		return amqp.Publishing{}, fmt.Errorf("envelope.Meta.ID is required")
	}
	if env.Meta.CorrelationID == "" {
		env.Meta.CorrelationID = env.Meta.ID
	}
	if env.Meta.Time.IsZero() {
		env.Meta.Time = time.Now().UTC()
	}
	if env.Meta.Producer == "" {
		env.Meta.Producer = appID
	}

	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		ReplyTo:       o.replyTo,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         appID,
	}, nil
}

// ReplyToOf returns the reply queue set by opts, if any.
func ReplyToOf(opts ...PublishOption) string {
	var o publishOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o.replyTo
}
