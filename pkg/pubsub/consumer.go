package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/roboricindustries/chat-ingest/pkg/schemas/common"
)

// -----------------------------------------------------------------------------
// Consumer model (generic, supervised)
// -----------------------------------------------------------------------------

// ConsumerSpec defines a single consumer. The queue's retry policy comes from
// the matching QueueTopology in RabbitMQConfig.Queues.
type ConsumerSpec struct {
	Name     string
	Queue    string
	Prefetch int // 0 => use global default

	// Timeout bounds a single Consume call; 0 means no limit.
	Timeout time.Duration

	// If true, poison messages are published to the final queue then Acked.
	// If false, poison messages are just Acked (no copy kept).
	PoisonToFinal bool

	Consume func(ctx context.Context, d amqp.Delivery) error
}

// ErrPoison indicates non-retriable "bad content" (e.g., JSON decode fail).
var ErrPoison = errors.New("poison message")

// Outcome is how a delivery was settled.
type Outcome string

const (
	OutcomeAck       Outcome = "ack"
	OutcomeRequeue   Outcome = "requeue"
	OutcomeRetry     Outcome = "retry"
	OutcomePoison    Outcome = "poison"
	OutcomeExhausted Outcome = "exhausted"
)

// Observer receives one call per settled delivery.
type Observer interface {
	Settled(queue string, outcome Outcome, took time.Duration)
}

// DecodeEnvelope unmarshals a GenericEnvelope body. Failures wrap ErrPoison.
func DecodeEnvelope[T any](body []byte) (common.GenericEnvelope[T], error) {
	var env common.GenericEnvelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrPoison, err)
	}
	return env, nil
}

// JSONHandler wraps a typed handler and turns JSON decode failure into ErrPoison.
func JSONHandler[T any](h func(context.Context, amqp.Delivery, T) error) func(context.Context, amqp.Delivery) error {
	return func(ctx context.Context, d amqp.Delivery) error {
		env, err := DecodeEnvelope[T](d.Body)
		if err != nil {
			return err
		}
		return h(ctx, d, env.Data)
	}
}

// settler applies the ack/nack/final-queue discipline to one delivery.
type settler struct {
	spec     ConsumerSpec
	retry    *RetrySpec
	pub      channelPublisher
	logger   *slog.Logger
	observer Observer
}

func (s *settler) handle(ctx context.Context, d amqp.Delivery) Outcome {
	start := time.Now()
	outcome := s.settle(ctx, d)
	if s.observer != nil {
		s.observer.Settled(s.spec.Queue, outcome, time.Since(start))
	}
	return outcome
}

func (s *settler) settle(ctx context.Context, d amqp.Delivery) Outcome {
	log := s.logger.With(
		slog.String("queue", s.spec.Queue),
		slog.String("message_id", d.MessageId),
		slog.String("correlation_id", d.CorrelationId),
	)

	if s.retry.active() && s.retry.MaxAttempts > 0 {
		if n := DeathCount(d, s.spec.Queue); n >= s.retry.MaxAttempts {
			if err := PublishFinal(ctx, s.pub, s.retry.finalExchange(s.spec.Queue), d); err != nil {
				log.Error("publish to final queue failed", slog.Any("error", err))
				_ = d.Nack(false, true)
				return OutcomeRequeue
			}
			log.Warn("retries exhausted, moved to final queue", slog.Int("attempts", n))
			_ = d.Ack(false)
			return OutcomeExhausted
		}
	}

	hctx := ctx
	if s.spec.Timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, s.spec.Timeout)
		defer cancel()
	}
	err := s.spec.Consume(hctx, d)

	switch {
	case err == nil:
		_ = d.Ack(false)
		return OutcomeAck

	case errors.Is(err, ErrPoison):
		log.Warn("poison message", slog.Any("error", err))
		if s.spec.PoisonToFinal && s.retry != nil {
			if perr := PublishFinal(ctx, s.pub, s.retry.finalExchange(s.spec.Queue), d); perr != nil {
				log.Error("publish poison to final queue failed", slog.Any("error", perr))
			}
		}
		_ = d.Ack(false)
		return OutcomePoison

	case s.retry.active():
		log.Warn("handler failed, dead-lettering for retry", slog.Any("error", err))
		_ = d.Nack(false, false)
		return OutcomeRetry

	default:
		log.Warn("handler failed, requeueing", slog.Any("error", err))
		_ = d.Nack(false, true)
		return OutcomeRequeue
	}
}

// Settle runs spec.Consume on d and settles it with no retry policy, so a
// handler failure requeues. Consumers started by RunWithConsumers use the
// policy configured for their queue instead.
func Settle(ctx context.Context, spec ConsumerSpec, d amqp.Delivery, logger *slog.Logger) Outcome {
	if logger == nil {
		logger = slog.Default()
	}
	s := &settler{spec: spec, logger: logger}
	return s.handle(ctx, d)
}

func (c *Client) retryFor(queue string) *RetrySpec {
	for _, q := range c.config.Queues {
		if q.Name == queue {
			return q.Retry
		}
	}
	return nil
}

// RunWithConsumers starts every consumer and supervises them until ctx is
// done: closed consumer channels are reopened, and a lost connection is
// re-dialed with jittered exponential backoff.
func (c *Client) RunWithConsumers(ctx context.Context, specs ...ConsumerSpec) error {
	c.consumerClosed = make(chan string, len(specs)*2)
	c.consumerSpecs = make(map[string]ConsumerSpec, len(specs))

	for _, s := range specs {
		if s.Consume == nil {
			return fmt.Errorf("consumer %s: nil Consume", s.Name)
		}
		c.consumerSpecs[s.Name] = s
		if err := c.startConsumer(ctx, s); err != nil {
			return fmt.Errorf("start %s: %w", s.Name, err)
		}
	}

	errCh := c.connection().NotifyClose(make(chan *amqp.Error, 1))
	base := Dsec(c.config.ReconnectBackoffBaseSeconds, 1)
	capd := Dsec(c.config.ReconnectBackoffCapSeconds, 30)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case name := <-c.consumerClosed:
			if s, ok := c.consumerSpecs[name]; ok && !c.connection().IsClosed() {
				if err := c.startConsumer(ctx, s); err != nil {
					c.logger.Error("restart consumer failed", slog.String("name", name), slog.Any("error", err))
				}
			}

		case err, ok := <-errCh:
			if !ok {
				err = &amqp.Error{Reason: "connection closed"}
			}
			c.logger.Error("amqp connection closed, reconnecting", slog.Any("error", err))

			backoff := base
			for {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				rerr := c.reconnect(ctx)
				if rerr == nil {
					break
				}
				wait := JitteredDelay(backoff, capd, c.config.ReconnectJitterPercent)
				c.logger.Error("reconnect failed", slog.Any("error", rerr), slog.Duration("retry_in", wait))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
				if backoff*2 < capd {
					backoff *= 2
				}
			}

			for _, s := range c.consumerSpecs {
				if err := c.startConsumer(ctx, s); err != nil {
					c.logger.Error("restart consumer after reconnect failed", slog.String("name", s.Name), slog.Any("error", err))
				}
			}
			c.runReconnectHooks(ctx)
			errCh = c.connection().NotifyClose(make(chan *amqp.Error, 1))
		}
	}
}

func (c *Client) runReconnectHooks(ctx context.Context) {
	c.hooksMu.Lock()
	hooks := append([]func(context.Context) error(nil), c.onReconnect...)
	c.hooksMu.Unlock()
	for _, fn := range hooks {
		if err := fn(ctx); err != nil {
			c.logger.Error("reconnect hook failed", slog.Any("error", err))
		}
	}
}

// startConsumer opens a dedicated channel and runs the delivery loop.
func (c *Client) startConsumer(ctx context.Context, spec ConsumerSpec) error {
	ch, err := c.connection().Channel()
	if err != nil {
		return err
	}

	pf := spec.Prefetch
	if pf <= 0 {
		pf = c.config.ConsumerPrefetch
		if pf <= 0 {
			pf = 1
		}
	}
	if err := ch.Qos(pf, 0, false); err != nil {
		_ = ch.Close()
		return err
	}

	retry := c.retryFor(spec.Queue)
	if err := declareQueueTopology(ch, QueueTopology{Name: spec.Queue, Retry: retry}); err != nil {
		_ = ch.Close()
		return err
	}

	msgs, err := ch.Consume(spec.Queue, spec.Name, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}

	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))
	s := &settler{
		spec:     spec,
		retry:    retry,
		pub:      ch,
		logger:   c.logger,
		observer: c.config.Observer,
	}

	c.consumerWG.Add(1)
	go func() {
		defer c.consumerWG.Done()
		for {
			select {
			case <-ctx.Done():
				_ = ch.Close()
				return

			case <-closeCh:
				// best-effort drain pending deliveries to requeue faster
			drain:
				for {
					select {
					case d, ok := <-msgs:
						if !ok {
							break drain
						}
						_ = d.Nack(false, true)
					default:
						break drain
					}
				}
				select {
				case c.consumerClosed <- spec.Name:
				default:
				}
				_ = ch.Close()
				return

			case d, ok := <-msgs:
				if !ok {
					_ = ch.Close()
					return
				}
				s.handle(ctx, d)
			}
		}
	}()

	c.logger.Info("consumer started", slog.String("name", spec.Name), slog.String("queue", spec.Queue), slog.Int("prefetch", pf))
	return nil
}

// reconnect replaces the connection and publisher pool and re-declares the
// queue topology.
func (c *Client) reconnect(ctx context.Context) error {
	const op = "rabbitmq.reconnect"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		c.pool.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}

	dial := c.config.Dialer
	if dial == nil {
		dial = func(_ context.Context, u string) (*amqp.Connection, error) { return amqp.Dial(u) }
	}
	conn, err := dial(ctx, c.config.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	tempCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := c.setupTopology(tempCh); err != nil {
		_ = tempCh.Close()
		_ = conn.Close()
		return fmt.Errorf("declare topology: %w", err)
	}
	_ = tempCh.Close()

	pool, err := NewChannelPool(conn, c.config.PublishPoolSize)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("new pool: %w", err)
	}

	c.conn = conn
	c.pool = pool
	c.logger.With("op", op).Info("reconnected")
	return nil
}
