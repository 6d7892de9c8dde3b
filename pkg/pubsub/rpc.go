package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrDuplicateCorrelation = errors.New("correlation id already pending")

// ReplyQueue is a private, server-named queue on which a publisher receives
// replies. Waiters are keyed by correlation id and must be registered before
// the request is published.
type ReplyQueue struct {
	client *Client
	logger *slog.Logger

	mu      sync.Mutex
	name    string
	ch      *amqp.Channel
	waiters map[string]chan amqp.Delivery
	closed  bool
}

func newReplyQueue(logger *slog.Logger) *ReplyQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyQueue{
		logger:  logger,
		waiters: make(map[string]chan amqp.Delivery),
	}
}

// NewReplyQueue declares an exclusive auto-delete queue and starts the reply
// listener. The queue is re-declared after every reconnect, so Name may
// change over the client's lifetime.
func (c *Client) NewReplyQueue(ctx context.Context) (*ReplyQueue, error) {
	rq := newReplyQueue(c.logger)
	rq.client = c
	if err := rq.bind(ctx); err != nil {
		return nil, err
	}
	c.OnReconnect(rq.bind)
	return rq, nil
}

func (rq *ReplyQueue) bind(_ context.Context) error {
	ch, err := rq.client.connection().Channel()
	if err != nil {
		return fmt.Errorf("open reply channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = SafeClose(ch)
		return fmt.Errorf("declare reply queue: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = SafeClose(ch)
		return fmt.Errorf("consume reply queue: %w", err)
	}

	rq.mu.Lock()
	old := rq.ch
	rq.ch = ch
	rq.name = q.Name
	rq.mu.Unlock()
	_ = SafeClose(old)

	go rq.listen(msgs)
	rq.logger.Info("reply queue ready", slog.String("queue", q.Name))
	return nil
}

func (rq *ReplyQueue) listen(msgs <-chan amqp.Delivery) {
	for d := range msgs {
		rq.dispatch(d)
	}
}

// dispatch hands d to its waiter. Unknown correlation ids are dropped.
func (rq *ReplyQueue) dispatch(d amqp.Delivery) bool {
	rq.mu.Lock()
	w, ok := rq.waiters[d.CorrelationId]
	if ok {
		delete(rq.waiters, d.CorrelationId)
	}
	rq.mu.Unlock()

	if !ok {
		rq.logger.Warn("reply with unknown correlation id dropped", slog.String("correlation_id", d.CorrelationId))
		return false
	}
	w <- d
	return true
}

// Register creates the waiter for correlationID. The returned channel
// receives at most one delivery.
func (rq *ReplyQueue) Register(correlationID string) (<-chan amqp.Delivery, error) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if rq.closed {
		return nil, errors.New("reply queue closed")
	}
	if _, ok := rq.waiters[correlationID]; ok {
		return nil, ErrDuplicateCorrelation
	}
	w := make(chan amqp.Delivery, 1)
	rq.waiters[correlationID] = w
	return w, nil
}

// Cancel removes a waiter; a reply arriving later is dropped.
func (rq *ReplyQueue) Cancel(correlationID string) {
	rq.mu.Lock()
	delete(rq.waiters, correlationID)
	rq.mu.Unlock()
}

func (rq *ReplyQueue) Pending() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return len(rq.waiters)
}

func (rq *ReplyQueue) Name() string {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.name
}

func (rq *ReplyQueue) Close() error {
	rq.mu.Lock()
	rq.closed = true
	ch := rq.ch
	rq.ch = nil
	rq.waiters = make(map[string]chan amqp.Delivery)
	rq.mu.Unlock()
	return SafeClose(ch)
}
