package pubsub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAck struct {
	acks     int
	nacks    int
	requeued []bool
}

func (f *fakeAck) Ack(uint64, bool) error { f.acks++; return nil }
func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeued = append(f.requeued, requeue)
	return nil
}
func (f *fakeAck) Reject(uint64, bool) error { return nil }

type captured struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	msgs []captured
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, captured{exchange, key, msg})
	return nil
}

type recordingObserver struct{ outcomes []Outcome }

func (r *recordingObserver) Settled(_ string, o Outcome, _ time.Duration) {
	r.outcomes = append(r.outcomes, o)
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSettler(retry *RetrySpec, poisonToFinal bool, consume func(context.Context, amqp.Delivery) error) (*settler, *fakeChannel, *recordingObserver) {
	ch := &fakeChannel{}
	obs := &recordingObserver{}
	return &settler{
		spec: ConsumerSpec{
			Name:          "test",
			Queue:         "new-message",
			PoisonToFinal: poisonToFinal,
			Consume:       consume,
		},
		retry:    retry,
		pub:      ch,
		logger:   discardLogger(),
		observer: obs,
	}, ch, obs
}

func TestSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("success acks", func(t *testing.T) {
		s, _, obs := newSettler(nil, false, func(context.Context, amqp.Delivery) error { return nil })
		ack := &fakeAck{}
		out := s.handle(ctx, amqp.Delivery{Acknowledger: ack, DeliveryTag: 1})
		assert.Equal(t, OutcomeAck, out)
		assert.Equal(t, 1, ack.acks)
		assert.Equal(t, 0, ack.nacks)
		assert.Equal(t, []Outcome{OutcomeAck}, obs.outcomes)
	})

	t.Run("handler error without retry requeues", func(t *testing.T) {
		s, _, _ := newSettler(nil, false, func(context.Context, amqp.Delivery) error { return errors.New("store down") })
		ack := &fakeAck{}
		out := s.handle(ctx, amqp.Delivery{Acknowledger: ack, DeliveryTag: 1})
		assert.Equal(t, OutcomeRequeue, out)
		assert.Equal(t, 0, ack.acks)
		assert.Equal(t, []bool{true}, ack.requeued)
	})

	t.Run("handler error with retry dead-letters", func(t *testing.T) {
		retry := &RetrySpec{Enabled: true, TTL: time.Second, MaxAttempts: 3}
		s, _, _ := newSettler(retry, false, func(context.Context, amqp.Delivery) error { return errors.New("boom") })
		ack := &fakeAck{}
		out := s.handle(ctx, amqp.Delivery{Acknowledger: ack, DeliveryTag: 1})
		assert.Equal(t, OutcomeRetry, out)
		assert.Equal(t, []bool{false}, ack.requeued)
	})

	t.Run("exhausted retries go to final queue", func(t *testing.T) {
		retry := &RetrySpec{Enabled: true, TTL: time.Second, MaxAttempts: 3}
		called := false
		s, ch, _ := newSettler(retry, false, func(context.Context, amqp.Delivery) error { called = true; return nil })
		ack := &fakeAck{}
		d := amqp.Delivery{
			Acknowledger:  ack,
			DeliveryTag:   7,
			Body:          []byte(`{}`),
			ReplyTo:       "amq.gen-1",
			CorrelationId: "c-1",
			Headers: amqp.Table{"x-death": []any{
				amqp.Table{"queue": "new-message", "count": int64(3)},
			}},
		}
		out := s.handle(ctx, d)
		assert.Equal(t, OutcomeExhausted, out)
		assert.False(t, called)
		assert.Equal(t, 1, ack.acks)
		require.Len(t, ch.msgs, 1)
		assert.Equal(t, "new-message.final", ch.msgs[0].exchange)
		assert.Equal(t, "amq.gen-1", ch.msgs[0].msg.ReplyTo)
		assert.Equal(t, "c-1", ch.msgs[0].msg.CorrelationId)
	})

	t.Run("final publish failure requeues", func(t *testing.T) {
		retry := &RetrySpec{Enabled: true, MaxAttempts: 1}
		s, ch, _ := newSettler(retry, false, func(context.Context, amqp.Delivery) error { return nil })
		ch.err = errors.New("channel closed")
		ack := &fakeAck{}
		d := amqp.Delivery{Acknowledger: ack, Headers: amqp.Table{"x-death": []any{
			amqp.Table{"queue": "new-message", "count": int64(1)},
		}}}
		assert.Equal(t, OutcomeRequeue, s.handle(ctx, d))
		assert.Equal(t, []bool{true}, ack.requeued)
	})

	t.Run("poison is acked and copied when configured", func(t *testing.T) {
		retry := &RetrySpec{Enabled: true, MaxAttempts: 3}
		s, ch, _ := newSettler(retry, true, JSONHandler(func(context.Context, amqp.Delivery, map[string]any) error {
			return nil
		}))
		ack := &fakeAck{}
		out := s.handle(ctx, amqp.Delivery{Acknowledger: ack, Body: []byte("not json")})
		assert.Equal(t, OutcomePoison, out)
		assert.Equal(t, 1, ack.acks)
		require.Len(t, ch.msgs, 1)
		assert.Equal(t, "new-message.final", ch.msgs[0].exchange)
	})

	t.Run("poison without final queue is only acked", func(t *testing.T) {
		s, ch, _ := newSettler(nil, true, func(context.Context, amqp.Delivery) error { return ErrPoison })
		ack := &fakeAck{}
		assert.Equal(t, OutcomePoison, s.handle(ctx, amqp.Delivery{Acknowledger: ack}))
		assert.Equal(t, 1, ack.acks)
		assert.Empty(t, ch.msgs)
	})

	t.Run("handler timeout applies", func(t *testing.T) {
		s, _, _ := newSettler(nil, false, func(ctx context.Context, _ amqp.Delivery) error {
			<-ctx.Done()
			return ctx.Err()
		})
		s.spec.Timeout = 10 * time.Millisecond
		ack := &fakeAck{}
		assert.Equal(t, OutcomeRequeue, s.handle(ctx, amqp.Delivery{Acknowledger: ack}))
	})
}

func TestJSONHandler(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	var got payload
	h := JSONHandler(func(_ context.Context, _ amqp.Delivery, p payload) error {
		got = p
		return nil
	})

	err := h(context.Background(), amqp.Delivery{Body: []byte(`{"meta":{"id":"1","time":"2024-01-01T00:00:00Z","type":"t"},"data":{"name":"x"}}`)})
	require.NoError(t, err)
	assert.Equal(t, "x", got.Name)

	err = h(context.Background(), amqp.Delivery{Body: []byte(`{`)})
	assert.ErrorIs(t, err, ErrPoison)
}
