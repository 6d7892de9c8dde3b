package producer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/roboricindustries/chat-ingest/pkg/pubsub/pubsubtest"
	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
	"github.com/roboricindustries/chat-ingest/pkg/schemas/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReplies struct {
	mu        sync.Mutex
	waiters   map[string]chan amqp.Delivery
	cancelled []string
}

func newFakeReplies() *fakeReplies {
	return &fakeReplies{waiters: make(map[string]chan amqp.Delivery)}
}

func (f *fakeReplies) Register(cid string) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := make(chan amqp.Delivery, 1)
	f.waiters[cid] = w
	return w, nil
}

func (f *fakeReplies) Cancel(cid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.waiters, cid)
	f.cancelled = append(f.cancelled, cid)
}

func (f *fakeReplies) Name() string { return "amq.gen-test" }

func (f *fakeReplies) reply(t *testing.T, cid string, r chat.Reply) {
	t.Helper()
	body, err := json.Marshal(common.GenericEnvelope[chat.Reply]{Meta: common.Meta{ID: "r", CorrelationID: cid}, Data: r})
	require.NoError(t, err)
	f.mu.Lock()
	w := f.waiters[cid]
	f.mu.Unlock()
	require.NotNil(t, w)
	w <- amqp.Delivery{CorrelationId: cid, Body: body}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func textEvent() chat.RawEvent {
	return chat.RawEvent{
		ID:        chat.MessageID{ID: "ABC", Serialized: "false_111@c.us_ABC"},
		From:      "111@c.us",
		Type:      "chat",
		Body:      "hello",
		Timestamp: 1700000000,
	}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes to new-message with reply queue", func(t *testing.T) {
		pub := &pubsubtest.Publisher{}
		replies := newFakeReplies()
		p := New(pub, replies, Options{ReplyTimeout: time.Second}, discard())

		pending, err := p.Publish(ctx, textEvent())
		require.NoError(t, err)

		msgs := pub.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, chat.QueueNewMessage, msgs[0].Queue)
		assert.Equal(t, "amq.gen-test", msgs[0].ReplyTo)
		assert.Equal(t, pending.CorrelationID, msgs[0].Env.Meta.CorrelationID)
		assert.Equal(t, "false_111@c.us_ABC", msgs[0].Env.Meta.ID)
		assert.Equal(t, chat.EventTypeMessage, msgs[0].Env.Meta.Type)

		replies.reply(t, pending.CorrelationID, chat.Reply{RecordID: "111-ABC", Status: chat.ReplyStored})
		got, err := pending.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, chat.ReplyStored, got.Status)
		assert.Equal(t, "111-ABC", got.RecordID)
		assert.Equal(t, pending.CorrelationID, got.CorrelationID)
		assert.Contains(t, replies.cancelled, pending.CorrelationID)
	})

	t.Run("correlation ids are unique", func(t *testing.T) {
		p := New(&pubsubtest.Publisher{}, newFakeReplies(), Options{}, discard())
		a, err := p.Publish(ctx, textEvent())
		require.NoError(t, err)
		b, err := p.Publish(ctx, textEvent())
		require.NoError(t, err)
		assert.NotEqual(t, a.CorrelationID, b.CorrelationID)
	})

	t.Run("wait times out and deregisters", func(t *testing.T) {
		replies := newFakeReplies()
		p := New(&pubsubtest.Publisher{}, replies, Options{ReplyTimeout: 20 * time.Millisecond}, discard())
		pending, err := p.Publish(ctx, textEvent())
		require.NoError(t, err)

		_, err = pending.Wait(ctx)
		assert.ErrorIs(t, err, ErrReplyTimeout)
		assert.Equal(t, []string{pending.CorrelationID}, replies.cancelled)
	})

	t.Run("publish failure releases waiter", func(t *testing.T) {
		replies := newFakeReplies()
		pub := &pubsubtest.Publisher{Err: errors.New("broker down")}
		p := New(pub, replies, Options{}, discard())
		_, err := p.Publish(ctx, textEvent())
		assert.Error(t, err)
		assert.Len(t, replies.cancelled, 1)
	})

	t.Run("invalid event is rejected before publish", func(t *testing.T) {
		pub := &pubsubtest.Publisher{}
		p := New(pub, newFakeReplies(), Options{}, discard())
		_, err := p.Publish(ctx, chat.RawEvent{Type: "chat"})
		assert.ErrorIs(t, err, chat.ErrInvalidContract)
		assert.Empty(t, pub.Messages())
	})

	t.Run("no reply queue", func(t *testing.T) {
		p := New(&pubsubtest.Publisher{}, nil, Options{}, discard())
		pending, err := p.Publish(ctx, textEvent())
		require.NoError(t, err)
		_, err = pending.Wait(ctx)
		assert.ErrorIs(t, err, ErrNoReplies)
	})
}

func TestPublishEdit(t *testing.T) {
	pub := &pubsubtest.Publisher{}
	p := New(pub, newFakeReplies(), Options{}, discard())

	require.NoError(t, p.PublishEdit(context.Background(), textEvent(), "hello", "hello there"))
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.QueueEditMessage, msgs[0].Queue)
	assert.Empty(t, msgs[0].ReplyTo)

	edit, ok := msgs[0].Env.Data.(chat.EditEvent)
	require.True(t, ok)
	assert.Equal(t, "hello there", edit.NewBody)
	assert.Equal(t, "hello", edit.PrevBody)
}

func TestRelease(t *testing.T) {
	replies := newFakeReplies()
	p := New(&pubsubtest.Publisher{}, replies, Options{}, discard())
	pending, err := p.Publish(context.Background(), textEvent())
	require.NoError(t, err)

	pending.Release()
	pending.Release()
	assert.Equal(t, []string{pending.CorrelationID}, replies.cancelled)
}
