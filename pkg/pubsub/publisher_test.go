package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/roboricindustries/chat-ingest/pkg/schemas/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublishing(t *testing.T) {
	t.Run("requires id", func(t *testing.T) {
		_, err := newPublishing(common.Envelope{}, "gw", publishOptions{})
		assert.Error(t, err)
	})

	t.Run("fills defaults", func(t *testing.T) {
		env := common.Envelope{Meta: common.Meta{ID: "m-1", Type: "chat.message.v1"}, Data: map[string]string{"a": "b"}}
		msg, err := newPublishing(env, "gateway", publishOptions{replyTo: "amq.gen-x"})
		require.NoError(t, err)

		assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
		assert.Equal(t, "m-1", msg.MessageId)
		assert.Equal(t, "m-1", msg.CorrelationId)
		assert.Equal(t, "amq.gen-x", msg.ReplyTo)
		assert.Equal(t, "gateway", msg.AppId)
		assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Minute)

		var decoded common.Envelope
		require.NoError(t, json.Unmarshal(msg.Body, &decoded))
		assert.Equal(t, "gateway", decoded.Meta.Producer)
	})

	t.Run("keeps explicit correlation id", func(t *testing.T) {
		env := common.Envelope{Meta: common.Meta{ID: "m-1", CorrelationID: "c-9"}}
		msg, err := newPublishing(env, "", publishOptions{})
		require.NoError(t, err)
		assert.Equal(t, "c-9", msg.CorrelationId)
	})
}

func TestFallbackPublisher(t *testing.T) {
	p := NewFallback(discardLogger())
	assert.NoError(t, p.Publish(context.Background(), "new-message", common.Envelope{}, WithReplyTo("x")))
	assert.NoError(t, p.Close())
	assert.Equal(t, "x", ReplyToOf(WithReplyTo("x")))
}
