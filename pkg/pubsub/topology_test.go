package pubsub

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type declaredQueue struct {
	name string
	args amqp.Table
}

type fakeDeclarer struct {
	exchanges []string
	queues    []declaredQueue
	binds     [][2]string
}

func (f *fakeDeclarer) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.exchanges = append(f.exchanges, name+":"+kind)
	return nil
}

func (f *fakeDeclarer) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.queues = append(f.queues, declaredQueue{name, args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeDeclarer) QueueBind(name, _, exchange string, _ bool, _ amqp.Table) error {
	f.binds = append(f.binds, [2]string{name, exchange})
	return nil
}

func TestDeclareQueueTopology(t *testing.T) {
	t.Run("plain durable queue", func(t *testing.T) {
		f := &fakeDeclarer{}
		require.NoError(t, declareQueueTopology(f, QueueTopology{Name: "edit-message"}))
		require.Len(t, f.queues, 1)
		assert.Equal(t, "edit-message", f.queues[0].name)
		assert.Empty(t, f.queues[0].args)
		assert.Empty(t, f.exchanges)
	})

	t.Run("retry stages", func(t *testing.T) {
		f := &fakeDeclarer{}
		q := QueueTopology{Name: "new-message", Retry: &RetrySpec{Enabled: true, TTL: 5 * time.Second, MaxAttempts: 3}}
		require.NoError(t, declareQueueTopology(f, q))

		require.Len(t, f.queues, 3)
		assert.Equal(t, "new-message.dead", f.queues[0].args["x-dead-letter-exchange"])
		assert.Equal(t, "new-message.dead", f.queues[1].name)
		assert.Equal(t, int32(5000), f.queues[1].args["x-message-ttl"])
		assert.Equal(t, "", f.queues[1].args["x-dead-letter-exchange"])
		assert.Equal(t, "new-message", f.queues[1].args["x-dead-letter-routing-key"])
		assert.Equal(t, "new-message.final", f.queues[2].name)

		assert.Equal(t, []string{"new-message.dead:fanout", "new-message.final:fanout"}, f.exchanges)
		assert.Contains(t, f.binds, [2]string{"new-message.dead", "new-message.dead"})
		assert.Contains(t, f.binds, [2]string{"new-message.final", "new-message.final"})
	})

	t.Run("disabled retry keeps final queue only", func(t *testing.T) {
		f := &fakeDeclarer{}
		require.NoError(t, declareQueueTopology(f, QueueTopology{Name: "q", Retry: &RetrySpec{}}))
		require.Len(t, f.queues, 2)
		assert.Empty(t, f.queues[0].args)
		assert.Equal(t, "q.final", f.queues[1].name)
	})
}
