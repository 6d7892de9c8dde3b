package config

import (
	"github.com/roboricindustries/chat-ingest/pkg/pubsub"
	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
)

// RabbitMQ maps the broker settings onto the client configuration. Both work
// queues get a final queue; the dead-letter retry stage follows RetryEnabled.
func (b Broker) RabbitMQ(appID string, observer pubsub.Observer) pubsub.RabbitMQConfig {
	queues := make([]pubsub.QueueTopology, 0, 2)
	for _, q := range []string{chat.QueueNewMessage, chat.QueueEditMessage} {
		queues = append(queues, pubsub.QueueTopology{
			Name: q,
			Retry: &pubsub.RetrySpec{
				Enabled:     b.RetryEnabled,
				TTL:         b.RetryTTL,
				MaxAttempts: b.MaxAttempts,
			},
		})
	}
	return pubsub.RabbitMQConfig{
		URL:                   b.URL,
		AppID:                 appID,
		PublishPoolSize:       b.PublishPoolSize,
		ConsumerPrefetch:      b.Prefetch,
		ConfirmTimeoutSeconds: b.ConfirmTimeoutSeconds,
		DialAttempts:          b.DialAttempts,
		DialDelay:             b.DialDelay,
		Queues:                queues,
		Observer:              observer,
	}
}
