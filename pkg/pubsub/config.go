package pubsub

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig defines client config and topology defaults
type RabbitMQConfig struct {
	URL                         string
	AppID                       string
	PublishPoolSize             int
	ConsumerPrefetch            int
	ConnTimeoutSeconds          int
	ConfirmTimeoutSeconds       int
	PoolRetryDelayMs            int
	ReconnectBackoffBaseSeconds int
	ReconnectBackoffCapSeconds  int
	ReconnectJitterPercent      int

	// DialAttempts > 1 makes the startup dial retry with exponential backoff.
	DialAttempts int
	DialDelay    time.Duration

	Dialer func(ctx context.Context, url string) (*amqp.Connection, error)

	// Queues are declared by every process on startup so that producers and
	// consumers agree on arguments (a mismatch is a channel error).
	Queues []QueueTopology

	// Observer receives settle outcomes; nil disables.
	Observer Observer
}

// QueueTopology describes a durable work queue on the default exchange.
type QueueTopology struct {
	Name  string
	Retry *RetrySpec
}

// RetrySpec configures the DLX-based retry pipeline.
type RetrySpec struct {
	Enabled     bool
	TTL         time.Duration
	MaxAttempts int

	DeadExchange  string
	DeadQueue     string
	FinalExchange string
	FinalQueue    string
}

func (r *RetrySpec) deadExchange(queue string) string {
	if r != nil && r.DeadExchange != "" {
		return r.DeadExchange
	}
	return queue + ".dead"
}

func (r *RetrySpec) deadQueue(queue string) string {
	if r != nil && r.DeadQueue != "" {
		return r.DeadQueue
	}
	return queue + ".dead"
}

func (r *RetrySpec) finalExchange(queue string) string {
	if r != nil && r.FinalExchange != "" {
		return r.FinalExchange
	}
	return queue + ".final"
}

func (r *RetrySpec) finalQueue(queue string) string {
	if r != nil && r.FinalQueue != "" {
		return r.FinalQueue
	}
	return queue + ".final"
}

func (r *RetrySpec) active() bool { return r != nil && r.Enabled }
