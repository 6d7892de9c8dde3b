// Package pubsubtest provides in-memory stand-ins for broker plumbing.
package pubsubtest

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/roboricindustries/chat-ingest/pkg/pubsub"
	"github.com/roboricindustries/chat-ingest/pkg/schemas/common"
)

// Acknowledger records how deliveries were settled.
type Acknowledger struct {
	mu       sync.Mutex
	Acks     []uint64
	Nacks    []uint64
	Requeued []bool
	Rejects  []uint64
}

func (a *Acknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Acks = append(a.Acks, tag)
	return nil
}

func (a *Acknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Nacks = append(a.Nacks, tag)
	a.Requeued = append(a.Requeued, requeue)
	return nil
}

func (a *Acknowledger) Reject(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Rejects = append(a.Rejects, tag)
	return nil
}

// Delivery builds a delivery settled through a.
func (a *Acknowledger) Delivery(tag uint64, body []byte) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: a,
		DeliveryTag:  tag,
		ContentType:  "application/json",
		Body:         body,
	}
}

type Published struct {
	Queue   string
	Env     common.Envelope
	ReplyTo string
}

// Publisher captures published envelopes. Err, when set, is returned from
// every Publish.
type Publisher struct {
	mu   sync.Mutex
	Msgs []Published
	Err  error
}

func (p *Publisher) Publish(_ context.Context, queue string, env common.Envelope, opts ...pubsub.PublishOption) error {
	if p.Err != nil {
		return p.Err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Msgs = append(p.Msgs, Published{Queue: queue, Env: env, ReplyTo: pubsub.ReplyToOf(opts...)})
	return nil
}

func (p *Publisher) Close() error { return nil }

func (p *Publisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.Msgs...)
}
