package pubsub

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// queueDeclarer is the subset of *amqp.Channel used to declare topology.
type queueDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declareQueueTopology declares a durable work queue on the default exchange.
// With retry enabled the queue dead-letters into <q>.dead (fanout), whose
// queue holds messages for TTL and dead-letters them back to <q>. A final
// fanout + queue keeps exhausted and poison messages.
func declareQueueTopology(ch queueDeclarer, q QueueTopology) error {
	mainArgs := amqp.Table{}
	if q.Retry.active() {
		mainArgs["x-dead-letter-exchange"] = q.Retry.deadExchange(q.Name)
	}
	if _, err := ch.QueueDeclare(q.Name, true, false, false, false, mainArgs); err != nil {
		return err
	}

	if q.Retry.active() {
		deadEx := q.Retry.deadExchange(q.Name)
		deadQ := q.Retry.deadQueue(q.Name)
		if err := ch.ExchangeDeclare(deadEx, "fanout", true, false, false, false, nil); err != nil {
			return err
		}
		ttl := q.Retry.TTL
		if ttl <= 0 {
			ttl = 10 * time.Second
		}
		dArgs := amqp.Table{
			"x-message-ttl":             int32(ttl / time.Millisecond),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": q.Name,
		}
		if _, err := ch.QueueDeclare(deadQ, true, false, false, false, dArgs); err != nil {
			return err
		}
		if err := ch.QueueBind(deadQ, "", deadEx, false, nil); err != nil {
			return err
		}
	}

	if q.Retry != nil {
		finalEx := q.Retry.finalExchange(q.Name)
		finalQ := q.Retry.finalQueue(q.Name)
		if err := ch.ExchangeDeclare(finalEx, "fanout", true, false, false, false, nil); err != nil {
			return err
		}
		if _, err := ch.QueueDeclare(finalQ, true, false, false, false, nil); err != nil {
			return err
		}
		if err := ch.QueueBind(finalQ, "", finalEx, false, nil); err != nil {
			return err
		}
	}
	return nil
}
