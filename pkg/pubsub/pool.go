package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	errPoolClosed = errors.New("channel pool closed")
	errConnClosed = errors.New("amqp connection closed")
)

// ChannelPool keeps a bounded number of publisher channels alive. Every
// channel it hands out is in confirm mode.
// Invariant: len(permits) == total channels (idle + borrowed) <= capacity.
type ChannelPool struct {
	conn     *amqp.Connection
	idle     chan *amqp.Channel
	capacity int

	closed  atomic.Bool
	newChMu sync.Mutex
	permits chan struct{}
}

func NewChannelPool(conn *amqp.Connection, capacity int) (*ChannelPool, error) {
	if conn == nil {
		return nil, errConnClosed
	}
	if capacity <= 0 {
		capacity = 16
	}
	return &ChannelPool{
		conn:     conn,
		idle:     make(chan *amqp.Channel, capacity),
		capacity: capacity,
		permits:  make(chan struct{}, capacity),
	}, nil
}

func (cp *ChannelPool) Borrow(ctx context.Context, retryDelayMs int) (*amqp.Channel, error) {
	if cp.closed.Load() {
		return nil, errPoolClosed
	}
	delay := time.Duration(retryDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ch, ok := <-cp.idle:
			if !ok {
				return nil, errPoolClosed
			}
			if cp.conn.IsClosed() || ch.IsClosed() {
				_ = SafeClose(ch)
				nch, err := cp.openConfirmChannel()
				if err != nil {
					<-cp.permits
					if errors.Is(err, errConnClosed) {
						return nil, err
					}
					time.Sleep(delay)
					continue
				}
				return nch, nil
			}
			return ch, nil

		default:
			if cp.conn.IsClosed() {
				return nil, errConnClosed
			}
			select {
			case cp.permits <- struct{}{}:
				nch, err := cp.openConfirmChannel()
				if err != nil {
					<-cp.permits
					time.Sleep(delay)
					continue
				}
				return nch, nil

			case <-ctx.Done():
				return nil, ctx.Err()

			case <-time.After(delay):
			}
		}
	}
}

func (cp *ChannelPool) Return(ch *amqp.Channel) {
	if ch == nil {
		return
	}
	if cp.closed.Load() || cp.conn.IsClosed() || ch.IsClosed() {
		_ = SafeClose(ch)
		cp.releasePermit()
		return
	}
	select {
	case cp.idle <- ch:
	default:
		_ = SafeClose(ch)
		cp.releasePermit()
	}
}

// Discard closes a borrowed channel that must not be reused, e.g. after a
// publish whose confirm never arrived.
func (cp *ChannelPool) Discard(ch *amqp.Channel) {
	_ = SafeClose(ch)
	cp.releasePermit()
}

func (cp *ChannelPool) Close() {
	if cp.closed.Swap(true) {
		return
	}
	close(cp.idle)
	for ch := range cp.idle {
		_ = SafeClose(ch)
		cp.releasePermit()
	}
}

func (cp *ChannelPool) releasePermit() {
	select {
	case <-cp.permits:
	default:
	}
}

func (cp *ChannelPool) openConfirmChannel() (*amqp.Channel, error) {
	cp.newChMu.Lock()
	defer cp.newChMu.Unlock()
	if cp.conn.IsClosed() {
		return nil, errConnClosed
	}
	ch, err := cp.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = SafeClose(ch)
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	return ch, nil
}
