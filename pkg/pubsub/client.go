package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client owns one AMQP connection, a confirm-mode publisher channel pool and
// the consumers started through RunWithConsumers. NewClient returns only
// after the connection is up and the queue topology is declared, so every
// publish and consume sees an initialized client.
type Client struct {
	mu     sync.RWMutex
	conn   *amqp.Connection
	pool   *ChannelPool
	config RabbitMQConfig
	logger *slog.Logger

	consumerWG     sync.WaitGroup
	consumerClosed chan string
	consumerSpecs  map[string]ConsumerSpec

	hooksMu     sync.Mutex
	onReconnect []func(ctx context.Context) error
}

func (c *Client) Config() RabbitMQConfig { return c.config }

func NewClient(ctx context.Context, config RabbitMQConfig, logger *slog.Logger) (*Client, error) {
	const op = "rabbitmq.NewClient"

	if config.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	u, _ := url.Parse(config.URL)
	host := ""
	if u != nil {
		host = u.Host
	}
	logger.With("op", op).Info("connecting to rabbitmq", slog.String("host", host))

	timeoutSec := config.ConnTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	client := &Client{
		config: config,
		logger: logger,
	}
	conn, err := client.dial(dialCtx)
	if err != nil {
		logger.With("op", op).Error("dial failed", slog.Any("error", err))
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	client.conn = conn

	tempCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := client.setupTopology(tempCh); err != nil {
		_ = tempCh.Close()
		_ = client.Close()
		return nil, err
	}
	_ = tempCh.Close()

	pool, err := NewChannelPool(conn, config.PublishPoolSize)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create channel pool: %w", err)
	}
	client.pool = pool

	logger.With("op", op).Info("client ready")
	return client, nil
}

func (c *Client) dial(ctx context.Context) (*amqp.Connection, error) {
	if c.config.Dialer != nil {
		return c.config.Dialer(ctx, c.config.URL)
	}
	return DialWithRetry(ctx, ConnectionOptions{
		URL:           c.config.URL,
		RetryAttempts: c.config.DialAttempts,
		Delay:         c.config.DialDelay,
		Logger:        c.logger,
	})
}

// setupTopology declares every configured work queue together with its
// retry and final stages.
func (c *Client) setupTopology(ch *amqp.Channel) error {
	for _, q := range c.config.Queues {
		if q.Name == "" {
			continue
		}
		if err := declareQueueTopology(ch, q); err != nil {
			return fmt.Errorf("declare queue %q: %w", q.Name, err)
		}
	}
	return nil
}

// OnReconnect registers fn to run after the connection has been re-established
// and consumers restarted. Exclusive reply queues use it to re-declare themselves.
func (c *Client) OnReconnect(fn func(ctx context.Context) error) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

func (c *Client) connection() *amqp.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) channelPool() *ChannelPool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool
}

// Close stops consumers, closes pool and connection.
func (c *Client) Close() error {
	done := make(chan struct{})
	go func() {
		c.consumerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
