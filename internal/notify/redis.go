package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vitalis-labs/service_layer/internal/logging"
)

// Publisher is the subset of the redis client used for fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes notifications as JSON on a per-user channel so that
// connected clients subscribed to "<prefix>:<user_id>" receive them.
// Publishing happens on a background worker fed by a bounded queue; when the
// queue is full new notifications are dropped.
type RedisNotifier struct {
	client  Publisher
	prefix  string
	timeout time.Duration
	logger  *logging.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan publishRequest
	done   chan struct{}
}

type publishRequest struct {
	ctx     context.Context
	channel string
	payload []byte
}

// defaultQueueSize bounds the notifications waiting for redis.
const defaultQueueSize = 256

// RedisConfig configures the redis notifier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisClient opens a client and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisNotifier creates a notifier publishing through client and starts
// its worker. Close stops it.
func NewRedisNotifier(client Publisher, prefix string, logger *logging.Logger) *RedisNotifier {
	return newRedisNotifier(client, prefix, logger, defaultQueueSize)
}

func newRedisNotifier(client Publisher, prefix string, logger *logging.Logger, size int) *RedisNotifier {
	if prefix == "" {
		prefix = "notifications"
	}
	n := &RedisNotifier{
		client:  client,
		prefix:  prefix,
		timeout: 2 * time.Second,
		logger:  logger,
		queue:   make(chan publishRequest, size),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

// Channel returns the channel a user's notifications are published on.
func (n *RedisNotifier) Channel(userID string) string {
	return n.prefix + ":" + userID
}

// Notify implements Notifier. It only enqueues; publish failures are logged
// and dropped by the worker.
func (n *RedisNotifier) Notify(ctx context.Context, note Notification) {
	if note.UserID == "" {
		return
	}
	payload, err := json.Marshal(note)
	if err != nil {
		n.logger.WithContext(ctx).WithError(err).Warn("marshal notification")
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	req := publishRequest{ctx: context.WithoutCancel(ctx), channel: n.Channel(note.UserID), payload: payload}
	select {
	case n.queue <- req:
	default:
		n.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"channel": req.channel,
		}).Warn("notification queue full, dropping")
	}
}

// Close stops accepting notifications and waits until the queued ones are
// published or have failed.
func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
	return nil
}

func (n *RedisNotifier) run() {
	defer close(n.done)
	for req := range n.queue {
		n.publish(req)
	}
}

func (n *RedisNotifier) publish(req publishRequest) {
	ctx, cancel := context.WithTimeout(req.ctx, n.timeout)
	defer cancel()
	if err := n.client.Publish(ctx, req.channel, req.payload).Err(); err != nil {
		n.logger.WithContext(req.ctx).WithError(err).WithFields(map[string]interface{}{
			"channel": req.channel,
		}).Warn("publish notification")
	}
}
