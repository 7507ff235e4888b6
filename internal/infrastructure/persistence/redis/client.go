// Package redis implements the Redis-backed event queue, pending-flush
// tracking, and score history for the cognitive load pipeline.
//
// Key components:
//   - Client: connection management and pub/sub access
//   - EventQueue: durable per-session event buffers (lists)
//   - ScoreHistory: rolling score history and baseline statistics (sorted sets)
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration

	// PoolTimeout is the timeout for getting a connection from the pool.
	PoolTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrConnection is returned when the Redis connection fails.
	ErrConnection = errors.New("redis: connection failed")

	// ErrSerialization is returned when serialization/deserialization fails.
	ErrSerialization = errors.New("redis: serialization failed")

	// ErrKeyEmpty is returned when an empty key component is provided.
	ErrKeyEmpty = errors.New("redis: key cannot be empty")

	// ErrNotFound is returned when the requested data does not exist.
	ErrNotFound = errors.New("redis: not found")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS AND TTLs
// ══════════════════════════════════════════════════════════════════════════════

// Key prefixes for namespacing Redis keys.
const (
	// PrefixBehavior is the prefix for per-session event queues.
	PrefixBehavior = "behavior:"

	// PrefixHistory is the prefix for per-student score history.
	PrefixHistory = "clr:"

	// KeyPendingFlush is the set of sessions awaiting a flush sweep.
	KeyPendingFlush = "sessions:pending_flush"

	// ChannelScoreUpdates is the pub/sub channel for published scores.
	ChannelScoreUpdates = "clr:updates"

	// ChannelMoodAdjustments is the pub/sub channel for inbound mood signals.
	ChannelMoodAdjustments = "mood:adjustments"
)

// TTL values for pipeline data.
const (
	// TTLEventQueue keeps an orphaned session queue around long enough for
	// the scheduler to sweep it after a crash.
	TTLEventQueue = 1 * time.Hour

	// TTLHistory bounds how far back score history is retained.
	TTLHistory = 30 * 24 * time.Hour

	// BaselineWindow is the lookback for baseline statistics.
	BaselineWindow = 7 * 24 * time.Hour
)

// BehaviorKey generates the event queue key for a session.
func BehaviorKey(sessionID string) string {
	return PrefixBehavior + sessionID
}

// HistoryKey generates the score history key for a student.
func HistoryKey(studentID string) string {
	return PrefixHistory + studentID
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client wraps the Redis connection shared by the queue, history, and
// pub/sub components.
type Client struct {
	rdb    *redis.Client
	config Config
}

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	return &Client{
		rdb:    rdb,
		config: cfg,
	}, nil
}

// Raw returns the underlying Redis client for advanced operations.
// Prefer the typed components when possible.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish serializes a message to JSON and publishes it to a channel.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	if channel == "" {
		return ErrKeyEmpty
	}

	data, err := marshalJSON(message)
	if err != nil {
		return err
	}

	return c.rdb.Publish(ctx, channel, data).Err()
}

// Subscribe creates a subscription to channels.
// Remember to call Close() on the returned PubSub when done.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}
