package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
	"github.com/learnpulse/clr-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// EventQueue stores per-session event buffers as Redis lists, oldest at the
// head. It satisfies the durable buffer's EventStore contract.
type EventQueue struct {
	client  *Client
	retrier *retry.Retrier
}

// NewEventQueue creates an EventQueue on an established client.
func NewEventQueue(client *Client) *EventQueue {
	return &EventQueue{
		client:  client,
		retrier: retry.EventStoreRetrier(),
	}
}

// Append pushes an event onto the tail of the session's queue and refreshes
// the queue TTL so orphaned sessions eventually expire. A transient push
// failure gets one quick retry before the error surfaces to the caller's
// circuit breaker.
func (q *EventQueue) Append(ctx context.Context, sessionID string, event telemetry.NormalizedEvent) error {
	if sessionID == "" {
		return ErrKeyEmpty
	}

	data, err := marshalJSON(event)
	if err != nil {
		return err
	}

	key := BehaviorKey(sessionID)
	return q.retrier.Do(ctx, func(ctx context.Context) error {
		pipe := q.client.rdb.TxPipeline()
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, TTLEventQueue)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Read returns up to maxCount events from the front of the queue, oldest
// first, without removing them.
func (q *EventQueue) Read(ctx context.Context, sessionID string, maxCount int) ([]telemetry.NormalizedEvent, error) {
	if sessionID == "" {
		return nil, ErrKeyEmpty
	}
	if maxCount <= 0 {
		return nil, nil
	}

	raw, err := q.client.rdb.LRange(ctx, BehaviorKey(sessionID), 0, int64(maxCount)-1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]telemetry.NormalizedEvent, 0, len(raw))
	for _, item := range raw {
		var event telemetry.NormalizedEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		events = append(events, event)
	}

	return events, nil
}

// Remove deletes exactly count events from the front of the queue. Events
// appended after the preceding read stay in place.
func (q *EventQueue) Remove(ctx context.Context, sessionID string, count int) error {
	if sessionID == "" {
		return ErrKeyEmpty
	}
	if count <= 0 {
		return nil
	}

	err := q.client.rdb.LPopCount(ctx, BehaviorKey(sessionID), count).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// Sessions lists session ids that currently have a non-empty queue.
func (q *EventQueue) Sessions(ctx context.Context) ([]string, error) {
	var sessions []string

	iter := q.client.rdb.Scan(ctx, 0, PrefixBehavior+"*", 100).Iterator()
	for iter.Next(ctx) {
		sessions = append(sessions, strings.TrimPrefix(iter.Val(), PrefixBehavior))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Pending returns the number of buffered events for a session.
func (q *EventQueue) Pending(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, ErrKeyEmpty
	}

	n, err := q.client.rdb.LLen(ctx, BehaviorKey(sessionID)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PENDING FLUSH SET
// ══════════════════════════════════════════════════════════════════════════════

// TTLPendingFlush bounds how long a flush flag survives if no scheduler
// sweep picks it up.
const TTLPendingFlush = 5 * time.Minute

// MarkPendingFlush flags a session for priority flush on the next tick.
func (q *EventQueue) MarkPendingFlush(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrKeyEmpty
	}

	pipe := q.client.rdb.TxPipeline()
	pipe.SAdd(ctx, KeyPendingFlush, sessionID)
	pipe.Expire(ctx, KeyPendingFlush, TTLPendingFlush)
	_, err := pipe.Exec(ctx)
	return err
}

// TakePendingFlush atomically returns and clears the set of sessions
// flagged for priority flush.
func (q *EventQueue) TakePendingFlush(ctx context.Context) ([]string, error) {
	sessions, err := q.client.rdb.SMembers(ctx, KeyPendingFlush).Result()
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	members := make([]interface{}, len(sessions))
	for i, s := range sessions {
		members[i] = s
	}
	if err := q.client.rdb.SRem(ctx, KeyPendingFlush, members...).Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// marshalJSON wraps serialization failures in the package sentinel.
func marshalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}
