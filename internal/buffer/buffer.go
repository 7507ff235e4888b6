// Package buffer implements the durable per-session event buffer with a
// circuit-breaker-guarded fallback path. Durable-store failures during append
// degrade to a bounded in-memory queue and never propagate to the submitter;
// read/remove failures propagate to the scheduler, which skips the session
// for the current tick.
package buffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
	"github.com/learnpulse/clr-hub/pkg/circuitbreaker"
	"github.com/learnpulse/clr-hub/pkg/logger"
)

// Errors.
var (
	// ErrReadFailed wraps durable-store errors during read; the caller must
	// skip the session for this tick and retry on the next.
	ErrReadFailed = errors.New("buffer: read failed")

	// ErrRemoveFailed wraps durable-store errors during removal.
	ErrRemoveFailed = errors.New("buffer: remove failed")
)

// EventStore is the durable backend for session event queues. The Redis
// implementation lives in internal/infrastructure/persistence/redis; tests
// use an in-memory fake.
type EventStore interface {
	// Append pushes an event onto the tail of the session's queue and
	// refreshes its TTL.
	Append(ctx context.Context, sessionID string, event telemetry.NormalizedEvent) error

	// Read returns up to maxCount events from the front of the queue,
	// oldest first, without removing them.
	Read(ctx context.Context, sessionID string, maxCount int) ([]telemetry.NormalizedEvent, error)

	// Remove deletes exactly count events from the front of the queue.
	// The backing key may be deleted once the queue is empty.
	Remove(ctx context.Context, sessionID string, count int) error

	// Sessions lists session ids that currently have pending events.
	Sessions(ctx context.Context) ([]string, error)

	// Pending returns the number of buffered events for a session.
	Pending(ctx context.Context, sessionID string) (int, error)
}

// Config holds durable buffer configuration.
type Config struct {
	// FallbackCapacity bounds the in-memory fallback queue; the oldest
	// entry is dropped on overflow. Default: 10000.
	FallbackCapacity int

	// OpTimeout bounds every durable-store call. A timeout is treated
	// identically to a store failure. Default: 3s.
	OpTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FallbackCapacity: 10_000,
		OpTimeout:        3 * time.Second,
	}
}

// fallbackEntry is one event parked in the in-memory fallback queue.
type fallbackEntry struct {
	sessionID string
	event     telemetry.NormalizedEvent
}

// DurableBuffer guards an EventStore with a circuit breaker and a bounded
// fallback queue. Safe for concurrent use.
type DurableBuffer struct {
	store   EventStore
	breaker *circuitbreaker.CircuitBreaker
	config  Config
	log     *logger.Logger

	mu       sync.Mutex
	fallback []fallbackEntry
	dropped  int64
}

// New creates a DurableBuffer. A nil breaker gets the event-store preset
// (open on first failure, 30s cooldown, single half-open probe).
func New(store EventStore, breaker *circuitbreaker.CircuitBreaker, config Config, log *logger.Logger) *DurableBuffer {
	if config.FallbackCapacity <= 0 {
		config.FallbackCapacity = DefaultConfig().FallbackCapacity
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = DefaultConfig().OpTimeout
	}
	if log == nil {
		log = logger.Default()
	}
	if breaker == nil {
		breaker = circuitbreaker.EventStoreBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("event store circuit state changed",
				logger.Component("buffer"),
				logger.BreakerState(to.String()),
				logger.String("from", from.String()),
			)
		})
	}
	return &DurableBuffer{
		store:   store,
		breaker: breaker,
		config:  config,
		log:     log.With(logger.Component("buffer")),
	}
}

// Append stores one normalized event for its session. Durable-store errors
// never reach the caller: on failure (or while the circuit is open) the
// event is parked in the fallback queue. A successful durable append drains
// any parked events, in original arrival order, before returning.
func (b *DurableBuffer) Append(ctx context.Context, event telemetry.NormalizedEvent) error {
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.storeAppend(ctx, event.SessionID, event)
	})
	if err != nil {
		b.park(event.SessionID, event)
		return nil
	}

	b.drainFallback(ctx)
	return nil
}

// storeAppend runs one durable append under the operation timeout.
func (b *DurableBuffer) storeAppend(ctx context.Context, sessionID string, event telemetry.NormalizedEvent) error {
	opCtx, cancel := context.WithTimeout(ctx, b.config.OpTimeout)
	defer cancel()
	return b.store.Append(opCtx, sessionID, event)
}

// park enqueues an event into the bounded fallback, dropping the oldest
// entry on overflow.
func (b *DurableBuffer) park(sessionID string, event telemetry.NormalizedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.fallback) >= b.config.FallbackCapacity {
		b.fallback = b.fallback[1:]
		b.dropped++
		if b.dropped%1000 == 1 {
			b.log.Warn("fallback overflow, dropping oldest events",
				logger.Int64("total_dropped", b.dropped))
		}
	}
	b.fallback = append(b.fallback, fallbackEntry{sessionID: sessionID, event: event})
}

// drainFallback replays parked events through durable appends in original
// arrival order. A replay failure re-parks the remaining entries, flips the
// breaker state through its normal failure path, and stops.
func (b *DurableBuffer) drainFallback(ctx context.Context) {
	b.mu.Lock()
	if len(b.fallback) == 0 {
		b.mu.Unlock()
		return
	}
	pending := b.fallback
	b.fallback = nil
	b.mu.Unlock()

	for i, entry := range pending {
		err := b.breaker.Execute(ctx, func(ctx context.Context) error {
			return b.storeAppend(ctx, entry.sessionID, entry.event)
		})
		if err != nil {
			b.mu.Lock()
			// Re-park the unreplayed tail ahead of anything parked since.
			b.fallback = append(pending[i:], b.fallback...)
			b.mu.Unlock()
			b.log.Warn("fallback drain interrupted",
				logger.Int("replayed", i),
				logger.Int("remaining", len(pending)-i),
				logger.Err(err))
			return
		}
	}

	b.log.Info("fallback drained", logger.EventCount(len(pending)))
}

// ReadAndRemove reads up to maxCount oldest events for the session and then
// removes exactly the number read from the front of the queue. Concurrent
// appends between the read and the removal survive. Errors propagate to the
// caller, which must skip the session for this tick.
func (b *DurableBuffer) ReadAndRemove(ctx context.Context, sessionID string, maxCount int) ([]telemetry.NormalizedEvent, error) {
	opCtx, cancel := context.WithTimeout(ctx, b.config.OpTimeout)
	defer cancel()

	events, err := b.store.Read(opCtx, sessionID, maxCount)
	if err != nil {
		return nil, errors.Join(ErrReadFailed, err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	rmCtx, cancelRm := context.WithTimeout(ctx, b.config.OpTimeout)
	defer cancelRm()

	// Remove exactly the count read, never the whole queue: new arrivals
	// after the read must survive.
	if err := b.store.Remove(rmCtx, sessionID, len(events)); err != nil {
		return nil, errors.Join(ErrRemoveFailed, err)
	}

	return events, nil
}

// Sessions lists session ids with pending events.
func (b *DurableBuffer) Sessions(ctx context.Context) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, b.config.OpTimeout)
	defer cancel()
	return b.store.Sessions(opCtx)
}

// Pending returns the number of buffered events for a session.
func (b *DurableBuffer) Pending(ctx context.Context, sessionID string) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, b.config.OpTimeout)
	defer cancel()
	return b.store.Pending(opCtx, sessionID)
}

// FallbackDepth reports the current fallback queue length, for metrics.
func (b *DurableBuffer) FallbackDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fallback)
}

// DroppedCount reports how many fallback entries were dropped on overflow.
func (b *DurableBuffer) DroppedCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// BreakerState exposes the circuit state, for metrics and health checks.
func (b *DurableBuffer) BreakerState() circuitbreaker.State {
	return b.breaker.State()
}
