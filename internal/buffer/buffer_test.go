package buffer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
	"github.com/learnpulse/clr-hub/pkg/circuitbreaker"
)

var errStoreDown = errors.New("store down")

// memStore is an in-memory EventStore with fault injection.
type memStore struct {
	mu         sync.Mutex
	queues     map[string][]telemetry.NormalizedEvent
	failAppend bool
	failRead   bool
	failRemove bool
}

func newMemStore() *memStore {
	return &memStore{queues: make(map[string][]telemetry.NormalizedEvent)}
}

func (s *memStore) Append(_ context.Context, sessionID string, event telemetry.NormalizedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return errStoreDown
	}
	s.queues[sessionID] = append(s.queues[sessionID], event)
	return nil
}

func (s *memStore) Read(_ context.Context, sessionID string, maxCount int) ([]telemetry.NormalizedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRead {
		return nil, errStoreDown
	}
	queue := s.queues[sessionID]
	if maxCount > len(queue) {
		maxCount = len(queue)
	}
	out := make([]telemetry.NormalizedEvent, maxCount)
	copy(out, queue[:maxCount])
	return out, nil
}

func (s *memStore) Remove(_ context.Context, sessionID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRemove {
		return errStoreDown
	}
	queue := s.queues[sessionID]
	if count >= len(queue) {
		delete(s.queues, sessionID)
		return nil
	}
	s.queues[sessionID] = queue[count:]
	return nil
}

func (s *memStore) Sessions(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.queues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) Pending(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[sessionID]), nil
}

func (s *memStore) setFailAppend(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppend = fail
}

func (s *memStore) queueIDs(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, e := range s.queues[sessionID] {
		ids = append(ids, e.ID)
	}
	return ids
}

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func testEvent(id string) telemetry.NormalizedEvent {
	return telemetry.NormalizedEvent{
		ID:        id,
		SessionID: "sess-1",
		StudentID: "student-1",
		EventType: telemetry.EventIdleTime,
		Payload:   telemetry.IdlePayload{DurationMs: 60_000},
		Timestamp: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC).UnixMilli(),
	}
}

func newTestBuffer(store EventStore, clock *testClock, capacity int) *DurableBuffer {
	breaker := circuitbreaker.New("event-store-test",
		circuitbreaker.WithFailureThreshold(1),
		circuitbreaker.WithCooldown(30*time.Second),
		circuitbreaker.WithClock(clock.Now),
	)
	return New(store, breaker, Config{FallbackCapacity: capacity, OpTimeout: time.Second}, nil)
}

func TestAppendStoresDurably(t *testing.T) {
	store := newMemStore()
	buf := newTestBuffer(store, &testClock{current: time.Now()}, 100)

	require.NoError(t, buf.Append(context.Background(), testEvent("e1")))

	assert.Equal(t, []string{"e1"}, store.queueIDs("sess-1"))
	assert.Zero(t, buf.FallbackDepth())
	assert.Equal(t, circuitbreaker.StateClosed, buf.BreakerState())
}

func TestAppendFailureParksAndOpensCircuit(t *testing.T) {
	store := newMemStore()
	store.setFailAppend(true)
	buf := newTestBuffer(store, &testClock{current: time.Now()}, 100)

	// Store failures never surface to the submitter.
	require.NoError(t, buf.Append(context.Background(), testEvent("e1")))
	assert.Equal(t, 1, buf.FallbackDepth())
	assert.Equal(t, circuitbreaker.StateOpen, buf.BreakerState())

	// While the circuit is open the store is not touched at all.
	require.NoError(t, buf.Append(context.Background(), testEvent("e2")))
	assert.Equal(t, 2, buf.FallbackDepth())
	assert.Empty(t, store.queueIDs("sess-1"))
}

func TestFallbackDrainsAfterRecovery(t *testing.T) {
	store := newMemStore()
	clock := &testClock{current: time.Now()}
	buf := newTestBuffer(store, clock, 100)

	store.setFailAppend(true)
	require.NoError(t, buf.Append(context.Background(), testEvent("e1")))
	require.NoError(t, buf.Append(context.Background(), testEvent("e2")))
	require.Equal(t, 2, buf.FallbackDepth())

	store.setFailAppend(false)
	clock.Advance(31 * time.Second) // past the cooldown

	// The next append is the half-open probe; its success closes the
	// circuit and replays the parked events.
	require.NoError(t, buf.Append(context.Background(), testEvent("e3")))

	assert.Zero(t, buf.FallbackDepth())
	assert.Equal(t, circuitbreaker.StateClosed, buf.BreakerState())
	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, store.queueIDs("sess-1"))

	// Parked events replay in their original arrival order.
	ids := store.queueIDs("sess-1")
	assert.Equal(t, []string{"e3", "e1", "e2"}, ids)
}

func TestFallbackOverflowDropsOldest(t *testing.T) {
	store := newMemStore()
	clock := &testClock{current: time.Now()}
	buf := newTestBuffer(store, clock, 2)

	store.setFailAppend(true)
	require.NoError(t, buf.Append(context.Background(), testEvent("e1")))
	require.NoError(t, buf.Append(context.Background(), testEvent("e2")))
	require.NoError(t, buf.Append(context.Background(), testEvent("e3")))

	assert.Equal(t, 2, buf.FallbackDepth())
	assert.Equal(t, int64(1), buf.DroppedCount())

	store.setFailAppend(false)
	clock.Advance(31 * time.Second)
	require.NoError(t, buf.Append(context.Background(), testEvent("e4")))

	// e1 was dropped on overflow and never reaches the store.
	assert.ElementsMatch(t, []string{"e2", "e3", "e4"}, store.queueIDs("sess-1"))
}

func TestReadAndRemoveExactCount(t *testing.T) {
	store := newMemStore()
	buf := newTestBuffer(store, &testClock{current: time.Now()}, 100)

	ctx := context.Background()
	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, buf.Append(ctx, testEvent(id)))
	}

	events, err := buf.ReadAndRemove(ctx, "sess-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)

	// The unread tail survives the removal.
	assert.Equal(t, []string{"e3"}, store.queueIDs("sess-1"))
}

func TestReadAndRemoveEmptySession(t *testing.T) {
	buf := newTestBuffer(newMemStore(), &testClock{current: time.Now()}, 100)

	events, err := buf.ReadAndRemove(context.Background(), "missing", 100)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadFailurePropagates(t *testing.T) {
	store := newMemStore()
	store.failRead = true
	buf := newTestBuffer(store, &testClock{current: time.Now()}, 100)

	_, err := buf.ReadAndRemove(context.Background(), "sess-1", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReadFailed)
}

func TestRemoveFailurePropagates(t *testing.T) {
	store := newMemStore()
	buf := newTestBuffer(store, &testClock{current: time.Now()}, 100)

	ctx := context.Background()
	require.NoError(t, buf.Append(ctx, testEvent("e1")))
	store.failRemove = true

	_, err := buf.ReadAndRemove(ctx, "sess-1", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoveFailed)
}

func TestSessionsAndPending(t *testing.T) {
	store := newMemStore()
	buf := newTestBuffer(store, &testClock{current: time.Now()}, 100)

	ctx := context.Background()
	require.NoError(t, buf.Append(ctx, testEvent("e1")))
	require.NoError(t, buf.Append(ctx, testEvent("e2")))

	sessions, err := buf.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1"}, sessions)

	pending, err := buf.Pending(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
}
