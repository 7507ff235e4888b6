package intake

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
)

type fakeSink struct {
	events []telemetry.NormalizedEvent
	err    error
}

func (s *fakeSink) Append(_ context.Context, event telemetry.NormalizedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func rawNav(sessionID string, ts int64) telemetry.RawEvent {
	return telemetry.RawEvent{
		SessionID: sessionID,
		StudentID: "student-1",
		EventType: telemetry.EventNavigation,
		EventData: json.RawMessage(`{"toPath":"/lessons/1","dwellTimeMs":8000}`),
		Timestamp: ts,
	}
}

func newTestGateway(sink EventSink, limiter *RateLimiter, clock func() time.Time) *Gateway {
	metrics := NewMetrics(prometheus.NewRegistry())
	return New(sink, limiter, metrics, nil, clock)
}

func TestSubmitAcceptsValidEvent(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	gw := newTestGateway(sink, NewRateLimiter(100, time.Second, clock.Now), clock.Now)

	ack := gw.Submit(context.Background(), rawNav("sess-1", clock.Now().UnixMilli()), "conn-1")

	require.True(t, ack.Success)
	assert.NotEmpty(t, ack.EventID)
	assert.Equal(t, clock.Now().UnixMilli(), ack.ServerTimestamp)

	require.Len(t, sink.events, 1)
	stored := sink.events[0]
	assert.Equal(t, "sess-1", stored.SessionID)
	assert.Equal(t, telemetry.PriorityLow, stored.Priority)
	assert.Equal(t, "conn-1", stored.ConnectionID)
	assert.IsType(t, telemetry.NavigationPayload{}, stored.Payload)
}

func TestSubmitRejectsInvalidEvent(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	gw := newTestGateway(sink, NewRateLimiter(100, time.Second, clock.Now), clock.Now)

	raw := rawNav("sess-1", clock.Now().UnixMilli())
	raw.StudentID = ""

	ack := gw.Submit(context.Background(), raw, "")

	assert.False(t, ack.Success)
	assert.Equal(t, CodeValidation, ack.ErrorCode)
	assert.NotEmpty(t, ack.Reason)
	assert.Empty(t, sink.events, "invalid events must not reach the buffer")
}

func TestSubmitRateLimitedBeforeValidation(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	gw := newTestGateway(sink, NewRateLimiter(2, time.Second, clock.Now), clock.Now)

	ts := clock.Now().UnixMilli()
	assert.True(t, gw.Submit(context.Background(), rawNav("sess-1", ts), "").Success)
	assert.True(t, gw.Submit(context.Background(), rawNav("sess-1", ts), "").Success)

	ack := gw.Submit(context.Background(), rawNav("sess-1", ts), "")
	assert.False(t, ack.Success)
	assert.Equal(t, CodeRateLimit, ack.ErrorCode)
	assert.Len(t, sink.events, 2)
}

func TestSubmitSinkFailure(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{err: errors.New("redis down")}
	gw := newTestGateway(sink, NewRateLimiter(100, time.Second, clock.Now), clock.Now)

	ack := gw.Submit(context.Background(), rawNav("sess-1", clock.Now().UnixMilli()), "")

	assert.False(t, ack.Success)
	assert.Equal(t, CodeServer, ack.ErrorCode)
}

func TestSubmitBatchContinuesPastFailures(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	gw := newTestGateway(sink, NewRateLimiter(100, time.Second, clock.Now), clock.Now)

	ts := clock.Now().UnixMilli()
	bad := rawNav("sess-1", ts)
	bad.EventData = json.RawMessage(`{"dwellTimeMs":5000}`) // missing toPath

	batch := []telemetry.RawEvent{
		rawNav("sess-1", ts),
		bad,
		rawNav("sess-1", ts+1),
	}

	ack := gw.SubmitBatch(context.Background(), batch, "conn-1")

	assert.False(t, ack.Success)
	assert.Equal(t, 2, ack.Processed)
	assert.Equal(t, 1, ack.Failed)
	require.Len(t, ack.Errors, 1)
	assert.Contains(t, ack.Errors[0], "event 1")
	assert.Contains(t, ack.Errors[0], CodeValidation)
	assert.Len(t, sink.events, 2)
}

func TestSubmitBatchRateLimitIsAtomic(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	gw := newTestGateway(sink, NewRateLimiter(3, time.Second, clock.Now), clock.Now)

	ts := clock.Now().UnixMilli()
	batch := []telemetry.RawEvent{
		rawNav("sess-1", ts), rawNav("sess-1", ts), rawNav("sess-1", ts),
		rawNav("sess-1", ts), rawNav("sess-1", ts),
	}

	ack := gw.SubmitBatch(context.Background(), batch, "")

	assert.False(t, ack.Success)
	assert.Equal(t, len(batch), ack.Failed)
	assert.Zero(t, ack.Processed)
	assert.Empty(t, sink.events, "an over-limit batch must not be partially buffered")

	// The rejected batch consumed no slots.
	small := batch[:3]
	ack = gw.SubmitBatch(context.Background(), small, "")
	assert.True(t, ack.Success)
	assert.Equal(t, 3, ack.Processed)
}

func TestSubmitBatchSamplesErrors(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	gw := newTestGateway(sink, NewRateLimiter(100, time.Second, clock.Now), clock.Now)

	var batch []telemetry.RawEvent
	for i := 0; i < 8; i++ {
		bad := rawNav("sess-1", clock.Now().UnixMilli())
		bad.EventData = json.RawMessage(`{}`)
		batch = append(batch, bad)
	}

	ack := gw.SubmitBatch(context.Background(), batch, "")

	assert.Equal(t, 8, ack.Failed)
	assert.Len(t, ack.Errors, 5, "error sample is capped")
}

func TestSubmitBatchEmpty(t *testing.T) {
	clock := newFakeClock()
	gw := newTestGateway(&fakeSink{}, NewRateLimiter(100, time.Second, clock.Now), clock.Now)

	ack := gw.SubmitBatch(context.Background(), nil, "")
	assert.True(t, ack.Success)
	assert.Zero(t, ack.Processed)
	assert.Zero(t, ack.Failed)
}

func TestSessionEndedReleasesLimiter(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	gw := newTestGateway(sink, NewRateLimiter(1, time.Second, clock.Now), clock.Now)

	ts := clock.Now().UnixMilli()
	assert.True(t, gw.Submit(context.Background(), rawNav("sess-1", ts), "").Success)
	assert.Equal(t, CodeRateLimit, gw.Submit(context.Background(), rawNav("sess-1", ts), "").ErrorCode)

	gw.SessionEnded("sess-1")
	assert.True(t, gw.Submit(context.Background(), rawNav("sess-1", ts), "").Success)
}
