package writer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpulse/clr-hub/internal/domain/scoring"
	"github.com/learnpulse/clr-hub/internal/infrastructure/persistence/postgres"
	"github.com/learnpulse/clr-hub/internal/infrastructure/persistence/redis"
	"github.com/learnpulse/clr-hub/pkg/retry"
)

type fakeRecordStore struct {
	saved    []postgres.LoadRecord
	failures int // fail this many calls before succeeding
	calls    int
}

func (s *fakeRecordStore) Save(_ context.Context, rec postgres.LoadRecord) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("connection refused")
	}
	s.saved = append(s.saved, rec)
	return nil
}

type fakeSessionStore struct {
	windows int
	calls   int
	err     error
}

func (s *fakeSessionStore) RecordWindow(context.Context, string, string, float64, string, int) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.windows++
	return nil
}

type fakeHistoryStore struct {
	points   []redis.HistoryPoint
	failures int // fail this many calls before succeeding
	calls    int
	err      error
}

func (s *fakeHistoryStore) Record(_ context.Context, _ string, point redis.HistoryPoint) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	if s.calls <= s.failures {
		return errors.New("i/o timeout")
	}
	s.points = append(s.points, point)
	return nil
}

func fastRetrier() *retry.Retrier {
	return retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithJitter(0),
		retry.WithRetryIf(func(error) bool { return true }),
	)
}

func scoredWindow() scoring.Result {
	return scoring.Result{
		SessionID:    "sess-1",
		StudentID:    "student-1",
		WindowStart:  1_000,
		WindowEnd:    31_000,
		Score:        58.5,
		FatigueLevel: scoring.FatigueHigh,
		Urgency:      scoring.UrgencyMedium,
		EventCount:   12,
	}
}

func TestWritePersistsRecordSummaryAndHistory(t *testing.T) {
	records := &fakeRecordStore{}
	sessions := &fakeSessionStore{}
	history := &fakeHistoryStore{}
	w := New(records, sessions, history, fastRetrier(), nil)

	require.NoError(t, w.Write(context.Background(), scoredWindow()))

	require.Len(t, records.saved, 1)
	rec := records.saved[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.Equal(t, 58.5, rec.Score)
	assert.Equal(t, "high", rec.FatigueLevel)

	assert.Equal(t, 1, sessions.windows)

	require.Len(t, history.points, 1)
	point := history.points[0]
	assert.Equal(t, "sess-1", point.SessionID)
	assert.Equal(t, int64(31_000), point.Timestamp)
}

func TestWriteRetriesTransientRecordFailures(t *testing.T) {
	records := &fakeRecordStore{failures: 2}
	w := New(records, &fakeSessionStore{}, &fakeHistoryStore{}, fastRetrier(), nil)

	require.NoError(t, w.Write(context.Background(), scoredWindow()))
	assert.Equal(t, 3, records.calls)
	assert.Len(t, records.saved, 1)
}

func TestWriteFailsAfterExhaustedRetries(t *testing.T) {
	records := &fakeRecordStore{failures: 10}
	sessions := &fakeSessionStore{}
	history := &fakeHistoryStore{}
	w := New(records, sessions, history, fastRetrier(), nil)

	err := w.Write(context.Background(), scoredWindow())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, 3, records.calls)

	// Nothing downstream runs when the record write fails.
	assert.Zero(t, sessions.windows)
	assert.Empty(t, history.points)
}

func TestWriteSurvivesBestEffortFailures(t *testing.T) {
	records := &fakeRecordStore{}
	sessions := &fakeSessionStore{err: errors.New("summary update failed")}
	history := &fakeHistoryStore{err: errors.New("redis down")}
	w := New(records, sessions, history, fastRetrier(), nil)

	// Session summary and history are advisory; the write still succeeds.
	require.NoError(t, w.Write(context.Background(), scoredWindow()))
	assert.Len(t, records.saved, 1)
}

func TestWriteRetriesTransientHistoryFailure(t *testing.T) {
	history := &fakeHistoryStore{failures: 1}
	w := New(&fakeRecordStore{}, &fakeSessionStore{}, history, fastRetrier(), nil)

	require.NoError(t, w.Write(context.Background(), scoredWindow()))
	assert.Equal(t, 2, history.calls)
	assert.Len(t, history.points, 1)
}

func TestWriteShedsSummaryAfterRepeatedFailures(t *testing.T) {
	sessions := &fakeSessionStore{err: errors.New("summary update failed")}
	w := New(&fakeRecordStore{}, sessions, &fakeHistoryStore{}, fastRetrier(), nil)

	// Three consecutive summary failures open the circuit; the fourth
	// window skips the Postgres call entirely but still persists.
	for i := 0; i < 4; i++ {
		require.NoError(t, w.Write(context.Background(), scoredWindow()))
	}
	assert.Equal(t, 3, sessions.calls)
}
