// Package writer implements the persistence writer: scored windows flow
// into PostgreSQL with retry/backoff, the session summary is folded in, and
// the rolling Redis score history is appended for baseline computation.
package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/learnpulse/clr-hub/internal/domain/scoring"
	"github.com/learnpulse/clr-hub/internal/infrastructure/persistence/postgres"
	"github.com/learnpulse/clr-hub/internal/infrastructure/persistence/redis"
	"github.com/learnpulse/clr-hub/pkg/circuitbreaker"
	"github.com/learnpulse/clr-hub/pkg/logger"
	"github.com/learnpulse/clr-hub/pkg/retry"
)

// ErrWriteFailed marks a terminal persistence failure after all retries.
// The failure is scoped to one session's window; other sessions in the
// same tick are unaffected.
var ErrWriteFailed = errors.New("writer: persistence failed")

// RecordStore persists scored window records.
type RecordStore interface {
	Save(ctx context.Context, rec postgres.LoadRecord) error
}

// SessionStore folds scored windows into session summaries.
type SessionStore interface {
	RecordWindow(ctx context.Context, sessionID, studentID string, score float64, fatigueLevel string, eventCount int) error
}

// HistoryStore appends scores to the rolling per-student history.
type HistoryStore interface {
	Record(ctx context.Context, studentID string, point redis.HistoryPoint) error
}

// Writer persists scoring results. Safe for concurrent use.
type Writer struct {
	records        RecordStore
	sessions       SessionStore
	history        HistoryStore
	retrier        *retry.Retrier
	historyRetrier *retry.Retrier
	summaryBreaker *circuitbreaker.CircuitBreaker
	log            *logger.Logger
}

// New creates a Writer. A nil retrier gets the persistence preset
// (3 attempts, exponential backoff).
func New(records RecordStore, sessions SessionStore, history HistoryStore, retrier *retry.Retrier, log *logger.Logger) *Writer {
	if retrier == nil {
		retrier = retry.PersistenceRetrier()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Writer{
		records:        records,
		sessions:       sessions,
		history:        history,
		retrier:        retrier,
		historyRetrier: retry.HistoryRetrier(),
		summaryBreaker: circuitbreaker.RelationalStoreBreaker(nil),
		log:            log.With(logger.Component("writer")),
	}
}

// Write persists one scored window. The record insert is retried with
// backoff and is idempotent across retries; the session summary and score
// history are best-effort and never fail the write.
func (w *Writer) Write(ctx context.Context, result scoring.Result) error {
	rec := postgres.RecordFromResult(result)

	err := w.retrier.Do(ctx, func(ctx context.Context) error {
		return w.records.Save(ctx, rec)
	})
	if err != nil {
		w.log.Error("load record write failed after retries",
			logger.SessionID(result.SessionID),
			logger.StudentID(result.StudentID),
			logger.Err(err))
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	// The summary is advisory, so repeated Postgres failures shed the
	// write instead of adding load while the store is struggling.
	err = w.summaryBreaker.ExecuteWithFallback(ctx, func(ctx context.Context) error {
		return w.sessions.RecordWindow(ctx, result.SessionID, result.StudentID,
			result.Score, string(result.FatigueLevel), result.EventCount)
	}, func(err error) error {
		w.log.Warn("session summary skipped, circuit open",
			logger.SessionID(result.SessionID))
		return nil
	})
	if err != nil {
		w.log.Warn("session summary update failed",
			logger.SessionID(result.SessionID),
			logger.Err(err))
	}

	point := redis.HistoryPoint{
		SessionID:    result.SessionID,
		Score:        result.Score,
		FatigueLevel: string(result.FatigueLevel),
		Timestamp:    result.WindowEnd,
	}
	err = w.historyRetrier.Do(ctx, func(ctx context.Context) error {
		return w.history.Record(ctx, result.StudentID, point)
	})
	if err != nil {
		w.log.Warn("score history append failed",
			logger.StudentID(result.StudentID),
			logger.Err(err))
	}

	return nil
}
