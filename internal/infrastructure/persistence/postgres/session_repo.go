package postgres

import (
	"context"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LearningSession is one tracked study session.
type LearningSession struct {
	SessionID        string
	StudentID        string
	StartedAt        time.Time
	EndedAt          *time.Time
	LastScore        *float64
	LastFatigueLevel *string
	WindowsScored    int
	TotalEvents      int
	UpdatedAt        time.Time
}

// SessionRepo persists learning session summaries.
type SessionRepo struct {
	conn *Connection
}

// NewSessionRepo creates a SessionRepo.
func NewSessionRepo(conn *Connection) *SessionRepo {
	return &SessionRepo{conn: conn}
}

// Start records a new session. Restarting an existing session id refreshes
// started_at and clears the end marker.
func (r *SessionRepo) Start(ctx context.Context, sessionID, studentID string) error {
	query := `
		INSERT INTO learning_sessions (session_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET
			started_at = NOW(),
			ended_at = NULL,
			updated_at = NOW()
	`

	if _, err := r.conn.Exec(ctx, query, sessionID, studentID); err != nil {
		return fmt.Errorf("postgres: start session: %w", err)
	}
	return nil
}

// End marks a session as finished. Ending an unknown session is not an
// error: the session row may never have been written.
func (r *SessionRepo) End(ctx context.Context, sessionID string) error {
	query := `
		UPDATE learning_sessions
		SET ended_at = NOW(), updated_at = NOW()
		WHERE session_id = $1
	`

	if _, err := r.conn.Exec(ctx, query, sessionID); err != nil {
		return fmt.Errorf("postgres: end session: %w", err)
	}
	return nil
}

// RecordWindow folds a scored window into the session summary. A missing
// session row is upserted so summaries survive out-of-order lifecycle calls.
func (r *SessionRepo) RecordWindow(ctx context.Context, sessionID, studentID string, score float64, fatigueLevel string, eventCount int) error {
	query := `
		INSERT INTO learning_sessions (
			session_id, student_id, last_score, last_fatigue_level,
			windows_scored, total_events
		) VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			last_score = EXCLUDED.last_score,
			last_fatigue_level = EXCLUDED.last_fatigue_level,
			windows_scored = learning_sessions.windows_scored + 1,
			total_events = learning_sessions.total_events + EXCLUDED.total_events,
			updated_at = NOW()
	`

	if _, err := r.conn.Exec(ctx, query, sessionID, studentID, score, fatigueLevel, eventCount); err != nil {
		return fmt.Errorf("postgres: record window: %w", err)
	}
	return nil
}

// Get returns a session summary, or ErrNoRows when unknown.
func (r *SessionRepo) Get(ctx context.Context, sessionID string) (LearningSession, error) {
	query := `
		SELECT session_id, student_id, started_at, ended_at,
		       last_score, last_fatigue_level, windows_scored, total_events, updated_at
		FROM learning_sessions
		WHERE session_id = $1
	`

	var s LearningSession
	err := r.conn.QueryRow(ctx, query, sessionID).Scan(
		&s.SessionID, &s.StudentID, &s.StartedAt, &s.EndedAt,
		&s.LastScore, &s.LastFatigueLevel, &s.WindowsScored, &s.TotalEvents, &s.UpdatedAt,
	)
	if err != nil {
		return LearningSession{}, err
	}
	return s, nil
}
