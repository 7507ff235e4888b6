package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnpulse/clr-hub/internal/domain/scoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOAD RECORD REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LoadRecord is one persisted scored window.
type LoadRecord struct {
	ID                 string
	SessionID          string
	StudentID          string
	WindowStart        int64
	WindowEnd          int64
	Score              float64
	FatigueLevel       string
	BaseScore          float64
	PatternAdjustment  float64
	MoodAdjustment     float64
	BaselineAdjustment float64
	Features           scoring.FeatureScores
	DetectedPatterns   []string
	AvoidedConcepts    []string
	Recommendations    []string
	Urgency            string
	EventCount         int
	CreatedAt          time.Time
}

// RecordFromResult builds a LoadRecord from a scored window.
func RecordFromResult(r scoring.Result) LoadRecord {
	return LoadRecord{
		ID:                 uuid.NewString(),
		SessionID:          r.SessionID,
		StudentID:          r.StudentID,
		WindowStart:        r.WindowStart,
		WindowEnd:          r.WindowEnd,
		Score:              r.Score,
		FatigueLevel:       string(r.FatigueLevel),
		BaseScore:          r.BaseScore,
		PatternAdjustment:  r.PatternAdjustment,
		MoodAdjustment:     r.MoodAdjustment,
		BaselineAdjustment: r.BaselineAdjustment,
		Features:           r.Features,
		DetectedPatterns:   r.DetectedPatterns,
		AvoidedConcepts:    r.AvoidedConcepts,
		Recommendations:    r.Recommendations,
		Urgency:            string(r.Urgency),
		EventCount:         r.EventCount,
	}
}

// RecordRepo persists cognitive load records.
type RecordRepo struct {
	conn *Connection
}

// NewRecordRepo creates a RecordRepo.
func NewRecordRepo(conn *Connection) *RecordRepo {
	return &RecordRepo{conn: conn}
}

// Save inserts a scored window. Re-scoring the same (session, window end)
// pair is a no-op: the unique constraint absorbs the duplicate and Save
// reports success, so retried writes stay idempotent.
func (r *RecordRepo) Save(ctx context.Context, rec LoadRecord) error {
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return fmt.Errorf("postgres: marshal features: %w", err)
	}

	query := `
		INSERT INTO cognitive_load_records (
			id, session_id, student_id, window_start, window_end,
			score, fatigue_level, base_score,
			pattern_adjustment, mood_adjustment, baseline_adjustment,
			features, detected_patterns, avoided_concepts, recommendations,
			urgency, event_count
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT ON CONSTRAINT uq_session_window DO NOTHING
	`

	_, err = r.conn.Exec(ctx, query,
		rec.ID, rec.SessionID, rec.StudentID, rec.WindowStart, rec.WindowEnd,
		rec.Score, rec.FatigueLevel, rec.BaseScore,
		rec.PatternAdjustment, rec.MoodAdjustment, rec.BaselineAdjustment,
		features, rec.DetectedPatterns, rec.AvoidedConcepts, rec.Recommendations,
		rec.Urgency, rec.EventCount,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("postgres: save load record: %w", err)
	}

	return nil
}

// RecentByStudent returns the student's most recent records, newest first.
func (r *RecordRepo) RecentByStudent(ctx context.Context, studentID string, limit int) ([]LoadRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, student_id, window_start, window_end,
		       score, fatigue_level, base_score,
		       pattern_adjustment, mood_adjustment, baseline_adjustment,
		       features, detected_patterns, avoided_concepts, recommendations,
		       urgency, event_count, created_at
		FROM cognitive_load_records
		WHERE student_id = $1
		ORDER BY window_end DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// BySession returns all records for a session, oldest first.
func (r *RecordRepo) BySession(ctx context.Context, sessionID string) ([]LoadRecord, error) {
	query := `
		SELECT id, session_id, student_id, window_start, window_end,
		       score, fatigue_level, base_score,
		       pattern_adjustment, mood_adjustment, baseline_adjustment,
		       features, detected_patterns, avoided_concepts, recommendations,
		       urgency, event_count, created_at
		FROM cognitive_load_records
		WHERE session_id = $1
		ORDER BY window_end ASC
	`

	rows, err := r.conn.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// scanRecords reads LoadRecord rows produced by the shared column list.
func scanRecords(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}) ([]LoadRecord, error) {
	var records []LoadRecord
	for rows.Next() {
		var rec LoadRecord
		var features []byte

		err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.StudentID, &rec.WindowStart, &rec.WindowEnd,
			&rec.Score, &rec.FatigueLevel, &rec.BaseScore,
			&rec.PatternAdjustment, &rec.MoodAdjustment, &rec.BaselineAdjustment,
			&features, &rec.DetectedPatterns, &rec.AvoidedConcepts, &rec.Recommendations,
			&rec.Urgency, &rec.EventCount, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}

		if len(features) > 0 {
			if err := json.Unmarshal(features, &rec.Features); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal features: %w", err)
			}
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
