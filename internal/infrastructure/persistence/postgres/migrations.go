// Package postgres implements the PostgreSQL persistence layer for the
// cognitive load pipeline.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE COGNITIVE LOAD RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create cognitive load records table
-- Version: 001

CREATE TABLE IF NOT EXISTS cognitive_load_records (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    session_id VARCHAR(64) NOT NULL,
    student_id VARCHAR(64) NOT NULL,
    window_start BIGINT NOT NULL,
    window_end BIGINT NOT NULL,
    score DECIMAL(5,2) NOT NULL,
    fatigue_level VARCHAR(10) NOT NULL,
    base_score DECIMAL(5,2) NOT NULL,
    pattern_adjustment DECIMAL(6,2) NOT NULL DEFAULT 0,
    mood_adjustment DECIMAL(5,2) NOT NULL DEFAULT 0,
    baseline_adjustment DECIMAL(5,2) NOT NULL DEFAULT 0,
    features JSONB NOT NULL DEFAULT '{}'::jsonb,
    detected_patterns TEXT[] NOT NULL DEFAULT '{}',
    avoided_concepts TEXT[] NOT NULL DEFAULT '{}',
    recommendations TEXT[] NOT NULL DEFAULT '{}',
    urgency VARCHAR(10) NOT NULL DEFAULT 'low',
    event_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- Constraints for data integrity
    CONSTRAINT valid_score CHECK (score >= 0 AND score <= 100),
    CONSTRAINT valid_fatigue_level CHECK (fatigue_level IN ('low', 'medium', 'high', 'critical')),
    CONSTRAINT valid_urgency CHECK (urgency IN ('low', 'medium', 'high', 'critical')),
    CONSTRAINT valid_window CHECK (window_end >= window_start),

    -- Re-scoring the same window must not duplicate rows
    CONSTRAINT uq_session_window UNIQUE (session_id, window_end)
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_clr_records_session_id ON cognitive_load_records(session_id);
CREATE INDEX IF NOT EXISTS idx_clr_records_student_id ON cognitive_load_records(student_id);
CREATE INDEX IF NOT EXISTS idx_clr_records_created_at ON cognitive_load_records(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_clr_records_student_time ON cognitive_load_records(student_id, window_end DESC);
CREATE INDEX IF NOT EXISTS idx_clr_records_high_load ON cognitive_load_records(student_id, created_at DESC)
    WHERE fatigue_level IN ('high', 'critical');
`

const migration001Down = `
DROP TABLE IF EXISTS cognitive_load_records;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE LEARNING SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create learning sessions table
-- Version: 002

CREATE TABLE IF NOT EXISTS learning_sessions (
    session_id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    ended_at TIMESTAMP WITH TIME ZONE,
    last_score DECIMAL(5,2),
    last_fatigue_level VARCHAR(10),
    windows_scored INTEGER NOT NULL DEFAULT 0,
    total_events INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_last_fatigue_level CHECK (
        last_fatigue_level IS NULL OR last_fatigue_level IN ('low', 'medium', 'high', 'critical')
    )
);

CREATE INDEX IF NOT EXISTS idx_sessions_student_id ON learning_sessions(student_id);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON learning_sessions(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_open ON learning_sessions(student_id) WHERE ended_at IS NULL;
`

const migration002Down = `
DROP TABLE IF EXISTS learning_sessions;
`

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_cognitive_load_records",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_learning_sessions",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}
