package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
)

// Daytime reference point so the night detectors stay quiet unless a test
// wants them.
var (
	dayStart = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	dayMs    = dayStart.UnixMilli()
)

func event(typ telemetry.EventType, ts int64, payload telemetry.Payload) telemetry.NormalizedEvent {
	return telemetry.NormalizedEvent{
		ID:        "evt",
		SessionID: "sess-1",
		StudentID: "student-1",
		EventType: typ,
		Payload:   payload,
		Timestamp: ts,
	}
}

func navEvent(ts, dwellMs int64) telemetry.NormalizedEvent {
	return event(telemetry.EventNavigation, ts, telemetry.NavigationPayload{ToPath: "/p", DwellTimeMs: dwellMs})
}

func idleEvent(ts, durationMs int64) telemetry.NormalizedEvent {
	return event(telemetry.EventIdleTime, ts, telemetry.IdlePayload{DurationMs: durationMs})
}

func quizErrorEvent(ts int64) telemetry.NormalizedEvent {
	return event(telemetry.EventQuizError, ts, telemetry.QuizErrorPayload{QuizID: "quiz-1"})
}

func patternByName(t *testing.T, r Result, name string) PatternResult {
	t.Helper()
	for _, p := range r.Patterns {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("pattern %s not present in result", name)
	return PatternResult{}
}

func TestScoreEmptyBatch(t *testing.T) {
	r := Score(Input{Now: dayStart})

	assert.Zero(t, r.Score)
	assert.Equal(t, FatigueLow, r.FatigueLevel)
	assert.Equal(t, UrgencyLow, r.Urgency)
	assert.Empty(t, r.Recommendations)
	assert.Zero(t, r.EventCount)
}

func TestScoreIsOrderInvariant(t *testing.T) {
	events := []telemetry.NormalizedEvent{
		navEvent(dayMs, 2_000),
		idleEvent(dayMs+60_000, 300_000),
		quizErrorEvent(dayMs+120_000),
		navEvent(dayMs+180_000, 45_000),
		event(telemetry.EventTypingPattern, dayMs+240_000,
			telemetry.TypingPatternPayload{Keystrokes: 200, Backspaces: 30, CorrectionRate: 0.15}),
	}

	reversed := make([]telemetry.NormalizedEvent, len(events))
	for i, e := range events {
		reversed[len(events)-1-i] = e
	}

	a := Score(Input{Events: events, Now: dayStart})
	b := Score(Input{Events: reversed, Now: dayStart})

	assert.Equal(t, a, b)
}

func TestScoreStaysWithinBounds(t *testing.T) {
	// Pathological worst case: rapid switching at 3 AM with clustered errors
	// and a frustrated mood.
	night := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC).UnixMilli()
	var events []telemetry.NormalizedEvent
	for i := 0; i < 20; i++ {
		events = append(events, event(telemetry.EventTaskSwitch, night+int64(i)*1000,
			telemetry.TaskSwitchPayload{ToTask: "t"}))
		events = append(events, navEvent(night+int64(i)*1000+500, 1_000))
		events = append(events, quizErrorEvent(night+int64(i)*1000+700))
	}

	mood := -0.9
	r := Score(Input{Events: events, Now: dayStart, Mood: &mood})

	assert.GreaterOrEqual(t, r.Score, 0.0)
	assert.LessOrEqual(t, r.Score, 100.0)
	assert.Equal(t, FatigueCritical, r.FatigueLevel)
	assert.Equal(t, UrgencyCritical, r.Urgency)
}

func TestTaskSwitchBurstDetection(t *testing.T) {
	// Six navigations inside 90 seconds form exactly one non-overlapping
	// five-event window.
	var events []telemetry.NormalizedEvent
	for i := 0; i < 6; i++ {
		events = append(events, navEvent(dayMs+int64(i)*15_000, 20_000))
	}

	r := Score(Input{Events: events, Now: dayStart})
	burst := patternByName(t, r, PatternTaskSwitchBurst)

	assert.True(t, burst.Detected)
	assert.Equal(t, 15.0, burst.Adjustment)
	assert.Contains(t, r.DetectedPatterns, PatternTaskSwitchBurst)
}

func TestTaskSwitchBurstNeedsFiveRapidNavigations(t *testing.T) {
	var events []telemetry.NormalizedEvent
	for i := 0; i < 4; i++ {
		events = append(events, navEvent(dayMs+int64(i)*10_000, 20_000))
	}

	r := Score(Input{Events: events, Now: dayStart})
	burst := patternByName(t, r, PatternTaskSwitchBurst)

	assert.False(t, burst.Detected)
	assert.Zero(t, burst.Adjustment)
}

func TestErrorClusteringDetection(t *testing.T) {
	events := []telemetry.NormalizedEvent{
		quizErrorEvent(dayMs),
		quizErrorEvent(dayMs + 60_000),
		quizErrorEvent(dayMs + 120_000),
	}

	r := Score(Input{Events: events, Now: dayStart})
	cluster := patternByName(t, r, PatternErrorClustering)

	assert.True(t, cluster.Detected)
	assert.Equal(t, 20.0, cluster.Adjustment)
}

func TestErrorClusteringIgnoresSpreadErrors(t *testing.T) {
	events := []telemetry.NormalizedEvent{
		quizErrorEvent(dayMs),
		quizErrorEvent(dayMs + 10*60_000),
		quizErrorEvent(dayMs + 20*60_000),
	}

	r := Score(Input{Events: events, Now: dayStart})
	cluster := patternByName(t, r, PatternErrorClustering)

	assert.False(t, cluster.Detected)
}

func TestNightDegradation(t *testing.T) {
	cases := []struct {
		name       string
		hour       int
		adjustment float64
	}{
		{"peak degradation at 3 AM", 3, 80},
		{"night hours at 23:00", 23, 50},
		{"daytime", 14, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := time.Date(2026, 3, 10, tc.hour, 0, 0, 0, time.UTC).UnixMilli()
			r := Score(Input{Events: []telemetry.NormalizedEvent{navEvent(ts, 10_000)}, Now: dayStart})
			night := patternByName(t, r, PatternNightDegraded)

			assert.Equal(t, tc.adjustment, night.Adjustment)
			assert.Equal(t, tc.adjustment > 0, night.Detected)
		})
	}
}

func TestNightDegradationUsesLocation(t *testing.T) {
	// 23:00 UTC is 05:00 in Almaty (UTC+6): outside the peak band but still
	// night hours there.
	almaty := time.FixedZone("Asia/Almaty", 6*3600)
	ts := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC).UnixMilli()

	r := Score(Input{Events: []telemetry.NormalizedEvent{navEvent(ts, 10_000)}, Now: dayStart, Location: almaty})
	night := patternByName(t, r, PatternNightDegraded)

	assert.True(t, night.Detected)
	assert.Equal(t, 50.0, night.Adjustment)
}

func TestProcrastinationLoopDetection(t *testing.T) {
	events := []telemetry.NormalizedEvent{
		idleEvent(dayMs, 120_000),
		navEvent(dayMs+60_000, 3_000),
		idleEvent(dayMs+120_000, 120_000),
		navEvent(dayMs+180_000, 3_000),
		idleEvent(dayMs+240_000, 120_000),
	}

	r := Score(Input{Events: events, Now: dayStart})
	loop := patternByName(t, r, PatternProcrastination)

	assert.True(t, loop.Detected)
	assert.Equal(t, 30.0, loop.Adjustment)
}

func TestProcrastinationLoopNeedsTwoOccurrences(t *testing.T) {
	events := []telemetry.NormalizedEvent{
		idleEvent(dayMs, 120_000),
		navEvent(dayMs+60_000, 3_000),
		idleEvent(dayMs+120_000, 120_000),
	}

	r := Score(Input{Events: events, Now: dayStart})
	loop := patternByName(t, r, PatternProcrastination)

	assert.False(t, loop.Detected)
	assert.Zero(t, loop.Adjustment)
}

func TestMicroBreakQualityHealthyPattern(t *testing.T) {
	// A 7-minute break every 35 minutes sits squarely in the optimal band.
	sevenMin := int64(7 * 60_000)
	events := []telemetry.NormalizedEvent{
		idleEvent(dayMs, sevenMin),
		idleEvent(dayMs+35*60_000, sevenMin),
		idleEvent(dayMs+70*60_000, sevenMin),
	}

	r := Score(Input{Events: events, Now: dayStart})
	breaks := patternByName(t, r, PatternPoorMicroBreaks)

	assert.False(t, breaks.Detected)
	assert.Zero(t, breaks.Adjustment)
}

func TestMicroBreakQualityNoQualifyingBreaks(t *testing.T) {
	// Idle blips under a minute are not deliberate breaks.
	events := []telemetry.NormalizedEvent{
		idleEvent(dayMs, 30_000),
		idleEvent(dayMs+40*60_000, 45_000),
	}

	r := Score(Input{Events: events, Now: dayStart})
	breaks := patternByName(t, r, PatternPoorMicroBreaks)

	assert.True(t, breaks.Detected)
	assert.Equal(t, 30.0, breaks.Adjustment)
}

func TestMoodAdjustmentBands(t *testing.T) {
	batch := []telemetry.NormalizedEvent{navEvent(dayMs, 10_000)}

	cases := []struct {
		mood     float64
		expected float64
	}{
		{-0.8, 20},
		{-0.3, 10},
		{-0.1, 5},
		{0.0, 0},
		{0.7, 0},
	}
	for _, tc := range cases {
		m := tc.mood
		r := Score(Input{Events: batch, Now: dayStart, Mood: &m})
		assert.Equal(t, tc.expected, r.MoodAdjustment, "mood %v", tc.mood)
	}

	r := Score(Input{Events: batch, Now: dayStart})
	assert.Zero(t, r.MoodAdjustment)
}

func TestBaselineAdjustment(t *testing.T) {
	// Fast navigation dwell drives the drift feature, so the base score is
	// comfortably above zero.
	batch := []telemetry.NormalizedEvent{
		navEvent(dayMs, 1_000),
		navEvent(dayMs+30_000, 1_500),
	}

	spike := Score(Input{
		Events:   batch,
		Now:      dayStart,
		Baseline: &Baseline{Avg: 0, Std: 0.1, DataPoints: 20},
	})
	assert.Equal(t, 15.0, spike.BaselineAdjustment)

	// A degenerate baseline contributes nothing.
	flat := Score(Input{
		Events:   batch,
		Now:      dayStart,
		Baseline: &Baseline{Avg: 50, Std: 0, DataPoints: 3},
	})
	assert.Zero(t, flat.BaselineAdjustment)
}

func TestAvoidedConcepts(t *testing.T) {
	tenMin := int64(10 * 60_000)
	oneMin := int64(60_000)
	events := []telemetry.NormalizedEvent{
		event(telemetry.EventTimeTracking, dayMs,
			telemetry.TimeTrackingPayload{ConceptID: "pointers", StartTime: dayMs, EndTime: dayMs + tenMin, DurationMs: tenMin}),
		event(telemetry.EventTimeTracking, dayMs+tenMin,
			telemetry.TimeTrackingPayload{ConceptID: "goroutines", StartTime: dayMs + tenMin, EndTime: dayMs + tenMin + oneMin, DurationMs: oneMin}),
		event(telemetry.EventTimeTracking, dayMs+2*tenMin,
			telemetry.TimeTrackingPayload{ConceptID: "interfaces", StartTime: dayMs + 2*tenMin, EndTime: dayMs + 3*tenMin, DurationMs: tenMin}),
	}

	r := Score(Input{Events: events, Now: dayStart})

	assert.Equal(t, []string{"goroutines"}, r.AvoidedConcepts)
}

func TestWindowBoundsAndIdentity(t *testing.T) {
	events := []telemetry.NormalizedEvent{
		navEvent(dayMs+90_000, 10_000),
		navEvent(dayMs, 10_000),
		navEvent(dayMs+45_000, 10_000),
	}

	r := Score(Input{Events: events, Now: dayStart})

	assert.Equal(t, "sess-1", r.SessionID)
	assert.Equal(t, "student-1", r.StudentID)
	assert.Equal(t, dayMs, r.WindowStart)
	assert.Equal(t, dayMs+90_000, r.WindowEnd)
	assert.Equal(t, 3, r.EventCount)
}

func TestFatigueLevelOf(t *testing.T) {
	assert.Equal(t, FatigueLow, FatigueLevelOf(0))
	assert.Equal(t, FatigueLow, FatigueLevelOf(24.9))
	assert.Equal(t, FatigueMedium, FatigueLevelOf(25))
	assert.Equal(t, FatigueHigh, FatigueLevelOf(50))
	assert.Equal(t, FatigueHigh, FatigueLevelOf(74.9))
	assert.Equal(t, FatigueCritical, FatigueLevelOf(75))
	assert.Equal(t, FatigueCritical, FatigueLevelOf(100))
}

func TestRecommendationsFollowSeverity(t *testing.T) {
	night := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC).UnixMilli()
	var events []telemetry.NormalizedEvent
	for i := 0; i < 10; i++ {
		events = append(events, quizErrorEvent(night+int64(i)*30_000))
	}
	mood := -0.7

	r := Score(Input{Events: events, Now: dayStart, Mood: &mood})

	assert.NotEmpty(t, r.Recommendations)
	assert.Contains(t, r.Recommendations, "Take a break immediately - cognitive load is critical")
	assert.Contains(t, r.Recommendations, "Frustration detected - try a different learning approach or ask for help")
}
