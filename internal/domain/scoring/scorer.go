package scoring

import (
	"sort"
	"time"

	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
)

// FatigueLevel is the ordinal bucket derived from the composite score.
type FatigueLevel string

const (
	FatigueLow      FatigueLevel = "low"      // [0,25)
	FatigueMedium   FatigueLevel = "medium"   // [25,50)
	FatigueHigh     FatigueLevel = "high"     // [50,75)
	FatigueCritical FatigueLevel = "critical" // [75,100]
)

// FatigueLevelOf buckets a composite score.
func FatigueLevelOf(score float64) FatigueLevel {
	switch {
	case score < 25:
		return FatigueLow
	case score < 50:
		return FatigueMedium
	case score < 75:
		return FatigueHigh
	default:
		return FatigueCritical
	}
}

// Urgency is how urgently an intervention is warranted.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Input is everything the scorer consumes. Events may arrive in any order;
// the scorer sorts a copy by client timestamp, so re-chunked batches produce
// identical results.
type Input struct {
	// Events is the batch drained from the session buffer.
	Events []telemetry.NormalizedEvent

	// Now is the reference time, passed explicitly for determinism.
	Now time.Time

	// Location drives local-hour classification (night degradation,
	// productivity penalty). Nil defaults to UTC.
	Location *time.Location

	// Baseline is the student's 7-day history, nil when unknown.
	Baseline *Baseline

	// Mood is the externally supplied mood score in [-1,1], nil when the
	// insight service produced nothing. Absent means zero adjustment.
	Mood *float64
}

// Result is the full scoring output for one aggregation window.
// It is immutable after creation.
type Result struct {
	SessionID string `json:"sessionId"`
	StudentID string `json:"studentId"`

	// WindowStart and WindowEnd are the client-time bounds (ms epoch) of
	// the consumed events.
	WindowStart int64 `json:"windowStart"`
	WindowEnd   int64 `json:"windowEnd"`

	Score        float64      `json:"score"`
	FatigueLevel FatigueLevel `json:"fatigueLevel"`

	BaseScore          float64       `json:"baseScore"`
	Features           FeatureScores `json:"features"`
	PatternAdjustment  float64       `json:"patternAdjustment"`
	MoodAdjustment     float64       `json:"moodAdjustment"`
	BaselineAdjustment float64       `json:"baselineAdjustment"`

	Patterns         []PatternResult `json:"patterns"`
	DetectedPatterns []string        `json:"detectedPatterns"`
	AvoidedConcepts  []string        `json:"avoidedConcepts,omitempty"`

	Recommendations []string `json:"recommendations"`
	Urgency         Urgency  `json:"urgency"`

	EventCount int `json:"eventCount"`
}

// Score computes the composite cognitive load for one event batch.
// Zero events yields a zero-score result with an empty window.
func Score(in Input) Result {
	if len(in.Events) == 0 {
		return Result{
			FatigueLevel:    FatigueLow,
			Urgency:         UrgencyLow,
			Recommendations: []string{},
		}
	}

	events := make([]telemetry.NormalizedEvent, len(in.Events))
	copy(events, in.Events)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})

	features := extractFeatures(events, in.Location)
	base := features.WeightedSum()

	patterns := detectPatterns(events, in.Location)
	var patternAdj float64
	var detected []string
	for _, p := range patterns {
		if p.Detected {
			patternAdj += p.Adjustment
			detected = append(detected, p.Name)
		}
	}

	moodAdj := moodAdjustment(in.Mood)
	baselineAdj := baselineAdjustment(base, in.Baseline)

	final := clamp(base+patternAdj+moodAdj+baselineAdj, 0, 100)
	fatigue := FatigueLevelOf(final)
	avoided := avoidedConcepts(events)

	return Result{
		SessionID:          events[0].SessionID,
		StudentID:          events[0].StudentID,
		WindowStart:        events[0].Timestamp,
		WindowEnd:          events[len(events)-1].Timestamp,
		Score:              final,
		FatigueLevel:       fatigue,
		BaseScore:          base,
		Features:           features,
		PatternAdjustment:  patternAdj,
		MoodAdjustment:     moodAdj,
		BaselineAdjustment: baselineAdj,
		Patterns:           patterns,
		DetectedPatterns:   detected,
		AvoidedConcepts:    avoided,
		Recommendations:    recommend(final, patterns, in.Mood, baselineAdj),
		Urgency:            urgencyOf(final, patternAdj, in.Mood),
		EventCount:         len(events),
	}
}

// avoidedConcepts finds concepts whose cumulative dwell time is less than
// half the session's average dwell across tracked concepts. Dwell comes from
// time-tracking and content-interaction events that name a concept.
func avoidedConcepts(events []telemetry.NormalizedEvent) []string {
	dwell := make(map[string]float64)
	for _, e := range events {
		switch p := e.Payload.(type) {
		case telemetry.TimeTrackingPayload:
			if p.ConceptID != "" {
				dwell[p.ConceptID] += float64(p.DurationMs)
			}
		case telemetry.ContentInteractionPayload:
			if p.ConceptID != "" {
				dwell[p.ConceptID] += float64(p.DurationMs)
			}
		}
	}
	if len(dwell) < 2 {
		return nil
	}

	var total float64
	for _, d := range dwell {
		total += d
	}
	avg := total / float64(len(dwell))

	var avoided []string
	for concept, d := range dwell {
		if d < avg/2 {
			avoided = append(avoided, concept)
		}
	}
	sort.Strings(avoided)
	return avoided
}

// urgencyOf grades how urgently an intervention is warranted.
func urgencyOf(score, patternAdj float64, mood *float64) Urgency {
	switch {
	case score >= 85:
		return UrgencyCritical
	case score >= 70:
		return UrgencyHigh
	case score >= 50:
		return UrgencyMedium
	case patternAdj >= 50 || (mood != nil && *mood < -0.6):
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}
