// Package scoring implements the cognitive load scorer: a pure function from
// an ordered batch of normalized behavioral events to a composite 0-100 score
// with per-feature diagnostics, pattern detections, and recommendations.
// Determinism is a hard requirement: the reference time, timezone, baseline,
// and mood adjustment are all passed in explicitly, so identical input always
// yields identical output.
package scoring

import (
	"time"

	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
	"github.com/learnpulse/clr-hub/pkg/timeutil"
)

// Feature weights. They sum to 1.0.
const (
	WeightTaskSwitching   = 0.25
	WeightErrorRate       = 0.20
	WeightProcrastination = 0.20
	WeightBrowsingDrift   = 0.15
	WeightTimePerConcept  = 0.10
	WeightProductivity    = 0.10
)

// Feature normalization bounds.
const (
	// maxSwitchesPerMinute saturates the task-switching feature.
	maxSwitchesPerMinute = 10.0

	// maxIdleMillis caps the idle-duration component at one hour.
	maxIdleMillis = 3_600_000.0

	// driftDwellMillis is the dwell threshold under which a navigation
	// counts as browsing drift.
	driftDwellMillis = 5_000

	// maxConceptMinutes saturates the time-per-concept feature.
	maxConceptMinutes = 30.0

	// nightProductivityPenalty multiplies the productivity feature during
	// night hours (22:00-06:00).
	nightProductivityPenalty = 1.25
)

// FeatureScores holds the six normalized base features, each in [0,100].
type FeatureScores struct {
	TaskSwitching   float64 `json:"taskSwitching"`
	ErrorRate       float64 `json:"errorRate"`
	Procrastination float64 `json:"procrastination"`
	BrowsingDrift   float64 `json:"browsingDrift"`
	TimePerConcept  float64 `json:"timePerConcept"`
	Productivity    float64 `json:"productivity"`
}

// WeightedSum combines the features into the base score, clamped to [0,100].
func (f FeatureScores) WeightedSum() float64 {
	sum := f.TaskSwitching*WeightTaskSwitching +
		f.ErrorRate*WeightErrorRate +
		f.Procrastination*WeightProcrastination +
		f.BrowsingDrift*WeightBrowsingDrift +
		f.TimePerConcept*WeightTimePerConcept +
		f.Productivity*WeightProductivity
	return clamp(sum, 0, 100)
}

// extractFeatures computes the six base features from a timestamp-ordered
// event batch. loc drives the local-hour productivity penalty.
func extractFeatures(events []telemetry.NormalizedEvent, loc *time.Location) FeatureScores {
	if len(events) == 0 {
		return FeatureScores{}
	}

	spanMin := batchSpanMinutes(events)

	return FeatureScores{
		TaskSwitching:   taskSwitchingScore(events, spanMin),
		ErrorRate:       errorRateScore(events),
		Procrastination: procrastinationScore(events, spanMin),
		BrowsingDrift:   browsingDriftScore(events),
		TimePerConcept:  timePerConceptScore(events),
		Productivity:    productivityScore(events, loc),
	}
}

// batchSpanMinutes is the wall-clock length of the batch, floored at one
// minute so per-minute rates stay finite for short bursts.
func batchSpanMinutes(events []telemetry.NormalizedEvent) float64 {
	timestamps := make([]int64, len(events))
	for i, e := range events {
		timestamps[i] = e.Timestamp
	}
	span := timeutil.SpanMinutes(timestamps)
	if span < 1 {
		return 1
	}
	return span
}

// taskSwitchingScore scales the TASK_SWITCH rate to a per-minute basis.
// maxSwitchesPerMinute switches per minute saturates the feature at 100.
func taskSwitchingScore(events []telemetry.NormalizedEvent, spanMin float64) float64 {
	switches := 0
	for _, e := range events {
		if e.EventType == telemetry.EventTaskSwitch {
			switches++
		}
	}
	perMinute := float64(switches) / spanMin
	return clamp(perMinute/maxSwitchesPerMinute*100, 0, 100)
}

// errorRateScore is the ratio of quiz errors to quiz-related interactions.
// Quiz-related interactions are quiz errors plus content interactions with
// the "answer" action; with no quiz activity the feature is 0.
func errorRateScore(events []telemetry.NormalizedEvent) float64 {
	errors, related := 0, 0
	for _, e := range events {
		switch p := e.Payload.(type) {
		case telemetry.QuizErrorPayload:
			errors++
			related++
		case telemetry.ContentInteractionPayload:
			if p.Action == "answer" {
				related++
			}
		}
	}
	if related == 0 {
		return 0
	}
	return clamp(float64(errors)/float64(related)*100, 0, 100)
}

// procrastinationScore blends idle duration (40%), task-switch rate (40%),
// and browsing drift (20%).
func procrastinationScore(events []telemetry.NormalizedEvent, spanMin float64) float64 {
	var idleMillis float64
	switches := 0
	for _, e := range events {
		if p, ok := e.Payload.(telemetry.IdlePayload); ok {
			idleMillis += float64(p.DurationMs)
		}
		if e.EventType == telemetry.EventTaskSwitch {
			switches++
		}
	}

	idleNorm := clamp(idleMillis/maxIdleMillis*100, 0, 100)

	switchRate := float64(switches) / spanMin
	switchNorm := clamp(switchRate/maxSwitchesPerMinute*100, 0, 100)

	driftNorm := browsingDriftScore(events)

	return clamp(0.4*idleNorm+0.4*switchNorm+0.2*driftNorm, 0, 100)
}

// browsingDriftScore is the fraction of navigations with dwell under 5s.
func browsingDriftScore(events []telemetry.NormalizedEvent) float64 {
	navs, drifts := 0, 0
	for _, e := range events {
		if p, ok := e.Payload.(telemetry.NavigationPayload); ok {
			navs++
			if p.DwellTimeMs < driftDwellMillis {
				drifts++
			}
		}
	}
	if navs == 0 {
		return 0
	}
	return clamp(float64(drifts)/float64(navs)*100, 0, 100)
}

// timePerConceptScore normalizes mean TIME_TRACKING duration so that longer
// sustained time on a single concept scores worse, saturating at
// maxConceptMinutes.
func timePerConceptScore(events []telemetry.NormalizedEvent) float64 {
	var totalMs float64
	n := 0
	for _, e := range events {
		if p, ok := e.Payload.(telemetry.TimeTrackingPayload); ok {
			totalMs += float64(p.DurationMs)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	meanMinutes := totalMs / float64(n) / 60000.0
	return clamp(meanMinutes/maxConceptMinutes*100, 0, 100)
}

// productivityScore is 100 minus the share of "active" event types (typing,
// content interaction, time tracking), with a penalty multiplier during
// night hours.
func productivityScore(events []telemetry.NormalizedEvent, loc *time.Location) float64 {
	active := 0
	for _, e := range events {
		switch e.EventType {
		case telemetry.EventTypingPattern, telemetry.EventContentInteraction, telemetry.EventTimeTracking:
			active++
		}
	}
	score := 100 - float64(active)/float64(len(events))*100

	hour := timeutil.HourOf(events[0].Timestamp, loc)
	if timeutil.IsNightHours(hour) {
		score *= nightProductivityPenalty
	}
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
