package scoring

import (
	"fmt"
	"time"

	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
	"github.com/learnpulse/clr-hub/pkg/timeutil"
)

// Pattern labels reported in results and live updates.
const (
	PatternTaskSwitchBurst = "task_switching_burst"
	PatternErrorClustering = "error_clustering"
	PatternProcrastination = "procrastination_loop"
	PatternNightDegraded   = "night_degradation"
	PatternPoorMicroBreaks = "micro_break_quality"
)

// Detector window parameters.
const (
	burstWindowSize    = 5
	burstWindowMillis  = 2 * 60 * 1000
	burstScorePerHit   = 15.0
	clusterWindowSize  = 3
	clusterWindowMs    = 5 * 60 * 1000
	clusterScorePerHit = 20.0
	loopScorePerHit    = 15.0
	minLoopOccurrences = 2

	// minBreakSeconds is the idle duration under which an idle period does
	// not count as a deliberate break.
	minBreakSeconds = 60
)

// PatternResult is one detector's verdict over the batch.
type PatternResult struct {
	Name       string  `json:"name"`
	Detected   bool    `json:"detected"`
	Adjustment float64 `json:"adjustment"`
	Detail     string  `json:"detail,omitempty"`
}

// detectPatterns runs every detector over the same timestamp-ordered batch.
// Each detector is independent; the order of results is fixed.
func detectPatterns(events []telemetry.NormalizedEvent, loc *time.Location) []PatternResult {
	return []PatternResult{
		detectTaskSwitchBurst(events),
		detectErrorClustering(events),
		detectProcrastinationLoop(events),
		detectNightDegradation(events, loc),
		detectMicroBreakQuality(events),
	}
}

// detectTaskSwitchBurst scans navigation events with a window of five.
// A window spanning at most two minutes counts as one burst; windows do not
// overlap, so six rapid navigations yield exactly one burst.
func detectTaskSwitchBurst(events []telemetry.NormalizedEvent) PatternResult {
	navs := filterByType(events, telemetry.EventNavigation)

	bursts := 0
	for i := 0; i+burstWindowSize <= len(navs); {
		span := navs[i+burstWindowSize-1].Timestamp - navs[i].Timestamp
		if span <= burstWindowMillis {
			bursts++
			i += burstWindowSize
		} else {
			i++
		}
	}

	return PatternResult{
		Name:       PatternTaskSwitchBurst,
		Detected:   bursts > 0,
		Adjustment: minF(float64(bursts)*burstScorePerHit, 100),
		Detail:     fmt.Sprintf("%d rapid switching window(s)", bursts),
	}
}

// detectErrorClustering scans quiz errors with a window of three spanning at
// most five minutes. Windows do not overlap.
func detectErrorClustering(events []telemetry.NormalizedEvent) PatternResult {
	errs := filterByType(events, telemetry.EventQuizError)

	clusters := 0
	for i := 0; i+clusterWindowSize <= len(errs); {
		span := errs[i+clusterWindowSize-1].Timestamp - errs[i].Timestamp
		if span <= clusterWindowMs {
			clusters++
			i += clusterWindowSize
		} else {
			i++
		}
	}

	return PatternResult{
		Name:       PatternErrorClustering,
		Detected:   clusters > 0,
		Adjustment: minF(float64(clusters)*clusterScorePerHit, 100),
		Detail:     fmt.Sprintf("%d error cluster(s)", clusters),
	}
}

// detectProcrastinationLoop looks for the exact consecutive subsequence
// [idle, navigation, idle] in the type-ordered stream. Two or more
// occurrences flag the pattern; occurrences may share an idle event.
func detectProcrastinationLoop(events []telemetry.NormalizedEvent) PatternResult {
	loops := 0
	for i := 0; i+2 < len(events); i++ {
		if events[i].EventType == telemetry.EventIdleTime &&
			events[i+1].EventType == telemetry.EventNavigation &&
			events[i+2].EventType == telemetry.EventIdleTime {
			loops++
		}
	}

	detected := loops >= minLoopOccurrences
	adjustment := 0.0
	if detected {
		adjustment = minF(float64(loops)*loopScorePerHit, 100)
	}

	return PatternResult{
		Name:       PatternProcrastination,
		Detected:   detected,
		Adjustment: adjustment,
		Detail:     fmt.Sprintf("%d idle-navigation-idle loop(s)", loops),
	}
}

// detectNightDegradation classifies the local hour of the batch's
// representative timestamp (its first event): 2-4 AM scores 80, the rest of
// the 22:00-06:00 band scores 50, daytime scores 0.
func detectNightDegradation(events []telemetry.NormalizedEvent, loc *time.Location) PatternResult {
	if len(events) == 0 {
		return PatternResult{Name: PatternNightDegraded}
	}

	hour := timeutil.HourOf(events[0].Timestamp, loc)

	var adjustment float64
	var detail string
	switch {
	case timeutil.IsPeakDegradationHours(hour):
		adjustment = 80
		detail = "peak degradation period (2-4 AM)"
	case timeutil.IsNightHours(hour):
		adjustment = 50
		detail = "night hours"
	default:
		detail = "daytime session"
	}

	return PatternResult{
		Name:       PatternNightDegraded,
		Detected:   adjustment > 0,
		Adjustment: adjustment,
		Detail:     detail,
	}
}

// detectMicroBreakQuality evaluates break hygiene from idle events of at
// least one minute. The optimal band is a 5-10 minute break every 25-50
// minutes, which scores 0.
func detectMicroBreakQuality(events []telemetry.NormalizedEvent) PatternResult {
	idles := filterByType(events, telemetry.EventIdleTime)
	if len(idles) < 2 {
		return PatternResult{Name: PatternPoorMicroBreaks, Detail: "no break data"}
	}

	var durations []float64 // minutes
	var intervals []float64 // minutes
	lastBreakAt := int64(-1)
	for _, e := range idles {
		p, ok := e.Payload.(telemetry.IdlePayload)
		if !ok || p.DurationMs < minBreakSeconds*1000 {
			continue
		}
		durations = append(durations, float64(p.DurationMs)/60000.0)
		if lastBreakAt >= 0 {
			intervals = append(intervals, timeutil.MinutesBetween(lastBreakAt, e.Timestamp))
		}
		lastBreakAt = e.Timestamp
	}

	if len(durations) == 0 {
		return PatternResult{
			Name:       PatternPoorMicroBreaks,
			Detected:   true,
			Adjustment: 30,
			Detail:     "no qualifying breaks",
		}
	}

	avgDuration := meanF(durations)
	avgInterval := 0.0
	if len(intervals) > 0 {
		avgInterval = meanF(intervals)
	}

	var adjustment float64
	var detail string
	switch {
	case avgDuration >= 5 && avgDuration <= 10 && avgInterval >= 25 && avgInterval <= 50:
		adjustment = 0
		detail = "healthy break pattern"
	case avgInterval > 100:
		adjustment = 60
		detail = "insufficient break frequency"
	case avgDuration < 3:
		adjustment = 40
		detail = "breaks too short"
	default:
		adjustment = 20
		detail = "suboptimal break pattern"
	}

	return PatternResult{
		Name:       PatternPoorMicroBreaks,
		Detected:   adjustment > 0,
		Adjustment: adjustment,
		Detail:     detail,
	}
}

func filterByType(events []telemetry.NormalizedEvent, t telemetry.EventType) []telemetry.NormalizedEvent {
	var out []telemetry.NormalizedEvent
	for _, e := range events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func meanF(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
