// Package timeutil provides time helpers for the LearnPulse CLR pipeline.
// The scoring algorithms reason about local hour-of-day (night degradation,
// productivity penalties), millisecond epoch timestamps from clients, and
// durations between behavioral events.
// No external dependencies - uses only standard library.
package timeutil

import (
	"time"
)

// FromMillis converts a millisecond epoch timestamp to a time.Time in UTC.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ToMillis converts a time.Time to a millisecond epoch timestamp.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// HourOf returns the local hour-of-day (0-23) of a millisecond timestamp
// in the given location. A nil location defaults to UTC.
func HourOf(ms int64, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc).Hour()
}

// IsNightHours reports whether the hour falls in the reduced-capacity band
// between 22:00 and 06:00.
func IsNightHours(hour int) bool {
	return hour >= 22 || hour <= 6
}

// IsPeakDegradationHours reports whether the hour falls in the 2-4 AM band
// where cognitive degradation is strongest.
func IsPeakDegradationHours(hour int) bool {
	return hour >= 2 && hour <= 4
}

// MinutesBetween returns the number of minutes between two millisecond
// timestamps. The result is negative if b precedes a.
func MinutesBetween(a, b int64) float64 {
	return float64(b-a) / 60000.0
}

// SpanMinutes returns the length in minutes of the window covered by the
// earliest and latest timestamps. Returns 0 for fewer than two timestamps.
func SpanMinutes(timestamps []int64) float64 {
	if len(timestamps) < 2 {
		return 0
	}
	min, max := timestamps[0], timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts < min {
			min = ts
		}
		if ts > max {
			max = ts
		}
	}
	return MinutesBetween(min, max)
}

// ClampFuture rejects timestamps more than the given skew ahead of now.
func ClampFuture(ms int64, now time.Time, skew time.Duration) bool {
	return ms <= now.Add(skew).UnixMilli()
}

// WithinAge reports whether the timestamp is no older than maxAge before now.
func WithinAge(ms int64, now time.Time, maxAge time.Duration) bool {
	return ms >= now.Add(-maxAge).UnixMilli()
}
