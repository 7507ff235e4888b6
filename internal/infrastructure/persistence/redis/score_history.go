package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/learnpulse/clr-hub/internal/domain/scoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// HistoryRange selects the lookback window for history queries.
type HistoryRange string

const (
	RangeLastHour  HistoryRange = "last_hour"
	RangeLastDay   HistoryRange = "last_day"
	RangeLastWeek  HistoryRange = "last_week"
	RangeLastMonth HistoryRange = "last_month"
)

// ErrInvalidRange is returned for an unrecognized history range.
var ErrInvalidRange = errors.New("redis: invalid history range")

// Duration maps a range to its lookback window.
func (r HistoryRange) Duration() (time.Duration, error) {
	switch r {
	case RangeLastHour:
		return time.Hour, nil
	case RangeLastDay:
		return 24 * time.Hour, nil
	case RangeLastWeek:
		return 7 * 24 * time.Hour, nil
	case RangeLastMonth:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRange, string(r))
	}
}

// HistoryPoint is one recorded score for a student.
type HistoryPoint struct {
	SessionID    string  `json:"sessionId"`
	Score        float64 `json:"score"`
	FatigueLevel string  `json:"fatigueLevel"`
	Timestamp    int64   `json:"timestamp"`
}

// HistoryStats summarizes a set of history points.
type HistoryStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// ScoreHistory keeps a rolling per-student score history in a sorted set
// keyed by timestamp, pruned to the retention window on every write. The
// scorer's baseline statistics come from the same structure.
type ScoreHistory struct {
	client *Client
}

// NewScoreHistory creates a ScoreHistory on an established client.
func NewScoreHistory(client *Client) *ScoreHistory {
	return &ScoreHistory{client: client}
}

// Record appends one scored window to the student's history and prunes
// entries older than the retention window.
func (h *ScoreHistory) Record(ctx context.Context, studentID string, point HistoryPoint) error {
	if studentID == "" {
		return ErrKeyEmpty
	}

	data, err := marshalJSON(point)
	if err != nil {
		return err
	}

	key := HistoryKey(studentID)
	cutoff := point.Timestamp - TTLHistory.Milliseconds()

	pipe := h.client.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(point.Timestamp), Member: data})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, TTLHistory)
	_, err = pipe.Exec(ctx)
	return err
}

// Query returns history points within the range, oldest first.
func (h *ScoreHistory) Query(ctx context.Context, studentID string, rng HistoryRange, now time.Time) ([]HistoryPoint, error) {
	if studentID == "" {
		return nil, ErrKeyEmpty
	}

	window, err := rng.Duration()
	if err != nil {
		return nil, err
	}

	return h.pointsSince(ctx, studentID, now.Add(-window).UnixMilli())
}

// Stats computes min/max/avg over the points.
func Stats(points []HistoryPoint) HistoryStats {
	if len(points) == 0 {
		return HistoryStats{}
	}

	stats := HistoryStats{
		Count: len(points),
		Min:   points[0].Score,
		Max:   points[0].Score,
	}
	sum := 0.0
	for _, p := range points {
		sum += p.Score
		stats.Min = math.Min(stats.Min, p.Score)
		stats.Max = math.Max(stats.Max, p.Score)
	}
	stats.Avg = sum / float64(len(points))
	return stats
}

// Baseline computes the student's baseline mean and standard deviation from
// the last seven days of history. An empty history yields zero DataPoints;
// the scorer treats that as "no baseline".
func (h *ScoreHistory) Baseline(ctx context.Context, studentID string, now time.Time) (scoring.Baseline, error) {
	points, err := h.pointsSince(ctx, studentID, now.Add(-BaselineWindow).UnixMilli())
	if err != nil {
		return scoring.Baseline{}, err
	}
	if len(points) == 0 {
		return scoring.Baseline{}, nil
	}

	sum := 0.0
	for _, p := range points {
		sum += p.Score
	}
	avg := sum / float64(len(points))

	variance := 0.0
	for _, p := range points {
		d := p.Score - avg
		variance += d * d
	}
	variance /= float64(len(points))

	return scoring.Baseline{
		Avg:        avg,
		Std:        math.Sqrt(variance),
		DataPoints: len(points),
	}, nil
}

// pointsSince reads and decodes history members with timestamp >= since.
func (h *ScoreHistory) pointsSince(ctx context.Context, studentID string, since int64) ([]HistoryPoint, error) {
	raw, err := h.client.rdb.ZRangeByScore(ctx, HistoryKey(studentID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	points := make([]HistoryPoint, 0, len(raw))
	for _, item := range raw {
		var p HistoryPoint
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		points = append(points, p)
	}

	return points, nil
}
