// Package aggregator implements the aggregation scheduler: a fixed-interval
// sweep that drains session buffers, scores the batches, persists the
// results, and triggers distribution. One bad session never blocks a sweep.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/learnpulse/clr-hub/internal/domain/scoring"
	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
	"github.com/learnpulse/clr-hub/pkg/logger"
)

// EventSource drains session buffers; the durable buffer implements it.
type EventSource interface {
	Sessions(ctx context.Context) ([]string, error)
	ReadAndRemove(ctx context.Context, sessionID string, maxCount int) ([]telemetry.NormalizedEvent, error)
}

// FlushSet yields sessions flagged for immediate flush.
type FlushSet interface {
	TakePendingFlush(ctx context.Context) ([]string, error)
}

// BaselineSource provides per-student baseline statistics.
type BaselineSource interface {
	Baseline(ctx context.Context, studentID string, now time.Time) (scoring.Baseline, error)
}

// MoodSource provides the latest externally supplied mood signal.
type MoodSource interface {
	Mood(studentID string) *float64
}

// ResultWriter persists scored windows.
type ResultWriter interface {
	Write(ctx context.Context, result scoring.Result) error
}

// Publisher fans a scored window out to live subscribers.
type Publisher interface {
	Publish(result scoring.Result)
}

// Config holds scheduler configuration.
type Config struct {
	// Interval between sweeps. Default: 30s.
	Interval time.Duration

	// MaxBatch bounds events consumed per session per sweep.
	// Default: 1000.
	MaxBatch int

	// Location drives local-hour scoring. Nil defaults to UTC.
	Location *time.Location
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		MaxBatch: 1000,
		Location: time.UTC,
	}
}

// Metrics exposes scheduler collectors.
type Metrics struct {
	TickDuration    prometheus.Histogram
	SessionsScored  prometheus.Counter
	SessionFailures prometheus.Counter
	TicksSkipped    prometheus.Counter
}

// NewMetrics registers the scheduler collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clr",
			Subsystem: "aggregator",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one full sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		SessionsScored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clr",
			Subsystem: "aggregator",
			Name:      "sessions_scored_total",
			Help:      "Session batches scored and persisted.",
		}),
		SessionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clr",
			Subsystem: "aggregator",
			Name:      "session_failures_total",
			Help:      "Per-session failures caught during sweeps.",
		}),
		TicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clr",
			Subsystem: "aggregator",
			Name:      "ticks_skipped_total",
			Help:      "Timer fires skipped because a sweep was running.",
		}),
	}
}

// Aggregator runs the periodic scoring sweep.
type Aggregator struct {
	source    EventSource
	flushSet  FlushSet
	baselines BaselineSource
	moods     MoodSource
	writer    ResultWriter
	publisher Publisher
	config    Config
	metrics   *Metrics
	log       *logger.Logger
	now       func() time.Time

	// tickMu is the single-flight guard: a timer fire that cannot take it
	// is skipped, not queued.
	tickMu sync.Mutex

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Aggregator. A nil clock uses time.Now.
func New(
	source EventSource,
	flushSet FlushSet,
	baselines BaselineSource,
	moods MoodSource,
	writer ResultWriter,
	publisher Publisher,
	config Config,
	metrics *Metrics,
	log *logger.Logger,
	clock func() time.Time,
) *Aggregator {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = DefaultConfig().MaxBatch
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if log == nil {
		log = logger.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Aggregator{
		source:    source,
		flushSet:  flushSet,
		baselines: baselines,
		moods:     moods,
		writer:    writer,
		publisher: publisher,
		config:    config,
		metrics:   metrics,
		log:       log.With(logger.Component("aggregator")),
		now:       clock,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	go func() {
		defer close(a.done)

		ticker := time.NewTicker(a.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.trySweep(ctx)
			case <-a.kick:
				a.trySweep(ctx)
			}
		}
	}()

	a.log.Info("aggregation scheduler started",
		logger.Duration("interval", a.config.Interval),
		logger.Int("max_batch", a.config.MaxBatch))
}

// TriggerNow requests an immediate sweep without waiting for the timer.
// The request coalesces with any already pending.
func (a *Aggregator) TriggerNow() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Stop halts the timer, waits for any in-flight sweep, then runs exactly
// one more full sweep to flush remaining data.
func (a *Aggregator) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}

	// Final sweep. The loop has exited, so the guard also serializes
	// against a sweep that was in flight when the context fell.
	a.tickMu.Lock()
	defer a.tickMu.Unlock()
	a.sweep(ctx)

	a.log.Info("aggregation scheduler stopped")
}

// trySweep runs a sweep unless one is already in flight.
func (a *Aggregator) trySweep(ctx context.Context) {
	if !a.tickMu.TryLock() {
		if a.metrics != nil {
			a.metrics.TicksSkipped.Inc()
		}
		a.log.Debug("sweep already running, timer fire skipped")
		return
	}
	defer a.tickMu.Unlock()
	a.sweep(ctx)
}

// sweep drains flagged sessions first, then every buffer with pending
// events. Callers hold tickMu.
func (a *Aggregator) sweep(ctx context.Context) {
	start := a.now()

	flagged, err := a.flushSet.TakePendingFlush(ctx)
	if err != nil {
		a.log.Warn("pending flush set unavailable", logger.Err(err))
	}

	buffered, err := a.source.Sessions(ctx)
	if err != nil {
		a.log.Error("session enumeration failed, sweep aborted", logger.Err(err))
		if a.metrics != nil {
			a.metrics.SessionFailures.Inc()
		}
		return
	}

	seen := make(map[string]struct{}, len(flagged)+len(buffered))
	sessions := make([]string, 0, len(flagged)+len(buffered))
	for _, id := range flagged {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			sessions = append(sessions, id)
		}
	}
	for _, id := range buffered {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			sessions = append(sessions, id)
		}
	}

	scored := 0
	for _, sessionID := range sessions {
		if ctx.Err() != nil {
			break
		}
		if a.processSession(ctx, sessionID) {
			scored++
		}
	}

	elapsed := a.now().Sub(start)
	if a.metrics != nil {
		a.metrics.TickDuration.Observe(elapsed.Seconds())
	}
	if scored > 0 {
		a.log.Info("sweep complete",
			logger.Int("sessions", scored),
			logger.Latency(elapsed))
	}
}

// processSession drains, scores, persists, and distributes one session.
// Failures are logged and counted, never propagated: the sweep continues
// with the next session.
func (a *Aggregator) processSession(ctx context.Context, sessionID string) bool {
	events, err := a.source.ReadAndRemove(ctx, sessionID, a.config.MaxBatch)
	if err != nil {
		a.sessionFailure(sessionID, "buffer drain failed", err)
		return false
	}
	if len(events) == 0 {
		return false
	}

	studentID := events[0].StudentID
	now := a.now()

	input := scoring.Input{
		Events:   events,
		Now:      now,
		Location: a.config.Location,
		Mood:     a.moods.Mood(studentID),
	}

	baseline, err := a.baselines.Baseline(ctx, studentID, now)
	if err != nil {
		// Score without a baseline rather than dropping the window.
		a.log.Warn("baseline unavailable",
			logger.StudentID(studentID),
			logger.Err(err))
	} else if baseline.DataPoints > 0 {
		input.Baseline = &baseline
	}

	result := scoring.Score(input)

	if err := a.writer.Write(ctx, result); err != nil {
		a.sessionFailure(sessionID, "persist failed", err)
		return false
	}

	a.publisher.Publish(result)

	if a.metrics != nil {
		a.metrics.SessionsScored.Inc()
	}
	a.log.Debug("session window scored",
		logger.SessionID(sessionID),
		logger.StudentID(studentID),
		logger.Score(result.Score),
		logger.FatigueLevel(string(result.FatigueLevel)),
		logger.EventCount(result.EventCount))
	return true
}

func (a *Aggregator) sessionFailure(sessionID, msg string, err error) {
	if a.metrics != nil {
		a.metrics.SessionFailures.Inc()
	}
	a.log.Error(msg, logger.SessionID(sessionID), logger.Err(err))
}
