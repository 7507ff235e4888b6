package aggregator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpulse/clr-hub/internal/domain/scoring"
	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
)

var tickBase = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	queues    map[string][]telemetry.NormalizedEvent
	readOrder []string
	failRead  map[string]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		queues:   make(map[string][]telemetry.NormalizedEvent),
		failRead: make(map[string]bool),
	}
}

func (s *fakeSource) add(sessionID string, events ...telemetry.NormalizedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[sessionID] = append(s.queues[sessionID], events...)
}

func (s *fakeSource) Sessions(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, q := range s.queues {
		if len(q) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fakeSource) ReadAndRemove(_ context.Context, sessionID string, maxCount int) ([]telemetry.NormalizedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOrder = append(s.readOrder, sessionID)
	if s.failRead[sessionID] {
		return nil, errors.New("store down")
	}
	queue := s.queues[sessionID]
	if maxCount > len(queue) {
		maxCount = len(queue)
	}
	out := queue[:maxCount]
	s.queues[sessionID] = queue[maxCount:]
	return out, nil
}

type fakeFlushSet struct {
	mu      sync.Mutex
	flagged []string
	err     error
}

func (f *fakeFlushSet) TakePendingFlush(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := f.flagged
	f.flagged = nil
	return out, nil
}

type fakeBaselines struct {
	baseline scoring.Baseline
	err      error
}

func (b *fakeBaselines) Baseline(context.Context, string, time.Time) (scoring.Baseline, error) {
	return b.baseline, b.err
}

type fakeMoods struct {
	mood *float64
}

func (m *fakeMoods) Mood(string) *float64 { return m.mood }

type fakeWriter struct {
	mu      sync.Mutex
	results []scoring.Result
	err     error
	written chan scoring.Result
}

func (w *fakeWriter) Write(_ context.Context, result scoring.Result) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	w.results = append(w.results, result)
	w.mu.Unlock()
	if w.written != nil {
		w.written <- result
	}
	return nil
}

func (w *fakeWriter) all() []scoring.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.results
}

type fakePublisher struct {
	mu      sync.Mutex
	results []scoring.Result
}

func (p *fakePublisher) Publish(result scoring.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, result)
}

func (p *fakePublisher) all() []scoring.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}

type fixture struct {
	source    *fakeSource
	flushSet  *fakeFlushSet
	baselines *fakeBaselines
	moods     *fakeMoods
	writer    *fakeWriter
	publisher *fakePublisher
	agg       *Aggregator
}

func newFixture() *fixture {
	f := &fixture{
		source:    newFakeSource(),
		flushSet:  &fakeFlushSet{},
		baselines: &fakeBaselines{},
		moods:     &fakeMoods{},
		writer:    &fakeWriter{},
		publisher: &fakePublisher{},
	}
	f.agg = New(
		f.source, f.flushSet, f.baselines, f.moods, f.writer, f.publisher,
		Config{Interval: time.Hour, MaxBatch: 100, Location: time.UTC},
		NewMetrics(prometheus.NewRegistry()),
		nil,
		func() time.Time { return tickBase },
	)
	return f
}

// sweepOnce runs exactly one synchronous sweep: Stop without Start skips
// loop teardown and goes straight to the final flush sweep.
func (f *fixture) sweepOnce(t *testing.T) {
	t.Helper()
	f.agg.Stop(context.Background())
}

func sessionEvent(sessionID, studentID string, offset time.Duration) telemetry.NormalizedEvent {
	return telemetry.NormalizedEvent{
		ID:        "evt",
		SessionID: sessionID,
		StudentID: studentID,
		EventType: telemetry.EventNavigation,
		Payload:   telemetry.NavigationPayload{ToPath: "/p", DwellTimeMs: 1_000},
		Timestamp: tickBase.Add(offset).UnixMilli(),
	}
}

func TestSweepScoresAllPendingSessions(t *testing.T) {
	f := newFixture()
	f.source.add("sess-1", sessionEvent("sess-1", "student-1", 0), sessionEvent("sess-1", "student-1", 10*time.Second))
	f.source.add("sess-2", sessionEvent("sess-2", "student-2", 0))

	f.sweepOnce(t)

	results := f.writer.all()
	require.Len(t, results, 2)
	assert.Len(t, f.publisher.all(), 2)

	// The buffers are drained.
	sessions, err := f.source.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestFlaggedSessionsDrainFirst(t *testing.T) {
	f := newFixture()
	f.source.add("sess-1", sessionEvent("sess-1", "student-1", 0))
	f.source.add("sess-2", sessionEvent("sess-2", "student-2", 0))
	f.flushSet.flagged = []string{"sess-2"}

	f.sweepOnce(t)

	order := f.source.readOrder
	require.Len(t, order, 2, "each session is drained exactly once")
	assert.Equal(t, []string{"sess-2", "sess-1"}, order)
}

func TestSessionFailureDoesNotBlockSweep(t *testing.T) {
	f := newFixture()
	f.source.add("sess-1", sessionEvent("sess-1", "student-1", 0))
	f.source.add("sess-2", sessionEvent("sess-2", "student-2", 0))
	f.source.failRead["sess-1"] = true

	f.sweepOnce(t)

	results := f.writer.all()
	require.Len(t, results, 1)
	assert.Equal(t, "sess-2", results[0].SessionID)
}

func TestWriteFailureSkipsDistribution(t *testing.T) {
	f := newFixture()
	f.writer.err = errors.New("postgres down")
	f.source.add("sess-1", sessionEvent("sess-1", "student-1", 0))

	f.sweepOnce(t)

	assert.Empty(t, f.publisher.all(), "unpersisted windows must not be distributed")
}

func TestFlushSetFailureIsNonFatal(t *testing.T) {
	f := newFixture()
	f.flushSet.err = errors.New("redis down")
	f.source.add("sess-1", sessionEvent("sess-1", "student-1", 0))

	f.sweepOnce(t)

	assert.Len(t, f.writer.all(), 1)
}

func TestBaselineFeedsScoring(t *testing.T) {
	f := newFixture()
	f.baselines.baseline = scoring.Baseline{Avg: 0, Std: 0.1, DataPoints: 20}
	f.source.add("sess-1", sessionEvent("sess-1", "student-1", 0), sessionEvent("sess-1", "student-1", 30*time.Second))

	f.sweepOnce(t)

	results := f.writer.all()
	require.Len(t, results, 1)
	assert.Equal(t, 15.0, results[0].BaselineAdjustment)
}

func TestBaselineErrorStillScores(t *testing.T) {
	f := newFixture()
	f.baselines.err = errors.New("redis down")
	f.source.add("sess-1", sessionEvent("sess-1", "student-1", 0))

	f.sweepOnce(t)

	results := f.writer.all()
	require.Len(t, results, 1)
	assert.Zero(t, results[0].BaselineAdjustment)
}

func TestMoodSignalFeedsScoring(t *testing.T) {
	f := newFixture()
	mood := -0.8
	f.moods.mood = &mood
	f.source.add("sess-1", sessionEvent("sess-1", "student-1", 0))

	f.sweepOnce(t)

	results := f.writer.all()
	require.Len(t, results, 1)
	assert.Equal(t, 20.0, results[0].MoodAdjustment)
}

func TestTriggerNowRunsImmediateSweep(t *testing.T) {
	f := newFixture()
	f.writer.written = make(chan scoring.Result, 1)
	f.source.add("sess-1", sessionEvent("sess-1", "student-1", 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.agg.Start(ctx)
	f.agg.TriggerNow()

	select {
	case result := <-f.writer.written:
		assert.Equal(t, "sess-1", result.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("triggered sweep did not run")
	}

	f.agg.Stop(context.Background())
}

func TestStopFlushesRemainingSessions(t *testing.T) {
	f := newFixture()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.agg.Start(ctx)

	// Events arriving just before shutdown still get scored by the final
	// sweep.
	f.source.add("sess-1", sessionEvent("sess-1", "student-1", 0))
	f.agg.Stop(context.Background())

	assert.NotEmpty(t, f.writer.all())
}
