// Package intake implements the event intake gateway: per-session rate
// limiting, validation, enrichment, and handoff to the durable buffer.
package intake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
	"github.com/learnpulse/clr-hub/pkg/logger"
	"github.com/learnpulse/clr-hub/pkg/timeutil"
)

// Acknowledgment error codes.
const (
	CodeRateLimit  = "RATE_LIMIT_EXCEEDED"
	CodeValidation = "VALIDATION_ERROR"
	CodeServer     = "SERVER_ERROR"
)

// Ack acknowledges a single submission.
type Ack struct {
	Success         bool   `json:"success"`
	EventID         string `json:"eventId,omitempty"`
	ServerTimestamp int64  `json:"serverTimestamp,omitempty"`
	ErrorCode       string `json:"errorCode,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// BatchAck acknowledges a batch submission. Errors carries at most
// maxSampledErrors messages.
type BatchAck struct {
	Success   bool     `json:"success"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// maxSampledErrors bounds the error sample in a batch acknowledgment.
const maxSampledErrors = 5

// shardCount sizes the per-session mutex table.
const shardCount = 64

// EventSink accepts normalized events; the durable buffer implements it.
type EventSink interface {
	Append(ctx context.Context, event telemetry.NormalizedEvent) error
}

// Gateway validates, enriches, and buffers raw events. Events for the same
// session are serialized through sharded mutexes so per-session buffer order
// matches arrival order.
type Gateway struct {
	sink    EventSink
	limiter *RateLimiter
	metrics *Metrics
	log     *logger.Logger
	now     func() time.Time

	shards [shardCount]sync.Mutex
}

// New creates a Gateway. A nil limiter gets the default 100 events/s cap;
// a nil clock uses time.Now.
func New(sink EventSink, limiter *RateLimiter, metrics *Metrics, log *logger.Logger, clock func() time.Time) *Gateway {
	if limiter == nil {
		limiter = NewRateLimiter(100, time.Second, clock)
	}
	if log == nil {
		log = logger.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Gateway{
		sink:    sink,
		limiter: limiter,
		metrics: metrics,
		log:     log.With(logger.Component("intake")),
		now:     clock,
	}
}

// Submit processes a single raw event. Rate-limited events are dropped
// before validation and never reach the buffer.
func (g *Gateway) Submit(ctx context.Context, raw telemetry.RawEvent, connectionID string) Ack {
	shard := g.shardFor(raw.SessionID)
	shard.Lock()
	defer shard.Unlock()

	if !g.limiter.Allow(raw.SessionID) {
		g.reject(ReasonRateLimit)
		return Ack{
			Success:   false,
			ErrorCode: CodeRateLimit,
			Reason:    "session event rate exceeded",
		}
	}

	return g.process(ctx, raw, connectionID)
}

// SubmitBatch processes events independently, continuing past per-item
// failures. The rate limit is checked once against the batch's session id,
// with the batch size, before any item is processed.
func (g *Gateway) SubmitBatch(ctx context.Context, events []telemetry.RawEvent, connectionID string) BatchAck {
	if g.metrics != nil {
		g.metrics.Batches.Inc()
		g.metrics.BatchSize.Observe(float64(len(events)))
	}
	if len(events) == 0 {
		return BatchAck{Success: true}
	}

	sessionID := events[0].SessionID
	shard := g.shardFor(sessionID)
	shard.Lock()
	defer shard.Unlock()

	if !g.limiter.AllowN(sessionID, len(events)) {
		g.reject(ReasonRateLimit)
		return BatchAck{
			Success: false,
			Failed:  len(events),
			Errors:  []string{CodeRateLimit + ": session event rate exceeded"},
		}
	}

	ack := BatchAck{}
	for i, raw := range events {
		itemAck := g.process(ctx, raw, connectionID)
		if itemAck.Success {
			ack.Processed++
			continue
		}
		ack.Failed++
		if len(ack.Errors) < maxSampledErrors {
			ack.Errors = append(ack.Errors, fmt.Sprintf("event %d: %s: %s", i, itemAck.ErrorCode, itemAck.Reason))
		}
	}

	ack.Success = ack.Failed == 0
	return ack
}

// process validates and enriches one already-admitted event and hands it to
// the buffer. Callers hold the session shard lock.
func (g *Gateway) process(ctx context.Context, raw telemetry.RawEvent, connectionID string) Ack {
	now := g.now()

	payload, verr := telemetry.Validate(raw, now)
	if verr != nil {
		g.reject(ReasonValidation)
		g.log.Debug("event rejected",
			logger.SessionID(raw.SessionID),
			logger.EventTypeField(string(raw.EventType)),
			logger.String("code", verr.Code),
			logger.String("reason", verr.Reason))
		return Ack{
			Success:   false,
			ErrorCode: CodeValidation,
			Reason:    verr.Reason,
		}
	}

	event := telemetry.NormalizedEvent{
		ID:           uuid.NewString(),
		SessionID:    raw.SessionID,
		StudentID:    raw.StudentID,
		EventType:    raw.EventType,
		Payload:      payload,
		Timestamp:    raw.Timestamp,
		ReceivedAt:   timeutil.ToMillis(now),
		ConnectionID: connectionID,
		Priority:     telemetry.PriorityOf(raw.EventType),
		Metrics:      telemetry.DeriveMetrics(payload),
		Metadata:     raw.Metadata,
	}

	if err := g.sink.Append(ctx, event); err != nil {
		g.reject(ReasonServer)
		g.log.Error("buffer append failed",
			logger.SessionID(event.SessionID),
			logger.EventID(event.ID),
			logger.Err(err))
		return Ack{
			Success:   false,
			ErrorCode: CodeServer,
			Reason:    "event could not be buffered",
		}
	}

	if g.metrics != nil {
		g.metrics.Accepted.WithLabelValues(string(event.EventType)).Inc()
	}

	// Per-session counts live in debug logs, not metric labels, so the
	// session id never becomes an unbounded label dimension.
	g.log.Debug("event buffered",
		logger.SessionID(event.SessionID),
		logger.EventTypeField(string(event.EventType)))

	return Ack{
		Success:         true,
		EventID:         event.ID,
		ServerTimestamp: event.ReceivedAt,
	}
}

// SessionEnded releases per-session limiter state.
func (g *Gateway) SessionEnded(sessionID string) {
	g.limiter.Forget(sessionID)
}

func (g *Gateway) reject(reason string) {
	if g.metrics != nil {
		g.metrics.Rejected.WithLabelValues(reason).Inc()
	}
}

func (g *Gateway) shardFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &g.shards[h.Sum32()%shardCount]
}
