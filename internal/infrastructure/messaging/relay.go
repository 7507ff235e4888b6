// Package messaging relays pipeline events over Redis pub/sub: scored
// windows go out on the score update channel, and externally produced mood
// adjustments come in for the scorer.
package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/learnpulse/clr-hub/internal/domain/scoring"
	redisinfra "github.com/learnpulse/clr-hub/internal/infrastructure/persistence/redis"
	"github.com/learnpulse/clr-hub/pkg/logger"
)

// MoodMessage is the inbound per-student mood signal. Mood is in [-1, 1];
// negative values raise the cognitive load score.
type MoodMessage struct {
	StudentID string  `json:"studentId"`
	Mood      float64 `json:"mood"`
	Timestamp int64   `json:"timestamp"`
}

// ScoreMessage is the outbound scored-window notification.
type ScoreMessage struct {
	SessionID    string  `json:"sessionId"`
	StudentID    string  `json:"studentId"`
	Score        float64 `json:"score"`
	FatigueLevel string  `json:"fatigueLevel"`
	Urgency      string  `json:"urgency"`
	WindowEnd    int64   `json:"windowEnd"`
}

// moodMaxAge is how long a mood signal stays applicable.
const moodMaxAge = 30 * time.Minute

type moodEntry struct {
	mood       float64
	receivedAt time.Time
}

// Relay bridges Redis pub/sub and the in-process pipeline. It caches the
// latest mood per student for the scorer and publishes scored windows for
// external consumers.
type Relay struct {
	client *redisinfra.Client
	log    *logger.Logger
	now    func() time.Time

	mu    sync.RWMutex
	moods map[string]moodEntry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay creates a Relay. A nil clock uses time.Now.
func NewRelay(client *redisinfra.Client, log *logger.Logger, clock func() time.Time) *Relay {
	if log == nil {
		log = logger.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Relay{
		client: client,
		log:    log.With(logger.Component("relay")),
		now:    clock,
		moods:  make(map[string]moodEntry),
		done:   make(chan struct{}),
	}
}

// Start subscribes to the mood channel and consumes messages until Close.
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	sub := r.client.Subscribe(ctx, redisinfra.ChannelMoodAdjustments)

	go func() {
		defer close(r.done)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.handleMood([]byte(msg.Payload))
			}
		}
	}()
}

// Close stops the subscription and waits for the consumer to exit.
func (r *Relay) Close() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Relay) handleMood(payload []byte) {
	var msg MoodMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.log.Warn("malformed mood message dropped", logger.Err(err))
		return
	}
	if msg.StudentID == "" || msg.Mood < -1 || msg.Mood > 1 {
		r.log.Warn("mood message out of range dropped",
			logger.StudentID(msg.StudentID))
		return
	}

	r.mu.Lock()
	r.moods[msg.StudentID] = moodEntry{mood: msg.Mood, receivedAt: r.now()}
	r.mu.Unlock()

	r.log.Debug("mood adjustment received", logger.StudentID(msg.StudentID))
}

// Mood returns the student's latest mood signal, or nil when absent or
// older than the applicability window.
func (r *Relay) Mood(studentID string) *float64 {
	r.mu.RLock()
	entry, ok := r.moods[studentID]
	r.mu.RUnlock()

	if !ok || r.now().Sub(entry.receivedAt) > moodMaxAge {
		return nil
	}
	mood := entry.mood
	return &mood
}

// PublishResult announces a scored window on the score update channel.
func (r *Relay) PublishResult(ctx context.Context, result scoring.Result) error {
	return r.client.Publish(ctx, redisinfra.ChannelScoreUpdates, ScoreMessage{
		SessionID:    result.SessionID,
		StudentID:    result.StudentID,
		Score:        result.Score,
		FatigueLevel: string(result.FatigueLevel),
		Urgency:      string(result.Urgency),
		WindowEnd:    result.WindowEnd,
	})
}
