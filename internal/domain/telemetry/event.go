// Package telemetry contains the behavioral event model for the CLR pipeline:
// the raw client envelope, the ten discriminated payload variants, validation
// rules, and the normalized server-side event that flows through the buffer.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/learnpulse/clr-hub/pkg/timeutil"
)

// EventType is the discriminator tag of a behavioral event.
type EventType string

// The ten recognized behavioral event types.
const (
	EventTaskSwitch         EventType = "TASK_SWITCH"
	EventTypingPattern      EventType = "TYPING_PATTERN"
	EventScrollBehavior     EventType = "SCROLL_BEHAVIOR"
	EventMouseMovement      EventType = "MOUSE_MOVEMENT"
	EventFocusChange        EventType = "FOCUS_CHANGE"
	EventNavigation         EventType = "NAVIGATION"
	EventIdleTime           EventType = "IDLE_TIME"
	EventQuizError          EventType = "QUIZ_ERROR"
	EventContentInteraction EventType = "CONTENT_INTERACTION"
	EventTimeTracking       EventType = "TIME_TRACKING"
)

// AllEventTypes lists every recognized event type.
var AllEventTypes = []EventType{
	EventTaskSwitch,
	EventTypingPattern,
	EventScrollBehavior,
	EventMouseMovement,
	EventFocusChange,
	EventNavigation,
	EventIdleTime,
	EventQuizError,
	EventContentInteraction,
	EventTimeTracking,
}

// IsValid reports whether t is one of the ten recognized tags.
func (t EventType) IsValid() bool {
	switch t {
	case EventTaskSwitch, EventTypingPattern, EventScrollBehavior,
		EventMouseMovement, EventFocusChange, EventNavigation,
		EventIdleTime, EventQuizError, EventContentInteraction,
		EventTimeTracking:
		return true
	default:
		return false
	}
}

// Priority classifies how urgently an event type matters for scoring.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// PriorityOf derives the processing priority from the event type.
func PriorityOf(t EventType) Priority {
	switch t {
	case EventQuizError:
		return PriorityCritical
	case EventTaskSwitch, EventIdleTime:
		return PriorityHigh
	case EventTypingPattern, EventTimeTracking, EventContentInteraction:
		return PriorityMedium
	case EventScrollBehavior, EventMouseMovement, EventFocusChange, EventNavigation:
		return PriorityLow
	default:
		return PriorityLow
	}
}

// RawEvent is the untrusted envelope produced by the client.
// EventData is kept raw until the type tag has been checked.
type RawEvent struct {
	SessionID string          `json:"sessionId"`
	StudentID string          `json:"studentId"`
	EventType EventType       `json:"eventType"`
	EventData json.RawMessage `json:"eventData"`
	Timestamp int64           `json:"timestamp"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// NormalizedEvent is the enriched, immutable server-side event. It is created
// by the intake gateway and owned by the durable buffer until a scheduler tick
// consumes it.
type NormalizedEvent struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"sessionId"`
	StudentID    string         `json:"studentId"`
	EventType    EventType      `json:"eventType"`
	Payload      Payload        `json:"-"`
	Timestamp    int64          `json:"timestamp"`
	ReceivedAt   int64          `json:"receivedAt"`
	ConnectionID string         `json:"connectionId,omitempty"`
	Priority     Priority       `json:"priority"`
	Metrics      *EventMetrics  `json:"metrics,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EventMetrics carries type-specific derived metrics computed at intake.
// Only the fields relevant to the event's type are populated.
type EventMetrics struct {
	// TypingEfficiency is keystrokes/(keystrokes+backspaces) in [0,1].
	TypingEfficiency float64 `json:"typingEfficiency,omitempty"`

	// CorrectionRate is the client-reported correction rate in [0,1].
	CorrectionRate float64 `json:"correctionRate,omitempty"`

	// DwellSeconds is the navigation dwell duration in seconds.
	DwellSeconds float64 `json:"dwellSeconds,omitempty"`

	// IdleMinutes is the idle duration in minutes.
	IdleMinutes float64 `json:"idleMinutes,omitempty"`

	// TrackedSeconds is the time-tracking duration in seconds.
	TrackedSeconds float64 `json:"trackedSeconds,omitempty"`

	// ScrollDepth is the deepest scroll position reached in [0,1].
	ScrollDepth float64 `json:"scrollDepth,omitempty"`
}

// normalizedEventJSON is the wire form of NormalizedEvent: the typed payload
// travels as raw JSON next to its discriminator tag.
type normalizedEventJSON struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"sessionId"`
	StudentID    string          `json:"studentId"`
	EventType    EventType       `json:"eventType"`
	EventData    json.RawMessage `json:"eventData"`
	Timestamp    int64           `json:"timestamp"`
	ReceivedAt   int64           `json:"receivedAt"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Priority     Priority        `json:"priority"`
	Metrics      *EventMetrics   `json:"metrics,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e NormalizedEvent) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("telemetry: marshal payload for event %s: %w", e.ID, err)
	}
	return json.Marshal(normalizedEventJSON{
		ID:           e.ID,
		SessionID:    e.SessionID,
		StudentID:    e.StudentID,
		EventType:    e.EventType,
		EventData:    data,
		Timestamp:    e.Timestamp,
		ReceivedAt:   e.ReceivedAt,
		ConnectionID: e.ConnectionID,
		Priority:     e.Priority,
		Metrics:      e.Metrics,
		Metadata:     e.Metadata,
	})
}

// UnmarshalJSON implements json.Unmarshaler, decoding the payload according
// to the event type tag.
func (e *NormalizedEvent) UnmarshalJSON(data []byte) error {
	var wire normalizedEventJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := DecodePayload(wire.EventType, wire.EventData)
	if err != nil {
		return fmt.Errorf("telemetry: decode payload for event %s: %w", wire.ID, err)
	}
	*e = NormalizedEvent{
		ID:           wire.ID,
		SessionID:    wire.SessionID,
		StudentID:    wire.StudentID,
		EventType:    wire.EventType,
		Payload:      payload,
		Timestamp:    wire.Timestamp,
		ReceivedAt:   wire.ReceivedAt,
		ConnectionID: wire.ConnectionID,
		Priority:     wire.Priority,
		Metrics:      wire.Metrics,
		Metadata:     wire.Metadata,
	}
	return nil
}

// OccurredAt returns the client timestamp as a time.Time in UTC.
func (e *NormalizedEvent) OccurredAt() time.Time {
	return timeutil.FromMillis(e.Timestamp)
}
