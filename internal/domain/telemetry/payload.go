package telemetry

import (
	"encoding/json"
	"fmt"
)

// Payload is the tagged sum of the ten event payload shapes. Every consumer
// switches exhaustively over the concrete types; adding a variant means the
// compiler finds each switch via the Kind method's constant set.
type Payload interface {
	// Kind returns the discriminator tag this payload belongs to.
	Kind() EventType

	// check validates the payload's business rules. Reasons are
	// machine-readable and surfaced through the validation result.
	check() *ValidationError
}

// TaskSwitchPayload describes a context switch between two learning tasks.
type TaskSwitchPayload struct {
	FromTask string `json:"fromTask"`
	ToTask   string `json:"toTask"`
	// SwitchDurationMs is how long the switch itself took, if measured.
	SwitchDurationMs int64 `json:"switchDurationMs,omitempty"`
}

func (TaskSwitchPayload) Kind() EventType { return EventTaskSwitch }

func (p TaskSwitchPayload) check() *ValidationError {
	if p.ToTask == "" {
		return invalid(CodeInvalidPayload, "taskSwitch: toTask is required")
	}
	if p.SwitchDurationMs < 0 {
		return invalid(CodeInvalidPayload, "taskSwitch: switchDurationMs must be non-negative")
	}
	return nil
}

// TypingPatternPayload summarizes a burst of typing activity.
type TypingPatternPayload struct {
	Keystrokes     int     `json:"keystrokes"`
	Backspaces     int     `json:"backspaces"`
	CorrectionRate float64 `json:"correctionRate"`
	DurationMs     int64   `json:"durationMs,omitempty"`
}

func (TypingPatternPayload) Kind() EventType { return EventTypingPattern }

func (p TypingPatternPayload) check() *ValidationError {
	if p.Keystrokes < 0 || p.Backspaces < 0 {
		return invalid(CodeInvalidPayload, "typingPattern: keystroke and backspace counts must be non-negative")
	}
	if p.CorrectionRate < 0 || p.CorrectionRate > 1 {
		return invalid(CodeInvalidPayload, "typingPattern: correctionRate must be within [0,1]")
	}
	if p.DurationMs < 0 {
		return invalid(CodeInvalidPayload, "typingPattern: durationMs must be non-negative")
	}
	return nil
}

// ScrollBehaviorPayload captures scrolling through content.
type ScrollBehaviorPayload struct {
	// Depth is the deepest position reached, as a fraction of the page in [0,1].
	Depth float64 `json:"depth"`
	// Direction is "up" or "down".
	Direction string `json:"direction"`
	// VelocityPxs is the average scroll velocity in pixels per second.
	VelocityPxs float64 `json:"velocityPxs,omitempty"`
}

func (ScrollBehaviorPayload) Kind() EventType { return EventScrollBehavior }

func (p ScrollBehaviorPayload) check() *ValidationError {
	if p.Depth < 0 || p.Depth > 1 {
		return invalid(CodeInvalidPayload, "scrollBehavior: depth must be within [0,1]")
	}
	if p.Direction != "up" && p.Direction != "down" {
		return invalid(CodeInvalidPayload, "scrollBehavior: direction must be \"up\" or \"down\"")
	}
	if p.VelocityPxs < 0 {
		return invalid(CodeInvalidPayload, "scrollBehavior: velocityPxs must be non-negative")
	}
	return nil
}

// MouseMovementPayload aggregates pointer activity over a short window.
type MouseMovementPayload struct {
	DistancePx float64 `json:"distancePx"`
	Clicks     int     `json:"clicks"`
	WindowMs   int64   `json:"windowMs,omitempty"`
}

func (MouseMovementPayload) Kind() EventType { return EventMouseMovement }

func (p MouseMovementPayload) check() *ValidationError {
	if p.DistancePx < 0 {
		return invalid(CodeInvalidPayload, "mouseMovement: distancePx must be non-negative")
	}
	if p.Clicks < 0 {
		return invalid(CodeInvalidPayload, "mouseMovement: clicks must be non-negative")
	}
	return nil
}

// FocusChangePayload records the browser tab or window gaining/losing focus.
type FocusChangePayload struct {
	Focused bool   `json:"focused"`
	Target  string `json:"target,omitempty"`
}

func (FocusChangePayload) Kind() EventType { return EventFocusChange }

func (p FocusChangePayload) check() *ValidationError { return nil }

// NavigationPayload records a page transition inside the learning platform.
type NavigationPayload struct {
	FromPath string `json:"fromPath,omitempty"`
	ToPath   string `json:"toPath"`
	// DwellTimeMs is how long the student stayed on the previous page.
	DwellTimeMs int64 `json:"dwellTimeMs"`
}

func (NavigationPayload) Kind() EventType { return EventNavigation }

func (p NavigationPayload) check() *ValidationError {
	if p.ToPath == "" {
		return invalid(CodeInvalidPayload, "navigation: toPath is required")
	}
	if p.DwellTimeMs < 0 {
		return invalid(CodeInvalidPayload, "navigation: dwellTimeMs must be non-negative")
	}
	return nil
}

// IdlePayload records a period without any user activity.
type IdlePayload struct {
	DurationMs int64 `json:"durationMs"`
	// LastActivity is the millisecond timestamp of the last input before idling.
	LastActivity int64 `json:"lastActivity,omitempty"`
}

func (IdlePayload) Kind() EventType { return EventIdleTime }

func (p IdlePayload) check() *ValidationError {
	if p.DurationMs < 0 {
		return invalid(CodeInvalidPayload, "idleTime: durationMs must be non-negative")
	}
	return nil
}

// QuizErrorPayload records an incorrect quiz answer.
type QuizErrorPayload struct {
	QuizID     string `json:"quizId"`
	QuestionID string `json:"questionId,omitempty"`
	ConceptID  string `json:"conceptId,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
}

func (QuizErrorPayload) Kind() EventType { return EventQuizError }

func (p QuizErrorPayload) check() *ValidationError {
	if p.QuizID == "" {
		return invalid(CodeInvalidPayload, "quizError: quizId is required")
	}
	if p.Attempt < 0 {
		return invalid(CodeInvalidPayload, "quizError: attempt must be non-negative")
	}
	return nil
}

// ContentInteractionPayload records deliberate engagement with a content module.
type ContentInteractionPayload struct {
	ContentID string `json:"contentId"`
	// Action is the interaction kind, e.g. "open", "expand", "play", "answer".
	Action     string `json:"action"`
	ConceptID  string `json:"conceptId,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

func (ContentInteractionPayload) Kind() EventType { return EventContentInteraction }

func (p ContentInteractionPayload) check() *ValidationError {
	if p.ContentID == "" {
		return invalid(CodeInvalidPayload, "contentInteraction: contentId is required")
	}
	if p.Action == "" {
		return invalid(CodeInvalidPayload, "contentInteraction: action is required")
	}
	if p.DurationMs < 0 {
		return invalid(CodeInvalidPayload, "contentInteraction: durationMs must be non-negative")
	}
	return nil
}

// TimeTrackingPayload records continuous time spent on one concept.
type TimeTrackingPayload struct {
	ConceptID  string `json:"conceptId,omitempty"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	DurationMs int64  `json:"durationMs"`
}

func (TimeTrackingPayload) Kind() EventType { return EventTimeTracking }

func (p TimeTrackingPayload) check() *ValidationError {
	if p.EndTime < p.StartTime {
		return invalid(CodeInvalidPayload, "timeTracking: endTime must not precede startTime")
	}
	if p.DurationMs != p.EndTime-p.StartTime {
		return invalid(CodeInvalidPayload, "timeTracking: durationMs must equal endTime-startTime")
	}
	return nil
}

// DecodePayload decodes raw event data into the concrete payload shape for
// the given type tag. The switch is exhaustive over the ten variants.
func DecodePayload(t EventType, data json.RawMessage) (Payload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("telemetry: empty event data for type %s", t)
	}

	var (
		payload Payload
		err     error
	)
	switch t {
	case EventTaskSwitch:
		var p TaskSwitchPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventTypingPattern:
		var p TypingPatternPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventScrollBehavior:
		var p ScrollBehaviorPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventMouseMovement:
		var p MouseMovementPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventFocusChange:
		var p FocusChangePayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventNavigation:
		var p NavigationPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventIdleTime:
		var p IdlePayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventQuizError:
		var p QuizErrorPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventContentInteraction:
		var p ContentInteractionPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventTimeTracking:
		var p TimeTrackingPayload
		err = json.Unmarshal(data, &p)
		payload = p
	default:
		return nil, fmt.Errorf("telemetry: unknown event type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: malformed %s payload: %w", t, err)
	}
	return payload, nil
}
