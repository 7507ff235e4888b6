package telemetry

import (
	"time"

	"github.com/learnpulse/clr-hub/pkg/timeutil"
)

// Machine-readable validation failure codes.
const (
	CodeMissingField     = "MISSING_FIELD"
	CodeUnknownEventType = "UNKNOWN_EVENT_TYPE"
	CodeInvalidTimestamp = "INVALID_TIMESTAMP"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
)

// Timestamp acceptance window.
const (
	// MaxFutureSkew is how far ahead of server time a client timestamp may be.
	MaxFutureSkew = 1000 * time.Millisecond

	// MaxEventAge is how old an event may be before it is rejected.
	MaxEventAge = 24 * time.Hour
)

// ValidationError describes why an event failed validation. It is an ordinary
// negative result, not a process-level fault: malformed input never panics.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Code + ": " + e.Reason
}

func invalid(code, reason string) *ValidationError {
	return &ValidationError{Code: code, Reason: reason}
}

// Validate checks an untrusted raw event against the envelope and payload
// rules, in order: required fields, recognized type tag, timestamp window,
// then the type-specific payload shape. It returns the decoded payload on
// success so callers do not decode twice.
func Validate(raw RawEvent, now time.Time) (Payload, *ValidationError) {
	if raw.SessionID == "" {
		return nil, invalid(CodeMissingField, "sessionId is required")
	}
	if raw.StudentID == "" {
		return nil, invalid(CodeMissingField, "studentId is required")
	}
	if raw.EventType == "" {
		return nil, invalid(CodeMissingField, "eventType is required")
	}
	if len(raw.EventData) == 0 {
		return nil, invalid(CodeMissingField, "eventData is required")
	}
	if raw.Timestamp == 0 {
		return nil, invalid(CodeMissingField, "timestamp is required")
	}

	if !raw.EventType.IsValid() {
		return nil, invalid(CodeUnknownEventType, "unrecognized eventType "+string(raw.EventType))
	}

	if !timeutil.ClampFuture(raw.Timestamp, now, MaxFutureSkew) {
		return nil, invalid(CodeInvalidTimestamp, "timestamp is too far in the future")
	}
	if !timeutil.WithinAge(raw.Timestamp, now, MaxEventAge) {
		return nil, invalid(CodeInvalidTimestamp, "timestamp is older than 24h")
	}

	payload, err := DecodePayload(raw.EventType, raw.EventData)
	if err != nil {
		return nil, invalid(CodeInvalidPayload, err.Error())
	}
	if verr := payload.check(); verr != nil {
		return nil, verr
	}

	return payload, nil
}
