package telemetry

// DeriveMetrics computes the type-specific derived metrics attached to a
// normalized event at intake. Returns nil for types with nothing to derive.
// The switch is exhaustive over the ten payload variants.
func DeriveMetrics(p Payload) *EventMetrics {
	switch v := p.(type) {
	case TypingPatternPayload:
		total := v.Keystrokes + v.Backspaces
		m := &EventMetrics{CorrectionRate: v.CorrectionRate}
		if total > 0 {
			m.TypingEfficiency = float64(v.Keystrokes) / float64(total)
		}
		return m
	case NavigationPayload:
		return &EventMetrics{DwellSeconds: float64(v.DwellTimeMs) / 1000.0}
	case IdlePayload:
		return &EventMetrics{IdleMinutes: float64(v.DurationMs) / 60000.0}
	case TimeTrackingPayload:
		return &EventMetrics{TrackedSeconds: float64(v.DurationMs) / 1000.0}
	case ScrollBehaviorPayload:
		return &EventMetrics{ScrollDepth: v.Depth}
	case TaskSwitchPayload, MouseMovementPayload, FocusChangePayload,
		QuizErrorPayload, ContentInteractionPayload:
		return nil
	default:
		return nil
	}
}
