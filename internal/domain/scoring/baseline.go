package scoring

// Baseline is a student's rolling 7-day average and standard deviation of
// prior composite scores. It is supplied from outside the scorer; a nil
// baseline contributes zero adjustment.
type Baseline struct {
	Avg        float64 `json:"avg"`
	Std        float64 `json:"std"`
	DataPoints int     `json:"dataPoints"`
}

// baselineAdjustment maps the z-score of the current base score against the
// baseline into banded bonus points: z > 2.0 adds 15, z > 1.0 adds 8.
func baselineAdjustment(current float64, b *Baseline) float64 {
	if b == nil || b.Std == 0 {
		return 0
	}
	z := (current - b.Avg) / b.Std
	switch {
	case z > 2.0:
		return 15
	case z > 1.0:
		return 8
	default:
		return 0
	}
}

// moodAdjustment maps an externally supplied mood score in [-1,1] into
// banded bonus points. Negative mood increases cognitive load; a nil mood
// (no external signal) contributes zero.
func moodAdjustment(mood *float64) float64 {
	if mood == nil {
		return 0
	}
	switch m := *mood; {
	case m < -0.5:
		return 20
	case m < -0.2:
		return 10
	case m < 0:
		return 5
	default:
		return 0
	}
}
