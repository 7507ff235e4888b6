package scoring

// recommend generates rule-based recommendations from the score, the
// detected patterns, and the mood/baseline signals. Free-text LLM insights
// are an external collaborator; these are the deterministic tier that ships
// with every result.
func recommend(score float64, patterns []PatternResult, mood *float64, baselineAdj float64) []string {
	recs := []string{}

	switch {
	case score >= 75:
		recs = append(recs, "Take a break immediately - cognitive load is critical")
	case score >= 50:
		recs = append(recs, "Consider taking a 5-10 minute break soon")
	}

	for _, p := range patterns {
		if !p.Detected {
			continue
		}
		switch p.Name {
		case PatternTaskSwitchBurst:
			recs = append(recs, "Try to focus on one topic at a time to reduce task switching")
		case PatternErrorClustering:
			recs = append(recs, "Error patterns detected - review recent material or ask for help")
		case PatternProcrastination:
			recs = append(recs, "Break tasks into smaller chunks to maintain engagement")
		case PatternNightDegraded:
			recs = append(recs, "Cognitive performance is reduced during night hours - consider studying earlier")
		case PatternPoorMicroBreaks:
			if p.Adjustment > 30 {
				recs = append(recs, "Take regular 5-10 minute breaks every 25-50 minutes")
			}
		}
	}

	if mood != nil && *mood < -0.5 {
		recs = append(recs, "Frustration detected - try a different learning approach or ask for help")
	}

	if baselineAdj > 10 {
		recs = append(recs, "Your cognitive load is significantly higher than your usual pattern")
	}

	return recs
}
