package orchestrator

import "github.com/lumenwatch/agentdetect/types"

// Compose folds the interaction, injection, fingerprint and agent sub-scores
// into a single combined score: each sub-score above a fixed threshold adds
// a fixed bonus on top of the interaction score, saturating at 100, and the
// result is mapped onto a five-band verdict.
func Compose(interactionScore, injectionScore, fingerprintScore, agentScore int) (int, types.Verdict) {
	score := interactionScore

	switch {
	case injectionScore >= 50:
		score += 25
	case injectionScore >= 25:
		score += 15
	case injectionScore >= 10:
		score += 5
	}

	switch {
	case fingerprintScore >= 70:
		score += 30
	case fingerprintScore >= 40:
		score += 15
	case fingerprintScore >= 20:
		score += 5
	}

	switch {
	case agentScore >= 70:
		score = max(score, 80)
		score += 10
	case agentScore >= 40:
		score += 15
	case agentScore >= 20:
		score += 5
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return score, verdictFor(score)
}

// verdictFor maps a combined score onto its fixed, closed-interval verdict
// band.
func verdictFor(score int) types.Verdict {
	switch {
	case score >= 80:
		return types.VerdictHighConfidenceAgent
	case score >= 60:
		return types.VerdictProbableAgent
	case score >= 40:
		return types.VerdictSuspicious
	case score >= 20:
		return types.VerdictLowSuspicion
	default:
		return types.VerdictLikelyHuman
	}
}
