package analyzer

import (
	"math"

	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/types"
)

func scrollSignals(state recorder.State) []types.AnomalySignal {
	scrolls := state.Scrolls
	var sigs []types.AnomalySignal
	if len(scrolls) == 0 {
		return sigs
	}

	instant := 0
	for _, s := range scrolls {
		if s.DtMs < 10 && math.Abs(s.DScrollY) > 100 {
			instant++
		}
	}
	if fraction(instant, len(scrolls)) > 0.5 {
		sigs = append(sigs, types.AnomalySignal{Name: "scroll.instant_jump", Value: fraction(instant, len(scrolls)), Weight: 6})
	}

	if len(scrolls) >= 3 {
		deltas := make([]float64, len(scrolls))
		for i, s := range scrolls {
			deltas[i] = math.Abs(s.DScrollY)
		}
		if variance(deltas) < 1 {
			sigs = append(sigs, types.AnomalySignal{Name: "scroll.constant_amount", Value: variance(deltas), Weight: 5})
		}
	}

	return sigs
}
