package analyzer

import (
	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/types"
)

func keystrokeSignals(state recorder.State) []types.AnomalySignal {
	keys := state.Keystrokes
	var sigs []types.AnomalySignal
	if len(keys) < MinKeystrokes {
		return sigs
	}

	intervals := interKeyIntervals(keys)
	if len(intervals) >= 5 && variance(intervals) < PerfectTimingVariance {
		sigs = append(sigs, types.AnomalySignal{Name: "keystroke.perfect_timing", Value: variance(intervals), Weight: 9})
	}
	if len(intervals) >= 10 && coefficientOfVariation(intervals) < 0.1 {
		sigs = append(sigs, types.AnomalySignal{Name: "comet.uniform_keystroke_cadence", Value: coefficientOfVariation(intervals), Weight: 9})
	}

	fast := 0
	for _, iv := range intervals {
		if iv < 30 {
			fast++
		}
	}
	if fraction(fast, len(intervals)) > 0.3 {
		sigs = append(sigs, types.AnomalySignal{Name: "keystroke.superhuman_speed", Value: fraction(fast, len(intervals)), Weight: 9})
	}

	holds := holdDurations(keys)
	if len(holds) >= 5 && variance(holds) < 1 {
		sigs = append(sigs, types.AnomalySignal{Name: "keystroke.constant_hold", Value: variance(holds), Weight: 7})
	}
	if len(holds) >= 10 && coefficientOfVariation(holds) < 0.1 {
		sigs = append(sigs, types.AnomalySignal{Name: "comet.uniform_hold_duration", Value: coefficientOfVariation(holds), Weight: 8})
	}

	return sigs
}

func interKeyIntervals(keys []types.Keystroke) []float64 {
	var out []float64
	for i, k := range keys {
		if i == 0 {
			continue
		}
		out = append(out, k.DtMs)
	}
	return out
}

func holdDurations(keys []types.Keystroke) []float64 {
	var out []float64
	for _, k := range keys {
		if k.HoldDuration > 0 {
			out = append(out, k.HoldDuration)
		}
	}
	return out
}
