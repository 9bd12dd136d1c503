package analyzer

import (
	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/types"
)

func clickSignals(state recorder.State) []types.AnomalySignal {
	clicks := state.Clicks
	var sigs []types.AnomalySignal
	if len(clicks) == 0 {
		return sigs
	}

	within := func(tolerance float64) int {
		n := 0
		for _, c := range clicks {
			if c.OffsetFromCenter <= tolerance {
				n++
			}
		}
		return n
	}

	if fraction(within(CenterClickToleranceP), len(clicks)) > 0.5 {
		sigs = append(sigs, types.AnomalySignal{Name: "click.center_precision", Value: fraction(within(CenterClickToleranceP), len(clicks)), Weight: 10})
	}
	if len(clicks) >= 3 && fraction(within(UltraPreciseToleranceP), len(clicks)) > 0.6 {
		sigs = append(sigs, types.AnomalySignal{Name: "comet.ultra_precise_center", Value: fraction(within(UltraPreciseToleranceP), len(clicks)), Weight: 10})
	}

	noHover := 0
	noMovement := 0
	for _, c := range clicks {
		if !c.PrecedingHover {
			noHover++
		}
		if !c.PrecedingMouseMove {
			noMovement++
		}
	}
	if fraction(noHover, len(clicks)) > 0.7 {
		sigs = append(sigs, types.AnomalySignal{Name: "click.no_hover", Value: fraction(noHover, len(clicks)), Weight: 6})
	}
	if fraction(noMovement, len(clicks)) > 0.5 {
		sigs = append(sigs, types.AnomalySignal{Name: "click.no_movement", Value: fraction(noMovement, len(clicks)), Weight: 9})
	}

	if len(clicks) >= 3 && len(state.MouseMoves) < 2*len(clicks) {
		sigs = append(sigs, types.AnomalySignal{Name: "click.teleport_pattern", Value: float64(len(state.MouseMoves)), Weight: 10})
	}

	intervals := clickIntervalsMs(clicks)
	for _, iv := range intervals {
		if iv < 50 {
			sigs = append(sigs, types.AnomalySignal{Name: "click.superhuman_speed", Value: iv, Weight: 6})
			break
		}
	}
	if len(intervals) >= 3 && variance(intervals) < PerfectTimingVariance {
		sigs = append(sigs, types.AnomalySignal{Name: "click.perfect_timing", Value: variance(intervals), Weight: 8})
	}

	return sigs
}

func clickIntervalsMs(clicks []types.Click) []float64 {
	if len(clicks) < 2 {
		return nil
	}
	intervals := make([]float64, 0, len(clicks)-1)
	for i := 1; i < len(clicks); i++ {
		intervals = append(intervals, clicks[i].Timestamp.Sub(clicks[i-1].Timestamp).Seconds()*1000)
	}
	return intervals
}
