package analyzer

import (
	"math"
	"time"

	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/types"
)

func mouseSignals(state recorder.State, duration time.Duration, pageLoadCount int) []types.AnomalySignal {
	moves := state.MouseMoves
	var sigs []types.AnomalySignal

	if len(moves) < MinMouseMoves {
		sigs = append(sigs, types.AnomalySignal{Name: "mouse.insufficient_data", Value: float64(len(moves)), Weight: 2})
		sigs = append(sigs, lowMouseToActionRatioSignal(state, pageLoadCount)...)
		return sigs
	}

	if linearFraction(moves) > 0.3 {
		sigs = append(sigs, types.AnomalySignal{Name: "mouse.linear_movement", Value: linearFraction(moves), Weight: 3})
	}

	for _, m := range moves {
		if m.Velocity > MaxPlausibleVelocity {
			sigs = append(sigs, types.AnomalySignal{Name: "mouse.teleport", Value: m.Velocity, Weight: 8})
			break
		}
	}

	if float64(len(moves)) < duration.Seconds()*1000/5000 {
		sigs = append(sigs, types.AnomalySignal{Name: "mouse.sparse_movement", Value: float64(len(moves)), Weight: 5})
	}

	velocities := velocitiesWithDt(moves)
	if len(velocities) >= 5 && variance(velocities) < 0.1 {
		sigs = append(sigs, types.AnomalySignal{Name: "mouse.constant_velocity", Value: variance(velocities), Weight: 6})
	}

	sigs = append(sigs, lowMouseToActionRatioSignal(state, pageLoadCount)...)

	return sigs
}

// lowMouseToActionRatioSignal implements comet.low_mouse_to_action_ratio in
// isolation from the MinMouseMoves gate: the signal is conditioned only on
// pageLoadCount and action count, not on a minimum mouse-move count; it
// exists specifically to catch the low-movement case, so it must still
// engage when mouseSignals otherwise short-circuits on
// mouse.insufficient_data.
func lowMouseToActionRatioSignal(state recorder.State, pageLoadCount int) []types.AnomalySignal {
	actions := len(state.Clicks) + countKeyDowns(state.Keystrokes)
	if pageLoadCount < 2 || actions < 3 {
		return nil
	}
	ratio := float64(len(state.MouseMoves)) / float64(actions)
	switch {
	case ratio < 2:
		return []types.AnomalySignal{{Name: "comet.low_mouse_to_action_ratio", Value: ratio, Weight: 10}}
	case ratio < 5:
		return []types.AnomalySignal{{Name: "comet.low_mouse_to_action_ratio", Value: ratio, Weight: 7}}
	}
	return nil
}

func linearFraction(moves []types.MouseMove) float64 {
	if len(moves) < 3 {
		return 0
	}
	angles := make([]float64, len(moves))
	for i, m := range moves {
		angles[i] = math.Atan2(m.Dy, m.Dx)
	}
	straight := 0
	total := 0
	for i := 2; i < len(angles); i++ {
		total++
		if math.Abs(math.Cos(angles[i]-angles[i-1])) > 0.99 {
			straight++
		}
	}
	return fraction(straight, total)
}

func velocitiesWithDt(moves []types.MouseMove) []float64 {
	var vs []float64
	for _, m := range moves {
		if m.DtMs > 0 {
			vs = append(vs, m.Velocity)
		}
	}
	return vs
}

func countKeyDowns(keystrokes []types.Keystroke) int {
	n := 0
	for _, k := range keystrokes {
		if k.Phase == types.KeyDown {
			n++
		}
	}
	return n
}
