package analyzer

import (
	"math"
	"time"

	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/types"
)

func sequenceSignals(state recorder.State) []types.AnomalySignal {
	var sigs []types.AnomalySignal

	if len(state.Clicks) >= MinClicks {
		ratio := fraction(len(state.Hovers), len(state.Clicks))
		if ratio < 2 {
			sigs = append(sigs, types.AnomalySignal{Name: "sequence.low_hover_ratio", Value: ratio, Weight: 5})
		}
	}

	focusChanges := state.FocusChanges
	if len(focusChanges) >= 3 {
		lacking := 0
		for _, fc := range focusChanges {
			if !hasNearbyAction(fc.Timestamp, state.Clicks, state.Keystrokes, 100*time.Millisecond) {
				lacking++
			}
		}
		if fraction(lacking, len(focusChanges)) > 0.5 {
			sigs = append(sigs, types.AnomalySignal{Name: "sequence.direct_focus", Value: fraction(lacking, len(focusChanges)), Weight: 6})
		}
	}

	if rapidFocusSequence(focusChanges) {
		sigs = append(sigs, types.AnomalySignal{Name: "comet.rapid_focus_sequence", Value: 1, Weight: 7})
	}

	return sigs
}

func hasNearbyAction(t time.Time, clicks []types.Click, keys []types.Keystroke, window time.Duration) bool {
	for _, c := range clicks {
		if absDuration(c.Timestamp.Sub(t)) <= window {
			return true
		}
	}
	for _, k := range keys {
		if absDuration(k.Timestamp.Sub(t)) <= window {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func rapidFocusSequence(changes []types.FocusChange) bool {
	var ins []types.FocusChange
	for _, c := range changes {
		if c.Phase == types.FocusIn {
			ins = append(ins, c)
		}
	}
	for i := 1; i < len(ins); i++ {
		gap := ins[i].Timestamp.Sub(ins[i-1].Timestamp)
		if gap <= 200*time.Millisecond && differentTarget(ins[i-1].Target, ins[i].Target) {
			return true
		}
	}
	return false
}

func differentTarget(a, b types.TargetDescriptor) bool {
	return a.ID != b.ID || (a.ID == "" && math.Abs(a.CenterX-b.CenterX)+math.Abs(a.CenterY-b.CenterY) > 0)
}
