package analyzer

import (
	"time"

	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/types"
)

func pointerSignals(state recorder.State) []types.AnomalySignal {
	var sigs []types.AnomalySignal
	clicks := state.Clicks
	if len(clicks) == 0 {
		return sigs
	}

	noTrail := 0
	for _, c := range clicks {
		if !hasMouseMoveInPreceding(c.Timestamp, state.MouseMoves, 500*time.Millisecond) {
			noTrail++
		}
	}
	if fraction(noTrail, len(clicks)) > 0.7 {
		sigs = append(sigs, types.AnomalySignal{Name: "comet.no_mousemove_trail", Value: fraction(noTrail, len(clicks)), Weight: 9})
	}

	if len(clicks) >= 3 {
		downs := 0
		for _, p := range state.PointerEvents {
			if p.Type == types.PointerDown {
				downs++
			}
		}
		ratio := fraction(downs, len(clicks))
		if ratio < 0.3 {
			sigs = append(sigs, types.AnomalySignal{Name: "comet.missing_pointer_events", Value: ratio, Weight: 7})
		}
	}

	return sigs
}

func hasMouseMoveInPreceding(t time.Time, moves []types.MouseMove, window time.Duration) bool {
	earliest := t.Add(-window)
	for _, m := range moves {
		if !m.Timestamp.Before(earliest) && !m.Timestamp.After(t) {
			return true
		}
	}
	return false
}
