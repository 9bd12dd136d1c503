// Package analyzer implements the Analyzer: pure functions over Event
// Recorder state (and, for agent-category extraction, Fingerprint and
// Injection state) that emit weighted AnomalySignals and sub-scores. No
// function here touches the DOM, a clock beyond what it is handed, or
// storage. A single cached report is held until the recorder's generation
// counter moves.
package analyzer

import (
	"math"
	"time"

	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/types"
)

// Data thresholds (configuration constants, not runtime-tunable).
const (
	MinMouseMoves          = 20
	MinClicks              = 3
	MinKeystrokes          = 10
	PerfectTimingVariance  = 5.0 // ms²
	MinHumanReactionMs     = 50.0
	MaxPlausibleVelocity   = 10000.0 // px/ms
	CenterClickToleranceP  = 5.0     // px
	UltraPreciseToleranceP = 2.0     // px
)

// strongSignals is the fixed "strong" set used by the interaction
// sub-score multiplier.
var strongSignals = map[string]bool{
	"click.superhuman_speed":          true,
	"click.center_precision":          true,
	"click.teleport_pattern":          true,
	"click.no_movement":               true,
	"comet.ultra_precise_center":      true,
	"comet.no_mousemove_trail":        true,
	"comet.read_then_act":             true,
	"comet.low_mouse_to_action_ratio": true,
}

// reliableSignals is the fixed "reliable" set used by the confidence term.
var reliableSignals = map[string]bool{
	"click.center_precision":          true,
	"comet.ultra_precise_center":      true,
	"comet.no_mousemove_trail":        true,
	"comet.low_mouse_to_action_ratio": true,
}

// Analyzer caches one AnalysisReport, invalidated whenever the Recorder's
// generation counter advances.
type Analyzer struct {
	cachedGeneration uint64
	hasCached        bool
	cached           types.AnalysisReport
}

// New creates an Analyzer with an empty cache.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze returns the cached report if the Recorder has not mutated since
// the last call, otherwise recomputes it. now is the evaluation instant;
// sessionStart is the Session's StartTime, used to derive duration;
// pageLoadCount gates the low_mouse_to_action_ratio signal.
func (a *Analyzer) Analyze(rec *recorder.Recorder, now, sessionStart time.Time, pageLoadCount int) types.AnalysisReport {
	gen := rec.Generation()
	if a.hasCached && gen == a.cachedGeneration {
		return a.cached
	}
	state := rec.RawState()
	report := Compute(state, now, sessionStart, pageLoadCount)
	a.cached = report
	a.cachedGeneration = gen
	a.hasCached = true
	return report
}

// Compute runs every signal function over state and composes the
// interaction sub-score. It has no memory of prior calls: callers wanting
// caching should go through Analyzer.Analyze.
func Compute(state recorder.State, now, sessionStart time.Time, pageLoadCount int) types.AnalysisReport {
	duration := now.Sub(sessionStart)

	var anomalies []types.AnomalySignal
	anomalies = append(anomalies, mouseSignals(state, duration, pageLoadCount)...)
	anomalies = append(anomalies, clickSignals(state)...)
	anomalies = append(anomalies, keystrokeSignals(state)...)
	anomalies = append(anomalies, scrollSignals(state)...)
	anomalies = append(anomalies, sequenceSignals(state)...)
	anomalies = append(anomalies, burstSignals(state)...)
	anomalies = append(anomalies, pointerSignals(state)...)

	counts := state.Counts()
	score := interactionScore(anomalies, counts.Total(), len(anomalies))

	return types.AnalysisReport{
		EventCounts: counts,
		Duration:    duration,
		Anomalies:   anomalies,
		Score:       score,
	}
}

// interactionScore composes the interaction sub-score:
//
//	score = round(min(100, (sumWeights / max(count*10, 30)) * 100 * multiplier * confidence))
//
// "count" and "total events" are two distinct terms here: confidence is
// keyed on total events (the raw event-store population), while the
// score's own denominator uses count, the number of anomalies that
// fired. Conflating the two would make the denominator grow with
// session length regardless of how much evidence was actually found,
// collapsing the score of any long, anomaly-dense session toward zero.
func interactionScore(anomalies []types.AnomalySignal, totalEvents, anomalyCount int) int {
	var sumWeights float64
	strongCount := 0
	reliablePresent := false
	for _, a := range anomalies {
		sumWeights += float64(a.Weight)
		if strongSignals[a.Name] {
			strongCount++
		}
		if reliableSignals[a.Name] {
			reliablePresent = true
		}
	}

	multiplier := 1.0
	switch {
	case strongCount >= 3:
		multiplier = 1.5
	case strongCount == 2:
		multiplier = 1.25
	}

	var confidence float64
	switch {
	case totalEvents < 10 && !reliablePresent:
		confidence = 0.3
	case totalEvents < 10:
		confidence = 0.7
	case totalEvents < 25:
		confidence = 0.85
	default:
		confidence = 1.0
	}

	denom := math.Max(float64(anomalyCount)*10, 30)
	raw := math.Min(100, (sumWeights/denom)*100*multiplier*confidence)
	return roundHalfUp(raw)
}

func roundHalfUp(f float64) int {
	if f < 0 {
		return 0
	}
	return int(f + 0.5)
}
