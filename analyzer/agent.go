package analyzer

import (
	"math"
	"strings"

	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/types"
)

// definitiveNames are signals whose mere presence proves agent-extension
// involvement beyond statistical doubt.
var definitiveNames = map[string]bool{
	"comet.script_or_link_match":    true,
	"comet.resource_probe_positive": true,
	"comet.store_cached":            true,
	"extension.agent_stylesheet_id": true,
	"network.perplexity_match":      true,
	"extension.resource_reference":  true,
}

// tier1Fixed are the physically-impossible comet.* signals that are tier 1
// regardless of weight (comet.low_mouse_to_action_ratio is tier 1 only
// conditionally, handled separately). comet.zero_keystrokes and
// comet.low_per_page_mouse_ratio are reserved Tier 1 names: kept here so
// the tiering is correct if some future analysis ever produces them, but
// nothing in this package emits them.
var tier1Fixed = map[string]bool{
	"comet.ultra_precise_center":       true,
	"comet.zero_keystrokes":            true,
	"comet.low_per_page_mouse_ratio":   true,
}

// ExtractAgentSignals unions four sources: comet anomalies from the
// interaction report, agent-extension/runtime/network
// fingerprint signals, the mid-session webdriver change, and
// agent-branded injection findings.
func ExtractAgentSignals(state recorder.State, report types.AnalysisReport, fp types.Fingerprint, inj types.InjectionGroup) []types.AnomalySignal {
	var out []types.AnomalySignal

	for _, a := range report.Anomalies {
		if strings.HasPrefix(a.Name, "comet.") {
			out = append(out, a)
		}
		if a.Name == "webdriver.changed_mid_session" {
			out = append(out, a)
		}
	}

	out = append(out, fp.CometExtension.Signals...)
	out = append(out, fp.PerplexityNetwork.Signals...)
	for _, s := range fp.Extensions.Signals {
		if s.Name == "extension.mcp_runtime" || s.Name == "extension.claude_runtime" || s.Name == "extension.agent_stylesheet_id" {
			out = append(out, s)
		}
	}
	for _, s := range fp.WebDriver.Signals {
		if s.Name == "webdriver.changed_mid_session" {
			out = append(out, s)
		}
	}

	for _, s := range inj.Signals {
		if strings.Contains(s.Name, "comet") || strings.Contains(s.Name, "perplexity") || s.Name == "extension.resource_reference" {
			out = append(out, types.AnomalySignal{Name: s.Name, Value: float64(s.Count), Weight: s.MaxWeight})
		}
	}

	return out
}

// AgentGroup computes the tiered agent-category score.
func AgentGroup(signals []types.AnomalySignal) types.AgentGroup {
	var sumWeights float64
	definitive := false
	for _, s := range signals {
		sumWeights += float64(s.Weight)
		if definitiveNames[s.Name] {
			definitive = true
		}
	}

	var score int
	switch {
	case definitive:
		score = minInt(100, int(70+sumWeights))
	default:
		tier1, tier2 := partitionTiers(signals)
		switch {
		case tier1 >= 1 && tier2 >= 2:
			score = minInt(100, int(sumWeights*2))
		case tier1 >= 1:
			score = minInt(100, roundHalfUp(sumWeights*1.5))
		default:
			score = minInt(40, int(sumWeights))
		}
	}

	return types.AgentGroup{
		Detected:    len(signals) > 0,
		SignalCount: len(signals),
		Signals:     signals,
		Score:       score,
	}
}

func partitionTiers(signals []types.AnomalySignal) (tier1, tier2 int) {
	for _, s := range signals {
		switch {
		case tier1Fixed[s.Name]:
			tier1++
		case s.Name == "comet.low_mouse_to_action_ratio" && s.Weight >= 10:
			tier1++
		case strings.HasPrefix(s.Name, "comet."):
			tier2++
		}
	}
	return
}

func minInt(a, b int) int {
	return int(math.Min(float64(a), float64(b)))
}
