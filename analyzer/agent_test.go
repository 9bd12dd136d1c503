package analyzer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/types"
)

// TestOrdinaryExtensionNoiseNeverBecomesDefinitive guards against the three
// generic-extension-match signals (a non-agent stylesheet, a non-agent
// resource reference, and a non-registry class/id match) ever being pulled
// into the agent signal set or treated as definitive. An ordinary user
// running a common browser extension (ad blocker, password manager,
// Grammarly, ...) must never be reported as a detected agent on that basis
// alone.
func TestOrdinaryExtensionNoiseNeverBecomesDefinitive(t *testing.T) {
	fp := types.Fingerprint{
		Extensions: types.FingerprintGroup{
			Signals: []types.AnomalySignal{
				{Name: "extension.stylesheet_url", Value: 1, Weight: 7},
				{Name: "extension.not-a-real-key", Value: 1, Weight: 5},
			},
		},
	}
	inj := types.InjectionGroup{
		Signals: []types.InjectionSignal{
			{Name: "extension.generic_resource_reference", Count: 1, MaxWeight: 10},
		},
	}
	report := types.AnalysisReport{}

	signals := ExtractAgentSignals(recorder.State{}, report, fp, inj)
	require.Empty(t, signals, "ordinary extension noise must not surface as an agent signal")

	agent := AgentGroup(signals)
	require.False(t, agent.Detected)
	require.Zero(t, agent.Score)
}

// TestAgentSpecificExtensionSignalsAreDefinitive is the positive
// counterpart: a stylesheet or resource reference that actually names the
// agent extension's own ID must still drive a definitive, high score.
func TestAgentSpecificExtensionSignalsAreDefinitive(t *testing.T) {
	fp := types.Fingerprint{
		Extensions: types.FingerprintGroup{
			Signals: []types.AnomalySignal{
				{Name: "extension.agent_stylesheet_id", Value: 1, Weight: 9},
			},
		},
	}
	inj := types.InjectionGroup{
		Signals: []types.InjectionSignal{
			{Name: "extension.resource_reference", Count: 1, MaxWeight: 10},
		},
	}
	report := types.AnalysisReport{}

	signals := ExtractAgentSignals(recorder.State{}, report, fp, inj)
	require.Len(t, signals, 2)

	agent := AgentGroup(signals)
	require.True(t, agent.Detected)
	require.GreaterOrEqual(t, agent.Score, 70)
}
