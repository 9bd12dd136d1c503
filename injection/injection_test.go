package injection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenwatch/agentdetect/types"
)

func TestHostElementsAreSkipped(t *testing.T) {
	o := New()
	o.StartMonitoring()
	o.ScanInitial([]Element{
		{Tag: "div", Class: "mod_quiz comet-overlay", IsLeaf: false},
	}, nil)
	g := o.Analyze()
	require.Empty(t, g.Signals, "a moodle-prefixed element must never score, even if it also matches an attribute pattern")
}

func TestAttributeAndTextPatternsMatch(t *testing.T) {
	o := New()
	o.StartMonitoring()
	o.ScanInitial([]Element{
		{Tag: "div", Class: "comet-overlay-panel"},
		{Tag: "span", Text: "Get the answer instantly", IsLeaf: true},
	}, nil)
	g := o.Analyze()
	require.NotEmpty(t, g.Signals)
	names := signalNames(g.Signals)
	require.Contains(t, names, "attr.comet_class")
	require.Contains(t, names, "text.get_answer")
}

func TestFloatingOverlayHeuristic(t *testing.T) {
	o := New()
	o.StartMonitoring()
	o.ScanInitial([]Element{
		{Tag: "div", Position: "fixed", Width: 200, Height: 100, ZIndex: 9999},
	}, nil)
	g := o.Analyze()
	require.Contains(t, signalNames(g.Signals), "floating_ui.overlay")
}

func TestFloatingOverlayRequiresAllThreeConditions(t *testing.T) {
	o := New()
	o.StartMonitoring()
	o.ScanInitial([]Element{
		{Tag: "div", Position: "fixed", Width: 40, Height: 100, ZIndex: 9999}, // too narrow
	}, nil)
	g := o.Analyze()
	require.NotContains(t, signalNames(g.Signals), "floating_ui.overlay")
}

func TestGroupingScalesWithRepeatCountUpToCapOfFive(t *testing.T) {
	o := New()
	o.StartMonitoring()
	var els []Element
	for i := 0; i < 8; i++ {
		els = append(els, Element{Tag: "div", Class: "comet-overlay-panel"})
	}
	o.ScanInitial(els, nil)
	g := o.Analyze()
	require.Len(t, g.Signals, 1)
	require.Equal(t, 8, g.Signals[0].Count)
	// contribution = 10 * (1 + 0.2*(5-1)) = 18; score = round(18/50*100) = 36
	require.Equal(t, 36, g.Score)
}

func TestShadowDOMOnInjectedElement(t *testing.T) {
	o := New()
	o.StartMonitoring()
	o.ScanInitial([]Element{
		{Tag: "div", Class: "ai-helper-widget", HasShadowRoot: true},
	}, nil)
	g := o.Analyze()
	require.Contains(t, signalNames(g.Signals), "shadow_dom.present")
}

func TestExtensionResourceReferenceOnMutation(t *testing.T) {
	o := New()
	o.StartMonitoring()
	o.MutationAdded(Element{Tag: "img", Src: "chrome-extension://" + AgentExtensionID + "/icon.png"}, nil)
	g := o.Analyze()
	require.Contains(t, g.DetectionCounts, "extension.resource_reference")
}

func signalNames(sigs []types.InjectionSignal) []string {
	var out []string
	for _, s := range sigs {
		out = append(out, s.Name)
	}
	return out
}
