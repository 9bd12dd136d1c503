package fingerprint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenwatch/agentdetect/store"
)

type fakeEvaluator struct {
	in  ProbeInput
	err error
}

func (f fakeEvaluator) Eval(ctx context.Context) (ProbeInput, error) {
	return f.in, f.err
}

type noProber struct{}

func (noProber) ProbeResource(ctx context.Context, url string) (bool, error) {
	return false, nil
}

func TestHumanLikeProfileScoresLow(t *testing.T) {
	in := ProbeInput{
		WebDriver:       false,
		PluginCount:     3,
		Languages:       []string{"en-US", "en"},
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0 Safari/537.36",
		HasChromeGlobal: true,
		OuterWidth:      1280, OuterHeight: 800,
		ScreenWidth: 1920, ScreenHeight: 1080,
		HasConnectionAPI: true,
		CanvasDataURLLength: 4096,
		WebGLRenderer:       "ANGLE (Apple, Apple M2, OpenGL 4.1)",
	}
	fp, err := Collect(context.Background(), fakeEvaluator{in: in}, noProber{}, store.NewMemory())
	require.NoError(t, err)
	require.Equal(t, 0, fp.Score)
}

func TestWebDriverAndHeadlessSignalsScoreHigh(t *testing.T) {
	in := ProbeInput{
		WebDriver:               true,
		WebDriverWasFalseAtLoad: true,
		PluginCount:             0,
		UserAgent:               "Mozilla/5.0 HeadlessChrome/120.0",
	}
	fp, err := Collect(context.Background(), fakeEvaluator{in: in}, noProber{}, store.NewMemory())
	require.NoError(t, err)
	require.GreaterOrEqual(t, fp.Score, 70)
	require.True(t, HeadlessDetected(fp.Headless))
}

func TestCdcPropertyMatch(t *testing.T) {
	in := ProbeInput{
		OwnPropertyNames: []string{"$cdc_asdjflkajsdf_", "unrelatedProp"},
	}
	fp, err := Collect(context.Background(), fakeEvaluator{in: in}, noProber{}, store.NewMemory())
	require.NoError(t, err)
	require.Len(t, fp.Globals.Signals, 1)
	require.Equal(t, "globals.cdc_property", fp.Globals.Signals[0].Name)
}

func TestUnprefixedAutomationGlobalsAreWeighed(t *testing.T) {
	in := ProbeInput{
		PresentGlobals: []string{"iMacros", "_phantom", "domAutomationController", "jQuery"},
	}
	fp, err := Collect(context.Background(), fakeEvaluator{in: in}, noProber{}, store.NewMemory())
	require.NoError(t, err)

	names := make(map[string]int)
	for _, sig := range fp.Globals.Signals {
		names[sig.Name] = sig.Weight
	}
	require.Equal(t, 5, names["globals.iMacros"])
	require.Equal(t, 9, names["globals._phantom"])
	require.Equal(t, 9, names["globals.domAutomationController"])
	// An unregistered global carries no weight, however it got reported.
	require.NotContains(t, names, "globals.jQuery")
	require.Len(t, fp.Globals.Signals, 3)
}

func TestResourceProbePositiveCachesInStore(t *testing.T) {
	s := store.NewMemory()
	prober := alwaysPositiveProber{}
	fp, err := Collect(context.Background(), fakeEvaluator{}, prober, s)
	require.NoError(t, err)
	require.NotEmpty(t, fp.CometExtension.Signals)
	v, ok := s.Read(store.KeyCometDetected)
	require.True(t, ok)
	require.Equal(t, "1", v)
}

type alwaysPositiveProber struct{}

func (alwaysPositiveProber) ProbeResource(ctx context.Context, url string) (bool, error) {
	return true, nil
}

func TestExtensionsGroupOnlyWeighsRegistryKeys(t *testing.T) {
	in := ProbeInput{MatchedExtensionIDs: []string{"grammarly", "comet", "not-a-real-key"}}
	fp, err := Collect(context.Background(), fakeEvaluator{in: in}, noProber{}, store.NewMemory())
	require.NoError(t, err)
	require.Len(t, fp.Extensions.Signals, 3)
	byName := map[string]int{}
	for _, s := range fp.Extensions.Signals {
		byName[s.Name] = s.Weight
	}
	require.Equal(t, knownExtensionRegistry["grammarly"], byName["extension.grammarly"])
	require.Equal(t, knownExtensionRegistry["comet"], byName["extension.comet"])
	require.Equal(t, 5, byName["extension.not-a-real-key"])
}

func TestExtensionStylesheetHitSplitsAgentFromGenericExtension(t *testing.T) {
	in := ProbeInput{ExtensionStylesheetHits: []string{
		"chrome-extension://" + AgentExtensionID + "/style.css",
		"chrome-extension://some-other-extension-id/style.css",
	}}
	fp, err := Collect(context.Background(), fakeEvaluator{in: in}, noProber{}, store.NewMemory())
	require.NoError(t, err)
	require.Len(t, fp.Extensions.Signals, 2)
	var sawAgent, sawGeneric bool
	for _, s := range fp.Extensions.Signals {
		switch s.Name {
		case "extension.agent_stylesheet_id":
			sawAgent = true
		case "extension.stylesheet_url":
			sawGeneric = true
		}
	}
	require.True(t, sawAgent, "agent extension ID stylesheet should get the agent-specific name")
	require.True(t, sawGeneric, "an unrelated extension's stylesheet should get the generic name")
}

func TestRaceExtensionResourceTimesOutWhenAllFail(t *testing.T) {
	start := time.Now()
	positive := RaceExtensionResource(context.Background(), AgentExtensionID, noProber{})
	require.False(t, positive)
	require.Less(t, time.Since(start), 2*time.Second)
}
