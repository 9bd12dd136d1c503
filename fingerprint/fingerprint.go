// Package fingerprint implements the Fingerprint Collector: a one-shot
// (plus re-run) probe of runtime/environment attributes. Its nine
// sub-groups each emit weighted signals from a single ProbeInput snapshot:
// one Eval call populates the struct, and every probe below is then a pure
// function over it, keeping the CDP round trip separate from the
// structural analysis that follows it.
package fingerprint

import (
	"context"
	"regexp"
	"strings"

	"github.com/lumenwatch/agentdetect/store"
	"github.com/lumenwatch/agentdetect/types"
)

// AgentExtensionID is Perplexity Comet's extension identifier.
const AgentExtensionID = "npclhjbddhklpbnacpjloidibaggcgon"

// ProbeInput is the single batched result of one round trip to the probe
// script (probe). Every field here is something the in-page probe
// can compute synchronously, except ResourceProbePositive which comes from
// the dedicated race in race.go.
type ProbeInput struct {
	WebDriver               bool
	WebDriverWasFalseAtLoad bool
	WebDriverGetterReplaced bool

	PluginCount          int
	Languages            []string
	UserAgent            string
	HasChromeGlobal      bool
	OuterWidth           float64
	OuterHeight          float64
	ScreenWidth          float64
	ScreenHeight         float64
	HasConnectionAPI     bool

	MatchedExtensionIDs []string // class/id scan hits, by known-extension registry key
	ExtensionStylesheetHits []string
	MCPGlobalPresent    bool
	ClaudeGlobalPresent bool

	AgentStoreCached     bool
	AgentScriptOrLinkHit bool

	NetworkResourceNames []string

	PresentGlobals     []string // names from a static automation-artifact list found on window
	OwnPropertyNames    []string // document's own enumerable property names

	DOMMarkerHits []string // matched DOM-marker keys: domMarkerRegistry keys, plus the probe's webdriver-attribute and runtime-marker keys

	CanvasDataURLLength int
	CanvasErrored       bool

	WebGLMissing bool
	WebGLRenderer string

	Platform            string
	HardwareConcurrency int
	DeviceMemory        float64
	MaxTouchPoints      int
	CookieEnabled       bool
	DoNotTrack          string
}

// Evaluator performs the single round trip into the page that populates a
// ProbeInput.
type Evaluator interface {
	Eval(ctx context.Context) (ProbeInput, error)
}

var cdcPropertyPattern = regexp.MustCompile(`^(\$?cdc_|_cdc_|\$chrome_asyncScriptInfo)`)

var headlessUAPattern = regexp.MustCompile(`(?i)HeadlessChrome|PhantomJS|SlimerJS`)

var webGLSoftwarePattern = regexp.MustCompile(`(?i)SwiftShader|llvmpipe|Mesa|Software`)

// automationGlobals is the static list of automation-artifact window
// property names and their signal weights.
var automationGlobals = map[string]int{
	"__webdriver_evaluate":              9,
	"__selenium_evaluate":               9,
	"__webdriver_script_function":       8,
	"__webdriver_script_func":           8,
	"__webdriver_script_fn":             8,
	"__fxdriver_evaluate":               8,
	"__driver_unwrapped":                8,
	"__webdriver_unwrapped":             8,
	"__driver_evaluate":                 9,
	"__selenium_unwrapped":              8,
	"__fxdriver_unwrapped":              8,
	"_Selenium_IDE_Recorder":            7,
	"calledSelenium":                    7,
	"_selenium":                         6,
	"callSelenium":                      7,
	"_WEBDRIVER_ELEM_CACHE":             6,
	"domAutomation":                     9,
	"domAutomationController":           9,
	"__nightmare":                       8,
	"_phantom":                          9,
	"callPhantom":                       9,
	"__puppeteer_evaluation_script__":   10,
	"__playwright":                      10,
	"iMacros":                           5,
}

// knownExtensionRegistry maps a short registry key for a known
// AI/helper extension to its signal weight.
var knownExtensionRegistry = map[string]int{
	"comet":            10,
	"perplexity":       9,
	"monica-ai":        7,
	"sider-ai":         7,
	"merlin-ai":        7,
	"chatgpt-sidebar":  6,
	"copilot-web":      6,
	"grammarly":        5,
	"harpa-ai":         8,
	"wisemonkeys":      6,
	"askai-ext":        6,
	"tactiq":           5,
	"glasp":            5,
	"maxai":            7,
	"poe-assistant":    7,
	"bardeen":          6,
	"automa":           8,
	"ublacklist":       5,
	"tampermonkey-api": 6,
	"violentmonkey":    6,
}

// domMarkerRegistry is the static DOM-marker selector registry, keyed by a
// short name, with its weight.
var domMarkerRegistry = map[string]int{
	"data-selenium":          9,
	"data-webdriver":         9,
	"selenium-ide-indicator": 8,
	"data-testid-automation": 7,
	"data-cy":                6,
	"data-pw":                6,
}

// Collect runs one fingerprint round trip and returns the composed result.
func Collect(ctx context.Context, eval Evaluator, prober ResourceProber, s store.Store) (types.Fingerprint, error) {
	in, err := eval.Eval(ctx)
	if err != nil {
		return types.Fingerprint{}, err
	}

	fp := types.Fingerprint{
		WebDriver:         webDriverGroup(in),
		Headless:          headlessGroup(in),
		Extensions:        extensionsGroup(in),
		CometExtension:    cometExtensionGroup(ctx, in, prober, s),
		PerplexityNetwork: networkGroup(in),
		Globals:           globalsGroup(in),
		DOMMarkers:        domMarkersGroup(in),
		Canvas:            canvasGroup(in),
		WebGL:             webglGroup(in),
		Navigator:         navigatorSnapshot(in),
	}
	fp.Score = compositeScore(fp)
	return fp, nil
}

func webDriverGroup(in ProbeInput) types.FingerprintGroup {
	var sigs []types.AnomalySignal
	if in.WebDriver {
		sigs = append(sigs, types.AnomalySignal{Name: "webdriver.true", Value: 1, Weight: 10})
	}
	if in.WebDriver && in.WebDriverWasFalseAtLoad {
		sigs = append(sigs, types.AnomalySignal{Name: "webdriver.changed_mid_session", Value: 1, Weight: 10})
	}
	if in.WebDriverGetterReplaced {
		sigs = append(sigs, types.AnomalySignal{Name: "webdriver.getter_replaced", Value: 1, Weight: 9})
	}
	return types.FingerprintGroup{Name: "webdriver", Signals: sigs}
}

func headlessGroup(in ProbeInput) types.FingerprintGroup {
	var sigs []types.AnomalySignal
	add := func(name string, weight int) {
		sigs = append(sigs, types.AnomalySignal{Name: name, Value: 1, Weight: weight})
	}
	if in.PluginCount == 0 {
		add("headless.no_plugins", 6)
	}
	if len(in.Languages) == 0 {
		add("headless.no_languages", 7)
	}
	uaHasChrome := strings.Contains(in.UserAgent, "Chrome")
	if uaHasChrome && !in.HasChromeGlobal {
		add("headless.no_chrome_global", 8)
	}
	if headlessUAPattern.MatchString(in.UserAgent) {
		add("headless.ua_match", 10)
	}
	if in.OuterWidth == 0 && in.OuterHeight == 0 {
		add("headless.zero_outer_dimensions", 8)
	}
	if in.ScreenWidth == 0 && in.ScreenHeight == 0 {
		add("headless.zero_screen_dimensions", 7)
	}
	if uaHasChrome && !in.HasConnectionAPI {
		add("headless.no_connection_api", 4)
	}
	return types.FingerprintGroup{Name: "headless", Anomalies: sigs}
}

// HeadlessDetected reports the group's "detected" boolean: true iff any
// signal's weight is at least 7.
func HeadlessDetected(g types.FingerprintGroup) bool {
	for _, s := range g.Anomalies {
		if s.Weight >= 7 {
			return true
		}
	}
	return false
}

func extensionsGroup(in ProbeInput) types.FingerprintGroup {
	var sigs []types.AnomalySignal
	for _, key := range in.MatchedExtensionIDs {
		weight, ok := knownExtensionRegistry[key]
		if !ok {
			weight = 5
		}
		sigs = append(sigs, types.AnomalySignal{Name: "extension." + key, Value: 1, Weight: weight})
	}
	// extensionStylesheetHits carries every chrome-extension:// stylesheet
	// href the probe saw; only the ones naming the agent extension's own ID
	// are "stylesheet under its ID" per the glossary's definitive-signal
	// wording, so those get a distinct, higher-weight, agent-specific name.
	// Any other extension's stylesheet is ambient noise that any of a dozen
	// ordinary browser extensions routinely produces.
	for _, href := range in.ExtensionStylesheetHits {
		if strings.Contains(href, AgentExtensionID) {
			sigs = append(sigs, types.AnomalySignal{Name: "extension.agent_stylesheet_id", Value: 1, Weight: 9})
		} else {
			sigs = append(sigs, types.AnomalySignal{Name: "extension.stylesheet_url", Value: 1, Weight: 7})
		}
	}
	if in.MCPGlobalPresent {
		sigs = append(sigs, types.AnomalySignal{Name: "extension.mcp_runtime", Value: 1, Weight: 8})
	}
	if in.ClaudeGlobalPresent {
		sigs = append(sigs, types.AnomalySignal{Name: "extension.claude_runtime", Value: 1, Weight: 8})
	}
	return types.FingerprintGroup{Name: "extensions", Signals: sigs}
}

func cometExtensionGroup(ctx context.Context, in ProbeInput, prober ResourceProber, s store.Store) types.FingerprintGroup {
	var sigs []types.AnomalySignal

	if s != nil {
		if v, ok := s.Read(store.KeyCometDetected); ok && v == "1" {
			sigs = append(sigs, types.AnomalySignal{Name: "comet.store_cached", Value: 1, Weight: 10})
		}
	}
	if in.AgentStoreCached {
		sigs = append(sigs, types.AnomalySignal{Name: "comet.store_cached", Value: 1, Weight: 10})
	}
	if in.AgentScriptOrLinkHit {
		sigs = append(sigs, types.AnomalySignal{Name: "comet.script_or_link_match", Value: 1, Weight: 10})
	}

	if prober != nil {
		positive := RaceExtensionResource(ctx, AgentExtensionID, prober)
		if positive {
			sigs = append(sigs, types.AnomalySignal{Name: "comet.resource_probe_positive", Value: 1, Weight: 10})
			if s != nil {
				s.Write(store.KeyCometDetected, "1")
			}
		}
	}
	return types.FingerprintGroup{Name: "cometExtension", Signals: sigs}
}

func networkGroup(in ProbeInput) types.FingerprintGroup {
	var sigs []types.AnomalySignal
	for _, name := range in.NetworkResourceNames {
		if strings.Contains(name, "perplexity.ai/agent") || strings.Contains(name, "perplexity.ai/rest/sse") {
			sigs = append(sigs, types.AnomalySignal{Name: "network.perplexity_match", Value: 1, Weight: 9})
			break
		}
	}
	return types.FingerprintGroup{Name: "perplexityNetwork", Signals: sigs}
}

func globalsGroup(in ProbeInput) types.FingerprintGroup {
	var sigs []types.AnomalySignal
	for _, name := range in.PresentGlobals {
		if weight, ok := automationGlobals[name]; ok {
			sigs = append(sigs, types.AnomalySignal{Name: "globals." + name, Value: 1, Weight: weight})
		}
	}
	for _, name := range in.OwnPropertyNames {
		if cdcPropertyPattern.MatchString(name) {
			sigs = append(sigs, types.AnomalySignal{Name: "globals.cdc_property", Value: 1, Weight: 10})
		}
	}
	return types.FingerprintGroup{Name: "globals", Signals: sigs}
}

func domMarkersGroup(in ProbeInput) types.FingerprintGroup {
	var sigs []types.AnomalySignal
	for _, key := range in.DOMMarkerHits {
		weight, ok := domMarkerRegistry[key]
		if !ok {
			weight = 6
		}
		sigs = append(sigs, types.AnomalySignal{Name: "dommarker." + key, Value: 1, Weight: weight})
	}
	return types.FingerprintGroup{Name: "domMarkers", Signals: sigs}
}

func canvasGroup(in ProbeInput) types.FingerprintGroup {
	var sigs []types.AnomalySignal
	switch {
	case in.CanvasErrored:
		sigs = append(sigs, types.AnomalySignal{Name: "canvas.error", Value: 1, Weight: 5})
	case in.CanvasDataURLLength < 1000:
		sigs = append(sigs, types.AnomalySignal{Name: "canvas.data.short", Value: float64(in.CanvasDataURLLength), Weight: 6})
	}
	return types.FingerprintGroup{Name: "canvas", Anomalies: sigs}
}

func webglGroup(in ProbeInput) types.FingerprintGroup {
	var sigs []types.AnomalySignal
	switch {
	case in.WebGLMissing:
		sigs = append(sigs, types.AnomalySignal{Name: "webgl.missing", Value: 1, Weight: 5})
	case webGLSoftwarePattern.MatchString(in.WebGLRenderer):
		sigs = append(sigs, types.AnomalySignal{Name: "webgl.software_renderer", Value: 1, Weight: 8})
	}
	return types.FingerprintGroup{Name: "webgl", Anomalies: sigs}
}

func navigatorSnapshot(in ProbeInput) types.NavigatorSnapshot {
	return types.NavigatorSnapshot{
		UserAgent:           in.UserAgent,
		Platform:            in.Platform,
		HardwareConcurrency: in.HardwareConcurrency,
		DeviceMemory:        in.DeviceMemory,
		MaxTouchPoints:      in.MaxTouchPoints,
		Languages:           append([]string{}, in.Languages...),
		CookieEnabled:       in.CookieEnabled,
		DoNotTrack:          in.DoNotTrack,
		PluginCount:         in.PluginCount,
	}
}

// compositeScore normalizes the summed signal weights:
// min(100, round((sumWeights / max(50, count*10)) * 100)).
func compositeScore(fp types.Fingerprint) int {
	groups := []types.FingerprintGroup{
		fp.WebDriver, fp.Headless, fp.Extensions, fp.CometExtension,
		fp.PerplexityNetwork, fp.Globals, fp.DOMMarkers, fp.Canvas, fp.WebGL,
	}
	var sum float64
	var count int
	for _, g := range groups {
		for _, s := range g.Signals {
			sum += float64(s.Weight)
			count++
		}
		for _, s := range g.Anomalies {
			sum += float64(s.Weight)
			count++
		}
	}
	denom := float64(count * 10)
	if denom < 50 {
		denom = 50
	}
	score := roundHalfUp(sum / denom * 100)
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func roundHalfUp(f float64) int {
	if f < 0 {
		return -roundHalfUp(-f)
	}
	return int(f + 0.5)
}
