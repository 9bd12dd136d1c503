// Package types holds the data model shared by every component of the
// detection engine: event records, anomaly signals, injection findings and
// the report shapes that cross the Analyzer/Orchestrator boundary.
//
// Nothing in this package touches the DOM, a browser tab, or storage; it is
// pure data, which is what lets the Analyzer operate as pure functions over
// read-only state.
package types

import "time"

// TargetDescriptor is the only representation of a DOM node allowed to
// cross into a persisted or analyzed record. Raw node handles never leave
// the attach/probe boundary.
type TargetDescriptor struct {
	Tag     string  `json:"tag"`
	ID      string  `json:"id,omitempty"`
	Class   string  `json:"class,omitempty"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
}

// MouseMove is one normalized pointer movement sample.
type MouseMove struct {
	Timestamp time.Time `json:"t"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	DtMs      float64   `json:"dt"` // delta time from previous sample, ms
	Dx        float64   `json:"dx"`
	Dy        float64   `json:"dy"`
	Velocity  float64   `json:"v"` // px/ms, only meaningful when DtMs > 0
}

// Click is a normalized click event, possibly augmented once by a
// subsequent mousedown/mouseup pair.
type Click struct {
	Timestamp               time.Time        `json:"t"`
	X                       float64          `json:"x"`
	Y                       float64          `json:"y"`
	Target                  TargetDescriptor `json:"target"`
	OffsetFromCenter        float64          `json:"offsetFromCenter"`
	PrecedingHover          bool             `json:"precedingHover"`
	PrecedingMouseMove      bool             `json:"precedingMouseMove"`
	MousedownAt             time.Time        `json:"mousedownAt,omitempty"`
	DurationMs              float64          `json:"durationMs,omitempty"`
	augmented               bool
}

// Augment sets the mousedown/duration fields exactly once; subsequent
// calls are no-ops, matching the "augmented at most once" invariant.
func (c *Click) Augment(mousedownAt time.Time, durationMs float64) {
	if c.augmented {
		return
	}
	c.MousedownAt = mousedownAt
	c.DurationMs = durationMs
	c.augmented = true
}

// KeyPhase is the phase of a keystroke record.
type KeyPhase string

const (
	KeyDown KeyPhase = "down"
	KeyUp   KeyPhase = "up"
)

// Keystroke is a normalized keyboard event. The actual character is never
// stored: single-character keys are redacted to the literal token "char".
type Keystroke struct {
	Timestamp    time.Time `json:"t"`
	Key          string    `json:"key"` // "char" for any single printable character, verbatim otherwise
	DtMs         float64   `json:"dt"`
	Phase        KeyPhase  `json:"phase"`
	HoldDuration float64   `json:"holdDuration,omitempty"`
	holdSet      bool
}

// SetHoldDuration sets HoldDuration exactly once, when the matching "up"
// event for this "down" record arrives.
func (k *Keystroke) SetHoldDuration(d float64) {
	if k.holdSet {
		return
	}
	k.HoldDuration = d
	k.holdSet = true
}

// RedactKey normalizes a raw key value: any single-character key becomes
// "char"; named keys (Enter, Tab, ArrowLeft, ...) pass through verbatim.
func RedactKey(raw string) string {
	if len([]rune(raw)) == 1 {
		return "char"
	}
	return raw
}

// Scroll is a normalized scroll event.
type Scroll struct {
	Timestamp time.Time `json:"t"`
	ScrollX   float64   `json:"scrollX"`
	ScrollY   float64   `json:"scrollY"`
	DtMs      float64   `json:"dt"`
	DScrollX  float64   `json:"dScrollX"`
	DScrollY  float64   `json:"dScrollY"`
}

// HoverType distinguishes mouseover from mouseout.
type HoverType string

const (
	HoverOver HoverType = "over"
	HoverOut  HoverType = "out"
)

// Hover holds a direct target reference (opaque, identity-comparable) for
// recency matching against clicks. Hovers are intentionally excluded from
// persistence: a restored page cannot recover target identity.
type Hover struct {
	Timestamp time.Time `json:"t"`
	Type      HoverType `json:"type"`
	TargetRef any       `json:"-"`
}

// FocusPhase distinguishes focusin from focusout.
type FocusPhase string

const (
	FocusIn  FocusPhase = "in"
	FocusOut FocusPhase = "out"
)

// FocusChange is a normalized focus transition.
type FocusChange struct {
	Timestamp time.Time        `json:"t"`
	Target    TargetDescriptor `json:"target"`
	Phase     FocusPhase       `json:"phase"`
}

// PointerEventType distinguishes pointerdown from pointermove.
type PointerEventType string

const (
	PointerDown PointerEventType = "down"
	PointerMove PointerEventType = "move"
)

// PointerEvent is a normalized W3C Pointer Events record. Move events are
// throttled upstream to at most one per 50ms.
type PointerEvent struct {
	Type        PointerEventType `json:"type"`
	X           float64          `json:"x"`
	Y           float64          `json:"y"`
	Timestamp   time.Time        `json:"t"`
	PointerType string           `json:"pointerType"`
}

// AnomalySignal is the stable, tagged-variant shape every downstream
// scoring function selects on by Name, never by identity.
type AnomalySignal struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight int     `json:"weight"`
}

// InjectionFindingType enumerates the Injection Observer's finding kinds.
type InjectionFindingType string

const (
	FindingElementPattern    InjectionFindingType = "element_pattern"
	FindingTextPattern       InjectionFindingType = "text_pattern"
	FindingFloatingUI        InjectionFindingType = "floating_ui"
	FindingShadowDOM         InjectionFindingType = "shadow_dom"
	FindingExtensionInjection InjectionFindingType = "extension_injection"
)

// InjectionFindingSource enumerates where a finding was produced.
type InjectionFindingSource string

const (
	SourceInitialScan         InjectionFindingSource = "initial_scan"
	SourceMutationAdded       InjectionFindingSource = "mutation_added"
	SourceMutationAttribute   InjectionFindingSource = "mutation_attribute"
	SourceShadowDOMInjection  InjectionFindingSource = "shadow_dom_injection"
	SourceChromeExtensionInjection InjectionFindingSource = "chrome_extension_injection"
)

// InjectionFinding is a single detection from the Injection Observer.
type InjectionFinding struct {
	Type      InjectionFindingType    `json:"type"`
	Name      string                  `json:"name"`
	Attribute string                  `json:"attribute,omitempty"`
	Text      string                  `json:"text,omitempty"`
	Value     string                  `json:"value,omitempty"`
	Weight    int                     `json:"weight"`
	Source    InjectionFindingSource  `json:"source"`
}

// EventCounts snapshots the size of every Event Recorder store.
type EventCounts struct {
	MouseMoves   int `json:"mouseMoves"`
	Clicks       int `json:"clicks"`
	Keystrokes   int `json:"keystrokes"`
	Scrolls      int `json:"scrolls"`
	Hovers       int `json:"hovers"`
	FocusChanges int `json:"focusChanges"`
	PointerEvents int `json:"pointerEvents"`
}

// Total sums every store's count.
func (c EventCounts) Total() int {
	return c.MouseMoves + c.Clicks + c.Keystrokes + c.Scrolls + c.Hovers + c.FocusChanges + c.PointerEvents
}

// AnalysisReport is a snapshot produced by the Analyzer; cached until the
// Event Recorder's generation counter advances.
type AnalysisReport struct {
	EventCounts EventCounts     `json:"eventCounts"`
	Duration    time.Duration   `json:"duration"`
	Anomalies   []AnomalySignal `json:"anomalies"`
	Score       int             `json:"score"`
}

// Session identifies a continuous observation window for one tab.
type Session struct {
	ID            string
	CreatedAt     time.Time
	PageLoadCount int
}

// FingerprintGroup is one Fingerprint sub-probe group's signals and
// anomalies; the composite score lives on Fingerprint.Score.
type FingerprintGroup struct {
	Name      string          `json:"name"`
	Signals   []AnomalySignal `json:"signals,omitempty"`
	Anomalies []AnomalySignal `json:"anomalies,omitempty"`
}

// Fingerprint is the Collector's full result.
type Fingerprint struct {
	WebDriver          FingerprintGroup `json:"webdriver"`
	Headless           FingerprintGroup `json:"headless"`
	Extensions         FingerprintGroup `json:"extensions"`
	CometExtension     FingerprintGroup `json:"cometExtension"`
	PerplexityNetwork  FingerprintGroup `json:"perplexityNetwork"`
	Globals            FingerprintGroup `json:"globals"`
	DOMMarkers         FingerprintGroup `json:"domMarkers"`
	Canvas             FingerprintGroup `json:"canvas"`
	WebGL              FingerprintGroup `json:"webgl"`
	Navigator          NavigatorSnapshot `json:"navigator"`
	Score              int              `json:"score"`
}

// NavigatorSnapshot is a structured, score-free snapshot of navigator state.
type NavigatorSnapshot struct {
	UserAgent           string   `json:"userAgent"`
	Platform            string   `json:"platform"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        float64  `json:"deviceMemory"`
	MaxTouchPoints      int      `json:"maxTouchPoints"`
	Languages           []string `json:"languages"`
	CookieEnabled       bool     `json:"cookieEnabled"`
	DoNotTrack          string   `json:"doNotTrack"`
	PluginCount         int      `json:"pluginCount"`
}

// InjectionGroup is the Injection Observer's findings and score.
type InjectionGroup struct {
	DetectionCounts map[string]int     `json:"detectionCounts"`
	Signals         []InjectionSignal  `json:"signals"`
	Score           int                `json:"score"`
}

// InjectionSignal is one grouped (type,name) result with its examples.
type InjectionSignal struct {
	Name      string   `json:"name"`
	Count     int      `json:"count"`
	MaxWeight int      `json:"maxWeight"`
	Examples  []string `json:"examples,omitempty"`
}

// AgentGroup is the extracted agent-category signal list and its score.
type AgentGroup struct {
	Detected    bool            `json:"detected"`
	SignalCount int             `json:"signalCount"`
	Signals     []AnomalySignal `json:"signals"`
	Score       int             `json:"score"`
}

// Verdict is one of the five fixed combined-score bands.
type Verdict string

const (
	VerdictLikelyHuman        Verdict = "LIKELY_HUMAN"
	VerdictLowSuspicion       Verdict = "LOW_SUSPICION"
	VerdictSuspicious         Verdict = "SUSPICIOUS"
	VerdictProbableAgent      Verdict = "PROBABLE_AGENT"
	VerdictHighConfidenceAgent Verdict = "HIGH_CONFIDENCE_AGENT"
)

// SignalType enumerates the outbound RPC's signaltype field.
type SignalType string

const (
	SignalFingerprint SignalType = "fingerprint"
	SignalCombined    SignalType = "combined"
	SignalUnload      SignalType = "unload"
)

// Report is the combined payload shape shipped to the backend.
type Report struct {
	SessionID      string          `json:"sessionId"`
	Timestamp      time.Time       `json:"timestamp"`
	PageURL        string          `json:"pageUrl"`
	PageTitle      string          `json:"pageTitle"`
	Fingerprint    Fingerprint     `json:"fingerprint"`
	Interaction    AnalysisReport  `json:"interaction"`
	Injection      InjectionGroup  `json:"injection"`
	Comet          AgentGroup      `json:"comet"`
	CombinedScore  int             `json:"combinedScore"`
	Verdict        Verdict         `json:"verdict"`
	DetectedAgent  string          `json:"detectedAgent,omitempty"`
}
