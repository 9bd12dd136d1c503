// Package probe implements the in-page side of the Detection Engine: a
// single injected script (probe.js, embedded with go:embed) that
// performs every DOM-level read
// (listener registration, canvas/WebGL probing, property scans,
// mutation observation) and relays normalized events back to Go over one
// Runtime.addBinding channel. The Prober here is the only place that turns
// raw JS payloads into the typed calls recorder.Recorder, fingerprint and
// injection expect; nothing above this package ever sees a DOM node.
package probe

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lumenwatch/agentdetect/attach"
	"github.com/lumenwatch/agentdetect/fingerprint"
	"github.com/lumenwatch/agentdetect/injection"
	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/types"
)

//go:embed probe.js
var probeJS string

// Prober wires one attached Tab to a Recorder and an injection Observer,
// and doubles as the fingerprint.Evaluator / fingerprint.ResourceProber for
// that same tab.
type Prober struct {
	tab *attach.Tab
	rec *recorder.Recorder
	inj *injection.Observer
	log *zap.Logger

	onVisibilityHidden func()
	onBeforeUnload     func()
}

// New creates a Prober for tab, dispatching into rec and inj.
func New(tab *attach.Tab, rec *recorder.Recorder, inj *injection.Observer, log *zap.Logger) *Prober {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{tab: tab, rec: rec, inj: inj, log: log}
}

// OnVisibilityHidden registers the callback invoked when probe.js's
// "visibilitychange" listener observes document.visibilityState ===
// "hidden": the relay for the Orchestrator's own visibilitychange hook,
// since only this package sees the page's real DOM events.
func (p *Prober) OnVisibilityHidden(fn func()) { p.onVisibilityHidden = fn }

// OnBeforeUnload registers the callback invoked when probe.js's
// "beforeunload" listener fires: the relay for the Orchestrator's
// unload hook.
func (p *Prober) OnBeforeUnload(fn func()) { p.onBeforeUnload = fn }

// Install injects the probe script and starts forwarding binding payloads.
// It also runs the injection Observer's initial full-tree scan. Call once
// per page load; the script itself guards against double injection.
func (p *Prober) Install(ctx context.Context) (stop func(), err error) {
	if err := p.tab.EnableDOMTracking(ctx); err != nil {
		return nil, fmt.Errorf("probe: enable DOM tracking: %w", err)
	}

	stop, err = p.tab.Bind(ctx, p.dispatch)
	if err != nil {
		return nil, fmt.Errorf("probe: bind: %w", err)
	}

	if _, err := p.tab.Eval(ctx, probeJS); err != nil {
		stop()
		return nil, fmt.Errorf("probe: inject: %w", err)
	}

	if err := p.runInitialScan(ctx); err != nil {
		p.log.Debug("probe: initial scan failed", zap.Error(err))
	}

	return stop, nil
}

// dispatch decodes one batch of JSON-encoded events (the JS side's 16ms
// flush interval) and forwards each to the matching recorder handler.
func (p *Prober) dispatch(payload string) {
	var batch []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &batch); err != nil {
		p.log.Debug("probe: bad batch payload", zap.Error(err))
		return
	}
	for _, raw := range batch {
		p.dispatchOne(raw)
	}
}

type wireEvent struct {
	Op          string                `json:"op"`
	X           float64               `json:"x"`
	Y           float64               `json:"y"`
	T           int64                 `json:"t"`
	Key         string                `json:"key"`
	Type        string                `json:"type"`
	Phase       string                `json:"phase"`
	PointerType string                `json:"pointerType"`
	Target      *wireTarget           `json:"target"`
	TargetRef   string                `json:"targetRef"`
	Element     *wireElement          `json:"element"`
	Descendants []wireElement         `json:"descendants"`
}

type wireTarget struct {
	Tag       string  `json:"tag"`
	ID        string  `json:"id"`
	ClassName string  `json:"className"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	CenterX   float64 `json:"centerX"`
	CenterY   float64 `json:"centerY"`
}

type wireElement struct {
	Tag            string   `json:"tag"`
	ID             string   `json:"id"`
	Class          string   `json:"class"`
	Src            string   `json:"src"`
	Href           string   `json:"href"`
	Text           string   `json:"text"`
	IsLeaf         bool     `json:"isLeaf"`
	DataAttributes []string `json:"dataAttributes"`
	Position       string   `json:"position"`
	Width          float64  `json:"width"`
	Height         float64  `json:"height"`
	ZIndex         int      `json:"zIndex"`
	HasShadowRoot  bool     `json:"hasShadowRoot"`
}

func (e wireElement) toElement() injection.Element {
	return injection.Element{
		Tag:            e.Tag,
		ID:             e.ID,
		Class:          e.Class,
		Src:            e.Src,
		Href:           e.Href,
		Text:           e.Text,
		IsLeaf:         e.IsLeaf,
		DataAttributes: e.DataAttributes,
		Position:       e.Position,
		Width:          e.Width,
		Height:         e.Height,
		ZIndex:         e.ZIndex,
		HasShadowRoot:  e.HasShadowRoot,
	}
}

func tsOf(millis int64) time.Time {
	return time.UnixMilli(millis)
}

func (p *Prober) dispatchOne(raw json.RawMessage) {
	var e wireEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		p.log.Debug("probe: bad event payload", zap.Error(err))
		return
	}
	ts := tsOf(e.T)

	switch e.Op {
	case "mousemove":
		p.rec.HandleMouseMove(ts, e.X, e.Y)
	case "mousedown":
		p.rec.HandleMouseDown(ts)
	case "mouseup":
		p.rec.HandleMouseUp(ts)
	case "click":
		target := targetDescriptorOf(e.Target)
		var ref any
		if e.TargetRef != "" {
			ref = e.TargetRef
		}
		p.rec.HandleClick(ts, e.X, e.Y, target, ref)
	case "hover":
		var ref any
		if e.TargetRef != "" {
			ref = e.TargetRef
		}
		typ := types.HoverOut
		if e.Type == "over" {
			typ = types.HoverOver
		}
		p.rec.HandleHover(ts, typ, ref)
	case "keydown":
		p.rec.HandleKeyDown(ts, e.Key)
	case "keyup":
		p.rec.HandleKeyUp(ts)
	case "scroll":
		p.rec.HandleScroll(ts, e.X, e.Y)
	case "focus":
		phase := types.FocusOut
		if e.Phase == "in" {
			phase = types.FocusIn
		}
		p.rec.HandleFocus(ts, phase, targetDescriptorOf(e.Target))
	case "pointerdown":
		p.rec.HandlePointerDown(ts, e.X, e.Y, e.PointerType)
	case "pointermove":
		p.rec.HandlePointerMove(ts, e.X, e.Y, e.PointerType)
	case "mutation_added":
		if e.Element == nil || p.inj == nil {
			return
		}
		descendants := make([]injection.Element, 0, len(e.Descendants))
		for _, d := range e.Descendants {
			descendants = append(descendants, d.toElement())
		}
		p.inj.MutationAdded(e.Element.toElement(), descendants)
	case "mutation_attr":
		if e.Element == nil || p.inj == nil {
			return
		}
		p.inj.MutationAttribute(e.Element.toElement())
	case "visibility_hidden":
		if p.onVisibilityHidden != nil {
			p.onVisibilityHidden()
		}
	case "before_unload":
		if p.onBeforeUnload != nil {
			p.onBeforeUnload()
		}
	}
}

func targetDescriptorOf(t *wireTarget) types.TargetDescriptor {
	if t == nil {
		return types.TargetDescriptor{}
	}
	return types.TargetDescriptor{
		Tag:      t.Tag,
		ID:       t.ID,
		Class:    t.ClassName,
		Width:    t.Width,
		Height:   t.Height,
		CenterX:  t.CenterX,
		CenterY:  t.CenterY,
	}
}

// runInitialScan evaluates __agentdetect_initialScan and feeds the whole
// tree into the injection Observer's one-shot scan.
func (p *Prober) runInitialScan(ctx context.Context) error {
	if p.inj == nil {
		return nil
	}
	raw, err := p.tab.Eval(ctx, "window.__agentdetect_initialScan()")
	if err != nil {
		return err
	}
	var wire []wireElement
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return fmt.Errorf("probe: decode initial scan: %w", err)
	}
	elements := make([]injection.Element, 0, len(wire))
	for _, w := range wire {
		elements = append(elements, w.toElement())
	}
	p.inj.ScanInitial(elements, nil)
	return nil
}

// Eval implements fingerprint.Evaluator: one batched round trip into the
// page for every probe group.
func (p *Prober) Eval(ctx context.Context) (fingerprint.ProbeInput, error) {
	raw, err := p.tab.Eval(ctx, "window.__agentdetect_fingerprint()")
	if err != nil {
		return fingerprint.ProbeInput{}, err
	}
	var w wireProbeInput
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return fingerprint.ProbeInput{}, fmt.Errorf("probe: decode fingerprint: %w", err)
	}
	return w.toProbeInput(), nil
}

// ProbeResource implements fingerprint.ResourceProber: a single synchronous
// HEAD request issued from inside the page, so it shares the page's origin
// and cookie jar the way a real chrome-extension:// resource load would.
func (p *Prober) ProbeResource(ctx context.Context, url string) (bool, error) {
	script := fmt.Sprintf("window.__agentdetect_probeResource(%s)", strconv.Quote(url))
	raw, err := p.tab.Eval(ctx, script)
	if err != nil {
		return false, err
	}
	return raw == "true", nil
}

type wireProbeInput struct {
	WebDriver               bool     `json:"webDriver"`
	WebDriverWasFalseAtLoad bool     `json:"webDriverWasFalseAtLoad"`
	WebDriverGetterReplaced bool     `json:"webDriverGetterReplaced"`
	PluginCount             int      `json:"pluginCount"`
	Languages               []string `json:"languages"`
	UserAgent               string   `json:"userAgent"`
	HasChromeGlobal         bool     `json:"hasChromeGlobal"`
	OuterWidth              float64  `json:"outerWidth"`
	OuterHeight             float64  `json:"outerHeight"`
	ScreenWidth             float64  `json:"screenWidth"`
	ScreenHeight            float64  `json:"screenHeight"`
	HasConnectionAPI        bool     `json:"hasConnectionAPI"`
	MatchedExtensionIDs     []string `json:"matchedExtensionIDs"`
	ExtensionStylesheetHits []string `json:"extensionStylesheetHits"`
	MCPGlobalPresent        bool     `json:"mcpGlobalPresent"`
	ClaudeGlobalPresent     bool     `json:"claudeGlobalPresent"`
	AgentStoreCached        bool     `json:"agentStoreCached"`
	AgentScriptOrLinkHit    bool     `json:"agentScriptOrLinkHit"`
	NetworkResourceNames    []string `json:"networkResourceNames"`
	PresentGlobals          []string `json:"presentGlobals"`
	OwnPropertyNames        []string `json:"ownPropertyNames"`
	DOMMarkerHits           []string `json:"domMarkerHits"`
	CanvasDataURLLength     int      `json:"canvasDataURLLength"`
	CanvasErrored           bool     `json:"canvasErrored"`
	WebGLMissing            bool     `json:"webGLMissing"`
	WebGLRenderer           string   `json:"webGLRenderer"`
	Platform                string   `json:"platform"`
	HardwareConcurrency     int      `json:"hardwareConcurrency"`
	DeviceMemory            float64  `json:"deviceMemory"`
	MaxTouchPoints          int      `json:"maxTouchPoints"`
	CookieEnabled           bool     `json:"cookieEnabled"`
	DoNotTrack              string   `json:"doNotTrack"`
}

func (w wireProbeInput) toProbeInput() fingerprint.ProbeInput {
	return fingerprint.ProbeInput{
		WebDriver:               w.WebDriver,
		WebDriverWasFalseAtLoad: w.WebDriverWasFalseAtLoad,
		WebDriverGetterReplaced: w.WebDriverGetterReplaced,
		PluginCount:             w.PluginCount,
		Languages:               w.Languages,
		UserAgent:               w.UserAgent,
		HasChromeGlobal:         w.HasChromeGlobal,
		OuterWidth:              w.OuterWidth,
		OuterHeight:             w.OuterHeight,
		ScreenWidth:             w.ScreenWidth,
		ScreenHeight:            w.ScreenHeight,
		HasConnectionAPI:        w.HasConnectionAPI,
		MatchedExtensionIDs:     w.MatchedExtensionIDs,
		ExtensionStylesheetHits: w.ExtensionStylesheetHits,
		MCPGlobalPresent:        w.MCPGlobalPresent,
		ClaudeGlobalPresent:     w.ClaudeGlobalPresent,
		AgentStoreCached:        w.AgentStoreCached,
		AgentScriptOrLinkHit:    w.AgentScriptOrLinkHit,
		NetworkResourceNames:    w.NetworkResourceNames,
		PresentGlobals:          w.PresentGlobals,
		OwnPropertyNames:        w.OwnPropertyNames,
		DOMMarkerHits:           w.DOMMarkerHits,
		CanvasDataURLLength:     w.CanvasDataURLLength,
		CanvasErrored:           w.CanvasErrored,
		WebGLMissing:            w.WebGLMissing,
		WebGLRenderer:           w.WebGLRenderer,
		Platform:                w.Platform,
		HardwareConcurrency:     w.HardwareConcurrency,
		DeviceMemory:            w.DeviceMemory,
		MaxTouchPoints:          w.MaxTouchPoints,
		CookieEnabled:           w.CookieEnabled,
		DoNotTrack:              w.DoNotTrack,
	}
}
