// Package injection implements the Injection Observer: an initial DOM scan
// plus a live mutation-driven scan that flags elements, attributes,
// floating overlays and extension-scheme resources matching known
// helper-tool patterns, while excluding host-framework elements. The two
// pattern registries and the host-element filter are flat tables of
// compiled patterns with weights.
package injection

import (
	"regexp"
	"strings"
	"sync"

	"github.com/lumenwatch/agentdetect/types"
)

// TextPattern is one suspicious-phrase entry applied only to leaf elements.
type TextPattern struct {
	Name    string
	Pattern *regexp.Regexp
	Weight  int
}

// AttrPattern is one suspicious class/id/src/href entry.
type AttrPattern struct {
	Name    string
	Pattern *regexp.Regexp
	Weight  int
}

// TextPatterns is the registry of suspicious phrases, applied to leaf
// elements only.
var TextPatterns = []TextPattern{
	{"text.get_answer", regexp.MustCompile(`(?i)get\s+(the\s+)?answer`), 8},
	{"text.solve_this", regexp.MustCompile(`(?i)solve\s+this`), 8},
	{"text.ai_assistant", regexp.MustCompile(`(?i)ai\s+assistant`), 6},
	{"text.ask_ai", regexp.MustCompile(`(?i)\bask\s+ai\b`), 7},
	{"text.homework_helper", regexp.MustCompile(`(?i)homework\s+helper`), 8},
	{"text.comet_brand", regexp.MustCompile(`(?i)\bcomet\s+(assistant|browser)\b`), 10},
	{"text.perplexity_brand", regexp.MustCompile(`(?i)\bperplexity\b`), 9},
	{"text.auto_complete_quiz", regexp.MustCompile(`(?i)auto[- ]complete\s+(quiz|test|exam)`), 9},
	{"text.chatgpt_brand", regexp.MustCompile(`(?i)\bchatgpt\b`), 6},
	{"text.explain_step_by_step", regexp.MustCompile(`(?i)explain\s+step[- ]by[- ]step`), 5},
}

// AttrPatterns is the registry of suspicious class/id/src/href fragments.
var AttrPatterns = []AttrPattern{
	{"attr.comet_class", regexp.MustCompile(`(?i)comet[-_]?(overlay|panel|sidebar|widget)`), 10},
	{"attr.perplexity_class", regexp.MustCompile(`(?i)perplexity[-_]?(overlay|widget|panel)`), 9},
	{"attr.ai_helper_class", regexp.MustCompile(`(?i)ai[-_]?(helper|assistant|copilot)[-_]?(widget|panel|overlay)?`), 7},
	{"attr.homework_class", regexp.MustCompile(`(?i)homework[-_]?(bot|helper|solver)`), 8},
	{"attr.quiz_solver_class", regexp.MustCompile(`(?i)quiz[-_]?(solver|cheat|answers)`), 9},
	{"attr.extension_scheme", regexp.MustCompile(`(?i)^(chrome|moz)-extension://`), 10},
}

// hostFilterPatterns match class/id prefixes belonging to the host
// platform, Bootstrap utility classes, known editors, and test-framework
// IDs; any element matching one of these is skipped entirely, regardless
// of whether it would otherwise match a text or attribute pattern.
var hostFilterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^moodle-`),
	regexp.MustCompile(`(?i)^mod_`),
	regexp.MustCompile(`(?i)^block_`),
	regexp.MustCompile(`(?i)^(col|row|btn|navbar|dropdown|modal|badge|card|d-|p-|m-|text-|bg-|border-|flex-)[a-z0-9-]*`),
	regexp.MustCompile(`(?i)^(fa|fas|far|fab|material-icons|glyphicon)[-a-z0-9]*`),
	regexp.MustCompile(`(?i)^(tox-|ck-|fr-|atto_)`), // TinyMCE / CKEditor / Froala / Atto
	regexp.MustCompile(`(?i)^(mocha-|jasmine-|behat-)`),
}

// hostDataAttributes are host-specific data attributes whose mere presence
// on an element exempts it from pattern scanning.
var hostDataAttributes = []string{"data-region", "data-moodle-component", "data-fieldtype"}

// Element is the minimal, already-normalized description the observer
// reasons about. It never carries a live DOM handle.
type Element struct {
	Tag            string
	ID             string
	Class          string
	Src            string
	Href           string
	Text           string // only populated for leaf elements
	IsLeaf         bool
	DataAttributes []string

	Position string // CSS computed position: "fixed", "absolute", "static", ...
	Width    float64
	Height   float64
	ZIndex   int

	HasShadowRoot bool
}

// isHostElement reports whether el must be skipped entirely.
func isHostElement(el Element) bool {
	for _, attr := range hostDataAttributes {
		for _, has := range el.DataAttributes {
			if has == attr {
				return true
			}
		}
	}
	for _, p := range hostFilterPatterns {
		if p.MatchString(el.Class) || p.MatchString(el.ID) {
			return true
		}
	}
	return false
}

// IsFloatingOverlay reports whether an element looks like an injected
// floating overlay: fixed/absolute position, at least 50px on each axis,
// z-index 9000 or above.
func IsFloatingOverlay(el Element) bool {
	if el.Position != "fixed" && el.Position != "absolute" {
		return false
	}
	return el.Width >= 50 && el.Height >= 50 && el.ZIndex >= 9000
}

// Observer accumulates InjectionFinding records from the initial scan and
// from live mutations.
type Observer struct {
	mu         sync.Mutex
	monitoring bool
	findings   []types.InjectionFinding
	extensionResourceCount int
}

// New creates an unstarted Observer.
func New() *Observer {
	return &Observer{}
}

// StartMonitoring is idempotent.
func (o *Observer) StartMonitoring() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.monitoring = true
}

// StopMonitoring is idempotent.
func (o *Observer) StopMonitoring() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.monitoring = false
}

// ScanInitial walks every descendant of document.body once.
func (o *Observer) ScanInitial(elements []Element, extensionResources []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.monitoring {
		return
	}
	for _, el := range elements {
		o.analyzeElementLocked(el, types.SourceInitialScan)
	}
	if n := len(extensionResources); n > 0 {
		o.extensionResourceCount += n
		o.findings = append(o.findings, types.InjectionFinding{
			Type:   types.FindingExtensionInjection,
			Name:   "extension.resources",
			Weight: 7,
			Source: types.SourceInitialScan,
		})
	}
}

// MutationAdded records an added node and its descendants.
func (o *Observer) MutationAdded(el Element, descendants []Element) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.monitoring {
		return
	}
	o.analyzeElementLocked(el, types.SourceMutationAdded)
	for _, d := range descendants {
		o.analyzeElementLocked(d, types.SourceMutationAdded)
	}
	o.checkExtensionResourceLocked(el, types.SourceMutationAdded)
}

// MutationAttribute records a watched attribute change on an existing
// element ({class, id, src, href, style, data-comet, data-perplexity}).
func (o *Observer) MutationAttribute(el Element) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.monitoring {
		return
	}
	o.analyzeElementLocked(el, types.SourceMutationAttribute)
	o.checkExtensionResourceLocked(el, types.SourceMutationAttribute)
}

// checkExtensionResourceLocked applies the mutation-policy src/href
// check: weight 10 whether the target names the agent extension ID
// specifically or just the bare chrome-extension:// scheme. The two cases
// get distinct finding names (agent-specific vs generic) so that downstream
// agent-signal extraction (analyzer.ExtractAgentSignals) can tell a Comet
// resource reference apart from an unrelated installed extension's; both
// still count toward this Observer's own score either way.
func (o *Observer) checkExtensionResourceLocked(el Element, source types.InjectionFindingSource) {
	target := el.Src
	if target == "" {
		target = el.Href
	}
	switch {
	case strings.Contains(target, AgentExtensionID):
		o.findings = append(o.findings, types.InjectionFinding{
			Type:   types.FindingExtensionInjection,
			Name:   "extension.resource_reference",
			Value:  target,
			Weight: 10,
			Source: types.SourceChromeExtensionInjection,
		})
	case strings.HasPrefix(strings.ToLower(target), "chrome-extension://"):
		o.findings = append(o.findings, types.InjectionFinding{
			Type:   types.FindingExtensionInjection,
			Name:   "extension.generic_resource_reference",
			Value:  target,
			Weight: 10,
			Source: types.SourceChromeExtensionInjection,
		})
	}
}

// AgentExtensionID is duplicated here (rather than imported from the
// fingerprint package) to keep the two leaf packages independent.
const AgentExtensionID = "npclhjbddhklpbnacpjloidibaggcgon"

func (o *Observer) analyzeElementLocked(el Element, source types.InjectionFindingSource) {
	if isHostElement(el) {
		return
	}

	for _, p := range AttrPatterns {
		if p.Pattern.MatchString(el.Class) {
			o.findings = append(o.findings, types.InjectionFinding{
				Type: types.FindingElementPattern, Name: p.Name, Attribute: "class",
				Weight: p.Weight, Source: source,
			})
		}
		if p.Pattern.MatchString(el.ID) {
			o.findings = append(o.findings, types.InjectionFinding{
				Type: types.FindingElementPattern, Name: p.Name, Attribute: "id",
				Weight: p.Weight, Source: source,
			})
		}
		if p.Pattern.MatchString(el.Src) {
			o.findings = append(o.findings, types.InjectionFinding{
				Type: types.FindingElementPattern, Name: p.Name, Attribute: "src",
				Weight: p.Weight, Source: source,
			})
		}
		if p.Pattern.MatchString(el.Href) {
			o.findings = append(o.findings, types.InjectionFinding{
				Type: types.FindingElementPattern, Name: p.Name, Attribute: "href",
				Weight: p.Weight, Source: source,
			})
		}
	}

	if el.IsLeaf {
		for _, p := range TextPatterns {
			if p.Pattern.MatchString(el.Text) {
				o.findings = append(o.findings, types.InjectionFinding{
					Type: types.FindingTextPattern, Name: p.Name, Text: el.Text,
					Weight: p.Weight, Source: source,
				})
			}
		}
	}

	if IsFloatingOverlay(el) {
		o.findings = append(o.findings, types.InjectionFinding{
			Type: types.FindingFloatingUI, Name: "floating_ui.overlay", Weight: 6, Source: source,
		})
	}

	if el.HasShadowRoot {
		o.findings = append(o.findings, types.InjectionFinding{
			Type: types.FindingShadowDOM, Name: "shadow_dom.present", Weight: 7, Source: source,
		})
	}
}

// Analyze groups all findings by (type, name) and returns the scored
// InjectionGroup.
func (o *Observer) Analyze() types.InjectionGroup {
	o.mu.Lock()
	findings := append([]types.InjectionFinding{}, o.findings...)
	o.mu.Unlock()

	type key struct {
		typ  types.InjectionFindingType
		name string
	}
	grouped := make(map[key][]types.InjectionFinding)
	order := make([]key, 0)
	for _, f := range findings {
		k := key{f.Type, f.Name}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], f)
	}

	counts := make(map[string]int)
	var signals []types.InjectionSignal
	var sum float64
	for _, k := range order {
		group := grouped[k]
		maxWeight := 0
		var examples []string
		for _, f := range group {
			if f.Weight > maxWeight {
				maxWeight = f.Weight
			}
			if f.Text != "" {
				examples = append(examples, f.Text)
			} else if f.Value != "" {
				examples = append(examples, f.Value)
			}
		}
		n := len(group)
		capped := n
		if capped > 5 {
			capped = 5
		}
		contribution := float64(maxWeight) * (1 + 0.2*float64(capped-1))
		sum += contribution
		counts[k.name] = n
		signals = append(signals, types.InjectionSignal{
			Name: k.name, Count: n, MaxWeight: maxWeight, Examples: capExamples(examples, 3),
		})
	}

	score := roundHalfUp(sum / 50 * 100)
	if score > 100 {
		score = 100
	}
	return types.InjectionGroup{DetectionCounts: counts, Signals: signals, Score: score}
}

func capExamples(examples []string, n int) []string {
	if len(examples) <= n {
		return examples
	}
	return examples[:n]
}

func roundHalfUp(f float64) int {
	if f < 0 {
		return 0
	}
	return int(f + 0.5)
}
