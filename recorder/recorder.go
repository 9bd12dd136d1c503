// Package recorder implements the Event Recorder: typed, capped,
// cross-page-persistent stores fed by normalized DOM/input records. The
// CDP-plus-injected-JS machinery that actually observes the page lives in
// attach and probe; this package only ever sees already-normalized
// records; the CDP/JS layer produces them, this layer owns state.
package recorder

import (
	"encoding/json"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/lumenwatch/agentdetect/store"
	"github.com/lumenwatch/agentdetect/types"
)

// Cap is the per-store FIFO eviction threshold.
const Cap = 500

// SnapshotCap is the maximum number of records per store written to the
// persistent snapshot.
const SnapshotCap = 200

// HoverRecencyWindow is how many recent Hovers are considered for the
// precedingHover check on a Click.
const HoverRecencyWindow = 20

// MouseMoveRecencyWindow is how many recent MouseMoves are considered for
// the precedingMouseMove check on a Click.
const MouseMoveRecencyWindow = 10

// NearTargetPx is the distance threshold for "preceding movement near the
// click point".
const NearTargetPx = 50.0

// PointerMoveThrottle is the minimum spacing between recorded pointermove
// samples; spacing exactly at the threshold is still recorded (inclusive).
const PointerMoveThrottle = 50 * time.Millisecond

// SnapshotWriteInterval bounds how often SaveSnapshot actually writes,
// outside of a forced (unload) call.
const SnapshotWriteInterval = 2 * time.Second

// State is a read-only snapshot of every store, safe for the Analyzer to
// range over without additional locking.
type State struct {
	MouseMoves    []types.MouseMove
	Clicks        []types.Click
	Keystrokes    []types.Keystroke
	Scrolls       []types.Scroll
	Hovers        []types.Hover
	FocusChanges  []types.FocusChange
	PointerEvents []types.PointerEvent
	Generation    uint64
}

// Counts returns the per-store sizes of this snapshot.
func (s State) Counts() types.EventCounts {
	return types.EventCounts{
		MouseMoves:    len(s.MouseMoves),
		Clicks:        len(s.Clicks),
		Keystrokes:    len(s.Keystrokes),
		Scrolls:       len(s.Scrolls),
		Hovers:        len(s.Hovers),
		FocusChanges:  len(s.FocusChanges),
		PointerEvents: len(s.PointerEvents),
	}
}

// Recorder owns the append-only, capped event stores for one page context.
type Recorder struct {
	mu sync.RWMutex

	monitoring bool

	mouseMoves    []types.MouseMove
	clicks        []types.Click
	keystrokes    []types.Keystroke
	scrolls       []types.Scroll
	hovers        []types.Hover
	focusChanges  []types.FocusChange
	pointerEvents []types.PointerEvent

	lastPointerMove    time.Time
	hasLastPointerMove bool

	pendingMousedownAt   time.Time
	hasPendingMousedown  bool

	generation atomic.Uint64

	saveLimiter *rate.Limiter
	contextID   string
}

// New creates an unstarted Recorder.
func New() *Recorder {
	return &Recorder{
		saveLimiter: rate.NewLimiter(rate.Every(SnapshotWriteInterval), 1),
	}
}

// StartMonitoring is idempotent. It restores the persisted snapshot for
// contextID (if any) before the caller begins forwarding live events.
func (r *Recorder) StartMonitoring(contextID string, s store.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.monitoring {
		return
	}
	r.monitoring = true
	r.contextID = contextID

	if s == nil {
		return
	}
	raw, ok := s.Read(store.EventsKey(contextID))
	if !ok {
		return
	}
	var snap persistedSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return
	}

	// Restored records are prepended (oldest first), then trimmed from the
	// head to respect the cap. Hovers are never restored.
	r.mouseMoves = capHead(append(append([]types.MouseMove{}, snap.MouseMoves...), r.mouseMoves...))
	r.clicks = capHeadClicks(append(append([]types.Click{}, snap.Clicks...), r.clicks...))
	r.keystrokes = capHeadKeystrokes(append(append([]types.Keystroke{}, snap.Keystrokes...), r.keystrokes...))
	r.scrolls = capHeadScrolls(append(append([]types.Scroll{}, snap.Scrolls...), r.scrolls...))
	r.focusChanges = capHeadFocus(append(append([]types.FocusChange{}, snap.FocusChanges...), r.focusChanges...))
	r.pointerEvents = capHeadPointer(append(append([]types.PointerEvent{}, snap.PointerEvents...), r.pointerEvents...))
	r.bumpGenerationLocked()
}

// StopMonitoring is idempotent; further Handle* calls are ignored until
// StartMonitoring is called again.
func (r *Recorder) StopMonitoring() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitoring = false
}

func (r *Recorder) bumpGenerationLocked() {
	r.generation.Add(1)
}

// Generation returns the current mutation counter, used by the Analyzer to
// detect whether its cached report is stale.
func (r *Recorder) Generation() uint64 {
	return r.generation.Load()
}

// RawState returns a copy of every store for read-only analysis.
func (r *Recorder) RawState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return State{
		MouseMoves:    append([]types.MouseMove{}, r.mouseMoves...),
		Clicks:        append([]types.Click{}, r.clicks...),
		Keystrokes:    append([]types.Keystroke{}, r.keystrokes...),
		Scrolls:       append([]types.Scroll{}, r.scrolls...),
		Hovers:        append([]types.Hover{}, r.hovers...),
		FocusChanges:  append([]types.FocusChange{}, r.focusChanges...),
		PointerEvents: append([]types.PointerEvent{}, r.pointerEvents...),
		Generation:    r.generation.Load(),
	}
}

// --- Handlers: one per DOM/input subscription ---

func (r *Recorder) HandleMouseMove(ts time.Time, x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.monitoring {
		return
	}
	mm := types.MouseMove{Timestamp: ts, X: x, Y: y}
	if n := len(r.mouseMoves); n > 0 {
		prev := r.mouseMoves[n-1]
		dt := ts.Sub(prev.Timestamp).Seconds() * 1000
		mm.DtMs = dt
		mm.Dx = x - prev.X
		mm.Dy = y - prev.Y
		if dt > 0 {
			dist := euclid(mm.Dx, mm.Dy)
			mm.Velocity = dist / dt
		}
	}
	r.mouseMoves = evict(append(r.mouseMoves, mm), Cap)
	r.bumpGenerationLocked()
}

// HandleClick records a click. targetRef is the same opaque node reference
// passed to HandleHover for the same element; it is used only to match
// precedingHover and is never stored on the Click record.
func (r *Recorder) HandleClick(ts time.Time, x, y float64, target types.TargetDescriptor, targetRef any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.monitoring {
		return
	}
	c := types.Click{
		Timestamp:        ts,
		X:                x,
		Y:                y,
		Target:           target,
		OffsetFromCenter: euclid(x-target.CenterX, y-target.CenterY),
	}
	c.PrecedingHover = r.hasRecentHoverLocked(HoverRecencyWindow, targetRef)
	c.PrecedingMouseMove = r.hasNearMouseMoveLocked(MouseMoveRecencyWindow, x, y)

	r.clicks = evictClicks(append(r.clicks, c), Cap)
	r.bumpGenerationLocked()
}

func (r *Recorder) hasRecentHoverLocked(window int, targetRef any) bool {
	n := len(r.hovers)
	start := n - window
	if start < 0 {
		start = 0
	}
	for i := n - 1; i >= start; i-- {
		h := r.hovers[i]
		if h.Type == types.HoverOver && targetRef != nil && h.TargetRef == targetRef {
			return true
		}
	}
	return false
}

func (r *Recorder) hasNearMouseMoveLocked(window int, x, y float64) bool {
	n := len(r.mouseMoves)
	start := n - window
	if start < 0 {
		start = 0
	}
	for i := n - 1; i >= start; i-- {
		mm := r.mouseMoves[i]
		if euclid(mm.X-x, mm.Y-y) <= NearTargetPx {
			return true
		}
	}
	return false
}

// HandleMouseDown records a pending mousedown time against the most recent
// click, to be resolved into a duration once the matching mouseup arrives.
func (r *Recorder) HandleMouseDown(ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.monitoring || len(r.clicks) == 0 {
		return
	}
	r.pendingMousedownAt = ts
	r.hasPendingMousedown = true
}

// HandleMouseUp augments the most recent Click with its mousedown-to-mouseup
// duration, exactly once.
func (r *Recorder) HandleMouseUp(ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.monitoring || len(r.clicks) == 0 || !r.hasPendingMousedown {
		return
	}
	durMs := ts.Sub(r.pendingMousedownAt).Seconds() * 1000
	r.clicks[len(r.clicks)-1].Augment(r.pendingMousedownAt, durMs)
	r.hasPendingMousedown = false
	r.bumpGenerationLocked()
}

func (r *Recorder) HandleHover(ts time.Time, typ types.HoverType, targetRef any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.monitoring {
		return
	}
	r.hovers = evictHovers(append(r.hovers, types.Hover{Timestamp: ts, Type: typ, TargetRef: targetRef}), Cap)
	r.bumpGenerationLocked()
}

// HandleKeyDown creates a new Keystroke record. rawKey is redacted via
// types.RedactKey before storage: the actual character is never kept. DtMs
// is derived from the previous keydown, the same way MouseMove derives its
// delta time.
func (r *Recorder) HandleKeyDown(ts time.Time, rawKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.monitoring {
		return
	}
	ks := types.Keystroke{
		Timestamp: ts,
		Key:       types.RedactKey(rawKey),
		Phase:     types.KeyDown,
	}
	if n := len(r.keystrokes); n > 0 {
		ks.DtMs = ts.Sub(r.keystrokes[n-1].Timestamp).Seconds() * 1000
	}
	r.keystrokes = evictKeystrokes(append(r.keystrokes, ks), Cap)
	r.bumpGenerationLocked()
}

// HandleKeyUp sets HoldDuration on the most recent keydown record that has
// not yet been matched.
func (r *Recorder) HandleKeyUp(ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.monitoring {
		return
	}
	for i := len(r.keystrokes) - 1; i >= 0; i-- {
		ks := &r.keystrokes[i]
		if ks.HoldDuration == 0 {
			hold := ts.Sub(ks.Timestamp).Seconds() * 1000
			ks.SetHoldDuration(hold)
			r.bumpGenerationLocked()
			return
		}
	}
}

func (r *Recorder) HandleScroll(ts time.Time, x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.monitoring {
		return
	}
	sc := types.Scroll{Timestamp: ts, ScrollX: x, ScrollY: y}
	if n := len(r.scrolls); n > 0 {
		prev := r.scrolls[n-1]
		sc.DtMs = ts.Sub(prev.Timestamp).Seconds() * 1000
		sc.DScrollX = x - prev.ScrollX
		sc.DScrollY = y - prev.ScrollY
	}
	r.scrolls = evictScrolls(append(r.scrolls, sc), Cap)
	r.bumpGenerationLocked()
}

func (r *Recorder) HandleFocus(ts time.Time, phase types.FocusPhase, target types.TargetDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.monitoring {
		return
	}
	r.focusChanges = evictFocus(append(r.focusChanges, types.FocusChange{Timestamp: ts, Target: target, Phase: phase}), Cap)
	r.bumpGenerationLocked()
}

func (r *Recorder) HandlePointerDown(ts time.Time, x, y float64, pointerType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.monitoring {
		return
	}
	r.pointerEvents = evictPointer(append(r.pointerEvents, types.PointerEvent{
		Type: types.PointerDown, X: x, Y: y, Timestamp: ts, PointerType: pointerType,
	}), Cap)
	r.bumpGenerationLocked()
}

// HandlePointerMove throttles to at most one recorded sample per 50ms,
// inclusive of exactly-50ms spacing.
func (r *Recorder) HandlePointerMove(ts time.Time, x, y float64, pointerType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.monitoring {
		return
	}
	if r.hasLastPointerMove && ts.Sub(r.lastPointerMove) < PointerMoveThrottle {
		return
	}
	r.lastPointerMove = ts
	r.hasLastPointerMove = true
	r.pointerEvents = evictPointer(append(r.pointerEvents, types.PointerEvent{
		Type: types.PointerMove, X: x, Y: y, Timestamp: ts, PointerType: pointerType,
	}), Cap)
	r.bumpGenerationLocked()
}

func euclid(dx, dy float64) float64 {
	return math.Hypot(dx, dy)
}

// trimToCap drops from the head of s until at most n records remain,
// keeping the most recently appended ones. Shared by the live FIFO
// eviction (Cap) and the snapshot compression (SnapshotCap) paths.
func trimToCap[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func evict(s []types.MouseMove, n int) []types.MouseMove       { return trimToCap(s, n) }
func evictClicks(s []types.Click, n int) []types.Click         { return trimToCap(s, n) }
func evictHovers(s []types.Hover, n int) []types.Hover          { return trimToCap(s, n) }
func evictKeystrokes(s []types.Keystroke, n int) []types.Keystroke { return trimToCap(s, n) }
func evictScrolls(s []types.Scroll, n int) []types.Scroll       { return trimToCap(s, n) }
func evictFocus(s []types.FocusChange, n int) []types.FocusChange { return trimToCap(s, n) }
func evictPointer(s []types.PointerEvent, n int) []types.PointerEvent { return trimToCap(s, n) }

func capHead(s []types.MouseMove) []types.MouseMove       { return trimToCap(s, Cap) }
func capHeadClicks(s []types.Click) []types.Click         { return trimToCap(s, Cap) }
func capHeadKeystrokes(s []types.Keystroke) []types.Keystroke { return trimToCap(s, Cap) }
func capHeadScrolls(s []types.Scroll) []types.Scroll       { return trimToCap(s, Cap) }
func capHeadFocus(s []types.FocusChange) []types.FocusChange { return trimToCap(s, Cap) }
func capHeadPointer(s []types.PointerEvent) []types.PointerEvent { return trimToCap(s, Cap) }

// persistedSnapshot is the JSON shape written to the tab-persistent store:
// every store except Hovers (hover records carry a live DOM target
// reference and must never be serialized), each capped to SnapshotCap
// records.
type persistedSnapshot struct {
	MouseMoves    []types.MouseMove    `json:"mouseMoves"`
	Clicks        []types.Click        `json:"clicks"`
	Keystrokes    []types.Keystroke    `json:"keystrokes"`
	Scrolls       []types.Scroll       `json:"scrolls"`
	FocusChanges  []types.FocusChange  `json:"focusChanges"`
	PointerEvents []types.PointerEvent `json:"pointerEvents"`
}

// SaveSnapshot writes a compressed snapshot of every store (≤SnapshotCap
// records, hovers stripped) to s keyed by this Recorder's context id.
// Writes are rate-limited to at most once per SnapshotWriteInterval unless
// force is true, which the unload path uses so the final snapshot is never
// dropped by the limiter.
func (r *Recorder) SaveSnapshot(s store.Store, force bool) {
	if s == nil {
		return
	}
	if !force && !r.saveLimiter.Allow() {
		return
	}

	r.mu.RLock()
	contextID := r.contextID
	snap := persistedSnapshot{
		MouseMoves:    trimToCap(append([]types.MouseMove{}, r.mouseMoves...), SnapshotCap),
		Clicks:        trimToCap(append([]types.Click{}, r.clicks...), SnapshotCap),
		Keystrokes:    trimToCap(append([]types.Keystroke{}, r.keystrokes...), SnapshotCap),
		Scrolls:       trimToCap(append([]types.Scroll{}, r.scrolls...), SnapshotCap),
		FocusChanges:  trimToCap(append([]types.FocusChange{}, r.focusChanges...), SnapshotCap),
		PointerEvents: trimToCap(append([]types.PointerEvent{}, r.pointerEvents...), SnapshotCap),
	}
	r.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	s.Write(store.EventsKey(contextID), string(data))
}
