package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenwatch/agentdetect/store"
	"github.com/lumenwatch/agentdetect/types"
)

func TestMouseMoveComputesVelocity(t *testing.T) {
	r := New()
	r.StartMonitoring("ctx1", nil)

	base := time.Unix(0, 0)
	r.HandleMouseMove(base, 0, 0)
	r.HandleMouseMove(base.Add(100*time.Millisecond), 30, 40)

	state := r.RawState()
	require.Len(t, state.MouseMoves, 2)
	second := state.MouseMoves[1]
	require.InDelta(t, 100.0, second.DtMs, 0.001)
	require.InDelta(t, 30.0, second.Dx, 0.001)
	require.InDelta(t, 40.0, second.Dy, 0.001)
	require.InDelta(t, 0.5, second.Velocity, 0.001)
}

func TestPointerMoveThrottleInclusive(t *testing.T) {
	r := New()
	r.StartMonitoring("ctx1", nil)

	base := time.Unix(0, 0)
	r.HandlePointerMove(base, 0, 0, "mouse")
	r.HandlePointerMove(base.Add(49*time.Millisecond), 1, 1, "mouse")
	r.HandlePointerMove(base.Add(50*time.Millisecond), 2, 2, "mouse")

	state := r.RawState()
	require.Len(t, state.PointerEvents, 2, "the 49ms sample must be dropped, the 50ms sample must be kept (inclusive)")
}

func TestClickPrecedingHoverAndMouseMove(t *testing.T) {
	r := New()
	r.StartMonitoring("ctx1", nil)

	base := time.Unix(0, 0)
	r.HandleMouseMove(base, 10, 10)
	r.HandleHover(base.Add(time.Millisecond), types.HoverOver, "node-1")
	r.HandleClick(base.Add(2*time.Millisecond), 15, 15, types.TargetDescriptor{CenterX: 15, CenterY: 15}, "node-1")

	state := r.RawState()
	require.Len(t, state.Clicks, 1)
	require.True(t, state.Clicks[0].PrecedingHover)
	require.True(t, state.Clicks[0].PrecedingMouseMove)
}

func TestClickAugmentedExactlyOnce(t *testing.T) {
	r := New()
	r.StartMonitoring("ctx1", nil)

	base := time.Unix(0, 0)
	r.HandleClick(base, 0, 0, types.TargetDescriptor{}, nil)
	r.HandleMouseDown(base.Add(5 * time.Millisecond))
	r.HandleMouseUp(base.Add(55 * time.Millisecond))
	// A stray second mouseup must not re-augment.
	r.HandleMouseUp(base.Add(200 * time.Millisecond))

	state := r.RawState()
	require.Len(t, state.Clicks, 1)
	require.InDelta(t, 50.0, state.Clicks[0].DurationMs, 0.001)
}

func TestKeyUpMatchesMostRecentUnfinishedKeydown(t *testing.T) {
	r := New()
	r.StartMonitoring("ctx1", nil)

	base := time.Unix(0, 0)
	r.HandleKeyDown(base, "a")
	r.HandleKeyDown(base.Add(10*time.Millisecond), "Enter")
	r.HandleKeyUp(base.Add(30 * time.Millisecond))

	state := r.RawState()
	require.Len(t, state.Keystrokes, 2)
	require.Equal(t, "char", state.Keystrokes[0].Key)
	require.Equal(t, "Enter", state.Keystrokes[1].Key)
	require.Zero(t, state.Keystrokes[0].HoldDuration)
	require.InDelta(t, 20.0, state.Keystrokes[1].HoldDuration, 0.001)
}

func TestMouseMoveEvictionCap(t *testing.T) {
	r := New()
	r.StartMonitoring("ctx1", nil)

	base := time.Unix(0, 0)
	for i := 0; i < Cap+50; i++ {
		r.HandleMouseMove(base.Add(time.Duration(i)*time.Millisecond), float64(i), 0)
	}

	state := r.RawState()
	require.Len(t, state.MouseMoves, Cap)
	require.Equal(t, float64(50), state.MouseMoves[0].X, "the oldest 50 samples must have been evicted")
}

func TestStartMonitoringIsIdempotent(t *testing.T) {
	r := New()
	s := store.NewMemory()
	r.StartMonitoring("ctx1", s)
	r.HandleMouseMove(time.Unix(0, 0), 1, 1)
	r.StartMonitoring("ctx1", s) // second call must not reset state
	require.Len(t, r.RawState().MouseMoves, 1)
}

func TestStopMonitoringDropsLateEvents(t *testing.T) {
	r := New()
	r.StartMonitoring("ctx1", nil)
	r.HandleMouseMove(time.Unix(0, 0), 1, 1)
	r.StopMonitoring()
	r.HandleMouseMove(time.Unix(0, 1), 2, 2)
	require.Len(t, r.RawState().MouseMoves, 1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := store.NewMemory()
	r := New()
	r.StartMonitoring("ctx1", s)
	base := time.Unix(100, 0)
	for i := 0; i < 5; i++ {
		r.HandleMouseMove(base.Add(time.Duration(i)*time.Millisecond), float64(i), float64(i))
	}
	r.SaveSnapshot(s, true)

	r2 := New()
	r2.StartMonitoring("ctx1", s)
	require.Len(t, r2.RawState().MouseMoves, 5)
}
