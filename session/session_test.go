package session_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenwatch/agentdetect/session"
	"github.com/lumenwatch/agentdetect/store"
)

func TestNewIDShape(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	id := session.New(now)
	require.Regexp(t, regexp.MustCompile(`^[0-9a-z]+-[0-9a-z]{8}$`), id)
}

func TestRestoreWithinMaxAgeKeepsIDAndCountsPageLoad(t *testing.T) {
	s := store.NewMemory()
	t0 := time.UnixMilli(1700000000000)

	first := session.RestoreOrCreate(s, t0)
	require.Equal(t, 1, first.PageLoadCount)
	require.Equal(t, t0, first.StartTime)

	second := session.RestoreOrCreate(s, t0.Add(10*time.Minute))
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 2, second.PageLoadCount)
	require.Equal(t, first.StartTime, second.StartTime)

	third := session.RestoreOrCreate(s, t0.Add(20*time.Minute))
	require.Equal(t, first.ID, third.ID)
	require.Equal(t, 3, third.PageLoadCount)
}

func TestRestorePastMaxAgeCreatesFreshSession(t *testing.T) {
	s := store.NewMemory()
	t0 := time.UnixMilli(1700000000000)

	first := session.RestoreOrCreate(s, t0)
	late := session.RestoreOrCreate(s, t0.Add(session.MaxAge+time.Minute))

	require.NotEqual(t, first.ID, late.ID)
	require.Equal(t, 1, late.PageLoadCount)
	require.Equal(t, t0.Add(session.MaxAge+time.Minute), late.StartTime)
}

func TestRestoreWindowSlidesWithEachPageLoad(t *testing.T) {
	s := store.NewMemory()
	t0 := time.UnixMilli(1700000000000)

	first := session.RestoreOrCreate(s, t0)
	// Each restore re-stamps the record, so two 25-minute gaps stay
	// inside the window even though 50 minutes passed in total.
	mid := session.RestoreOrCreate(s, t0.Add(25*time.Minute))
	last := session.RestoreOrCreate(s, t0.Add(50*time.Minute))

	require.Equal(t, first.ID, mid.ID)
	require.Equal(t, first.ID, last.ID)
	require.Equal(t, 3, last.PageLoadCount)
}

func TestCorruptPersistedRecordFallsBackToFresh(t *testing.T) {
	s := store.NewMemory()
	s.Write(store.KeySessionPrefix, "{not json")

	sess := session.RestoreOrCreate(s, time.UnixMilli(1700000000000))
	require.NotEmpty(t, sess.ID)
	require.Equal(t, 1, sess.PageLoadCount)
}
