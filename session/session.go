// Package session manages the detection session identifier: generation,
// the 30-minute tab-scoped reuse window, and the page-load counter. The
// generator composition (a base36 timestamp joined to a random suffix) is
// built from small single-purpose idgen.Generator values wired together at
// construction time rather than one monolithic generator.
package session

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/lumenwatch/agentdetect/idgen"
	"github.com/lumenwatch/agentdetect/store"
)

// MaxAge is the window within which a session id is reused across page
// loads in the same tab.
const MaxAge = 30 * time.Minute

// randSuffix is an idgen.Generator producing the random half of the
// session id: an 8-character base36 NanoID, the same strategy idgen offers
// any other short-lived identifier in this engine (composed, not
// inlined, so a caller could swap it for idgen.UUIDv7 without touching New).
var randSuffix idgen.Generator = idgen.NanoID(8)

// New generates a session identifier in the `<time36>-<rand>` shape.
func New(now time.Time) string {
	return base36Time(now) + "-" + randSuffix()
}

func base36Time(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 36)
}

// record is the JSON shape persisted under store.KeySessionPrefix.
type record struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	PageLoadCount int       `json:"pageLoadCount"`
	StartTime     time.Time `json:"startTime"`
}

// Session is the live, in-memory session identity held by the Orchestrator.
type Session struct {
	ID            string
	StartTime     time.Time
	PageLoadCount int
}

// RestoreOrCreate reuses the persisted session id if it is younger than MaxAge, incrementing the
// page-load counter and preserving the original start time; otherwise
// create a fresh session with PageLoadCount = 1.
func RestoreOrCreate(s store.Store, now time.Time) Session {
	raw, ok := s.Read(store.KeySessionPrefix)
	if ok {
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			if now.Sub(rec.Timestamp) <= MaxAge {
				next := Session{
					ID:            rec.ID,
					StartTime:     rec.StartTime.In(now.Location()),
					PageLoadCount: rec.PageLoadCount + 1,
				}
				persist(s, next, now)
				return next
			}
		}
	}

	fresh := Session{
		ID:            New(now),
		StartTime:     now,
		PageLoadCount: 1,
	}
	persist(s, fresh, now)
	return fresh
}

func persist(s store.Store, sess Session, now time.Time) {
	rec := record{
		ID:            sess.ID,
		Timestamp:     now,
		PageLoadCount: sess.PageLoadCount,
		StartTime:     sess.StartTime,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	s.Write(store.KeySessionPrefix, string(data))
}
