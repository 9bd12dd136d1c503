// Package store implements the tab-persistent storage abstraction: a
// minimal `{ Read(key) (string, bool); Write(key, value) }` interface,
// kept deliberately narrow so the engine stays testable under a simulated
// store. The SQLite-backed implementation opens through dbopen and keeps
// a single key-value table.
package store

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/lumenwatch/agentdetect/dbopen"
	"github.com/lumenwatch/agentdetect/telemetry"
	"github.com/lumenwatch/agentdetect/xerrors"
)

// Keys used by the engine.
const (
	KeySessionPrefix  = "agentdetect_session"
	KeyCometDetected  = "agentdetect_comet_detected"
)

// EventsKey returns the per-context event-snapshot key.
func EventsKey(contextID string) string {
	return "agentdetect_events_" + contextID
}

// Store is the tab-scoped persistent store. Writes are best-effort: a
// failing store must never interrupt the engine. Reads return ("", false)
// on any failure or miss, indistinguishable from "never written".
type Store interface {
	Read(key string) (string, bool)
	Write(key, value string)
}

// Memory is an in-process Store, used by tests and by any host that has no
// durable per-tab storage available.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Read(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *Memory) Write(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// Schema is the single key/value table backing the SQLite store.
const Schema = `
CREATE TABLE IF NOT EXISTS agentdetect_kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLite is a Store backed by a single key/value table, for hosts (the
// cmd/agentdetectd daemon, tests wanting persistence across process
// restarts) that need the tab store to survive beyond one process.
type SQLite struct {
	db  *sql.DB
	log *telemetry.Logger
}

// OpenSQLite opens (or creates) a SQLite-backed Store at path via
// dbopen.Open, so the tab store gets the same production-safe pragmas
// (WAL, 10s busy timeout, foreign keys) as every other database this
// engine's host process opens, rather than a second hand-rolled copy of
// them. log may be nil, in which case read/write failures are swallowed
// without a trace (matching Memory's silence).
func OpenSQLite(path string, log *telemetry.Logger) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db, log: log}, nil
}

// DB exposes the underlying connection so a host can layer its own
// SQLite-backed concerns (config hot-reload, rate limiting) onto the same
// database file instead of opening a second one.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Read(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM agentdetect_kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if s.log != nil && err != sql.ErrNoRows {
			s.log.Debug("store: " + (&xerrors.StorageFailure{Key: key, Op: "read", Cause: err}).Error())
		}
		return "", false
	}
	return value, true
}

// Write is best-effort: a failing write is swallowed, matching
// xerrors.StorageFailure's propagation policy (the caller never learns of
// the failure beyond an optional debug log it chooses to add).
func (s *SQLite) Write(key, value string) {
	_, err := dbopen.Exec(context.Background(), s.db, `
		INSERT INTO agentdetect_kv(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil && s.log != nil {
		s.log.Debug("store: " + (&xerrors.StorageFailure{Key: key, Op: "write", Cause: err}).Error())
	}
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
