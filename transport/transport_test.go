package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenwatch/agentdetect/telemetry"
	"github.com/lumenwatch/agentdetect/types"
)

// fakeBackend records every envelope it receives, mirroring the pack's
// httptest-fixture style for an opaque RPC sink.
type fakeBackend struct {
	mu       sync.Mutex
	received []envelope
}

func (b *fakeBackend) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.received = append(b.received, env)
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
}

func (b *fakeBackend) last() (envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.received) == 0 {
		return envelope{}, false
	}
	return b.received[len(b.received)-1], true
}

func TestShipReport_SignsAndSendsEnvelope(t *testing.T) {
	backend := &fakeBackend{}
	srv := backend.server()
	defer srv.Close()

	c := New(Config{ReportURL: srv.URL, Timeout: time.Second, MaxRetries: 0}, telemetry.Nop(), nil)
	report := types.Report{SessionID: "sess-1", CombinedScore: 42, Verdict: types.VerdictProbableAgent}

	c.ShipReport(t.Context(), report, types.SignalCombined, "topsecret", "ctx-1")

	got, ok := backend.last()
	require.True(t, ok, "backend should have received one envelope")
	require.Equal(t, "topsecret", got.SessKey)
	require.Equal(t, "ctx-1", got.ContextID)
	require.Equal(t, "sess-1", got.SessionID)
	require.Equal(t, types.SignalCombined, got.SignalType)
	require.NotEmpty(t, got.Signature)

	want := sign("topsecret", envelope{
		ContextID:  got.ContextID,
		SessionID:  got.SessionID,
		SignalType: got.SignalType,
		SignalData: got.SignalData,
	})
	require.Equal(t, want, got.Signature)
}

func TestShipReport_WrongSessionKeyProducesDifferentSignature(t *testing.T) {
	env := envelope{ContextID: "c", SessionID: "s", SignalType: types.SignalCombined, SignalData: "{}"}
	require.NotEqual(t, sign("key-a", env), sign("key-b", env))
}

func TestShipReport_SuppressedWithoutSessionKey(t *testing.T) {
	backend := &fakeBackend{}
	srv := backend.server()
	defer srv.Close()

	c := New(Config{ReportURL: srv.URL, Timeout: time.Second, MaxRetries: 0}, telemetry.Nop(), nil)
	c.ShipReport(t.Context(), types.Report{SessionID: "sess-2"}, types.SignalFingerprint, "", "ctx-1")

	_, ok := backend.last()
	require.False(t, ok, "no sessionKey should suppress the send entirely")
}

func TestShipUnloadBeacon_BestEffort(t *testing.T) {
	backend := &fakeBackend{}
	srv := backend.server()
	defer srv.Close()

	c := New(Config{ReportURL: srv.URL, BeaconURL: srv.URL, Timeout: time.Second, MaxRetries: 0}, telemetry.Nop(), nil)
	c.ShipUnloadBeacon(t.Context(), "sess-3", "topsecret", "ctx-1")

	got, ok := backend.last()
	require.True(t, ok)
	require.Equal(t, types.SignalUnload, got.SignalType)
	require.NotEmpty(t, got.Signature)

	// No beacon URL configured: silently does nothing.
	c2 := New(Config{ReportURL: srv.URL, Timeout: time.Second, MaxRetries: 0}, telemetry.Nop(), nil)
	c2.ShipUnloadBeacon(t.Context(), "sess-4", "topsecret", "ctx-1")
}
