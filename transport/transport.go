// Package transport implements the detection engine's outbound RPC and
// unload beacon: a Handler wrapped by connectivity's timeout, retry and
// circuit-breaker middleware, shipping exactly two report shapes plus the
// unload payload.
package transport

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/lumenwatch/agentdetect/connectivity"
	"github.com/lumenwatch/agentdetect/idgen"
	"github.com/lumenwatch/agentdetect/netsafe"
	"github.com/lumenwatch/agentdetect/telemetry"
	"github.com/lumenwatch/agentdetect/types"
	"github.com/lumenwatch/agentdetect/xerrors"
)

// Handler sends a payload and returns the response body or an error, the
// same shape as connectivity.Handler, kept so WithTimeout/WithRetry/the
// breaker compose unmodified.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Config controls the outbound RPC and the unload beacon.
type Config struct {
	ReportURL  string
	BeaconURL  string
	Timeout    time.Duration
	MaxRetries int
}

// Client ships reports to the signed RPC endpoint and unload payloads to
// the beacon endpoint. Both are best-effort: failures are logged (debug
// only) and never surfaced to the caller as a reason to stop the engine.
type Client struct {
	cfg      Config
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	send     Handler
	http     *http.Client
	reportID idgen.Generator
}

// New builds a Client whose send path is a Handler chain: circuit breaker
// -> retry -> timeout -> raw HTTP POST. Every POST carries a fresh
// time-sortable report id so the backend can deduplicate retried sends.
func New(cfg Config, log *telemetry.Logger, metrics *telemetry.Metrics) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	breaker := connectivity.NewCircuitBreaker()
	reportID := idgen.Prefixed("rpt_", idgen.UUIDv7())

	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		return postJSON(ctx, httpClient, cfg.ReportURL, reportID(), payload)
	}
	withTimeout := connectivity.WithTimeout(cfg.Timeout)(base)
	withRetry := connectivity.WithRetry(cfg.MaxRetries, 200*time.Millisecond, nil)(withTimeout)
	guarded := connectivity.WithCircuitBreaker(breaker, "report")(withRetry)

	return &Client{cfg: cfg, log: log, metrics: metrics, send: Handler(guarded), http: httpClient, reportID: reportID}
}

func postJSON(ctx context.Context, client *http.Client, url, reportID string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Report-ID", reportID)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("transport: unexpected status %d", resp.StatusCode)
	}
	// The backend acknowledgement is uninteresting beyond its status, but
	// a misbehaving endpoint must not balloon memory either.
	return netsafe.LimitedReadAll(resp.Body, 64*1024)
}

// envelope is the RPC payload: sesskey, contextid, sessionid, signaltype,
// and signaldata (the report, JSON-stringified a second time; the
// backend decodes signaldata independently of the outer envelope).
type envelope struct {
	SessKey    string           `json:"sesskey"`
	ContextID  string           `json:"contextid"`
	SessionID  string           `json:"sessionid"`
	SignalType types.SignalType `json:"signaltype"`
	SignalData string           `json:"signaldata"`
	Signature  string           `json:"signature"`
}

// sign produces a keyed BLAKE2b-256 MAC over
// the envelope's identity and payload fields, keyed on the configured
// sessionKey, so the backend can reject a request carrying a sessionKey it
// never recognizes without having to trust the transport alone.
func sign(sessionKey string, env envelope) string {
	mac, err := blake2b.New256([]byte(sessionKey))
	if err != nil {
		return ""
	}
	mac.Write([]byte(env.ContextID))
	mac.Write([]byte(env.SessionID))
	mac.Write([]byte(env.SignalType))
	mac.Write([]byte(env.SignalData))
	return hex.EncodeToString(mac.Sum(nil))
}

// ShipReport sends a combined or fingerprint-only report. Any error is
// logged at debug level and swallowed. An empty sessionKey suppresses the
// send entirely rather than shipping an unvalidatable report.
func (c *Client) ShipReport(ctx context.Context, report types.Report, signalType types.SignalType, sessionKey, contextID string) {
	if sessionKey == "" {
		c.log.Debug("transport: report suppressed, no sessionKey configured")
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		c.log.Debug("transport: marshal report failed", zap.Error(err))
		return
	}
	env := envelope{
		SessKey:    sessionKey,
		ContextID:  contextID,
		SessionID:  report.SessionID,
		SignalType: signalType,
		SignalData: string(data),
	}
	env.Signature = sign(sessionKey, env)
	payload, err := json.Marshal(env)
	if err != nil {
		c.log.Debug("transport: marshal envelope failed", zap.Error(err))
		return
	}
	if _, err := c.send(ctx, payload); err != nil {
		failure := &xerrors.TransportFailure{Endpoint: c.cfg.ReportURL, Cause: err}
		c.log.Debug("transport: ship report failed", zap.Error(failure))
		if c.metrics != nil {
			c.metrics.TransportFailuresTotal.Inc()
		}
		return
	}
	if c.metrics != nil {
		c.metrics.ReportsShippedTotal.WithLabelValues(string(signalType)).Inc()
	}
}

// ShipUnloadBeacon posts a minimal unload payload to the beacon URL,
// best-effort, with no retry (there is no time left for one on unload).
func (c *Client) ShipUnloadBeacon(ctx context.Context, sessionID, sessionKey, contextID string) {
	if c.cfg.BeaconURL == "" || sessionKey == "" {
		return
	}
	env := envelope{
		SessKey:    sessionKey,
		ContextID:  contextID,
		SessionID:  sessionID,
		SignalType: types.SignalUnload,
		SignalData: "{}",
	}
	env.Signature = sign(sessionKey, env)
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BeaconURL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Report-ID", c.reportID())
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("transport: beacon failed", zap.Error(&xerrors.TransportFailure{Endpoint: c.cfg.BeaconURL, Cause: err}))
		return
	}
	resp.Body.Close()
}
