// Package orchestrator composes the Event Recorder, Fingerprint Collector,
// Injection Observer and Analyzer into the Engine: the top-level handle
// that owns session identity and configuration, schedules periodic
// reports, hooks visibility/unload, and ships the combined report. The
// periodic scheduler is a rate-limited report ticker rather than a bare
// time.Ticker, so visibility-triggered bursts cannot starve the cadence.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lumenwatch/agentdetect/analyzer"
	"github.com/lumenwatch/agentdetect/config"
	"github.com/lumenwatch/agentdetect/fingerprint"
	"github.com/lumenwatch/agentdetect/injection"
	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/session"
	"github.com/lumenwatch/agentdetect/store"
	"github.com/lumenwatch/agentdetect/telemetry"
	"github.com/lumenwatch/agentdetect/transport"
	"github.com/lumenwatch/agentdetect/types"
	"github.com/lumenwatch/agentdetect/xerrors"
)

// PageInfo supplies the two page-identity fields every report carries.
// Reading them is a property of the attached tab, which this package has
// no direct knowledge of (scenario tests feed a static PageInfo; a real
// attachment feeds one backed by rod.Page.Info).
type PageInfo func() (url, title string)

// Deps bundles the environment-specific dependencies Init needs: the
// fingerprint round trip, the extension resource race, the tab-persistent
// store, and the current page identity. Everything else (Recorder,
// Observer, Analyzer) is owned by the Engine itself, which is what keeps
// it testable under a simulated store and a synthetic Evaluator.
type Deps struct {
	Eval   fingerprint.Evaluator
	Prober fingerprint.ResourceProber
	Store  store.Store
	Page   PageInfo
}

func (d Deps) pageInfo() (string, string) {
	if d.Page == nil {
		return "", ""
	}
	return d.Page()
}

// Engine is the detection engine's top-level handle.
type Engine struct {
	mu sync.Mutex

	cfg  config.Config
	deps Deps

	rec  *recorder.Recorder
	inj  *injection.Observer
	ana  *analyzer.Analyzer
	ship *transport.Client

	log     *telemetry.Logger
	metrics *telemetry.Metrics

	sess        session.Session
	initialized bool

	reportLimiter *rate.Limiter
	stopPeriodic  func()
	lastReport    types.Report
}

// New constructs an Engine. cfg should already be the merged configuration
// (config.Merge over config.Defaults()); ship may be nil, in which case
// reports are computed but never transmitted (used by tests that only
// assert on the returned Report).
func New(cfg config.Config, deps Deps, ship *transport.Client, log *telemetry.Logger, metrics *telemetry.Metrics) *Engine {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Engine{
		cfg:  cfg,
		deps: deps,
		rec:  recorder.New(),
		inj:  injection.New(),
		ana:  analyzer.New(),
		ship: ship,
		log:  log,
		metrics: metrics,
	}
}

// Init is idempotent and a no-op if the engine is disabled; otherwise it restores-or-creates the session,
// starts the Recorder and Observer, runs a first Fingerprint collection,
// emits an immediate fingerprint-only report if its score clears
// minReportScore, and starts the periodic scheduler.
func (e *Engine) Init(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return
	}
	if !e.cfg.Enabled {
		return
	}
	if e.cfg.SessionKey == "" {
		omission := &xerrors.ConfigurationOmission{Field: "sessionKey"}
		e.log.Warn("orchestrator: " + omission.Error())
	}
	e.initialized = true

	now := time.Now()
	e.sess = session.RestoreOrCreate(e.deps.Store, now)
	e.rec.StartMonitoring(e.cfg.ContextID, e.deps.Store)
	e.inj.StartMonitoring()

	fp, err := fingerprint.Collect(ctx, e.deps.Eval, e.deps.Prober, e.deps.Store)
	if err != nil {
		e.log.Debug("orchestrator: initial fingerprint collect failed", zap.Error(&xerrors.ProbeFailure{Probe: "fingerprint", Cause: err}))
	} else if fp.Score >= e.cfg.MinReportScore {
		e.shipFingerprintOnlyLocked(ctx, fp, now)
	}

	interval := e.cfg.ReportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	e.reportLimiter = rate.NewLimiter(rate.Every(interval), 1)
	e.startPeriodicLocked(ctx, interval)
}

// startPeriodicLocked starts the background ticker driving CollectAndReport
// at reportInterval. The limiter (shared with VisibilityHidden) guarantees
// a visibility-triggered report and the next tick can never double-fire
// inside the same interval.
func (e *Engine) startPeriodicLocked(ctx context.Context, interval time.Duration) {
	tickerCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-tickerCtx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				if e.reportLimiter.Allow() {
					e.CollectAndReport(tickerCtx)
				}
			}
		}
	}()

	e.stopPeriodic = func() {
		cancel()
		<-done
	}
}

// CollectAndReport runs a fresh Fingerprint collect, an Analyzer analyze
// and an Injection analyze; extracts
// the agent signals; composes the combined score and verdict; ships a
// `combined` report iff the combined score clears minReportScore.
func (e *Engine) CollectAndReport(ctx context.Context) types.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collectAndReportLocked(ctx, time.Now())
}

// RunAnalysis is the external-trigger alias for CollectAndReport.
func (e *Engine) RunAnalysis(ctx context.Context) types.Report {
	return e.CollectAndReport(ctx)
}

// VisibilityHidden implements the `visibilitychange` hook: when the page
// becomes hidden, run one collect-and-report pass, gated by the same
// limiter as the periodic ticker so a flurry of tab-switches cannot starve
// the regular cadence.
func (e *Engine) VisibilityHidden(ctx context.Context) {
	e.mu.Lock()
	limiter := e.reportLimiter
	e.mu.Unlock()
	if limiter == nil || !limiter.Allow() {
		return
	}
	e.CollectAndReport(ctx)
}

// HandleBeforeUnload runs the page-unload path in isolation from
// Shutdown: (a) force Event Recorder saveSnapshot() past
// the normal 2-second rate limit, and (b) if a sessionKey is configured,
// post the minimal unload payload via the best-effort beacon transport.
// It deliberately does not stop the timer or the Recorder/Observer: the
// page's own teardown does that implicitly, and a host embedding the
// engine outside a browser page (cmd/agentdetectd's own shutdown path)
// still wants the timer stopped explicitly via Shutdown.
func (e *Engine) HandleBeforeUnload(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return
	}
	e.rec.SaveSnapshot(e.deps.Store, true)
	if e.ship != nil && e.cfg.SessionKey != "" {
		e.ship.ShipUnloadBeacon(ctx, e.sess.ID, e.cfg.SessionKey, e.cfg.ContextID)
	}
}

// Shutdown stops the timer, stops the Recorder and Observer, and marks
// the Engine uninitialized. Like the unload hook, it first force-saves a snapshot and, if a
// sessionKey is configured, posts the unload beacon.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return
	}

	e.rec.SaveSnapshot(e.deps.Store, true)
	if e.ship != nil && e.cfg.SessionKey != "" {
		e.ship.ShipUnloadBeacon(ctx, e.sess.ID, e.cfg.SessionKey, e.cfg.ContextID)
	}

	if e.stopPeriodic != nil {
		e.stopPeriodic()
		e.stopPeriodic = nil
	}
	e.rec.StopMonitoring()
	e.inj.StopMonitoring()
	e.initialized = false
}

func (e *Engine) collectAndReportLocked(ctx context.Context, now time.Time) types.Report {
	fp, err := fingerprint.Collect(ctx, e.deps.Eval, e.deps.Prober, e.deps.Store)
	if err != nil {
		e.log.Debug("orchestrator: fingerprint collect failed", zap.Error(&xerrors.ProbeFailure{Probe: "fingerprint", Cause: err}))
	}

	interaction := e.ana.Analyze(e.rec, now, e.sess.StartTime, e.sess.PageLoadCount)
	injGroup := e.inj.Analyze()

	agentSignals := analyzer.ExtractAgentSignals(e.rec.RawState(), interaction, fp, injGroup)
	agent := analyzer.AgentGroup(agentSignals)

	combined, verdict := Compose(interaction.Score, injGroup.Score, fp.Score, agent.Score)

	var detectedAgent string
	if agent.Detected {
		detectedAgent = "comet_agentic"
	}

	pageURL, pageTitle := e.deps.pageInfo()
	report := types.Report{
		SessionID:     e.sess.ID,
		Timestamp:     now,
		PageURL:       pageURL,
		PageTitle:     pageTitle,
		Fingerprint:   fp,
		Interaction:   interaction,
		Injection:     injGroup,
		Comet:         agent,
		CombinedScore: combined,
		Verdict:       verdict,
		DetectedAgent: detectedAgent,
	}

	e.recordMetrics(agentSignals, verdict)
	e.lastReport = report

	if combined >= e.cfg.MinReportScore {
		if e.ship != nil {
			e.ship.ShipReport(ctx, report, types.SignalCombined, e.cfg.SessionKey, e.cfg.ContextID)
		}
	} else if e.metrics != nil {
		e.metrics.ReportsSuppressedTotal.Inc()
	}

	return report
}

func (e *Engine) shipFingerprintOnlyLocked(ctx context.Context, fp types.Fingerprint, now time.Time) {
	if e.ship == nil {
		return
	}
	pageURL, pageTitle := e.deps.pageInfo()
	report := types.Report{
		SessionID:     e.sess.ID,
		Timestamp:     now,
		PageURL:       pageURL,
		PageTitle:     pageTitle,
		Fingerprint:   fp,
		CombinedScore: fp.Score,
		Verdict:       verdictFor(fp.Score),
	}
	e.ship.ShipReport(ctx, report, types.SignalFingerprint, e.cfg.SessionKey, e.cfg.ContextID)
}

func (e *Engine) recordMetrics(agentSignals []types.AnomalySignal, verdict types.Verdict) {
	if e.metrics == nil {
		return
	}
	if len(agentSignals) > 0 {
		e.metrics.SignalsEmittedTotal.WithLabelValues("comet").Add(float64(len(agentSignals)))
	}
	if verdict == types.VerdictHighConfidenceAgent {
		e.metrics.AgentDetectionsTotal.Inc()
	}
}

// LastReport returns the most recent report computed by any collection
// path, zero-valued before the first one completes.
func (e *Engine) LastReport() types.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

// Recorder exposes the underlying Recorder so a probe binding can forward
// raw DOM/input events into it.
func (e *Engine) Recorder() *recorder.Recorder { return e.rec }

// Observer exposes the underlying injection Observer for the same reason.
func (e *Engine) Observer() *injection.Observer { return e.inj }
