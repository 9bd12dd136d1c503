// Package attach implements the CDP attachment boundary: connecting to (or
// launching) a Chrome tab via github.com/go-rod/rod, applying a stealth
// profile, and handing back a Tab that the probe package can inject into.
// Raw CDP node handles never escape this package; everything above it only
// ever sees the typed records the probe script produces.
package attach

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// Mode selects how the Manager obtains a *rod.Browser.
type Mode int

const (
	// ModeRemote connects to an already-running Chrome instance over its
	// DevTools WebSocket URL. This is the non-intrusive path: the engine
	// attaches to a tab the host page already opened.
	ModeRemote Mode = iota
	// ModeManaged launches a local headless Chrome via rod/launcher. Used
	// by cmd/agentdetectd for standalone operation outside a host page.
	ModeManaged
)

// Config configures the attachment Manager.
type Config struct {
	// Mode selects remote-attach vs managed-launch.
	Mode Mode
	// RemoteURL is the DevTools WebSocket URL to attach to. Required when
	// Mode is ModeRemote.
	RemoteURL string
	// Stealth enables github.com/go-rod/stealth page construction, masking
	// the common automation fingerprints (navigator.webdriver, missing
	// chrome object, permission query quirks) before any probe runs.
	Stealth bool
	// NavigateTimeout bounds the initial Navigate+WaitLoad call.
	NavigateTimeout time.Duration

	Log *zap.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
}

// Manager owns the lifecycle of one *rod.Browser connection.
type Manager struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewManager creates an attachment Manager. Call Connect to obtain the
// browser handle.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Connect attaches to (ModeRemote) or launches (ModeManaged) Chrome.
func (m *Manager) Connect(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Log

	var wsURL string
	switch m.cfg.Mode {
	case ModeRemote:
		if m.cfg.RemoteURL == "" {
			return nil, fmt.Errorf("attach: remote mode requires RemoteURL")
		}
		wsURL = m.cfg.RemoteURL
		log.Info("attach: connecting to remote tab", zap.String("url", wsURL))
	case ModeManaged:
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("attach: launch chrome: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("attach: launched managed chrome", zap.String("url", wsURL))
	default:
		return nil, fmt.Errorf("attach: unknown mode %d", m.cfg.Mode)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("attach: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("attach: ignore cert errors failed", zap.Error(err))
	}
	m.browser = b
	return b, nil
}

// Close releases the browser connection and, for ModeManaged, kills the
// launched Chrome process.
func (m *Manager) Close() error {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return nil
}

// Tab wraps a single monitored page: the rod.Page plus the stable context
// identifier used for cross-page snapshot persistence.
type Tab struct {
	Page      *rod.Page
	ContextID string
	stealth   bool
	timeout   time.Duration
	log       *zap.Logger
}

// OpenTab creates (or adopts) a page for pageURL and navigates to it. The
// ContextID should be stable across reloads of the same logical page so
// snapshot restore stays scoped to one browsing context.
func (m *Manager) OpenTab(ctx context.Context, pageURL, contextID string) (*Tab, error) {
	if m.browser == nil {
		return nil, fmt.Errorf("attach: manager not connected")
	}

	var page *rod.Page
	var err error
	if m.cfg.Stealth {
		page, err = stealth.Page(m.browser)
	} else {
		page, err = m.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("attach: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("attach: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Log.Warn("attach: wait load timeout", zap.String("url", pageURL), zap.Error(err))
	}

	return &Tab{
		Page:      page,
		ContextID: contextID,
		stealth:   m.cfg.Stealth,
		timeout:   m.cfg.NavigateTimeout,
		log:       m.cfg.Log,
	}, nil
}

// AdoptTab wraps an already-open page (e.g. the first tab of a remote
// attach) without navigating it, used when the engine attaches mid-session
// to a page the host already loaded.
func AdoptTab(page *rod.Page, contextID string, log *zap.Logger) *Tab {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tab{Page: page, ContextID: contextID, log: log}
}

// EnableDOMTracking forces DOM.getDocument with full depth so later
// mutation events are never silently dropped on deep nodes.
func (t *Tab) EnableDOMTracking(ctx context.Context) error {
	depth := -1
	_, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(t.Page)
	if err != nil {
		return fmt.Errorf("attach: DOM.getDocument: %w", err)
	}
	return nil
}

// Close closes the underlying page.
func (t *Tab) Close() error {
	if t.Page == nil {
		return nil
	}
	return t.Page.Close()
}
