// Command agentdetectd is the Detection Engine's standalone operator
// binary: it attaches to (or launches) a Chrome tab over CDP, installs the
// probe, runs the Orchestrator on a periodic schedule, and exposes a small
// JSON admin surface for health and the last computed report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lumenwatch/agentdetect/attach"
	"github.com/lumenwatch/agentdetect/config"
	"github.com/lumenwatch/agentdetect/fingerprint"
	"github.com/lumenwatch/agentdetect/netsafe"
	"github.com/lumenwatch/agentdetect/orchestrator"
	"github.com/lumenwatch/agentdetect/probe"
	"github.com/lumenwatch/agentdetect/shield"
	"github.com/lumenwatch/agentdetect/store"
	"github.com/lumenwatch/agentdetect/telemetry"
	"github.com/lumenwatch/agentdetect/transport"
	"github.com/lumenwatch/agentdetect/types"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML configuration file")
		remoteURL  = flag.String("remote-url", "", "DevTools websocket URL of an already-running Chrome (non-intrusive attach); empty launches a managed instance")
		pageURL    = flag.String("page-url", "about:blank", "page to navigate to when launching a managed Chrome instance")
		contextID  = flag.String("context-id", "default", "stable identifier scoping tab-persistent storage keys")
		dbPath     = flag.String("db", "", "path to a SQLite file backing the tab store; empty uses an in-memory store")
		addr       = flag.String("addr", "127.0.0.1:8089", "address for the admin/debug HTTP surface")
		debug      = flag.Bool("debug", false, "enable debug-level diagnostic logging")
	)
	flag.Parse()

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "agentdetectd: load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg = config.Merge(cfg, config.Options{
		ContextID: *contextID,
		RemoteURL: *remoteURL,
		Debug:     debug,
	})
	if !cfg.Enabled {
		fmt.Fprintln(os.Stderr, "agentdetectd: engine disabled in configuration, exiting")
		return
	}

	log := telemetry.New(cfg.Debug)
	defer log.Sync()
	zlog := zap.NewNop()
	if cfg.Debug {
		zlog, _ = zap.NewDevelopment()
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics("agentdetect", registry)

	var tabStore store.Store
	var sqliteStore *store.SQLite
	if *dbPath != "" {
		s, err := store.OpenSQLite(*dbPath, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "agentdetectd: open store: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()
		tabStore = s
		sqliteStore = s
	} else {
		tabStore = store.NewMemory()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := attach.ModeManaged
	if cfg.Attach.RemoteURL != "" {
		mode = attach.ModeRemote
	}
	manager := attach.NewManager(attach.Config{
		Mode:      mode,
		RemoteURL: cfg.Attach.RemoteURL,
		Stealth:   cfg.Attach.Stealth != "off",
		Log:       zlog,
	})
	browser, err := manager.Connect(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentdetectd: connect: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	var tab *attach.Tab
	if mode == attach.ModeRemote {
		pages, perr := browser.Pages()
		if perr != nil || len(pages) == 0 {
			fmt.Fprintf(os.Stderr, "agentdetectd: no pages on remote browser: %v\n", perr)
			os.Exit(1)
		}
		tab = attach.AdoptTab(pages[0], *contextID, zlog)
	} else {
		tab, err = manager.OpenTab(ctx, *pageURL, *contextID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "agentdetectd: open tab: %v\n", err)
			os.Exit(1)
		}
	}
	defer tab.Close()

	for _, target := range []string{cfg.Transport.ReportURL, cfg.Transport.BeaconURL} {
		if target == "" {
			continue
		}
		if err := netsafe.ValidateURL(target); err != nil {
			log.Warn("agentdetectd: configured endpoint failed validation", zap.String("url", target), zap.Error(err))
		}
	}

	ship := transport.New(transport.Config{
		ReportURL:  cfg.Transport.ReportURL,
		BeaconURL:  cfg.Transport.BeaconURL,
		Timeout:    cfg.Transport.Timeout,
		MaxRetries: cfg.Transport.MaxRetries,
	}, log, metrics)

	// probeHandle breaks the construction cycle between the Engine (which
	// owns the Recorder/Observer a Prober binds against) and the Prober
	// (which the Engine's Deps need as its Evaluator/ResourceProber): the
	// Engine is built against the handle before the real Prober exists,
	// and handle.set swaps in the real Prober once it does.
	handle := &probeHandle{}
	engine := orchestrator.New(cfg, orchestrator.Deps{
		Eval:   handle,
		Prober: handle,
		Store:  tabStore,
		Page:   pageInfoFunc(tab),
	}, ship, log, metrics)

	prober := probe.New(tab, engine.Recorder(), engine.Observer(), zlog)
	handle.set(prober)
	prober.OnVisibilityHidden(func() { engine.VisibilityHidden(ctx) })
	prober.OnBeforeUnload(func() { engine.HandleBeforeUnload(ctx) })

	stopProbe, err := prober.Install(ctx)
	if err != nil {
		log.Warn("agentdetectd: probe install failed", zap.Error(err))
	} else {
		defer stopProbe()
	}

	engine.Init(ctx)

	adminRouter := buildAdminRouter(sqliteStore, registry, engine.LastReport)
	server := &http.Server{Addr: *addr, Handler: adminRouter}
	go func() {
		log.Info("agentdetectd: admin surface listening", zap.String("addr", *addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("agentdetectd: admin server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("agentdetectd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	engine.Shutdown(shutdownCtx)
	server.Shutdown(shutdownCtx)
}

// pageInfoFunc adapts a live Tab into the orchestrator's PageInfo hook.
func pageInfoFunc(tab *attach.Tab) orchestrator.PageInfo {
	return func() (string, string) {
		info, err := tab.Page.Info()
		if err != nil {
			return "", ""
		}
		return info.URL, info.Title
	}
}

// probeHandle is a mutable indirection satisfying fingerprint.Evaluator and
// fingerprint.ResourceProber, installed into the Engine's Deps before the
// real *probe.Prober exists. Safe for concurrent use: set runs once during
// startup, before Init's first collection can race it.
type probeHandle struct {
	mu sync.RWMutex
	p  *probe.Prober
}

func (h *probeHandle) set(p *probe.Prober) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.p = p
}

func (h *probeHandle) Eval(ctx context.Context) (fingerprint.ProbeInput, error) {
	h.mu.RLock()
	p := h.p
	h.mu.RUnlock()
	if p == nil {
		return fingerprint.ProbeInput{}, fmt.Errorf("agentdetectd: probe not installed yet")
	}
	return p.Eval(ctx)
}

func (h *probeHandle) ProbeResource(ctx context.Context, url string) (bool, error) {
	h.mu.RLock()
	p := h.p
	h.mu.RUnlock()
	if p == nil {
		return false, fmt.Errorf("agentdetectd: probe not installed yet")
	}
	return p.ProbeResource(ctx, url)
}

func buildAdminRouter(sqliteStore *store.SQLite, reg *prometheus.Registry, lastReport func() types.Report) http.Handler {
	r := chi.NewRouter()
	if sqliteStore != nil {
		if err := shield.Init(sqliteStore.DB()); err != nil {
			slog.Warn("agentdetectd: shield schema init failed", "error", err)
		}
		stack, rl := shield.DefaultStack(sqliteStore.DB())
		rl.StartReloader(nil)
		for _, mw := range stack {
			r.Use(mw)
		}
	} else {
		r.Use(shield.HeadToGet)
		r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
		r.Use(shield.TraceID)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Get("/debug/lastreport", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(lastReport())
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
