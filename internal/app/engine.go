// Package app wires the tracking engine together: storage selected by
// configuration, proxy and browser pools, fetcher, registry, scheduler,
// alert engine, telemetry and the control-plane HTTP server.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/thushan/perch/internal/adapter/alert"
	"github.com/thushan/perch/internal/adapter/browser"
	"github.com/thushan/perch/internal/adapter/fetcher"
	"github.com/thushan/perch/internal/adapter/metrics"
	"github.com/thushan/perch/internal/adapter/proxy"
	"github.com/thushan/perch/internal/adapter/registry"
	"github.com/thushan/perch/internal/adapter/scheduler"
	"github.com/thushan/perch/internal/adapter/store/sqlite"
	"github.com/thushan/perch/internal/adapter/telemetry"
	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
	"github.com/thushan/perch/pkg/eventbus"
	"github.com/thushan/perch/pkg/nerdstats"
)

// Engine owns every component's lifecycle. Initialize builds and
// hydrates, Start brings pools and workers up, Stop tears down in
// reverse order and persists proxy state.
type Engine struct {
	mu  sync.Mutex
	cfg *config.Config

	logger    *logger.StyledLogger
	clock     ports.Clock
	startTime time.Time

	bus      *eventbus.EventBus[domain.AccountChange]
	db       *sqlite.Store
	registry *registry.Registry
	samples  ports.SampleStore
	redis    *metrics.RedisStore
	analyzer *metrics.Analyzer
	proxies  *proxy.Pool
	browsers *browser.Pool
	fetcher  *fetcher.Fetcher
	alerts   *alert.Engine
	sched    *scheduler.Scheduler
	tel      *telemetry.Telemetry
	server   *Server

	proxyWatchStop func()

	// requestShutdown asks the process to exit; wired by main so the
	// control plane's stop verb shares the signal-handler path
	requestShutdown func()

	initialized bool
	running     bool
	paused      bool
}

func New(cfg *config.Config, log *logger.StyledLogger, startTime time.Time) *Engine {
	return &Engine{
		cfg:       cfg,
		logger:    log,
		clock:     ports.SystemClock{},
		startTime: startTime,
	}
}

// OnShutdownRequest registers the callback invoked when the control
// plane asks the engine to stop
func (e *Engine) OnShutdownRequest(fn func()) {
	e.mu.Lock()
	e.requestShutdown = fn
	e.mu.Unlock()
}

// Initialize builds and hydrates every component. Idempotent: a second
// call is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	e.bus = eventbus.New[domain.AccountChange]()

	if err := e.buildStorage(ctx); err != nil {
		return err
	}

	random := ports.NewSystemRandom()
	e.proxies = proxy.NewPool(e.cfg.Proxies, e.clock, random, e.logger)
	if err := e.loadProxies(); err != nil {
		return err
	}

	e.browsers = browser.NewPool(e.cfg.Browser, e.clock, e.logger)
	e.fetcher = fetcher.New(e.cfg.Fetcher, e.cfg.Browser, e.browsers, e.proxies, e.clock, e.logger)

	e.tel = telemetry.New(telemetry.Snapshots{
		Scheduler: func() ports.SchedulerStatus { return e.sched.Status() },
		Proxies:   e.proxies.Status,
		Browsers:  e.browsers.Status,
		Accounts:  e.registry.Count,
	}, e.logger)

	channels := alert.NewChannels(
		alert.NewLogEmailSink(e.logger),
		alert.NewHTTPWebhookSink(alert.WebhookTimeout(e.cfg.Alerts)),
		e.logger)
	var alertStore ports.AlertStore
	if e.db != nil {
		alertStore = e.db
	}
	e.alerts = alert.New(e.cfg.Alerts, alertStore, channels, e.clock, e.logger)
	if err := e.alerts.Load(ctx); err != nil {
		return fmt.Errorf("failed to load alert rules: %w", err)
	}

	e.sched = scheduler.New(e.cfg.Scheduler, e.cfg.Engine.MaxWorkers,
		e.registry,
		&instrumentedFetcher{inner: e.fetcher, tel: e.tel},
		&instrumentedSamples{inner: e.samples, tel: e.tel},
		&instrumentedAlerts{inner: e.alerts, tel: e.tel},
		e.bus, e.clock, random, e.logger)

	e.server = NewServer(e.cfg.Server, e, e.logger)

	e.initialized = true
	e.logger.Info("Engine initialised",
		"accounts", e.registry.Count(),
		"account_storage", e.cfg.Storage.Accounts.Type,
		"sample_storage", e.cfg.Storage.Samples.Type,
		"max_workers", e.cfg.Engine.MaxWorkers)
	return nil
}

func (e *Engine) buildStorage(ctx context.Context) error {
	var accountStore ports.AccountStore
	if e.cfg.Storage.Accounts.Type == "sqlite" {
		db, err := sqlite.Open(e.cfg.Storage.Accounts.Path)
		if err != nil {
			return fmt.Errorf("failed to open account storage: %w", err)
		}
		e.db = db
		accountStore = db
	}

	e.registry = registry.New(accountStore, e.bus, e.clock, e.logger)
	if err := e.registry.Load(ctx); err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	switch e.cfg.Storage.Samples.Type {
	case "redis":
		redisStore := metrics.NewRedisStore(e.cfg.Storage.Samples.RedisAddr, e.cfg.Storage.Samples.RedisDB)
		if err := redisStore.Ping(ctx); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", e.cfg.Storage.Samples.RedisAddr, err)
		}
		e.redis = redisStore
		e.samples = redisStore
	default:
		e.samples = metrics.NewStore()
	}
	e.analyzer = metrics.NewAnalyzer(e.samples)
	return nil
}

func (e *Engine) loadProxies() error {
	path := e.cfg.Proxies.File
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); err == nil {
		loaded, err := e.proxies.LoadFile(path)
		if err != nil {
			return fmt.Errorf("failed to load proxy file %s: %w", path, err)
		}
		e.logger.InfoWithCount("Proxies loaded", loaded, "file", path)
	}

	if e.cfg.Proxies.WatchFile {
		stop, err := e.proxies.WatchFile(path)
		if err != nil {
			e.logger.Warn("Proxy file watch unavailable", "file", path, "error", err)
			return nil
		}
		e.proxyWatchStop = stop
	}
	return nil
}

// Start brings pools, workers and listeners up. Requires Initialize.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return domain.NewInternalError("engine", fmt.Errorf("start before initialize"))
	}
	if e.running {
		return nil
	}

	if err := e.proxies.Start(ctx); err != nil {
		return fmt.Errorf("failed to start proxy pool: %w", err)
	}
	if err := e.sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := e.sched.ScheduleAll(ctx); err != nil {
		e.logger.Warn("Initial scheduling incomplete", "error", err)
	}
	if err := e.tel.Start(e.cfg.Telemetry.Metrics); err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	if err := e.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	e.running = true
	e.paused = false
	e.logger.Info("Engine started", "accounts", e.registry.Count())
	return nil
}

// Stop tears components down in reverse order: control plane first so
// no new work arrives, then scheduler (drains workers), browsers (all
// pages closed), and finally the proxy pool after persisting its state.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, e.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.server.Stop(shutdownCtx); err != nil {
		e.logger.Warn("Control plane shutdown error", "error", err)
	}
	if err := e.tel.Stop(shutdownCtx); err != nil {
		e.logger.Warn("Telemetry shutdown error", "error", err)
	}
	if err := e.sched.Stop(shutdownCtx); err != nil {
		e.logger.Warn("Scheduler shutdown error", "error", err)
	}
	if err := e.browsers.Stop(shutdownCtx); err != nil {
		e.logger.Warn("Browser pool shutdown error", "error", err)
	}

	if e.proxyWatchStop != nil {
		e.proxyWatchStop()
		e.proxyWatchStop = nil
	}
	if e.cfg.Proxies.File != "" {
		if err := e.proxies.SaveFile(e.cfg.Proxies.File); err != nil {
			e.logger.Warn("Proxy state persist failed", "file", e.cfg.Proxies.File, "error", err)
		}
	}
	if err := e.proxies.Stop(shutdownCtx); err != nil {
		e.logger.Warn("Proxy pool shutdown error", "error", err)
	}

	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Warn("Redis close error", "error", err)
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Warn("Database close error", "error", err)
		}
	}
	e.bus.Shutdown()

	e.running = false
	e.logger.Info("Engine stopped")
	return nil
}

// Pause stops new dispatches; in-flight fetches finish normally
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.paused {
		return
	}
	e.sched.Pause()
	e.paused = true
	e.logger.Info("Engine paused")
}

func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || !e.paused {
		return
	}
	e.sched.Resume()
	e.paused = false
	e.logger.Info("Engine resumed")
}

// ScrapeNow requests an immediate scrape for one account
func (e *Engine) ScrapeNow(ctx context.Context, accountID string) (ports.PrioritizeOutcome, error) {
	return e.sched.Prioritize(ctx, accountID)
}

// Analyzer exposes grouped sample analysis to the control plane
func (e *Engine) Analyzer() *metrics.Analyzer { return e.analyzer }

// EngineStatus is the point-in-time snapshot served by GET /status
type EngineStatus struct {
	Initialized bool                      `json:"initialized"`
	Running     bool                      `json:"running"`
	Paused      bool                      `json:"paused"`
	Accounts    int                       `json:"accounts"`
	Scheduler   SchedulerStatusView       `json:"scheduler"`
	Browsers    BrowserStatusView         `json:"browsers"`
	Proxies     ports.ProxyStatusSnapshot `json:"proxies"`
	Uptime      string                    `json:"uptime,omitempty"`
	NerdStats   *nerdstats.NerdStats      `json:"nerdstats,omitempty"`
}

type SchedulerStatusView struct {
	QueueSize int      `json:"queueSize"`
	Running   []string `json:"running"`
	Scheduled int      `json:"scheduled"`
	Workers   int      `json:"workers"`
	Paused    bool     `json:"paused"`
}

type BrowserStatusView struct {
	Running int `json:"running"`
	Max     int `json:"max"`
	Pages   int `json:"pages"`
}

// Status reports the engine snapshot; safe before Initialize
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	initialized, running, paused := e.initialized, e.running, e.paused
	e.mu.Unlock()

	status := EngineStatus{
		Initialized: initialized,
		Running:     running,
		Paused:      paused,
	}
	if !initialized {
		return status
	}

	schedStatus := e.sched.Status()
	if schedStatus.Running == nil {
		schedStatus.Running = []string{}
	}
	browserStatus := e.browsers.Status()

	status.Accounts = e.registry.Count()
	status.Scheduler = SchedulerStatusView{
		QueueSize: schedStatus.QueueSize,
		Running:   schedStatus.Running,
		Scheduled: schedStatus.Scheduled,
		Workers:   schedStatus.Workers,
		Paused:    schedStatus.Paused,
	}
	status.Browsers = BrowserStatusView{
		Running: browserStatus.Running,
		Max:     browserStatus.Max,
		Pages:   browserStatus.Pages,
	}
	status.Proxies = e.proxies.Status()
	status.Uptime = time.Since(e.startTime).Round(time.Second).String()

	if e.cfg.Engineering.ShowNerdStats {
		status.NerdStats = nerdstats.Snapshot(e.startTime)
	}
	return status
}
