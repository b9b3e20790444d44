package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
)

// Pool manages headless Chrome processes and hands out tabs. Chrome binds
// its upstream proxy at launch, so instances are keyed by proxy ID and a
// page request for a proxy lands on a browser already routed through it.
// Browsers are recycled once they exceed the configured age or page count.
type Pool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	instances map[string][]*instance

	cfg    config.BrowserConfig
	clock  ports.Clock
	logger *logger.StyledLogger

	// launch is swapped out in tests so bookkeeping can be exercised
	// without a Chrome binary
	launch launchFunc
	newTab tabFunc

	browserSeq atomic.Uint64
	closed     bool
}

type launchFunc func(parent context.Context, cfg config.BrowserConfig, proxy *domain.Proxy) (context.Context, context.CancelFunc)

type tabFunc func(browserCtx context.Context) (context.Context, context.CancelFunc)

// instance is one Chrome process. activePages counts tabs currently
// handed out; pagesServed counts tabs over the browser's lifetime and
// drives the reset policy.
type instance struct {
	id            string
	proxyID       string
	browserCtx    context.Context
	browserCancel context.CancelFunc
	createdAt     time.Time
	activePages   int
	pagesServed   int
}

func NewPool(cfg config.BrowserConfig, clock ports.Clock, log *logger.StyledLogger) *Pool {
	p := &Pool{
		instances: make(map[string][]*instance),
		cfg:       cfg,
		clock:     clock,
		logger:    log,
		launch:    launchChrome,
		newTab:    newChromeTab,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// launchChrome starts a Chrome process via an exec allocator, with the
// proxy bound at the process level
func launchChrome(parent context.Context, cfg config.BrowserConfig, proxy *domain.Proxy) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.WindowSize(1280, 1024),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if proxy != nil {
		proxyURL := proxy.URL()
		// Credentials can't ride on the launch flag; the fetcher answers
		// the auth challenge over CDP instead
		proxyURL.User = nil
		opts = append(opts,
			chromedp.ProxyServer(proxyURL.String()),
			chromedp.Flag("proxy-bypass-list", "<-loopback>"),
		)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cancel := func() {
		browserCancel()
		allocCancel()
	}
	return browserCtx, cancel
}

func newChromeTab(browserCtx context.Context) (context.Context, context.CancelFunc) {
	return chromedp.NewContext(browserCtx)
}

func proxyKey(proxy *domain.Proxy) string {
	if proxy == nil {
		return ""
	}
	return proxy.ID
}

// AcquirePage hands out a tab on a browser routed through the given
// proxy (nil for a direct connection), launching or recycling browsers
// as needed. Blocks while every browser slot is busy until a page is
// released or ctx is cancelled.
func (p *Pool) AcquirePage(ctx context.Context, proxy *domain.Proxy) (*Page, error) {
	// A cancelled ctx must unblock cond waiters
	waitDone := make(chan struct{})
	defer close(waitDone)
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-waitDone:
		}
	}()

	key := proxyKey(proxy)

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closed {
			return nil, domain.NewInternalError("browser.AcquirePage", context.Canceled)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if inst := p.usableInstanceLocked(key); inst != nil {
			return p.openPageLocked(inst)
		}

		if p.totalBrowsersLocked() < p.cfg.MaxBrowsers {
			inst := p.launchLocked(key, proxy)
			return p.openPageLocked(inst)
		}

		// At capacity: evict an idle browser bound to another proxy
		if victim := p.idleInstanceLocked(key); victim != nil {
			p.destroyLocked(victim)
			inst := p.launchLocked(key, proxy)
			return p.openPageLocked(inst)
		}

		p.cond.Wait()
	}
}

// usableInstanceLocked finds a browser on the right proxy with a free
// page slot that isn't due for recycling
func (p *Pool) usableInstanceLocked(key string) *instance {
	now := p.clock.Now()
	// Snapshot: destroyLocked edits the live slice
	insts := append([]*instance(nil), p.instances[key]...)
	for _, inst := range insts {
		if inst.activePages >= p.cfg.MaxPagesPerBrowser {
			continue
		}
		if p.needsRecycle(inst, now) {
			if inst.activePages == 0 {
				p.destroyLocked(inst)
			}
			continue
		}
		return inst
	}
	return nil
}

// idleInstanceLocked finds a browser with no pages out, bound to a
// different proxy, that can be torn down to free a slot
func (p *Pool) idleInstanceLocked(key string) *instance {
	for k, insts := range p.instances {
		if k == key {
			continue
		}
		for _, inst := range insts {
			if inst.activePages == 0 {
				return inst
			}
		}
	}
	return nil
}

func (p *Pool) needsRecycle(inst *instance, now time.Time) bool {
	if p.cfg.MaxBrowserAge > 0 && now.Sub(inst.createdAt) > p.cfg.MaxBrowserAge {
		return true
	}
	if p.cfg.BrowserResetCount > 0 && inst.pagesServed >= p.cfg.BrowserResetCount {
		return true
	}
	return false
}

func (p *Pool) launchLocked(key string, proxy *domain.Proxy) *instance {
	browserCtx, cancel := p.launch(context.Background(), p.cfg, proxy)

	inst := &instance{
		id:            fmt.Sprintf("browser-%d", p.browserSeq.Add(1)),
		proxyID:       key,
		browserCtx:    browserCtx,
		browserCancel: cancel,
		createdAt:     p.clock.Now(),
	}
	p.instances[key] = append(p.instances[key], inst)

	if key == "" {
		p.logger.Info("Browser launched", "browser", inst.id, "proxy", "direct")
	} else {
		p.logger.InfoWithProxy("Browser launched", key, "browser", inst.id)
	}
	return inst
}

func (p *Pool) openPageLocked(inst *instance) (*Page, error) {
	tabCtx, tabCancel := p.newTab(inst.browserCtx)

	inst.activePages++
	inst.pagesServed++

	return &Page{
		Ctx:       tabCtx,
		tabCancel: tabCancel,
		pool:      p,
		inst:      inst,
	}, nil
}

func (p *Pool) destroyLocked(inst *instance) {
	insts := p.instances[inst.proxyID]
	for i, candidate := range insts {
		if candidate == inst {
			p.instances[inst.proxyID] = append(insts[:i], insts[i+1:]...)
			break
		}
	}
	if len(p.instances[inst.proxyID]) == 0 {
		delete(p.instances, inst.proxyID)
	}
	inst.browserCancel()
	p.logger.Debug("Browser destroyed", "browser", inst.id, "pages_served", inst.pagesServed)
}

func (p *Pool) totalBrowsersLocked() int {
	total := 0
	for _, insts := range p.instances {
		total += len(insts)
	}
	return total
}

// release returns a page's slot and retires the browser when its reset
// policy says so and no other pages are out on it
func (p *Pool) release(pg *Page) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pg.inst.activePages--
	if pg.inst.activePages == 0 && (p.closed || p.needsRecycle(pg.inst, p.clock.Now())) {
		p.destroyLocked(pg.inst)
	}
	p.cond.Broadcast()
}

// Stop tears down every browser. Pages still out are closed by their
// holders; the last release destroys the browser.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	var idle []*instance
	for _, insts := range p.instances {
		for _, inst := range insts {
			if inst.activePages == 0 {
				idle = append(idle, inst)
			}
		}
	}
	for _, inst := range idle {
		p.destroyLocked(inst)
	}
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

// Status summarises the pool for the status endpoint
func (p *Pool) Status() ports.BrowserStatusSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := ports.BrowserStatusSnapshot{
		Running: p.totalBrowsersLocked(),
		Max:     p.cfg.MaxBrowsers,
	}
	for _, insts := range p.instances {
		for _, inst := range insts {
			snapshot.Pages += inst.activePages
		}
	}
	return snapshot
}
