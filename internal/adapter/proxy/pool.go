package proxy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
)

// Pool hands out upstream proxies under a rotation and throttling
// discipline: least-used selection, one in-flight request per proxy,
// a randomised inter-request gap, and a cool-down once a proxy exceeds
// its use budget. Health state is maintained by a background checker.
type Pool struct {
	mu         sync.Mutex
	entries    map[string]*entry
	coolTimers map[string]*time.Timer

	cfg     config.ProxyPoolConfig
	clock   ports.Clock
	random  ports.RandomSource
	logger  *logger.StyledLogger
	checker *healthChecker

	inUse   atomic.Int64
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

func NewPool(cfg config.ProxyPoolConfig, clock ports.Clock, random ports.RandomSource, log *logger.StyledLogger) *Pool {
	p := &Pool{
		entries:    make(map[string]*entry),
		coolTimers: make(map[string]*time.Timer),
		cfg:        cfg,
		clock:      clock,
		random:     random,
		logger:     log,
		stopCh:     make(chan struct{}),
	}
	p.checker = newHealthChecker(cfg, clock, log, p.applyHealthResult)
	return p
}

// AddProxy registers a proxy with the pool. Duplicate IDs are rejected.
func (p *Pool) AddProxy(proxy *domain.Proxy) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[proxy.ID]; exists {
		return domain.NewConflictError("proxy", proxy.ID)
	}

	p.entries[proxy.ID] = newEntry(proxy, p.cfg.MinRequestInterval)
	p.logger.InfoWithProxy("Proxy added", proxy.Address(), "protocol", proxy.Protocol)
	return nil
}

// RemoveProxy drops a proxy. An in-flight request on it is left to
// finish; it simply never gets selected again.
func (p *Pool) RemoveProxy(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, exists := p.entries[id]
	if !exists {
		return domain.NewNotFoundError("proxy", id)
	}
	delete(p.entries, id)
	if t, ok := p.coolTimers[id]; ok {
		t.Stop()
		delete(p.coolTimers, id)
	}
	p.logger.InfoWithProxy("Proxy removed", e.proxy.Address())
	return nil
}

// Start launches the periodic health check loop
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	// Initial sweep so selection has health data from the start
	p.checker.CheckAll(ctx, p.snapshotProxies())

	p.wg.Add(1)
	go p.healthLoop(ctx)
	return nil
}

// Stop halts background checking and waits for loops to exit. In-flight
// requests on proxies are not interrupted.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	for id, t := range p.coolTimers {
		t.Stop()
		delete(p.coolTimers, id)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// WithProxy runs fn on a suitable proxy under the pool's throttling
// discipline. The proxy is selected least-used first; the call waits for
// the proxy's single request slot and the pacing gap before invoking fn.
// Errors matching proxy/network signals mark the proxy unhealthy and are
// wrapped as transport errors; other errors propagate untouched.
func (p *Pool) WithProxy(ctx context.Context, fn func(ctx context.Context, proxy *domain.Proxy) error) error {
	e := p.selectEntry()
	if e == nil {
		// Emergency sweep: maybe a cooled or unchecked proxy recovered
		p.checker.CheckAll(ctx, p.snapshotProxies())
		if e = p.selectEntry(); e == nil {
			return domain.ErrNoProxyAvailable
		}
	}

	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	p.inUse.Add(1)
	defer p.inUse.Add(-1)

	if err := e.pace(ctx, p.cfg.MinRequestInterval, p.cfg.MaxRequestInterval, p.random); err != nil {
		return err
	}

	err := fn(ctx, e.proxy.Clone())

	p.recordUse(e, err)

	if err != nil && isProxySignal(err) {
		return domain.NewTransportError(e.proxy.ID, err)
	}
	return err
}

// selectEntry picks the healthy, non-cooling proxy with the lowest
// usage count, breaking ties on least-recently-used
func (p *Pool) selectEntry() *entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	var best *entry
	for _, e := range p.entries {
		if !e.proxy.Healthy || e.proxy.Cooling(now) {
			continue
		}
		if best == nil ||
			e.proxy.UsageCount < best.proxy.UsageCount ||
			(e.proxy.UsageCount == best.proxy.UsageCount && e.proxy.LastUsedAt.Before(best.proxy.LastUsedAt)) {
			best = e
		}
	}
	return best
}

// recordUse updates usage accounting after fn returns and applies the
// cool-down and health policies
func (p *Pool) recordUse(e *entry, fnErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	e.proxy.UsageCount++
	e.proxy.LastUsedAt = now

	if fnErr != nil && isProxySignal(fnErr) {
		e.proxy.Healthy = false
		e.proxy.LastError = fnErr.Error()
		p.logger.InfoProxyStatus("Proxy marked", e.proxy.Address(), domain.ProxyUnhealthy, "error", fnErr.Error())
		p.scheduleRecheckLocked(e.proxy.ID, p.cfg.RecheckDelay)
		return
	}

	if e.proxy.UsageCount >= p.cfg.MaxUsagePerProxy {
		p.startCoolingLocked(e, now)
	}
}

// startCoolingLocked rests a proxy that exhausted its use budget and
// arms the timer that brings it back
func (p *Pool) startCoolingLocked(e *entry, now time.Time) {
	e.proxy.CoolingUntil = now.Add(p.cfg.CoolingPeriod)
	p.logger.InfoProxyStatus("Proxy exhausted use budget", e.proxy.Address(), domain.ProxyCooling,
		"usage", e.proxy.UsageCount, "cooling_for", p.cfg.CoolingPeriod)

	id := e.proxy.ID
	if t, ok := p.coolTimers[id]; ok {
		t.Stop()
	}
	p.coolTimers[id] = time.AfterFunc(p.cfg.CoolingPeriod, func() {
		p.finishCooling(id)
	})
}

// finishCooling returns a cooled proxy to rotation, rechecking it first
// when its health data has gone stale
func (p *Pool) finishCooling(id string) {
	p.mu.Lock()
	e, exists := p.entries[id]
	if !exists {
		p.mu.Unlock()
		return
	}
	now := p.clock.Now()
	e.proxy.UsageCount = 0
	e.proxy.CoolingUntil = time.Time{}
	stale := now.Sub(e.proxy.LastCheckAt) > p.cfg.HealthCheckInterval
	proxy := e.proxy.Clone()
	delete(p.coolTimers, id)
	p.mu.Unlock()

	if stale {
		p.checker.CheckOne(context.Background(), proxy)
	}
	p.logger.InfoProxyStatus("Proxy rested", proxy.Address(), domain.ProxyHealthy)
}

// scheduleRecheckLocked arms a one-shot recheck for an unhealthy proxy
func (p *Pool) scheduleRecheckLocked(id string, delay time.Duration) {
	if t, ok := p.coolTimers[id]; ok {
		t.Stop()
	}
	p.coolTimers[id] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		e, exists := p.entries[id]
		if !exists {
			p.mu.Unlock()
			return
		}
		proxy := e.proxy.Clone()
		delete(p.coolTimers, id)
		p.mu.Unlock()

		p.checker.CheckOne(context.Background(), proxy)
	})
}

// applyHealthResult folds a health check outcome back into pool state
func (p *Pool) applyHealthResult(id string, healthy bool, latency time.Duration, checkErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, exists := p.entries[id]
	if !exists {
		return
	}

	wasHealthy := e.proxy.Healthy
	e.proxy.Healthy = healthy
	e.proxy.LastCheckAt = p.clock.Now()
	e.proxy.ResponseTime = latency
	if checkErr != nil {
		e.proxy.LastError = checkErr.Error()
	} else {
		e.proxy.LastError = ""
	}

	if wasHealthy && !healthy {
		p.logger.InfoProxyStatus("Proxy failed health check", e.proxy.Address(), domain.ProxyUnhealthy,
			"error", e.proxy.LastError)
		p.scheduleRecheckLocked(id, p.cfg.RecheckDelay)
	} else if !wasHealthy && healthy {
		p.logger.InfoProxyStatus("Proxy recovered", e.proxy.Address(), domain.ProxyHealthy,
			"latency", latency)
	}
}

func (p *Pool) healthLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.checker.CheckAll(ctx, p.snapshotProxies())
		}
	}
}

func (p *Pool) snapshotProxies() []*domain.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()

	proxies := make([]*domain.Proxy, 0, len(p.entries))
	for _, e := range p.entries {
		proxies = append(proxies, e.proxy.Clone())
	}
	return proxies
}

// Status summarises pool state for the status endpoint
func (p *Pool) Status() ports.ProxyStatusSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	snapshot := ports.ProxyStatusSnapshot{
		Total: len(p.entries),
		InUse: int(p.inUse.Load()),
	}
	for _, e := range p.entries {
		switch e.proxy.Status(now) {
		case domain.ProxyCooling:
			snapshot.Cooling++
		case domain.ProxyUnhealthy:
			snapshot.Unhealthy++
		default:
			if e.proxy.Healthy {
				snapshot.Available++
			}
		}
	}
	return snapshot
}

// Proxies returns a copy of every tracked proxy, for status and persistence
func (p *Pool) Proxies() []*domain.Proxy {
	return p.snapshotProxies()
}

// Get returns one proxy by ID
func (p *Pool) Get(id string) (*domain.Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, exists := p.entries[id]
	if !exists {
		return nil, domain.NewNotFoundError("proxy", id)
	}
	return e.proxy.Clone(), nil
}

// IsNoProxy reports whether err is the pool-exhausted condition the
// scheduler retries with a short delay
func IsNoProxy(err error) bool {
	return errors.Is(err, domain.ErrNoProxyAvailable)
}
