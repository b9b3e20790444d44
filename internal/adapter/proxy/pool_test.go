package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
	"github.com/thushan/perch/theme"
)

func newTestLogger() *logger.StyledLogger {
	return logger.NewStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), theme.Default())
}

func newTestPool(t *testing.T, cfg config.ProxyPoolConfig, clock ports.Clock) *Pool {
	t.Helper()
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = time.Hour
	}
	if cfg.HealthCheckTimeout == 0 {
		cfg.HealthCheckTimeout = 100 * time.Millisecond
	}
	if cfg.RecheckDelay == 0 {
		cfg.RecheckDelay = time.Hour
	}
	return NewPool(cfg, clock, ports.FixedRandom{}, newTestLogger())
}

func markHealthy(p *Pool, ids ...string) {
	for _, id := range ids {
		p.applyHealthResult(id, true, 5*time.Millisecond, nil)
	}
}

func TestAddProxyRejectsDuplicate(t *testing.T) {
	p := newTestPool(t, config.ProxyPoolConfig{}, ports.NewFakeClock(time.Now()))

	if err := p.AddProxy(domain.NewProxy("10.0.0.1", 8080, "http", nil)); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	err := p.AddProxy(domain.NewProxy("10.0.0.1", 8080, "http", nil))
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestRemoveProxyNotFound(t *testing.T) {
	p := newTestPool(t, config.ProxyPoolConfig{}, ports.NewFakeClock(time.Now()))

	err := p.RemoveProxy("10.0.0.9:1080")
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestWithProxySelectsLeastUsed(t *testing.T) {
	clock := ports.NewFakeClock(time.Now())
	p := newTestPool(t, config.ProxyPoolConfig{MaxUsagePerProxy: 100}, clock)

	a := domain.NewProxy("10.0.0.1", 8080, "http", nil)
	b := domain.NewProxy("10.0.0.2", 8080, "http", nil)
	if err := p.AddProxy(a); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := p.AddProxy(b); err != nil {
		t.Fatalf("add: %v", err)
	}
	markHealthy(p, a.ID, b.ID)

	used := make(map[string]int)
	for i := 0; i < 4; i++ {
		err := p.WithProxy(context.Background(), func(_ context.Context, proxy *domain.Proxy) error {
			used[proxy.ID]++
			return nil
		})
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		clock.Advance(time.Second)
	}

	if used[a.ID] != 2 || used[b.ID] != 2 {
		t.Errorf("expected even rotation across two proxies, got %v", used)
	}
}

func TestWithProxyUseBudgetAndCooling(t *testing.T) {
	clock := ports.NewFakeClock(time.Now())
	cfg := config.ProxyPoolConfig{
		MaxUsagePerProxy: 2,
		CoolingPeriod:    10 * time.Millisecond,
	}
	p := newTestPool(t, cfg, clock)

	ids := make([]string, 0, 3)
	for i, host := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		proxy := domain.NewProxy(host, 8080+i, "http", nil)
		if err := p.AddProxy(proxy); err != nil {
			t.Fatalf("add: %v", err)
		}
		ids = append(ids, proxy.ID)
	}
	markHealthy(p, ids...)

	used := make(map[string]int)
	call := func() error {
		return p.WithProxy(context.Background(), func(_ context.Context, proxy *domain.Proxy) error {
			used[proxy.ID]++
			return nil
		})
	}

	// Six calls exhaust every proxy's budget of two
	for i := 0; i < 6; i++ {
		if err := call(); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		clock.Advance(time.Second)
	}

	status := p.Status()
	if status.Cooling != 3 {
		t.Errorf("expected all 3 proxies cooling, got %+v", status)
	}

	// After the cooling period the timers return them to rotation
	time.Sleep(100 * time.Millisecond)
	if err := call(); err != nil {
		t.Fatalf("call after cooling failed: %v", err)
	}

	if len(used) < 2 {
		t.Errorf("expected at least 2 distinct proxies used, got %d", len(used))
	}
	for id, n := range used {
		if n > 3 {
			t.Errorf("proxy %s used %d times, budget allows at most 3 across one cooling cycle", id, n)
		}
	}
}

func TestWithProxyMarksProxyUnhealthyOnTransportSignal(t *testing.T) {
	clock := ports.NewFakeClock(time.Now())
	p := newTestPool(t, config.ProxyPoolConfig{MaxUsagePerProxy: 100}, clock)

	proxy := domain.NewProxy("10.0.0.1", 8080, "http", nil)
	if err := p.AddProxy(proxy); err != nil {
		t.Fatalf("add: %v", err)
	}
	markHealthy(p, proxy.ID)

	err := p.WithProxy(context.Background(), func(_ context.Context, _ *domain.Proxy) error {
		return errors.New("read tcp: connection reset by peer")
	})
	var transport *domain.TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if transport.ProxyID != proxy.ID {
		t.Errorf("transport error attributes wrong proxy: %s", transport.ProxyID)
	}

	got, getErr := p.Get(proxy.ID)
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if got.Healthy {
		t.Error("expected proxy marked unhealthy after transport signal")
	}
}

func TestWithProxyPassesThroughPageErrors(t *testing.T) {
	clock := ports.NewFakeClock(time.Now())
	p := newTestPool(t, config.ProxyPoolConfig{MaxUsagePerProxy: 100}, clock)

	proxy := domain.NewProxy("10.0.0.1", 8080, "http", nil)
	if err := p.AddProxy(proxy); err != nil {
		t.Fatalf("add: %v", err)
	}
	markHealthy(p, proxy.ID)

	pageErr := domain.NewParseError("https://x.com/someone", `[data-testid="UserName"]`, errors.New("selector missing"))
	err := p.WithProxy(context.Background(), func(_ context.Context, _ *domain.Proxy) error {
		return pageErr
	})
	if !errors.Is(err, pageErr) {
		t.Fatalf("expected page error passed through, got %v", err)
	}

	got, _ := p.Get(proxy.ID)
	if !got.Healthy {
		t.Error("page-level error must not penalise the proxy")
	}
}

func TestWithProxyNoProxyAvailable(t *testing.T) {
	clock := ports.NewFakeClock(time.Now())
	cfg := config.ProxyPoolConfig{
		MaxUsagePerProxy:   100,
		HealthCheckURL:     "http://127.0.0.1:1/check",
		HealthCheckTimeout: 50 * time.Millisecond,
	}
	p := newTestPool(t, cfg, clock)

	// Unreachable proxy: the emergency sweep can't revive it either
	proxy := domain.NewProxy("127.0.0.1", 1, "http", nil)
	if err := p.AddProxy(proxy); err != nil {
		t.Fatalf("add: %v", err)
	}

	err := p.WithProxy(context.Background(), func(_ context.Context, _ *domain.Proxy) error {
		t.Fatal("fn must not run without a healthy proxy")
		return nil
	})
	if !IsNoProxy(err) {
		t.Fatalf("expected no-proxy error, got %v", err)
	}
}

func TestStatusSnapshot(t *testing.T) {
	clock := ports.NewFakeClock(time.Now())
	p := newTestPool(t, config.ProxyPoolConfig{MaxUsagePerProxy: 100}, clock)

	healthy := domain.NewProxy("10.0.0.1", 8080, "http", nil)
	sick := domain.NewProxy("10.0.0.2", 8080, "http", nil)
	for _, proxy := range []*domain.Proxy{healthy, sick} {
		if err := p.AddProxy(proxy); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	markHealthy(p, healthy.ID)
	p.applyHealthResult(sick.ID, false, 0, errors.New("connection refused"))

	status := p.Status()
	if status.Total != 2 || status.Available != 1 || status.Unhealthy != 1 {
		t.Errorf("unexpected snapshot: %+v", status)
	}
}

func TestProxyFileRoundTrip(t *testing.T) {
	clock := ports.NewFakeClock(time.Now())
	p := newTestPool(t, config.ProxyPoolConfig{MaxUsagePerProxy: 100}, clock)

	auth := &domain.ProxyAuth{Username: "worker", Password: "hunter2"}
	withAuth := domain.NewProxy("10.0.0.1", 1080, "socks5", auth)
	plain := domain.NewProxy("10.0.0.2", 8080, "http", nil)
	for _, proxy := range []*domain.Proxy{withAuth, plain} {
		if err := p.AddProxy(proxy); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	markHealthy(p, withAuth.ID, plain.ID)

	path := t.TempDir() + "/proxies.json"
	if err := p.SaveFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := newTestPool(t, config.ProxyPoolConfig{MaxUsagePerProxy: 100}, clock)
	added, err := restored.LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 proxies loaded, got %d", added)
	}

	got, err := restored.Get(withAuth.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Protocol != "socks5" || got.Auth == nil || got.Auth.Username != "worker" {
		t.Errorf("auth proxy not restored faithfully: %+v", got)
	}
	if !got.Healthy {
		t.Error("health state should survive the round trip")
	}

	// Loading again is a no-op for existing IDs
	added, err = restored.LoadFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if added != 0 {
		t.Errorf("expected 0 new proxies on reload, got %d", added)
	}
}
