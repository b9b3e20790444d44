package browser

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
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

// newStubPool wires fake launch/tab functions so tests exercise pool
// bookkeeping without a Chrome binary
func newStubPool(cfg config.BrowserConfig, clock ports.Clock, launches, destroys *atomic.Int64) *Pool {
	p := NewPool(cfg, clock, newTestLogger())
	p.launch = func(parent context.Context, _ config.BrowserConfig, _ *domain.Proxy) (context.Context, context.CancelFunc) {
		launches.Add(1)
		ctx, cancel := context.WithCancel(parent)
		return ctx, func() {
			destroys.Add(1)
			cancel()
		}
	}
	p.newTab = func(browserCtx context.Context) (context.Context, context.CancelFunc) {
		return context.WithCancel(browserCtx)
	}
	return p
}

func TestAcquirePageReusesBrowserForSameProxy(t *testing.T) {
	var launches, destroys atomic.Int64
	cfg := config.BrowserConfig{MaxBrowsers: 2, MaxPagesPerBrowser: 3, BrowserResetCount: 50, MaxBrowserAge: time.Hour}
	p := newStubPool(cfg, ports.NewFakeClock(time.Now()), &launches, &destroys)

	proxy := domain.NewProxy("10.0.0.1", 8080, "http", nil)
	pg1, err := p.AcquirePage(context.Background(), proxy)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pg2, err := p.AcquirePage(context.Background(), proxy)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if got := launches.Load(); got != 1 {
		t.Errorf("expected 1 browser for 2 pages on the same proxy, launched %d", got)
	}

	status := p.Status()
	if status.Running != 1 || status.Pages != 2 {
		t.Errorf("unexpected status: %+v", status)
	}

	pg1.Close()
	pg2.Close()
	if status := p.Status(); status.Pages != 0 {
		t.Errorf("pages not returned: %+v", status)
	}
}

func TestAcquirePageLaunchesPerProxy(t *testing.T) {
	var launches, destroys atomic.Int64
	cfg := config.BrowserConfig{MaxBrowsers: 2, MaxPagesPerBrowser: 3, BrowserResetCount: 50, MaxBrowserAge: time.Hour}
	p := newStubPool(cfg, ports.NewFakeClock(time.Now()), &launches, &destroys)

	pg1, err := p.AcquirePage(context.Background(), domain.NewProxy("10.0.0.1", 8080, "http", nil))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pg2, err := p.AcquirePage(context.Background(), domain.NewProxy("10.0.0.2", 8080, "http", nil))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer pg1.Close()
	defer pg2.Close()

	if got := launches.Load(); got != 2 {
		t.Errorf("different proxies must get different browsers, launched %d", got)
	}
}

func TestAcquirePageEvictsIdleBrowserAtCapacity(t *testing.T) {
	var launches, destroys atomic.Int64
	cfg := config.BrowserConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 3, BrowserResetCount: 50, MaxBrowserAge: time.Hour}
	p := newStubPool(cfg, ports.NewFakeClock(time.Now()), &launches, &destroys)

	pg, err := p.AcquirePage(context.Background(), domain.NewProxy("10.0.0.1", 8080, "http", nil))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pg.Close()

	// The only slot is held by an idle browser on another proxy; it gets evicted
	pg2, err := p.AcquirePage(context.Background(), domain.NewProxy("10.0.0.2", 8080, "http", nil))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer pg2.Close()

	if destroys.Load() != 1 || launches.Load() != 2 {
		t.Errorf("expected evict+relaunch, got launches=%d destroys=%d", launches.Load(), destroys.Load())
	}
}

func TestAcquirePageBlocksAtCapacityUntilRelease(t *testing.T) {
	var launches, destroys atomic.Int64
	cfg := config.BrowserConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 1, BrowserResetCount: 50, MaxBrowserAge: time.Hour}
	p := newStubPool(cfg, ports.NewFakeClock(time.Now()), &launches, &destroys)

	proxy := domain.NewProxy("10.0.0.1", 8080, "http", nil)
	pg, err := p.AcquirePage(context.Background(), proxy)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	acquired := make(chan *Page)
	go func() {
		pg2, err := p.AcquirePage(context.Background(), proxy)
		if err != nil {
			t.Errorf("blocked acquire failed: %v", err)
		}
		acquired <- pg2
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while the only page slot is out")
	case <-time.After(30 * time.Millisecond):
	}

	pg.Close()
	select {
	case pg2 := <-acquired:
		pg2.Close()
	case <-time.After(time.Second):
		t.Fatal("release did not unblock the waiting acquire")
	}
}

func TestAcquirePageHonoursContextCancellation(t *testing.T) {
	var launches, destroys atomic.Int64
	cfg := config.BrowserConfig{MaxBrowsers: 1, MaxPagesPerBrowser: 1, BrowserResetCount: 50, MaxBrowserAge: time.Hour}
	p := newStubPool(cfg, ports.NewFakeClock(time.Now()), &launches, &destroys)

	proxy := domain.NewProxy("10.0.0.1", 8080, "http", nil)
	pg, err := p.AcquirePage(context.Background(), proxy)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.AcquirePage(ctx, proxy); err == nil {
		t.Fatal("expected acquire to fail once ctx expired")
	}
}

func TestBrowserRecycledAfterResetCount(t *testing.T) {
	var launches, destroys atomic.Int64
	cfg := config.BrowserConfig{MaxBrowsers: 2, MaxPagesPerBrowser: 3, BrowserResetCount: 2, MaxBrowserAge: time.Hour}
	p := newStubPool(cfg, ports.NewFakeClock(time.Now()), &launches, &destroys)

	proxy := domain.NewProxy("10.0.0.1", 8080, "http", nil)
	for i := 0; i < 3; i++ {
		pg, err := p.AcquirePage(context.Background(), proxy)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		pg.Close()
	}

	// Two pages exhaust the reset budget; the third forces a fresh browser
	if launches.Load() != 2 || destroys.Load() != 1 {
		t.Errorf("expected recycle after reset count, launches=%d destroys=%d", launches.Load(), destroys.Load())
	}
}

func TestBrowserRecycledAfterMaxAge(t *testing.T) {
	var launches, destroys atomic.Int64
	clock := ports.NewFakeClock(time.Now())
	cfg := config.BrowserConfig{MaxBrowsers: 2, MaxPagesPerBrowser: 3, BrowserResetCount: 50, MaxBrowserAge: 10 * time.Minute}
	p := newStubPool(cfg, clock, &launches, &destroys)

	proxy := domain.NewProxy("10.0.0.1", 8080, "http", nil)
	pg, err := p.AcquirePage(context.Background(), proxy)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pg.Close()

	clock.Advance(11 * time.Minute)
	pg2, err := p.AcquirePage(context.Background(), proxy)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pg2.Close()

	if launches.Load() != 2 {
		t.Errorf("expected aged browser replaced, launched %d", launches.Load())
	}
}

func TestStopDestroysBrowsers(t *testing.T) {
	var launches, destroys atomic.Int64
	cfg := config.BrowserConfig{MaxBrowsers: 2, MaxPagesPerBrowser: 3, BrowserResetCount: 50, MaxBrowserAge: time.Hour}
	p := newStubPool(cfg, ports.NewFakeClock(time.Now()), &launches, &destroys)

	pg, err := p.AcquirePage(context.Background(), domain.NewProxy("10.0.0.1", 8080, "http", nil))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pg2, err := p.AcquirePage(context.Background(), domain.NewProxy("10.0.0.2", 8080, "http", nil))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pg2.Close()

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Idle browser destroyed at stop; the held page's browser on its close
	if destroys.Load() != 1 {
		t.Errorf("expected idle browser destroyed at stop, got %d", destroys.Load())
	}
	pg.Close()
	if destroys.Load() != 2 {
		t.Errorf("expected held browser destroyed at page close, got %d", destroys.Load())
	}

	if _, err := p.AcquirePage(context.Background(), nil); err == nil {
		t.Fatal("acquire after stop must fail")
	}
}
