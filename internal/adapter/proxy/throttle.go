package proxy

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
)

// entry pairs a proxy with its throttling state: a single-slot queue so
// at most one request is ever in flight on the proxy, and a rate limiter
// flooring the gap between consecutive requests at the configured
// minimum interval.
type entry struct {
	proxy   *domain.Proxy
	slot    chan struct{}
	limiter *rate.Limiter
}

func newEntry(proxy *domain.Proxy, minInterval time.Duration) *entry {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &entry{
		proxy:   proxy,
		slot:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// acquire claims the proxy's request slot, waiting behind any in-flight
// request; cancellation propagates from the caller's context
func (e *entry) acquire(ctx context.Context) error {
	select {
	case e.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *entry) release() {
	<-e.slot
}

// pace enforces the inter-request gap: the limiter guarantees at least
// minInterval since the last request, then a uniform random extra delay
// stretches the spacing up to maxInterval so request timing doesn't look
// mechanical to the remote.
func (e *entry) pace(ctx context.Context, minInterval, maxInterval time.Duration, random ports.RandomSource) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	extra := maxInterval - minInterval
	if extra <= 0 {
		return nil
	}
	delay := time.Duration(random.Int63n(int64(extra)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// proxySignals is the closed set of error fragments attributed to the
// proxy rather than the target page
var proxySignals = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"no route to host",
	"host unreachable",
	"network is unreachable",
	"tunneling socket",
	"proxy authentication required",
	"status code 407",
	"status code 502",
	"status code 503",
	"status code 504",
	"err_proxy_connection_failed",
	"err_tunnel_connection_failed",
}

// isProxySignal reports whether an error should count against the proxy
func isProxySignal(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, signal := range proxySignals {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}
