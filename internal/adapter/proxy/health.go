package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
)

const healthCheckConcurrency = 10

// healthChecker probes proxies by fetching the configured health check
// URL through each one. Results are folded back into pool state via the
// apply callback, which keeps the checker free of pool locking.
type healthChecker struct {
	cfg    config.ProxyPoolConfig
	clock  ports.Clock
	logger *logger.StyledLogger
	apply  func(id string, healthy bool, latency time.Duration, err error)
}

func newHealthChecker(cfg config.ProxyPoolConfig, clock ports.Clock, log *logger.StyledLogger,
	apply func(id string, healthy bool, latency time.Duration, err error)) *healthChecker {
	return &healthChecker{
		cfg:    cfg,
		clock:  clock,
		logger: log,
		apply:  apply,
	}
}

// CheckAll probes every proxy concurrently, bounded by a worker limit
func (hc *healthChecker) CheckAll(ctx context.Context, proxies []*domain.Proxy) {
	if len(proxies) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(healthCheckConcurrency)

	for _, p := range proxies {
		g.Go(func() error {
			hc.CheckOne(gctx, p)
			return nil
		})
	}
	_ = g.Wait()
}

// CheckOne probes a single proxy and applies the result
func (hc *healthChecker) CheckOne(ctx context.Context, p *domain.Proxy) {
	start := hc.clock.Now()
	err := hc.probe(ctx, p)
	latency := hc.clock.Now().Sub(start)

	hc.apply(p.ID, err == nil, latency, err)
}

// probe fetches the health check URL through the proxy with a hard timeout
func (hc *healthChecker) probe(ctx context.Context, p *domain.Proxy) error {
	transport, err := hc.transportFor(p)
	if err != nil {
		return err
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   hc.cfg.HealthCheckTimeout,
	}

	checkCtx, cancel := context.WithTimeout(ctx, hc.cfg.HealthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, hc.cfg.HealthCheckURL, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check returned status code %d", resp.StatusCode)
	}
	return nil
}

// transportFor builds an HTTP transport routed through the proxy;
// SOCKS5 goes via a dialer, HTTP/HTTPS via the standard proxy hook
func (hc *healthChecker) transportFor(p *domain.Proxy) (*http.Transport, error) {
	if p.Protocol == domain.ProxyProtocolSOCKS5 {
		var auth *proxy.Auth
		if p.Auth != nil && p.Auth.Username != "" {
			auth = &proxy.Auth{User: p.Auth.Username, Password: p.Auth.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", p.Address(), auth, &net.Dialer{
			Timeout: hc.cfg.HealthCheckTimeout,
		})
		if err != nil {
			return nil, err
		}
		return &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}, nil
	}

	proxyURL := p.URL()
	return &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
		DialContext: (&net.Dialer{
			Timeout: hc.cfg.HealthCheckTimeout,
		}).DialContext,
	}, nil
}
