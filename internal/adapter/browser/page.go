package browser

import (
	"context"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/domain"
)

// blockedResourcePatterns covers the heavy assets a counts-only scrape
// never needs; dropping them cuts page weight and proxy bandwidth
var blockedResourcePatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.mp4", "*.webm", "*.m3u8",
	"*.woff", "*.woff2", "*.ttf", "*.otf",
}

// Page is one Chrome tab on loan from the pool. Ctx drives chromedp
// actions; Close returns the tab and its browser slot.
type Page struct {
	Ctx       context.Context
	tabCancel context.CancelFunc
	pool      *Pool
	inst      *instance
	closed    bool
}

// Close cancels the tab and releases its slot back to the pool.
// Safe to call more than once.
func (pg *Page) Close() {
	if pg.closed {
		return
	}
	pg.closed = true
	pg.tabCancel()
	pg.pool.release(pg)
}

// Bootstrap returns the actions a fresh tab runs before navigating:
// viewport emulation, resource blocking, and proxy credentials when the
// browser's proxy requires them
func Bootstrap(cfg config.BrowserConfig, proxy *domain.Proxy) chromedp.Tasks {
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetDeviceMetricsOverride(1280, 1024, 1.0, false),
	}
	if cfg.BlockResources {
		tasks = append(tasks, network.SetBlockedURLs(blockedResourcePatterns))
	}
	if proxy != nil && proxy.Auth != nil && proxy.Auth.Username != "" {
		tasks = append(tasks, enableProxyAuth(proxy.Auth))
	}
	return tasks
}

// enableProxyAuth answers the upstream proxy's auth challenge over CDP,
// since credentials can't be passed on Chrome's proxy launch flag
func enableProxyAuth(auth *domain.ProxyAuth) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := fetch.Enable().WithHandleAuthRequests(true).Do(ctx); err != nil {
			return err
		}

		// Listener lives for the tab's lifetime
		chromedp.ListenTarget(ctx, func(ev interface{}) {
			switch ev := ev.(type) {
			case *fetch.EventAuthRequired:
				go func() {
					_ = fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
						Response: fetch.AuthChallengeResponseResponseProvideCredentials,
						Username: auth.Username,
						Password: auth.Password,
					}).Do(ctx)
				}()
			case *fetch.EventRequestPaused:
				go func() {
					_ = fetch.ContinueRequest(ev.RequestID).Do(ctx)
				}()
			}
		})
		return nil
	}
}
