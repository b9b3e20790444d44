package fetcher

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/thushan/perch/internal/adapter/browser"
	"github.com/thushan/perch/internal/adapter/proxy"
	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
)

const scrollSettleDelay = 750 * time.Millisecond

var errEmptyProfile = errors.New("profile content did not render")

// Fetcher scrapes one profile into a sample. It borrows a proxy first —
// Chrome binds its proxy at launch, so the browser pool needs the proxy
// to route the page — then a tab, navigates, and extracts counts and
// recent-post engagement from the DOM.
type Fetcher struct {
	cfg        config.FetcherConfig
	browserCfg config.BrowserConfig
	browsers   *browser.Pool
	proxies    *proxy.Pool
	clock      ports.Clock
	logger     *logger.StyledLogger
}

func New(cfg config.FetcherConfig, browserCfg config.BrowserConfig,
	browsers *browser.Pool, proxies *proxy.Pool,
	clock ports.Clock, log *logger.StyledLogger) *Fetcher {
	return &Fetcher{
		cfg:        cfg,
		browserCfg: browserCfg,
		browsers:   browsers,
		proxies:    proxies,
		clock:      clock,
		logger:     log,
	}
}

// Fetch produces one sample for the account, or a typed fetch error.
// Proxy-signal failures are wrapped as transport errors by the proxy
// pool; everything else surfaces from scrape directly.
func (f *Fetcher) Fetch(ctx context.Context, account *domain.Account) (*domain.Sample, error) {
	var sample *domain.Sample
	err := f.proxies.WithProxy(ctx, func(ctx context.Context, pxy *domain.Proxy) error {
		var scrapeErr error
		sample, scrapeErr = f.scrape(ctx, account, pxy)
		return scrapeErr
	})
	if err != nil {
		return nil, err
	}
	return sample, nil
}

func (f *Fetcher) scrape(ctx context.Context, account *domain.Account, pxy *domain.Proxy) (*domain.Sample, error) {
	page, err := f.browsers.AcquirePage(ctx, pxy)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	profileURL := f.profileURL(account)

	navCtx, cancel := context.WithTimeout(page.Ctx, f.browserCfg.NavigationTimeout)
	defer cancel()

	err = chromedp.Run(navCtx,
		browser.Bootstrap(f.browserCfg, pxy),
		chromedp.Navigate(profileURL),
		chromedp.WaitReady("body"),
	)
	if err != nil {
		if domain.IsCancelled(ctx.Err()) {
			return nil, ctx.Err()
		}
		return nil, domain.NewNavigationError(profileURL, 0, err)
	}

	// A redirect off the handle means the account no longer resolves
	var landedURL string
	if err := chromedp.Run(navCtx, chromedp.Location(&landedURL)); err != nil {
		return nil, domain.NewNavigationError(profileURL, 0, err)
	}
	if !strings.Contains(strings.ToLower(landedURL), account.NormalisedUsername()) {
		return nil, domain.NewAccountGoneError(account.Username, landedURL)
	}

	profile, err := extractProfile(navCtx, f.cfg.Selectors)
	if err != nil {
		return nil, domain.NewParseError(profileURL, f.cfg.Selectors.FollowersStat, err)
	}
	// A profile page with neither a name nor any stat never rendered;
	// treat it as the profile root failing to appear
	if profile.DisplayName == "" && profile.Followers == "" && profile.Following == "" {
		return nil, domain.NewParseError(profileURL, f.cfg.Selectors.DisplayName, errEmptyProfile)
	}

	followers, err := ParseCount(profile.Followers)
	if err != nil {
		return nil, domain.NewParseError(profileURL, f.cfg.Selectors.FollowersStat, err)
	}
	following, err := ParseCount(profile.Following)
	if err != nil {
		return nil, domain.NewParseError(profileURL, f.cfg.Selectors.FollowingStat, err)
	}
	posts, err := ParseCount(profile.Posts)
	if err != nil {
		return nil, domain.NewParseError(profileURL, f.cfg.Selectors.PostsStat, err)
	}

	engagement, observed, err := f.collectEngagement(navCtx, profileURL)
	if err != nil {
		return nil, err
	}

	sample := &domain.Sample{
		AccountID:  account.ID,
		ObservedAt: f.clock.Now(),
		Followers:  followers,
		Following:  following,
		Posts:      posts,
		Engagement: engagement,
		Source:     domain.SampleSourceScraper,
	}
	if account.LastScrapedAt != nil {
		ref := *account.LastScrapedAt
		sample.PreviousRef = &ref
	}

	f.logger.InfoWithAccount("Profile scraped", account.Username,
		"followers", followers, "following", following, "posts", posts,
		"recent_posts", observed)
	return sample, nil
}

// collectEngagement scrolls the timeline for recent posts and aggregates
// their counts into means. Promoted and social-context cells (pins,
// retweets) are filtered out before the cap.
func (f *Fetcher) collectEngagement(ctx context.Context, profileURL string) (domain.Engagement, int, error) {
	if err := scrollForPosts(ctx, f.cfg.Selectors, f.cfg.MaxRecentPosts, f.cfg.MaxScrollIterations); err != nil {
		return domain.Engagement{}, 0, domain.NewParseError(profileURL, f.cfg.Selectors.PostCell, err)
	}

	// Over-fetch so filtered cells still leave a full window
	cells, err := extractPosts(ctx, f.cfg.Selectors, f.cfg.MaxRecentPosts*2)
	if err != nil {
		return domain.Engagement{}, 0, domain.NewParseError(profileURL, f.cfg.Selectors.PostCell, err)
	}

	var likes, retweets, replies int64
	counted := 0
	for _, cell := range cells {
		if counted >= f.cfg.MaxRecentPosts {
			break
		}
		if cell.Promoted || cell.SocialContext {
			continue
		}

		l, err := ParseCount(cell.Likes)
		if err != nil {
			continue
		}
		rt, err := ParseCount(cell.Retweets)
		if err != nil {
			continue
		}
		rp, err := ParseCount(cell.Replies)
		if err != nil {
			continue
		}

		likes += l
		retweets += rt
		replies += rp
		counted++
	}

	if counted == 0 {
		return domain.Engagement{}, 0, nil
	}
	return domain.Engagement{
		AvgLikes:    roundedMean(likes, counted),
		AvgRetweets: roundedMean(retweets, counted),
		AvgReplies:  roundedMean(replies, counted),
	}, counted, nil
}

func roundedMean(total int64, n int) int64 {
	return int64(math.Round(float64(total) / float64(n)))
}

func (f *Fetcher) profileURL(account *domain.Account) string {
	if account.ProfileURL != "" {
		return account.ProfileURL
	}
	return strings.TrimRight(f.cfg.BaseURL, "/") + "/" + account.Username
}
