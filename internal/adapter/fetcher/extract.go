package fetcher

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/thushan/perch/internal/config"
)

// profileData is the raw DOM extraction result; counts stay as rendered
// text until the parser normalises them
type profileData struct {
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
	Location    string `json:"location"`
	Website     string `json:"website"`
	JoinDate    string `json:"joinDate"`
	Verified    bool   `json:"verified"`
	Followers   string `json:"followers"`
	Following   string `json:"following"`
	Posts       string `json:"posts"`
}

// postData is one recent-post cell's counts plus the markers used to
// filter promoted and social-context (pinned/retweeted) cells
type postData struct {
	Likes         string `json:"likes"`
	Retweets      string `json:"retweets"`
	Replies       string `json:"replies"`
	Promoted      bool   `json:"promoted"`
	SocialContext bool   `json:"socialContext"`
}

// extractProfile pulls the profile header fields and stat counts in one
// script round trip
func extractProfile(ctx context.Context, sel config.SelectorsConfig) (profileData, error) {
	script := fmt.Sprintf(`(() => {
		const text = (s) => {
			const el = document.querySelector(s);
			return el ? el.textContent.trim() : "";
		};
		return {
			displayName: text(%q),
			bio: text(%q),
			location: text(%q),
			website: text(%q),
			joinDate: text(%q),
			verified: !!document.querySelector(%q),
			followers: text(%q),
			following: text(%q),
			posts: text(%q),
		};
	})()`,
		sel.DisplayName, sel.Bio, sel.Location, sel.Website, sel.JoinDate,
		sel.Verified, sel.FollowersStat, sel.FollowingStat, sel.PostsStat)

	var data profileData
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &data)); err != nil {
		return profileData{}, err
	}
	return data, nil
}

// extractPosts pulls up to limit visible post cells with their counts
// and filter markers
func extractPosts(ctx context.Context, sel config.SelectorsConfig, limit int) ([]postData, error) {
	script := fmt.Sprintf(`(() => {
		const cells = Array.from(document.querySelectorAll(%q)).slice(0, %d);
		const text = (root, s) => {
			const el = root.querySelector(s);
			return el ? el.textContent.trim() : "";
		};
		return cells.map(cell => {
			const container = cell.closest('[data-testid="cellInnerDiv"]') || cell;
			return {
				likes: text(cell, %q),
				retweets: text(cell, %q),
				replies: text(cell, %q),
				promoted: !!container.querySelector(%q),
				socialContext: !!container.querySelector(%q),
			};
		});
	})()`,
		sel.PostCell, limit,
		sel.LikeCount, sel.RetweetCount, sel.ReplyCount,
		sel.Promoted, sel.SocialContext)

	var posts []postData
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &posts)); err != nil {
		return nil, err
	}
	return posts, nil
}

// countPostCells reports how many post cells are currently in the DOM
func countPostCells(ctx context.Context, sel config.SelectorsConfig) (int, error) {
	script := fmt.Sprintf(`document.querySelectorAll(%q).length`, sel.PostCell)
	var count int
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &count)); err != nil {
		return 0, err
	}
	return count, nil
}

// scrollForPosts scrolls the timeline until enough post cells are loaded,
// a full scroll adds nothing new, or the iteration cap is hit
func scrollForPosts(ctx context.Context, sel config.SelectorsConfig, want, maxIterations int) error {
	previous, err := countPostCells(ctx, sel)
	if err != nil {
		return err
	}

	for i := 0; i < maxIterations && previous < want; i++ {
		err := chromedp.Run(ctx,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(scrollSettleDelay),
		)
		if err != nil {
			return err
		}

		current, err := countPostCells(ctx, sel)
		if err != nil {
			return err
		}
		if current == previous {
			// Timeline exhausted
			return nil
		}
		previous = current
	}
	return nil
}
