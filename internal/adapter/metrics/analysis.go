package metrics

import (
	"context"
	"math"
	"time"

	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
)

// AnalysisKind selects which derived view the analyzer computes
type AnalysisKind string

const (
	AnalysisGrowth     AnalysisKind = "growth"
	AnalysisEngagement AnalysisKind = "engagement"
	AnalysisReach      AnalysisKind = "reach"
	AnalysisSummary    AnalysisKind = "summary"
)

// Granularity is the bucketing unit for grouped analysis. Weeks are
// Monday-based, all truncation in UTC.
type Granularity string

const (
	GroupByHour  Granularity = "hour"
	GroupByDay   Granularity = "day"
	GroupByWeek  Granularity = "week"
	GroupByMonth Granularity = "month"
)

// Synthetic reach estimator rates; there is no real impression data, so
// reach is derived from follower counts
const (
	impressionRate   = 0.10
	profileVisitRate = 0.05
)

// AnalysisRequest describes one grouped query over stored samples
type AnalysisRequest struct {
	Kind       AnalysisKind
	AccountIDs []string
	From       time.Time
	To         time.Time
	GroupBy    Granularity
}

// BucketPoint is one time bucket's representative observation: the first
// sample that fell into the bucket
type BucketPoint struct {
	Start  time.Time
	Sample *domain.Sample
}

// GrowthMetric carries one counter's change across the analysed window
type GrowthMetric struct {
	Absolute int64
	Percent  float64
	PerDay   float64
}

// GrowthResult is per-metric growth plus the underlying bucket series
type GrowthResult struct {
	Followers GrowthMetric
	Following GrowthMetric
	Posts     GrowthMetric
	Buckets   []BucketPoint
}

// EngagementResult averages engagement means over the bucketed window
type EngagementResult struct {
	AvgLikes    int64
	AvgRetweets int64
	AvgReplies  int64
	Buckets     []BucketPoint
}

// ReachPoint is a synthetic per-bucket reach estimate
type ReachPoint struct {
	Start         time.Time
	Impressions   int64
	ProfileVisits int64
}

// ReachResult is the estimated reach series
type ReachResult struct {
	Points []ReachPoint
}

// SummaryResult combines the current snapshot with growth and an overall
// engagement rate
type SummaryResult struct {
	Current        *domain.Sample
	Growth         GrowthResult
	EngagementRate float64
}

// AccountAnalysis is the per-account analyzer output; only the field for
// the requested kind is populated
type AccountAnalysis struct {
	AccountID  string
	Growth     *GrowthResult
	Engagement *EngagementResult
	Reach      *ReachResult
	Summary    *SummaryResult
}

// Analyzer computes grouped aggregations over any sample store
type Analyzer struct {
	store ports.SampleStore
}

func NewAnalyzer(store ports.SampleStore) *Analyzer {
	return &Analyzer{store: store}
}

// Analyze runs one grouped query, returning results keyed by account ID
func (a *Analyzer) Analyze(ctx context.Context, req AnalysisRequest) (map[string]*AccountAnalysis, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	results := make(map[string]*AccountAnalysis, len(req.AccountIDs))
	for _, accountID := range req.AccountIDs {
		samples, err := a.ascendingSamples(ctx, accountID, req.From, req.To)
		if err != nil {
			return nil, err
		}
		buckets := bucketize(samples, req.GroupBy)

		analysis := &AccountAnalysis{AccountID: accountID}
		switch req.Kind {
		case AnalysisGrowth:
			g := computeGrowth(buckets)
			analysis.Growth = &g
		case AnalysisEngagement:
			e := computeEngagement(buckets)
			analysis.Engagement = &e
		case AnalysisReach:
			r := computeReach(buckets)
			analysis.Reach = &r
		case AnalysisSummary:
			s := computeSummary(buckets)
			analysis.Summary = &s
		}
		results[accountID] = analysis
	}
	return results, nil
}

func validateRequest(req AnalysisRequest) error {
	switch req.Kind {
	case AnalysisGrowth, AnalysisEngagement, AnalysisReach, AnalysisSummary:
	default:
		return domain.NewValidationError("kind", string(req.Kind), "unknown analysis kind")
	}
	switch req.GroupBy {
	case GroupByHour, GroupByDay, GroupByWeek, GroupByMonth:
	default:
		return domain.NewValidationError("groupBy", string(req.GroupBy), "unknown granularity")
	}
	if len(req.AccountIDs) == 0 {
		return domain.NewValidationError("accountIds", req.AccountIDs, "must name at least one account")
	}
	return nil
}

// ascendingSamples fetches the window oldest-first; the store's range
// query returns newest-first, so reverse in place
func (a *Analyzer) ascendingSamples(ctx context.Context, accountID string, from, to time.Time) ([]*domain.Sample, error) {
	samples, err := a.store.Range(ctx, accountID, from, to, 0)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// bucketize groups ascending samples by truncated observation time; the
// first sample in each bucket is its representative. Buckets come out in
// ascending time order.
func bucketize(samples []*domain.Sample, granularity Granularity) []BucketPoint {
	var buckets []BucketPoint
	for _, sample := range samples {
		start := truncate(sample.ObservedAt, granularity)
		if len(buckets) > 0 && buckets[len(buckets)-1].Start.Equal(start) {
			continue
		}
		buckets = append(buckets, BucketPoint{Start: start, Sample: sample})
	}
	return buckets
}

// truncate floors t to the bucket start in UTC; weeks start on Monday
func truncate(t time.Time, granularity Granularity) time.Time {
	t = t.UTC()
	switch granularity {
	case GroupByHour:
		return t.Truncate(time.Hour)
	case GroupByDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case GroupByWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// Monday=0 .. Sunday=6
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GroupByMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

func computeGrowth(buckets []BucketPoint) GrowthResult {
	result := GrowthResult{Buckets: buckets}
	if len(buckets) == 0 {
		return result
	}

	first := buckets[0].Sample
	last := buckets[len(buckets)-1].Sample
	span := last.ObservedAt.Sub(first.ObservedAt)

	result.Followers = growthMetric(first.Followers, last.Followers, span)
	result.Following = growthMetric(first.Following, last.Following, span)
	result.Posts = growthMetric(first.Posts, last.Posts, span)
	return result
}

// growthMetric derives absolute/percent/per-day change for one counter.
// Percent is zero when the base is zero; per-day divides by at least one
// day so short windows don't explode the rate.
func growthMetric(from, to int64, span time.Duration) GrowthMetric {
	absolute := to - from

	var percent float64
	if from != 0 {
		percent = float64(absolute) / float64(from) * 100
	}

	days := span.Hours() / 24
	if days < 1 {
		days = 1
	}
	return GrowthMetric{
		Absolute: absolute,
		Percent:  percent,
		PerDay:   float64(absolute) / days,
	}
}

// computeEngagement takes the arithmetic mean over buckets, rounded to
// integers
func computeEngagement(buckets []BucketPoint) EngagementResult {
	result := EngagementResult{Buckets: buckets}
	if len(buckets) == 0 {
		return result
	}

	var likes, retweets, replies int64
	for _, b := range buckets {
		likes += b.Sample.Engagement.AvgLikes
		retweets += b.Sample.Engagement.AvgRetweets
		replies += b.Sample.Engagement.AvgReplies
	}
	n := float64(len(buckets))
	result.AvgLikes = int64(math.Round(float64(likes) / n))
	result.AvgRetweets = int64(math.Round(float64(retweets) / n))
	result.AvgReplies = int64(math.Round(float64(replies) / n))
	return result
}

// computeReach estimates per-bucket reach from follower counts
func computeReach(buckets []BucketPoint) ReachResult {
	points := make([]ReachPoint, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, ReachPoint{
			Start:         b.Start,
			Impressions:   int64(math.Round(impressionRate * float64(b.Sample.Followers))),
			ProfileVisits: int64(math.Round(profileVisitRate * float64(b.Sample.Followers))),
		})
	}
	return ReachResult{Points: points}
}

func computeSummary(buckets []BucketPoint) SummaryResult {
	result := SummaryResult{Growth: computeGrowth(buckets)}
	if len(buckets) == 0 {
		return result
	}

	current := buckets[len(buckets)-1].Sample
	result.Current = current
	result.EngagementRate = engagementRate(current)
	return result
}

// engagementRate is total engagement over followers as a percentage,
// rounded to two decimals
func engagementRate(sample *domain.Sample) float64 {
	total := sample.Engagement.AvgLikes + sample.Engagement.AvgRetweets + sample.Engagement.AvgReplies
	followers := sample.Followers
	if followers < 1 {
		followers = 1
	}
	rate := float64(total) / float64(followers) * 100
	return math.Round(rate*100) / 100
}
