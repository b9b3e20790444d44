package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thushan/perch/internal/core/domain"
)

func seededAnalyzer(t *testing.T, samples ...*domain.Sample) *Analyzer {
	t.Helper()
	store := NewStore()
	for _, sample := range samples {
		if err := store.Put(context.Background(), sample); err != nil {
			t.Fatalf("seed put: %v", err)
		}
	}
	return NewAnalyzer(store)
}

func TestWeekBucketsAreMondayBased(t *testing.T) {
	// Sunday 2026-03-08 23:59 UTC belongs to the week starting Monday
	// 2026-03-02, not the following week
	sunday := time.Date(2026, 3, 8, 23, 59, 0, 0, time.UTC)
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	if got := truncate(sunday, GroupByWeek); !got.Equal(monday) {
		t.Errorf("truncate(Sunday 23:59, week) = %v, want %v", got, monday)
	}

	// The next minute is Monday and starts a new week
	nextMonday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if got := truncate(sunday.Add(time.Minute), GroupByWeek); !got.Equal(nextMonday) {
		t.Errorf("truncate(Monday 00:00, week) = %v, want %v", got, nextMonday)
	}
}

func TestTruncateGranularities(t *testing.T) {
	at := time.Date(2026, 3, 18, 14, 35, 7, 0, time.UTC)
	tests := []struct {
		granularity Granularity
		want        time.Time
	}{
		{GroupByHour, time.Date(2026, 3, 18, 14, 0, 0, 0, time.UTC)},
		{GroupByDay, time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC)},
		{GroupByWeek, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)},
		{GroupByMonth, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := truncate(at, tt.granularity); !got.Equal(tt.want) {
			t.Errorf("truncate(%s) = %v, want %v", tt.granularity, got, tt.want)
		}
	}
}

func TestBucketRepresentativeIsFirstSample(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	samples := []*domain.Sample{
		sampleAt("a1", day.Add(1*time.Hour), 100),
		sampleAt("a1", day.Add(5*time.Hour), 110),
		sampleAt("a1", day.Add(25*time.Hour), 120),
	}

	buckets := bucketize(samples, GroupByDay)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 day buckets, got %d", len(buckets))
	}
	if buckets[0].Sample.Followers != 100 {
		t.Errorf("representative should be the first sample in the bucket, got %d", buckets[0].Sample.Followers)
	}
	if !buckets[0].Start.Before(buckets[1].Start) {
		t.Error("buckets must be emitted in ascending time order")
	}
}

func TestGrowthAnalysis(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	a := seededAnalyzer(t,
		sampleAt("a1", start, 100),
		sampleAt("a1", start.AddDate(0, 0, 2), 150),
		sampleAt("a1", start.AddDate(0, 0, 4), 200),
	)

	results, err := a.Analyze(context.Background(), AnalysisRequest{
		Kind:       AnalysisGrowth,
		AccountIDs: []string{"a1"},
		GroupBy:    GroupByDay,
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	growth := results["a1"].Growth
	if growth == nil {
		t.Fatal("growth result missing")
	}
	if growth.Followers.Absolute != 100 {
		t.Errorf("absolute = %d, want 100", growth.Followers.Absolute)
	}
	if growth.Followers.Percent != 100 {
		t.Errorf("percent = %v, want 100", growth.Followers.Percent)
	}
	if growth.Followers.PerDay != 25 {
		t.Errorf("perDay = %v, want 25 over 4 days", growth.Followers.PerDay)
	}
}

func TestGrowthPercentZeroWhenBaseZero(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	a := seededAnalyzer(t,
		sampleAt("a1", start, 0),
		sampleAt("a1", start.AddDate(0, 0, 1), 50),
	)

	results, err := a.Analyze(context.Background(), AnalysisRequest{
		Kind:       AnalysisGrowth,
		AccountIDs: []string{"a1"},
		GroupBy:    GroupByDay,
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got := results["a1"].Growth.Followers.Percent; got != 0 {
		t.Errorf("percent with zero base = %v, want 0", got)
	}
}

func TestGrowthPerDayFloorsAtOneDay(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	a := seededAnalyzer(t,
		sampleAt("a1", start, 100),
		sampleAt("a1", start.Add(time.Hour), 148),
	)

	results, err := a.Analyze(context.Background(), AnalysisRequest{
		Kind:       AnalysisGrowth,
		AccountIDs: []string{"a1"},
		GroupBy:    GroupByHour,
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	// One hour apart still divides by a full day
	if got := results["a1"].Growth.Followers.PerDay; got != 48 {
		t.Errorf("perDay = %v, want 48", got)
	}
}

func TestEngagementAnalysisMeans(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s1 := sampleAt("a1", start, 100)
	s1.Engagement = domain.Engagement{AvgLikes: 10, AvgRetweets: 4, AvgReplies: 2}
	s2 := sampleAt("a1", start.AddDate(0, 0, 1), 100)
	s2.Engagement = domain.Engagement{AvgLikes: 15, AvgRetweets: 5, AvgReplies: 3}

	a := seededAnalyzer(t, s1, s2)
	results, err := a.Analyze(context.Background(), AnalysisRequest{
		Kind:       AnalysisEngagement,
		AccountIDs: []string{"a1"},
		GroupBy:    GroupByDay,
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	engagement := results["a1"].Engagement
	// (10+15)/2 = 12.5 rounds to 13
	if engagement.AvgLikes != 13 || engagement.AvgRetweets != 5 || engagement.AvgReplies != 3 {
		t.Errorf("unexpected means: %+v", engagement)
	}
}

func TestReachEstimator(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	a := seededAnalyzer(t, sampleAt("a1", start, 1000))

	results, err := a.Analyze(context.Background(), AnalysisRequest{
		Kind:       AnalysisReach,
		AccountIDs: []string{"a1"},
		GroupBy:    GroupByDay,
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	points := results["a1"].Reach.Points
	if len(points) != 1 {
		t.Fatalf("expected 1 reach point, got %d", len(points))
	}
	if points[0].Impressions != 100 || points[0].ProfileVisits != 50 {
		t.Errorf("reach estimate wrong: %+v", points[0])
	}
}

func TestSummaryAnalysis(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s1 := sampleAt("a1", start, 100)
	s2 := sampleAt("a1", start.AddDate(0, 0, 1), 200)
	s2.Engagement = domain.Engagement{AvgLikes: 3, AvgRetweets: 2, AvgReplies: 1}

	a := seededAnalyzer(t, s1, s2)
	results, err := a.Analyze(context.Background(), AnalysisRequest{
		Kind:       AnalysisSummary,
		AccountIDs: []string{"a1"},
		GroupBy:    GroupByDay,
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	summary := results["a1"].Summary
	if summary.Current == nil || summary.Current.Followers != 200 {
		t.Fatalf("current snapshot wrong: %+v", summary.Current)
	}
	if summary.Growth.Followers.Absolute != 100 {
		t.Errorf("growth absolute = %d", summary.Growth.Followers.Absolute)
	}
	// (3+2+1)/200 × 100 = 3.00
	if summary.EngagementRate != 3 {
		t.Errorf("engagement rate = %v, want 3", summary.EngagementRate)
	}
}

func TestAnalyzeValidatesRequest(t *testing.T) {
	a := seededAnalyzer(t)
	ctx := context.Background()

	cases := []AnalysisRequest{
		{Kind: "bogus", AccountIDs: []string{"a1"}, GroupBy: GroupByDay},
		{Kind: AnalysisGrowth, AccountIDs: []string{"a1"}, GroupBy: "fortnight"},
		{Kind: AnalysisGrowth, GroupBy: GroupByDay},
	}
	for i, req := range cases {
		_, err := a.Analyze(ctx, req)
		var validation *domain.ValidationError
		if !errors.As(err, &validation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}
