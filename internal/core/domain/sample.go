package domain

import (
	"time"
)

const SampleSourceScraper = "scraper"

// Sample is one time-stamped observation of an account's public counts.
// Samples are append-only: created by the fetcher, never mutated.
// (AccountID, ObservedAt) is unique and ObservedAt is non-decreasing per
// account within the engine's lifetime.
type Sample struct {
	AccountID   string
	ObservedAt  time.Time
	Followers   int64
	Following   int64
	Posts       int64
	Engagement  Engagement
	Source      string
	PreviousRef *time.Time
}

// Engagement aggregates like/retweet/reply means over the most recent
// posts observed (at most 20); all zero when no recent posts were visible.
type Engagement struct {
	AvgLikes    int64
	AvgRetweets int64
	AvgReplies  int64
}

// Field resolves a dotted metric path against the sample. Missing paths
// return ok=false; alert evaluation treats those as "not triggered".
func (s *Sample) Field(path string) (float64, bool) {
	switch path {
	case "followers":
		return float64(s.Followers), true
	case "following":
		return float64(s.Following), true
	case "posts":
		return float64(s.Posts), true
	case "engagement.avgLikes":
		return float64(s.Engagement.AvgLikes), true
	case "engagement.avgRetweets":
		return float64(s.Engagement.AvgRetweets), true
	case "engagement.avgReplies":
		return float64(s.Engagement.AvgReplies), true
	default:
		return 0, false
	}
}

// FieldPaths lists every resolvable metric path, in schema order
func FieldPaths() []string {
	return []string{
		"followers",
		"following",
		"posts",
		"engagement.avgLikes",
		"engagement.avgRetweets",
		"engagement.avgReplies",
	}
}

// Clone returns a copy safe to hand across goroutines
func (s *Sample) Clone() *Sample {
	clone := *s
	if s.PreviousRef != nil {
		t := *s.PreviousRef
		clone.PreviousRef = &t
	}
	return &clone
}
