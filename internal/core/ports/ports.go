package ports

import (
	"context"
	"time"

	"github.com/thushan/perch/internal/core/domain"
)

// Fetcher produces one sample for one account, or a typed error from
// the fetch taxonomy (navigation, parse, transport, account gone).
type Fetcher interface {
	Fetch(ctx context.Context, account *domain.Account) (*domain.Sample, error)
}

// AccountRegistry is the authoritative in-memory set of tracked accounts
type AccountRegistry interface {
	Add(ctx context.Context, account *domain.Account) error
	Update(ctx context.Context, account *domain.Account) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.Account, error)
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	List(ctx context.Context, filter AccountFilter) ([]*domain.Account, error)
	NextToScrape(ctx context.Context) (*domain.Account, error)
	RecordScrape(ctx context.Context, id string, at time.Time) error
	RecordError(ctx context.Context, id string, scrapeErr *domain.ScrapeError) error
}

// AccountFilter narrows List results; nil fields match everything
type AccountFilter struct {
	Active   *bool
	Priority *int
	Tag      string
}

// Scheduler drives priority-based scrape dispatch
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause()
	Resume()
	ScheduleAll(ctx context.Context) error
	ScheduleAccount(ctx context.Context, id string) error
	Prioritize(ctx context.Context, id string) (PrioritizeOutcome, error)
	Status() SchedulerStatus
}

// PrioritizeOutcome reports what a manual scrape request did
type PrioritizeOutcome string

const (
	PrioritizeQueued  PrioritizeOutcome = "queued"
	PrioritizeRunning PrioritizeOutcome = "running"
)

// SchedulerStatus is a point-in-time snapshot for the status endpoint
type SchedulerStatus struct {
	Running   []string
	QueueSize int
	Scheduled int
	Workers   int
	Paused    bool
}

// AlertEvaluator evaluates active rules against each ingested sample
type AlertEvaluator interface {
	Evaluate(ctx context.Context, sample *domain.Sample) ([]*domain.TriggeredAlert, error)
}

// ProxyStatusSnapshot summarises pool state for the status endpoint
type ProxyStatusSnapshot struct {
	Total     int
	Available int
	Cooling   int
	Unhealthy int
	InUse     int
}

// BrowserStatusSnapshot summarises browser pool state
type BrowserStatusSnapshot struct {
	Running int
	Max     int
	Pages   int
}
