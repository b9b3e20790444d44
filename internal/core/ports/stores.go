package ports

import (
	"context"
	"time"

	"github.com/thushan/perch/internal/core/domain"
)

// AccountStore is the durable persistence boundary for accounts. The
// engine does not own a database; in-memory and sqlite implementations
// sit behind this interface and configuration selects the wiring.
type AccountStore interface {
	LoadAll(ctx context.Context) ([]*domain.Account, error)
	Upsert(ctx context.Context, account *domain.Account) error
	Delete(ctx context.Context, id string) error
}

// SampleStore is the metrics sink and query surface. Put preserves
// (AccountID, ObservedAt) uniqueness and fails with a ConflictError on
// duplicates. Range returns newest-first.
type SampleStore interface {
	Put(ctx context.Context, sample *domain.Sample) error
	LatestFor(ctx context.Context, accountID string) (*domain.Sample, error)
	Latest(ctx context.Context, limit int) ([]*domain.Sample, error)
	Range(ctx context.Context, accountID string, from, to time.Time, limit int) ([]*domain.Sample, error)
}

// AlertStore persists rule definitions across restarts
type AlertStore interface {
	LoadRules(ctx context.Context) ([]*domain.AlertRule, error)
	UpsertRule(ctx context.Context, rule *domain.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
}

// EmailSink delivers alert notifications over email; an external
// collaborator in production, a logging fallback otherwise
type EmailSink interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// WebhookSink posts alert payloads to operator-configured endpoints
type WebhookSink interface {
	SendWebhook(ctx context.Context, url string, payload interface{}) error
}
