package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/thushan/perch/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "perch.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	scraped := time.Date(2026, 4, 1, 10, 30, 0, 123456789, time.UTC)
	account := &domain.Account{
		ID:            "acct-1",
		Username:      "wanderer",
		DisplayName:   "The Wanderer",
		ProfileURL:    "https://example.test/wanderer",
		Priority:      4,
		Active:        true,
		Tags:          []string{"travel", "photo"},
		CreatedAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		LastScrapedAt: &scraped,
		LastError: &domain.ScrapeError{
			Message: "proxy tunnel failed",
			At:      scraped,
		},
	}
	if err := store.Upsert(ctx, account); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	loaded, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d accounts, want 1", len(loaded))
	}
	got := loaded[0]
	if got.ID != account.ID || got.Username != account.Username ||
		got.DisplayName != account.DisplayName || got.Priority != account.Priority ||
		!got.Active {
		t.Errorf("account fields did not survive round trip: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "travel" {
		t.Errorf("tags = %v", got.Tags)
	}
	if got.LastScrapedAt == nil || !got.LastScrapedAt.Equal(scraped) {
		t.Errorf("lastScrapedAt = %v, want %v", got.LastScrapedAt, scraped)
	}
	if got.LastError == nil || got.LastError.Message != "proxy tunnel failed" {
		t.Errorf("lastError = %+v", got.LastError)
	}
}

func TestAccountUpsertOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := &domain.Account{
		ID: "acct-1", Username: "before", Priority: 3, Active: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := store.Upsert(ctx, account); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	account.Username = "after"
	account.Active = false
	if err := store.Upsert(ctx, account); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	loaded, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d accounts, want 1", len(loaded))
	}
	if loaded[0].Username != "after" || loaded[0].Active {
		t.Errorf("upsert did not overwrite: %+v", loaded[0])
	}
}

func TestAccountDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := &domain.Account{
		ID: "acct-1", Username: "gone", Priority: 1, Active: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := store.Upsert(ctx, account); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Delete(ctx, "acct-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var nfErr *domain.NotFoundError
	if err := store.Delete(ctx, "acct-1"); !errors.As(err, &nfErr) {
		t.Errorf("second delete: expected not-found, got %v", err)
	}
}

func TestAlertRuleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	triggered := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	rule := &domain.AlertRule{
		ID:              "rule-1",
		AccountID:       "acct-1",
		Metric:          "followers",
		Op:              domain.OpGreaterThan,
		Threshold:       10000,
		Window:          "24h",
		Channel:         domain.ChannelWebhook,
		ChannelConfig:   map[string]string{"url": "https://hooks.example.test/x"},
		Description:     "follower spike",
		Active:          true,
		LastTriggeredAt: &triggered,
		CreatedAt:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:       time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
	}
	if err := store.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("UpsertRule: %v", err)
	}

	rules, err := store.LoadRules(ctx)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("loaded %d rules, want 1", len(rules))
	}
	got := rules[0]
	if got.Op != domain.OpGreaterThan || got.Channel != domain.ChannelWebhook {
		t.Errorf("enums did not survive: op=%s channel=%s", got.Op, got.Channel)
	}
	if got.ChannelConfig["url"] != "https://hooks.example.test/x" {
		t.Errorf("channelConfig = %v", got.ChannelConfig)
	}
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(triggered) {
		t.Errorf("lastTriggeredAt = %v", got.LastTriggeredAt)
	}
}

func TestAlertRulesOrderedByCreation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r-c", "r-a", "r-b"} {
		rule := &domain.AlertRule{
			ID: id, AccountID: "acct-1", Metric: "followers",
			Op: domain.OpGreaterThan, Channel: domain.ChannelLog, Active: true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.UpsertRule(ctx, rule); err != nil {
			t.Fatalf("UpsertRule(%s): %v", id, err)
		}
	}

	rules, err := store.LoadRules(ctx)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	want := []string{"r-c", "r-a", "r-b"}
	for i, rule := range rules {
		if rule.ID != want[i] {
			t.Errorf("position %d = %s, want %s", i, rule.ID, want[i])
		}
	}
}

func TestDeleteRuleNotFound(t *testing.T) {
	store := newTestStore(t)

	var nfErr *domain.NotFoundError
	if err := store.DeleteRule(context.Background(), "missing"); !errors.As(err, &nfErr) {
		t.Errorf("expected not-found, got %v", err)
	}
}
