package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
	"github.com/thushan/perch/pkg/eventbus"
	"github.com/thushan/perch/theme"
)

func newTestRegistry(t *testing.T) (*Registry, *eventbus.EventBus[domain.AccountChange], *ports.FakeClock) {
	t.Helper()
	clock := ports.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := eventbus.NewWithConfig[domain.AccountChange](eventbus.EventBusConfig{BufferSize: 16})
	t.Cleanup(bus.Shutdown)
	log := logger.NewStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), theme.Default())
	return New(nil, bus, clock, log), bus, clock
}

func testAccount(id, username string, priority int) *domain.Account {
	return &domain.Account{
		ID:       id,
		Username: username,
		Priority: priority,
		Active:   true,
	}
}

func TestAddAndGet(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, testAccount("a1", "octocat", 5)); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := r.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Username != "octocat" || got.Priority != 5 {
		t.Errorf("unexpected account: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped on add")
	}
}

func TestAddRejectsInvalidInput(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		account *domain.Account
	}{
		{"empty id", testAccount("", "x", 3)},
		{"empty username", testAccount("a1", "", 3)},
		{"priority too low", testAccount("a1", "x", 0)},
		{"priority too high", testAccount("a1", "x", 6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Add(ctx, tt.account)
			var validation *domain.ValidationError
			if !errors.As(err, &validation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUsernameUniqueAcrossActiveAccounts(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, testAccount("a1", "Octocat", 3)); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Same handle, different case, also active: conflict
	err := r.Add(ctx, testAccount("a2", "octocat", 3))
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict for duplicate active username, got %v", err)
	}

	// An inactive duplicate is allowed
	inactive := testAccount("a3", "OCTOCAT", 3)
	inactive.Active = false
	if err := r.Add(ctx, inactive); err != nil {
		t.Fatalf("inactive duplicate should be allowed: %v", err)
	}

	// Reactivating it collides again
	inactive.Active = true
	err = r.Update(ctx, inactive)
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on reactivation, got %v", err)
	}
}

func TestUpdatePreservesScrapeBookkeeping(t *testing.T) {
	r, _, clock := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, testAccount("a1", "octocat", 3)); err != nil {
		t.Fatalf("add: %v", err)
	}
	scrapedAt := clock.Now()
	if err := r.RecordScrape(ctx, "a1", scrapedAt); err != nil {
		t.Fatalf("record scrape: %v", err)
	}

	updated := testAccount("a1", "octocat", 5)
	// Caller-supplied bookkeeping must be ignored
	updated.LastScrapedAt = nil
	if err := r.Update(ctx, updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := r.Get(ctx, "a1")
	if got.Priority != 5 {
		t.Errorf("priority not updated: %d", got.Priority)
	}
	if got.LastScrapedAt == nil || !got.LastScrapedAt.Equal(scrapedAt) {
		t.Errorf("lastScrapedAt lost on update: %v", got.LastScrapedAt)
	}
}

func TestChangeEvents(t *testing.T) {
	r, bus, _ := newTestRegistry(t)
	ctx := context.Background()

	events, cleanup := bus.Subscribe(ctx)
	defer cleanup()

	if err := r.Add(ctx, testAccount("a1", "octocat", 3)); err != nil {
		t.Fatalf("add: %v", err)
	}

	deactivated := testAccount("a1", "octocat", 3)
	deactivated.Active = false
	if err := r.Update(ctx, deactivated); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	deactivated.Active = true
	if err := r.Update(ctx, deactivated); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := r.Delete(ctx, "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []domain.ChangeKind{
		domain.ChangeCreated,
		domain.ChangeDeactivated,
		domain.ChangeActivated,
		domain.ChangeDeleted,
	}
	for i, kind := range want {
		select {
		case ev := <-events:
			if ev.Kind != kind || ev.AccountID != "a1" {
				t.Errorf("event %d = {%s %s}, want kind %s", i, ev.AccountID, ev.Kind, kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d (%s)", i, kind)
		}
	}
}

func TestListFilters(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	a := testAccount("a1", "alpha", 5)
	a.Tags = []string{"vip"}
	b := testAccount("a2", "beta", 3)
	c := testAccount("a3", "gamma", 5)
	c.Active = false
	for _, account := range []*domain.Account{a, b, c} {
		if err := r.Add(ctx, account); err != nil {
			t.Fatalf("add %s: %v", account.ID, err)
		}
	}

	active := true
	got, err := r.List(ctx, ports.AccountFilter{Active: &active})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("active filter returned %d accounts", len(got))
	}

	p5 := 5
	got, _ = r.List(ctx, ports.AccountFilter{Priority: &p5})
	if len(got) != 2 {
		t.Errorf("priority filter returned %d accounts", len(got))
	}

	got, _ = r.List(ctx, ports.AccountFilter{Tag: "vip"})
	if len(got) != 1 || got[0].ID != "a1" {
		t.Errorf("tag filter returned %+v", got)
	}
}

func TestNextToScrapeOrdering(t *testing.T) {
	r, _, clock := newTestRegistry(t)
	ctx := context.Background()

	low := testAccount("a1", "low", 1)
	high := testAccount("a2", "high", 5)
	scraped := testAccount("a3", "scraped", 5)
	for _, account := range []*domain.Account{low, high, scraped} {
		if err := r.Add(ctx, account); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := r.RecordScrape(ctx, "a3", clock.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Highest priority, never scraped, wins
	next, err := r.NextToScrape(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.ID != "a2" {
		t.Errorf("next = %s, want a2 (high priority, never scraped)", next.ID)
	}
}

func TestRecordErrorThenScrapeClearsIt(t *testing.T) {
	r, _, clock := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, testAccount("a1", "octocat", 3)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.RecordError(ctx, "a1", &domain.ScrapeError{Message: "navigation timeout", At: clock.Now()}); err != nil {
		t.Fatalf("record error: %v", err)
	}

	got, _ := r.Get(ctx, "a1")
	if got.LastError == nil || got.LastError.Message != "navigation timeout" {
		t.Fatalf("lastError not recorded: %+v", got.LastError)
	}

	clock.Advance(time.Minute)
	if err := r.RecordScrape(ctx, "a1", clock.Now()); err != nil {
		t.Fatalf("record scrape: %v", err)
	}
	got, _ = r.Get(ctx, "a1")
	if got.LastError != nil {
		t.Error("successful scrape must clear lastError")
	}
}

func TestGetByUsernameCaseInsensitive(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, testAccount("a1", "OctoCat", 3)); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := r.GetByUsername(ctx, "octocat")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if got.ID != "a1" {
		t.Errorf("wrong account: %+v", got)
	}
}
