package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
	"github.com/thushan/perch/pkg/eventbus"
)

// Registry is the authoritative in-memory account set. Mutations are
// validated, mirrored to the durable store when one is wired, and
// published as change events for the scheduler. Reads hand out clones so
// callers never share memory with the registry.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account

	store  ports.AccountStore
	bus    *eventbus.EventBus[domain.AccountChange]
	clock  ports.Clock
	logger *logger.StyledLogger
}

// New builds a registry; store may be nil for a purely in-memory run
func New(store ports.AccountStore, bus *eventbus.EventBus[domain.AccountChange],
	clock ports.Clock, log *logger.StyledLogger) *Registry {
	return &Registry{
		accounts: make(map[string]*domain.Account),
		store:    store,
		bus:      bus,
		clock:    clock,
		logger:   log,
	}
}

// Load hydrates the registry from the durable store
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	accounts, err := r.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, account := range accounts {
		r.accounts[account.ID] = account.Clone()
	}
	r.mu.Unlock()

	r.logger.InfoWithCount("Accounts loaded", len(accounts))
	return nil
}

func (r *Registry) Add(ctx context.Context, account *domain.Account) error {
	if err := validate(account); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.accounts[account.ID]; exists {
		r.mu.Unlock()
		return domain.NewConflictError("account", account.ID)
	}
	if account.Active {
		if other := r.findByUsernameLocked(account.NormalisedUsername(), account.ID); other != nil {
			r.mu.Unlock()
			return domain.NewConflictError("username", account.Username)
		}
	}

	stored := account.Clone()
	now := r.clock.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.accounts[stored.ID] = stored
	published := stored.Clone()
	r.mu.Unlock()

	if err := r.persist(ctx, published); err != nil {
		return err
	}

	r.logger.InfoWithAccount("Account added", published.Username,
		"id", published.ID, "priority", published.Priority)
	r.publish(published.ID, domain.ChangeCreated)
	return nil
}

func (r *Registry) Update(ctx context.Context, account *domain.Account) error {
	if err := validate(account); err != nil {
		return err
	}

	r.mu.Lock()
	existing, exists := r.accounts[account.ID]
	if !exists {
		r.mu.Unlock()
		return domain.NewNotFoundError("account", account.ID)
	}
	if account.Active {
		if other := r.findByUsernameLocked(account.NormalisedUsername(), account.ID); other != nil {
			r.mu.Unlock()
			return domain.NewConflictError("username", account.Username)
		}
	}

	updated := account.Clone()
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = r.clock.Now()
	// Scrape bookkeeping is owned by the engine, not the caller
	updated.LastScrapedAt = existing.LastScrapedAt
	updated.LastError = existing.LastError

	kind := domain.ChangeUpdated
	switch {
	case existing.Active && !updated.Active:
		kind = domain.ChangeDeactivated
	case !existing.Active && updated.Active:
		kind = domain.ChangeActivated
	}

	r.accounts[updated.ID] = updated
	published := updated.Clone()
	r.mu.Unlock()

	if err := r.persist(ctx, published); err != nil {
		return err
	}

	r.logger.InfoWithAccount("Account updated", published.Username,
		"id", published.ID, "change", string(kind))
	r.publish(published.ID, kind)
	return nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	account, exists := r.accounts[id]
	if !exists {
		r.mu.Unlock()
		return domain.NewNotFoundError("account", id)
	}
	delete(r.accounts, id)
	username := account.Username
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			return err
		}
	}

	r.logger.InfoWithAccount("Account deleted", username, "id", id)
	r.publish(id, domain.ChangeDeleted)
	return nil
}

func (r *Registry) Get(ctx context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, exists := r.accounts[id]
	if !exists {
		return nil, domain.NewNotFoundError("account", id)
	}
	return account.Clone(), nil
}

func (r *Registry) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	needle := strings.ToLower(strings.TrimSpace(username))

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if account.NormalisedUsername() == needle {
			return account.Clone(), nil
		}
	}
	return nil, domain.NewNotFoundError("account", username)
}

// List returns accounts matching the filter, ordered by username for
// stable output
func (r *Registry) List(ctx context.Context, filter ports.AccountFilter) ([]*domain.Account, error) {
	r.mu.RLock()
	matched := make([]*domain.Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		if filter.Active != nil && account.Active != *filter.Active {
			continue
		}
		if filter.Priority != nil && account.Priority != *filter.Priority {
			continue
		}
		if filter.Tag != "" && !account.HasTag(filter.Tag) {
			continue
		}
		matched = append(matched, account.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].NormalisedUsername() < matched[j].NormalisedUsername()
	})
	return matched, nil
}

// NextToScrape returns the active account with the highest scheduling
// urgency: priority descending, then oldest (never-scraped first)
func (r *Registry) NextToScrape(ctx context.Context) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *domain.Account
	for _, account := range r.accounts {
		if !account.Active {
			continue
		}
		if best == nil || moreUrgent(account, best) {
			best = account
		}
	}
	if best == nil {
		return nil, domain.NewNotFoundError("account", "no active accounts")
	}
	return best.Clone(), nil
}

func moreUrgent(a, b *domain.Account) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	// Never-scraped sorts before everything
	switch {
	case a.LastScrapedAt == nil:
		return b.LastScrapedAt != nil
	case b.LastScrapedAt == nil:
		return false
	default:
		return a.LastScrapedAt.Before(*b.LastScrapedAt)
	}
}

// RecordScrape stamps a successful fetch and clears any prior error
func (r *Registry) RecordScrape(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	account, exists := r.accounts[id]
	if !exists {
		r.mu.Unlock()
		return domain.NewNotFoundError("account", id)
	}
	scraped := at
	account.LastScrapedAt = &scraped
	account.LastError = nil
	account.UpdatedAt = r.clock.Now()
	persisted := account.Clone()
	r.mu.Unlock()

	return r.persist(ctx, persisted)
}

// RecordError stamps the most recent fetch failure
func (r *Registry) RecordError(ctx context.Context, id string, scrapeErr *domain.ScrapeError) error {
	r.mu.Lock()
	account, exists := r.accounts[id]
	if !exists {
		r.mu.Unlock()
		return domain.NewNotFoundError("account", id)
	}
	account.LastError = scrapeErr
	account.UpdatedAt = r.clock.Now()
	persisted := account.Clone()
	r.mu.Unlock()

	return r.persist(ctx, persisted)
}

// Count reports how many accounts are registered
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

func (r *Registry) findByUsernameLocked(normalised, excludeID string) *domain.Account {
	for _, account := range r.accounts {
		if account.ID == excludeID || !account.Active {
			continue
		}
		if account.NormalisedUsername() == normalised {
			return account
		}
	}
	return nil
}

func (r *Registry) persist(ctx context.Context, account *domain.Account) error {
	if r.store == nil {
		return nil
	}
	return r.store.Upsert(ctx, account)
}

func (r *Registry) publish(id string, kind domain.ChangeKind) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(domain.AccountChange{
		AccountID: id,
		Kind:      kind,
		At:        r.clock.Now(),
	})
}

func validate(account *domain.Account) error {
	if account == nil {
		return domain.NewValidationError("account", nil, "must not be nil")
	}
	if strings.TrimSpace(account.ID) == "" {
		return domain.NewValidationError("id", account.ID, "must not be empty")
	}
	if strings.TrimSpace(account.Username) == "" {
		return domain.NewValidationError("username", account.Username, "must not be empty")
	}
	if !domain.ValidPriority(account.Priority) {
		return domain.NewValidationError("priority", account.Priority, "must be between 1 and 5")
	}
	return nil
}
