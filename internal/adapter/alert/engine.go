package alert

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
)

// Engine holds the alert rule set and an append-only trigger history.
// Every ingested sample is evaluated against the active rules bound to
// its account, in rule insertion order; matches fire the rule's channel
// sink and are recorded regardless of sink outcome.
type Engine struct {
	mu      sync.RWMutex
	rules   map[string]*domain.AlertRule
	order   []string
	history []*domain.TriggeredAlert

	store    ports.AlertStore
	channels *Channels
	cfg      config.AlertsConfig
	clock    ports.Clock
	logger   *logger.StyledLogger
}

// HistoryFilter narrows trigger history queries; zero fields match all
type HistoryFilter struct {
	AccountID string
	RuleID    string
}

// RuleFilter narrows rule listing; zero fields match all
type RuleFilter struct {
	AccountID string
	Active    *bool
}

// New builds an engine; store may be nil for a purely in-memory rule set
func New(cfg config.AlertsConfig, store ports.AlertStore, channels *Channels,
	clock ports.Clock, log *logger.StyledLogger) *Engine {
	return &Engine{
		rules:    make(map[string]*domain.AlertRule),
		store:    store,
		channels: channels,
		cfg:      cfg,
		clock:    clock,
		logger:   log,
	}
}

// Load hydrates rules from the durable store
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	rules, err := e.store.LoadRules(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, rule := range rules {
		if _, exists := e.rules[rule.ID]; !exists {
			e.order = append(e.order, rule.ID)
		}
		e.rules[rule.ID] = rule.Clone()
	}
	e.mu.Unlock()

	e.logger.InfoWithCount("Alert rules loaded", len(rules))
	return nil
}

func (e *Engine) AddRule(ctx context.Context, rule *domain.AlertRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	e.mu.Lock()
	if _, exists := e.rules[rule.ID]; exists {
		e.mu.Unlock()
		return domain.NewConflictError("alert rule", rule.ID)
	}
	stored := rule.Clone()
	now := e.clock.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	e.rules[stored.ID] = stored
	e.order = append(e.order, stored.ID)
	persisted := stored.Clone()
	e.mu.Unlock()

	if err := e.persist(ctx, persisted); err != nil {
		return err
	}
	e.logger.Info("Alert rule added", "rule", rule.ID,
		"account_id", rule.AccountID, "metric", rule.Metric,
		"op", string(rule.Op), "threshold", rule.Threshold)
	return nil
}

func (e *Engine) UpdateRule(ctx context.Context, rule *domain.AlertRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	e.mu.Lock()
	existing, exists := e.rules[rule.ID]
	if !exists {
		e.mu.Unlock()
		return domain.NewNotFoundError("alert rule", rule.ID)
	}
	updated := rule.Clone()
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = e.clock.Now()
	updated.LastTriggeredAt = existing.LastTriggeredAt
	e.rules[updated.ID] = updated
	persisted := updated.Clone()
	e.mu.Unlock()

	return e.persist(ctx, persisted)
}

func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, exists := e.rules[id]; !exists {
		e.mu.Unlock()
		return domain.NewNotFoundError("alert rule", id)
	}
	delete(e.rules, id)
	for i, ruleID := range e.order {
		if ruleID == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if e.store != nil {
		return e.store.DeleteRule(ctx, id)
	}
	return nil
}

func (e *Engine) GetRule(ctx context.Context, id string) (*domain.AlertRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rule, exists := e.rules[id]
	if !exists {
		return nil, domain.NewNotFoundError("alert rule", id)
	}
	return rule.Clone(), nil
}

// ListRules returns matching rules in insertion order
func (e *Engine) ListRules(ctx context.Context, filter RuleFilter) ([]*domain.AlertRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	matched := make([]*domain.AlertRule, 0, len(e.order))
	for _, id := range e.order {
		rule := e.rules[id]
		if filter.AccountID != "" && rule.AccountID != filter.AccountID {
			continue
		}
		if filter.Active != nil && rule.Active != *filter.Active {
			continue
		}
		matched = append(matched, rule.Clone())
	}
	return matched, nil
}

// Evaluate checks every active rule bound to the sample's account, in
// insertion order. A missing metric path means the rule is skipped, not
// triggered. Matches are recorded and dispatched; a failing sink never
// suppresses the trigger record.
func (e *Engine) Evaluate(ctx context.Context, sample *domain.Sample) ([]*domain.TriggeredAlert, error) {
	e.mu.Lock()
	var fired []*domain.TriggeredAlert
	var dispatches []*domain.AlertRule

	for _, id := range e.order {
		rule := e.rules[id]
		if !rule.Active || rule.AccountID != sample.AccountID {
			continue
		}

		actual, ok := sample.Field(rule.Metric)
		if !ok {
			continue
		}
		if !rule.Op.Compare(actual, rule.Threshold) {
			continue
		}

		trigger := &domain.TriggeredAlert{
			ID:          uuid.NewString(),
			RuleID:      rule.ID,
			AccountID:   rule.AccountID,
			Metric:      rule.Metric,
			Op:          rule.Op,
			Threshold:   rule.Threshold,
			ActualValue: actual,
			SampleAt:    sample.ObservedAt,
			FiredAt:     e.clock.Now(),
		}
		triggeredAt := sample.ObservedAt
		rule.LastTriggeredAt = &triggeredAt

		fired = append(fired, trigger)
		dispatches = append(dispatches, rule.Clone())
		e.appendHistoryLocked(trigger)
	}
	e.mu.Unlock()

	for i, trigger := range fired {
		e.channels.Dispatch(ctx, dispatches[i], trigger)
	}
	return fired, nil
}

// History returns recorded triggers, newest first, up to limit
func (e *Engine) History(ctx context.Context, filter HistoryFilter, limit int) ([]*domain.TriggeredAlert, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	matched := make([]*domain.TriggeredAlert, 0, len(e.history))
	for i := len(e.history) - 1; i >= 0; i-- {
		trigger := e.history[i]
		if filter.AccountID != "" && trigger.AccountID != filter.AccountID {
			continue
		}
		if filter.RuleID != "" && trigger.RuleID != filter.RuleID {
			continue
		}
		copied := *trigger
		matched = append(matched, &copied)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

// appendHistoryLocked records a trigger, evicting the oldest entries
// beyond the configured cap
func (e *Engine) appendHistoryLocked(trigger *domain.TriggeredAlert) {
	e.history = append(e.history, trigger)
	if e.cfg.HistoryLimit > 0 && len(e.history) > e.cfg.HistoryLimit {
		overflow := len(e.history) - e.cfg.HistoryLimit
		e.history = append([]*domain.TriggeredAlert(nil), e.history[overflow:]...)
	}
}

func (e *Engine) persist(ctx context.Context, rule *domain.AlertRule) error {
	if e.store == nil {
		return nil
	}
	return e.store.UpsertRule(ctx, rule)
}

func validateRule(rule *domain.AlertRule) error {
	if rule == nil {
		return domain.NewValidationError("rule", nil, "must not be nil")
	}
	if strings.TrimSpace(rule.ID) == "" {
		return domain.NewValidationError("id", rule.ID, "must not be empty")
	}
	if strings.TrimSpace(rule.AccountID) == "" {
		return domain.NewValidationError("accountId", rule.AccountID, "must not be empty")
	}
	if _, ok := knownMetricPath(rule.Metric); !ok {
		return domain.NewValidationError("metric", rule.Metric, "unknown metric path")
	}
	if !domain.ValidOp(rule.Op) {
		return domain.NewValidationError("op", string(rule.Op), "unknown comparison operator")
	}
	if !domain.ValidChannel(rule.Channel) {
		return domain.NewValidationError("channel", string(rule.Channel), "unknown alert channel")
	}
	return nil
}

func knownMetricPath(path string) (string, bool) {
	for _, known := range domain.FieldPaths() {
		if known == path {
			return known, true
		}
	}
	return "", false
}
