package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
)

var _ ports.AlertStore = (*Store)(nil)

// LoadRules returns every stored rule in creation order, which the
// alert engine preserves as its evaluation order.
func (s *Store) LoadRules(ctx context.Context) ([]*domain.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, metric, op, threshold, window, channel,
		       channel_config, description, active, last_triggered_at,
		       created_at, updated_at
		FROM alert_rules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []*domain.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) UpsertRule(ctx context.Context, rule *domain.AlertRule) error {
	channelConfig, err := json.Marshal(rule.ChannelConfig)
	if err != nil {
		return fmt.Errorf("failed to encode channel config for %s: %w", rule.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, account_id, metric, op, threshold,
		                         window, channel, channel_config, description,
		                         active, last_triggered_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			metric = excluded.metric,
			op = excluded.op,
			threshold = excluded.threshold,
			window = excluded.window,
			channel = excluded.channel,
			channel_config = excluded.channel_config,
			description = excluded.description,
			active = excluded.active,
			last_triggered_at = excluded.last_triggered_at,
			updated_at = excluded.updated_at`,
		rule.ID, rule.AccountID, rule.Metric, string(rule.Op), rule.Threshold,
		rule.Window, string(rule.Channel), string(channelConfig), rule.Description,
		rule.Active, encodeOptionalTime(rule.LastTriggeredAt),
		encodeTime(rule.CreatedAt), encodeTime(rule.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert alert rule %s: %w", rule.ID, err)
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.NewNotFoundError("alert rule", id)
	}
	return nil
}

func scanRule(row rowScanner) (*domain.AlertRule, error) {
	var (
		rule             domain.AlertRule
		op               string
		channel          string
		channelConfigRaw string
		lastTriggeredRaw sql.NullString
		createdRaw       string
		updatedRaw       string
	)
	if err := row.Scan(&rule.ID, &rule.AccountID, &rule.Metric, &op,
		&rule.Threshold, &rule.Window, &channel, &channelConfigRaw,
		&rule.Description, &rule.Active, &lastTriggeredRaw,
		&createdRaw, &updatedRaw); err != nil {
		return nil, fmt.Errorf("failed to scan alert rule row: %w", err)
	}

	rule.Op = domain.CompareOp(op)
	rule.Channel = domain.AlertChannel(channel)
	if err := json.Unmarshal([]byte(channelConfigRaw), &rule.ChannelConfig); err != nil {
		return nil, fmt.Errorf("failed to decode channel config for %s: %w", rule.ID, err)
	}

	var err error
	if rule.LastTriggeredAt, err = decodeOptionalTime(lastTriggeredRaw); err != nil {
		return nil, fmt.Errorf("bad last_triggered_at for %s: %w", rule.ID, err)
	}
	if rule.CreatedAt, err = decodeTime(createdRaw); err != nil {
		return nil, fmt.Errorf("bad created_at for %s: %w", rule.ID, err)
	}
	if rule.UpdatedAt, err = decodeTime(updatedRaw); err != nil {
		return nil, fmt.Errorf("bad updated_at for %s: %w", rule.ID, err)
	}
	return &rule, nil
}
