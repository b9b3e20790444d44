package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
)

// Channels routes a triggered alert to its rule's delivery channel.
// The log channel always works; email and webhook depend on their
// sinks being wired, falling back to a warn-level log entry otherwise.
type Channels struct {
	email   ports.EmailSink
	webhook ports.WebhookSink
	logger  *logger.StyledLogger
}

func NewChannels(email ports.EmailSink, webhook ports.WebhookSink, log *logger.StyledLogger) *Channels {
	return &Channels{
		email:   email,
		webhook: webhook,
		logger:  log,
	}
}

// Dispatch delivers a trigger on its rule's channel. Sink failures are
// logged, never propagated: the trigger record already exists.
func (c *Channels) Dispatch(ctx context.Context, rule *domain.AlertRule, trigger *domain.TriggeredAlert) {
	switch rule.Channel {
	case domain.ChannelEmail:
		c.dispatchEmail(ctx, rule, trigger)
	case domain.ChannelWebhook:
		c.dispatchWebhook(ctx, rule, trigger)
	default:
		c.logTrigger(rule, trigger)
	}
}

func (c *Channels) logTrigger(rule *domain.AlertRule, trigger *domain.TriggeredAlert) {
	c.logger.WarnAlert(describeTrigger(rule, trigger), rule.ID,
		"account_id", trigger.AccountID,
		"metric", trigger.Metric,
		"actual", trigger.ActualValue,
		"threshold", trigger.Threshold)
}

func (c *Channels) dispatchEmail(ctx context.Context, rule *domain.AlertRule, trigger *domain.TriggeredAlert) {
	if c.email == nil {
		c.logTrigger(rule, trigger)
		return
	}

	to := rule.ChannelConfig["to"]
	subject := fmt.Sprintf("Alert: %s %s %g for account %s",
		trigger.Metric, trigger.Op, trigger.Threshold, trigger.AccountID)
	if err := c.email.SendEmail(ctx, to, subject, describeTrigger(rule, trigger)); err != nil {
		c.logger.Warn("Alert email delivery failed", "rule", rule.ID, "to", to, "error", err)
	}
}

func (c *Channels) dispatchWebhook(ctx context.Context, rule *domain.AlertRule, trigger *domain.TriggeredAlert) {
	if c.webhook == nil {
		c.logTrigger(rule, trigger)
		return
	}

	url := rule.ChannelConfig["url"]
	payload := map[string]interface{}{
		"id":          trigger.ID,
		"ruleId":      trigger.RuleID,
		"accountId":   trigger.AccountID,
		"metric":      trigger.Metric,
		"op":          string(trigger.Op),
		"threshold":   trigger.Threshold,
		"actualValue": trigger.ActualValue,
		"sampleAt":    trigger.SampleAt,
		"firedAt":     trigger.FiredAt,
		"description": rule.Description,
	}
	if err := c.webhook.SendWebhook(ctx, url, payload); err != nil {
		c.logger.Warn("Alert webhook delivery failed", "rule", rule.ID, "url", url, "error", err)
	}
}

func describeTrigger(rule *domain.AlertRule, trigger *domain.TriggeredAlert) string {
	desc := rule.Description
	if desc == "" {
		desc = fmt.Sprintf("%s %s %g", trigger.Metric, trigger.Op, trigger.Threshold)
	}
	return fmt.Sprintf("%s (actual %g)", desc, trigger.ActualValue)
}

// HTTPWebhookSink posts alert payloads as JSON
type HTTPWebhookSink struct {
	client *http.Client
}

func NewHTTPWebhookSink(timeout time.Duration) *HTTPWebhookSink {
	return &HTTPWebhookSink{
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPWebhookSink) SendWebhook(ctx context.Context, url string, payload interface{}) error {
	if url == "" {
		return domain.NewValidationError("url", url, "webhook rule has no url configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code %d", resp.StatusCode)
	}
	return nil
}

// LogEmailSink is the fallback email sink: no SMTP relay is part of the
// engine, so delivery is recorded in the log for an external relay to
// pick up
type LogEmailSink struct {
	logger *logger.StyledLogger
}

func NewLogEmailSink(log *logger.StyledLogger) *LogEmailSink {
	return &LogEmailSink{logger: log}
}

func (s *LogEmailSink) SendEmail(ctx context.Context, to, subject, body string) error {
	s.logger.Warn("Alert email (no relay configured)", "to", to, "subject", subject, "body", body)
	return nil
}

var _ ports.WebhookSink = (*HTTPWebhookSink)(nil)
var _ ports.EmailSink = (*LogEmailSink)(nil)

// used by config loading to honour the webhook timeout default
func WebhookTimeout(cfg config.AlertsConfig) time.Duration {
	if cfg.WebhookTimeout > 0 {
		return cfg.WebhookTimeout
	}
	return 10 * time.Second
}
