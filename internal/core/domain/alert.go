package domain

import (
	"time"
)

// CompareOp is the comparison operator of an alert rule
type CompareOp string

const (
	OpGreaterThan    CompareOp = "gt"
	OpLessThan       CompareOp = "lt"
	OpGreaterOrEqual CompareOp = "gte"
	OpLessOrEqual    CompareOp = "lte"
	OpEqual          CompareOp = "eq"
	OpNotEqual       CompareOp = "ne"
)

// ValidOp reports whether op is a supported comparison operator
func ValidOp(op CompareOp) bool {
	switch op {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual, OpEqual, OpNotEqual:
		return true
	default:
		return false
	}
}

// Compare applies op to (actual, threshold)
func (op CompareOp) Compare(actual, threshold float64) bool {
	switch op {
	case OpGreaterThan:
		return actual > threshold
	case OpLessThan:
		return actual < threshold
	case OpGreaterOrEqual:
		return actual >= threshold
	case OpLessOrEqual:
		return actual <= threshold
	case OpEqual:
		return actual == threshold
	case OpNotEqual:
		return actual != threshold
	default:
		return false
	}
}

// AlertChannel is the delivery channel for triggered alerts
type AlertChannel string

const (
	ChannelLog     AlertChannel = "log"
	ChannelEmail   AlertChannel = "email"
	ChannelWebhook AlertChannel = "webhook"
)

// ValidChannel reports whether ch is a supported alert channel
func ValidChannel(ch AlertChannel) bool {
	switch ch {
	case ChannelLog, ChannelEmail, ChannelWebhook:
		return true
	default:
		return false
	}
}

// AlertRule is a declarative predicate over a sample metric path, bound
// to one account and evaluated on every newly ingested sample.
type AlertRule struct {
	ID              string
	AccountID       string
	Metric          string
	Op              CompareOp
	Threshold       float64
	Window          string
	Channel         AlertChannel
	ChannelConfig   map[string]string
	Description     string
	Active          bool
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy of the rule
func (r *AlertRule) Clone() *AlertRule {
	clone := *r
	if r.ChannelConfig != nil {
		clone.ChannelConfig = make(map[string]string, len(r.ChannelConfig))
		for k, v := range r.ChannelConfig {
			clone.ChannelConfig[k] = v
		}
	}
	if r.LastTriggeredAt != nil {
		t := *r.LastTriggeredAt
		clone.LastTriggeredAt = &t
	}
	return &clone
}

// TriggeredAlert is an immutable history entry recording that a rule
// fired against a specific sample.
type TriggeredAlert struct {
	ID          string
	RuleID      string
	AccountID   string
	Metric      string
	Op          CompareOp
	Threshold   float64
	ActualValue float64
	SampleAt    time.Time
	FiredAt     time.Time
}
