package domain

import (
	"strings"
	"time"
)

const (
	// Priority bounds: higher number means more frequent scraping.
	PriorityMin = 1
	PriorityMax = 5
)

// Account identifies a tracked remote profile. The ID is stable for the
// lifetime of the account; the username is unique (case-insensitive)
// across active accounts.
type Account struct {
	ID            string
	Username      string
	DisplayName   string
	ProfileURL    string
	Priority      int
	Active        bool
	Tags          []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastScrapedAt *time.Time
	LastError     *ScrapeError
}

// ScrapeError records the most recent fetch failure for an account
type ScrapeError struct {
	Message string
	At      time.Time
}

// NormalisedUsername returns the username folded for uniqueness checks
func (a *Account) NormalisedUsername() string {
	return strings.ToLower(strings.TrimSpace(a.Username))
}

// HasTag reports whether the account carries the given tag
func (a *Account) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ValidPriority reports whether p falls in the supported 1..5 range
func ValidPriority(p int) bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Clone returns a deep copy so callers can mutate without racing readers
func (a *Account) Clone() *Account {
	clone := *a
	if a.Tags != nil {
		clone.Tags = append([]string(nil), a.Tags...)
	}
	if a.LastScrapedAt != nil {
		t := *a.LastScrapedAt
		clone.LastScrapedAt = &t
	}
	if a.LastError != nil {
		e := *a.LastError
		clone.LastError = &e
	}
	return &clone
}
