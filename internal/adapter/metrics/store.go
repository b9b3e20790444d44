package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/thushan/perch/internal/core/domain"
)

// Store is the in-memory reference implementation of the sample store:
// an append-only time series per account, kept in ascending observation
// order. (AccountID, ObservedAt) is unique; a duplicate put conflicts.
type Store struct {
	mu      sync.RWMutex
	samples map[string][]*domain.Sample
}

func NewStore() *Store {
	return &Store{
		samples: make(map[string][]*domain.Sample),
	}
}

// Put appends a sample, keeping the per-account series sorted by
// observation time
func (s *Store) Put(ctx context.Context, sample *domain.Sample) error {
	if sample == nil || sample.AccountID == "" {
		return domain.NewValidationError("sample", sample, "must carry an account id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.samples[sample.AccountID]
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].ObservedAt.Before(sample.ObservedAt)
	})
	if idx < len(series) && series[idx].ObservedAt.Equal(sample.ObservedAt) {
		return domain.NewConflictError("sample", sample.AccountID+"@"+sample.ObservedAt.Format(time.RFC3339Nano))
	}

	stored := sample.Clone()
	series = append(series, nil)
	copy(series[idx+1:], series[idx:])
	series[idx] = stored
	s.samples[sample.AccountID] = series
	return nil
}

// LatestFor returns the newest sample for an account
func (s *Store) LatestFor(ctx context.Context, accountID string) (*domain.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.samples[accountID]
	if len(series) == 0 {
		return nil, domain.NewNotFoundError("sample", accountID)
	}
	return series[len(series)-1].Clone(), nil
}

// Latest returns each account's newest sample, newest first, up to limit
func (s *Store) Latest(ctx context.Context, limit int) ([]*domain.Sample, error) {
	s.mu.RLock()
	latest := make([]*domain.Sample, 0, len(s.samples))
	for _, series := range s.samples {
		if len(series) > 0 {
			latest = append(latest, series[len(series)-1].Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(latest, func(i, j int) bool {
		return latest[i].ObservedAt.After(latest[j].ObservedAt)
	})
	if limit > 0 && len(latest) > limit {
		latest = latest[:limit]
	}
	return latest, nil
}

// Range returns an account's samples within [from, to], newest first,
// up to limit. Zero bounds are open.
func (s *Store) Range(ctx context.Context, accountID string, from, to time.Time, limit int) ([]*domain.Sample, error) {
	s.mu.RLock()
	series := s.samples[accountID]
	matched := make([]*domain.Sample, 0, len(series))
	// Walk backwards so output is newest-first
	for i := len(series) - 1; i >= 0; i-- {
		sample := series[i]
		if !to.IsZero() && sample.ObservedAt.After(to) {
			continue
		}
		if !from.IsZero() && sample.ObservedAt.Before(from) {
			break
		}
		matched = append(matched, sample.Clone())
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	s.mu.RUnlock()
	return matched, nil
}

// Count reports the number of stored samples for an account
func (s *Store) Count(accountID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples[accountID])
}
