package app

import (
	"context"
	"errors"
	"time"

	"github.com/thushan/perch/internal/adapter/telemetry"
	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
)

// instrumentedFetcher counts fetch outcomes and observes durations
type instrumentedFetcher struct {
	inner ports.Fetcher
	tel   *telemetry.Telemetry
}

func (f *instrumentedFetcher) Fetch(ctx context.Context, account *domain.Account) (*domain.Sample, error) {
	start := time.Now()
	sample, err := f.inner.Fetch(ctx, account)
	f.tel.ScrapeDuration.Observe(time.Since(start).Seconds())
	f.tel.ScrapesTotal.WithLabelValues(fetchOutcome(err)).Inc()
	return sample, err
}

func fetchOutcome(err error) string {
	if err == nil {
		return "success"
	}

	var navErr *domain.NavigationError
	var parseErr *domain.ParseError
	var transportErr *domain.TransportError
	var goneErr *domain.AccountGoneError
	switch {
	case errors.Is(err, domain.ErrNoProxyAvailable):
		return "no_proxy"
	case errors.As(err, &goneErr):
		return "account_gone"
	case errors.As(err, &navErr):
		return "navigation"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "error"
	}
}

// instrumentedSamples counts stored samples
type instrumentedSamples struct {
	inner ports.SampleStore
	tel   *telemetry.Telemetry
}

func (s *instrumentedSamples) Put(ctx context.Context, sample *domain.Sample) error {
	if err := s.inner.Put(ctx, sample); err != nil {
		return err
	}
	s.tel.SamplesStored.Inc()
	return nil
}

func (s *instrumentedSamples) LatestFor(ctx context.Context, accountID string) (*domain.Sample, error) {
	return s.inner.LatestFor(ctx, accountID)
}

func (s *instrumentedSamples) Latest(ctx context.Context, limit int) ([]*domain.Sample, error) {
	return s.inner.Latest(ctx, limit)
}

func (s *instrumentedSamples) Range(ctx context.Context, accountID string, from, to time.Time, limit int) ([]*domain.Sample, error) {
	return s.inner.Range(ctx, accountID, from, to, limit)
}

// instrumentedAlerts counts fired triggers
type instrumentedAlerts struct {
	inner ports.AlertEvaluator
	tel   *telemetry.Telemetry
}

func (a *instrumentedAlerts) Evaluate(ctx context.Context, sample *domain.Sample) ([]*domain.TriggeredAlert, error) {
	fired, err := a.inner.Evaluate(ctx, sample)
	if len(fired) > 0 {
		a.tel.AlertsTriggered.Add(float64(len(fired)))
	}
	return fired, err
}
