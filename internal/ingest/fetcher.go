// Package ingest drives the fetch-map-store cycle across the supported
// cities, under the provider's shared rate limit.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/breathsafe/airquality-core/internal/domain"
	"github.com/breathsafe/airquality-core/internal/observability"
)

// ProviderClient fetches one city's current reading from the external
// provider.
type ProviderClient interface {
	FetchCity(ctx context.Context, city string) (domain.Measurement, error)
}

// Fetcher paces provider calls: consecutive fetches are spaced by at least
// minDelay to respect the provider's aggregate rate limit. It is used from a
// single sequential cycle, never concurrently.
type Fetcher struct {
	client   ProviderClient
	clock    clockwork.Clock
	minDelay time.Duration
	lastCall time.Time
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewFetcher wraps a provider client with inter-request pacing.
func NewFetcher(client ProviderClient, minDelay time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{
		client:   client,
		clock:    clock,
		minDelay: minDelay,
		logger:   logger,
		metrics:  metrics,
	}
}

// FetchCity fetches and maps one city's reading, waiting out the minimum
// inter-request delay first. Storage is the caller's responsibility.
func (f *Fetcher) FetchCity(ctx context.Context, city string) (domain.Measurement, error) {
	if !f.lastCall.IsZero() {
		if wait := f.minDelay - f.clock.Since(f.lastCall); wait > 0 {
			if !sleepWithClock(ctx, f.clock, wait) {
				return domain.Measurement{}, ctx.Err()
			}
		}
	}
	f.lastCall = f.clock.Now()

	start := f.clock.Now()
	m, err := f.client.FetchCity(ctx, city)
	f.metrics.FetchDuration.Observe(f.clock.Since(start).Seconds())
	f.metrics.FetchRequests.WithLabelValues(fetchOutcome(err)).Inc()

	if err != nil {
		return domain.Measurement{}, err
	}
	return m, nil
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrInvalidData):
		return "invalid_data"
	default:
		return "network_error"
	}
}

// sleepWithClock waits for d on the injected clock, returning false if the
// context is cancelled first.
func sleepWithClock(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
