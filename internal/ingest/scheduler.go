package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/breathsafe/airquality-core/internal/domain"
	"github.com/breathsafe/airquality-core/internal/observability"
	"github.com/breathsafe/airquality-core/internal/store"
)

// CityFetcher is the scheduler's view of the paced fetcher.
type CityFetcher interface {
	FetchCity(ctx context.Context, city string) (domain.Measurement, error)
}

// MeasurementPublisher forwards stored measurements to a downstream sink.
// Optional; a nil publisher disables forwarding.
type MeasurementPublisher interface {
	PublishBatch(ctx context.Context, measurements []domain.Measurement) error
}

// CityFailure records why one city's ingestion failed within a cycle.
type CityFailure struct {
	City   string `json:"city"`
	Reason string `json:"reason"`
}

// Report summarizes one ingestion cycle. A cycle with at least one success is
// not an error; the failed list carries the partial failures.
type Report struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []CityFailure `json:"failed"`
	Stored    int           `json:"stored"`
}

// Policy holds the retry and pacing knobs for a cycle.
type Policy struct {
	RetryBaseDelay    time.Duration // exponential backoff base for transient failures
	RetryAttempts     int           // attempts per city, including the first
	RateLimitCooldown time.Duration // mandated wait before the single rate-limit retry
}

// Scheduler runs ingestion cycles: sequentially per city, one cycle in flight
// at a time, partial failures reported rather than fatal.
type Scheduler struct {
	fetcher   CityFetcher
	gateway   store.MeasurementStore
	publisher MeasurementPublisher
	cities    []string
	policy    Policy
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	running atomic.Bool
	ranOnce atomic.Bool
	trigger chan struct{}
}

// NewScheduler constructs a Scheduler. publisher may be nil.
func NewScheduler(fetcher CityFetcher, gateway store.MeasurementStore, publisher MeasurementPublisher,
	cities []string, policy Policy, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		fetcher:   fetcher,
		gateway:   gateway,
		publisher: publisher,
		cities:    cities,
		policy:    policy,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		trigger:   make(chan struct{}, 1),
	}
}

// RunCycle executes one polling-mode ingestion cycle across all cities.
// Re-triggering while a cycle runs returns domain.ErrCycleRunning; a cycle in
// which no city succeeded returns domain.ErrAllCitiesFailed alongside the
// report.
func (s *Scheduler) RunCycle(ctx context.Context) (Report, error) {
	return s.run(ctx, nil)
}

// RunBackfill executes a backfill cycle for the inclusive date range. Dates a
// city already has stored are skipped rather than overwritten; the city's
// current reading fills the missing dates.
func (s *Scheduler) RunBackfill(ctx context.Context, from, to time.Time) (Report, error) {
	if to.Before(from) {
		return Report{}, fmt.Errorf("backfill range: to %s before from %s", to.Format(domain.DateLayout), from.Format(domain.DateLayout))
	}
	return s.run(ctx, &dateRange{from: from, to: to})
}

type dateRange struct {
	from, to time.Time
}

func (r *dateRange) dates() []time.Time {
	var out []time.Time
	for d := r.from.UTC().Truncate(24 * time.Hour); !d.After(r.to.UTC()); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func (s *Scheduler) run(ctx context.Context, backfill *dateRange) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, domain.ErrCycleRunning
	}
	defer s.running.Store(false)

	s.metrics.CyclesStarted.Inc()
	s.metrics.CycleInFlight.Set(1)
	defer s.metrics.CycleInFlight.Set(0)
	start := s.clock.Now()

	var report Report
	for _, city := range s.cities {
		// Cooperative cancellation: a shutdown never waits out the retry
		// budget of the remaining cities.
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, CityFailure{City: city, Reason: ctx.Err().Error()})
			continue
		}
		stored, err := s.ingestCity(ctx, city, backfill)
		if err != nil {
			s.logger.Warn("city ingestion failed", "city", city, "error", err)
			report.Failed = append(report.Failed, CityFailure{City: city, Reason: err.Error()})
			continue
		}
		report.Succeeded = append(report.Succeeded, city)
		report.Stored += stored
	}

	s.metrics.CycleDuration.Observe(s.clock.Since(start).Seconds())
	s.metrics.CyclesCompleted.WithLabelValues(cycleOutcome(report)).Inc()

	if len(report.Succeeded) == 0 {
		return report, domain.ErrAllCitiesFailed
	}
	s.ranOnce.Store(true)
	s.logger.Info("ingestion cycle complete",
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"stored", report.Stored,
		"duration", s.clock.Since(start),
	)
	return report, nil
}

func cycleOutcome(r Report) string {
	switch {
	case len(r.Succeeded) == 0:
		return "failed"
	case len(r.Failed) > 0:
		return "partial"
	default:
		return "success"
	}
}

// ingestCity fetches one city with the retry policy and stores the result.
// In backfill mode the reading fills every missing date of the range; in
// polling mode the latest reading is upserted under today's date.
func (s *Scheduler) ingestCity(ctx context.Context, city string, backfill *dateRange) (int, error) {
	var missing []time.Time
	if backfill != nil {
		existing, err := s.gateway.ExistingDates(ctx, city)
		if err != nil {
			return 0, fmt.Errorf("existing dates: %w", err)
		}
		for _, d := range backfill.dates() {
			if _, ok := existing[d.Format(domain.DateLayout)]; !ok {
				missing = append(missing, d)
			}
		}
		if len(missing) == 0 {
			s.logger.Debug("backfill: nothing missing", "city", city)
			return 0, nil
		}
	}

	m, err := s.fetchWithRetry(ctx, city)
	if err != nil {
		return 0, err
	}

	batch := []domain.Measurement{m}
	if backfill != nil {
		batch = batch[:0]
		for _, d := range missing {
			filled := m
			filled.ObservedAt = d
			batch = append(batch, filled)
		}
	}

	stored, err := s.gateway.UpsertBatch(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", city, err)
	}
	s.metrics.MeasurementsKept.Add(float64(stored))
	if dropped := len(batch) - stored; dropped > 0 {
		s.metrics.RecordsRejected.Add(float64(dropped))
	}

	if s.publisher != nil {
		if err := s.publisher.PublishBatch(ctx, batch); err != nil {
			// Forwarding is best-effort; the measurement is already durable.
			s.logger.Warn("publish measurements failed", "city", city, "error", err)
		}
	}
	return stored, nil
}

// fetchWithRetry applies the per-city retry budget: exponential backoff on
// transient failures, a single cooldown retry on rate limiting, and no retry
// at all on invalid data.
func (s *Scheduler) fetchWithRetry(ctx context.Context, city string) (domain.Measurement, error) {
	backoff := s.policy.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= s.policy.RetryAttempts; attempt++ {
		m, err := s.fetcher.FetchCity(ctx, city)
		if err == nil {
			return m, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, domain.ErrInvalidData):
			return domain.Measurement{}, err
		case errors.Is(err, domain.ErrRateLimited):
			// One retry after the mandated cooldown, then abandon the city
			// for this cycle.
			if !sleepWithClock(ctx, s.clock, s.policy.RateLimitCooldown) {
				return domain.Measurement{}, ctx.Err()
			}
			m, err := s.fetcher.FetchCity(ctx, city)
			if err == nil {
				return m, nil
			}
			return domain.Measurement{}, err
		default:
			if attempt == s.policy.RetryAttempts {
				return domain.Measurement{}, lastErr
			}
			s.logger.Debug("transient fetch failure, backing off",
				"city", city, "attempt", attempt, "backoff", backoff, "error", err)
			if !sleepWithClock(ctx, s.clock, backoff) {
				return domain.Measurement{}, ctx.Err()
			}
			backoff *= 2
		}
	}
	return domain.Measurement{}, lastErr
}

// TriggerNow requests an on-demand cycle from the Start loop. Non-blocking;
// a pending trigger coalesces with this one.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start runs the scheduler loop until the context is cancelled: a delayed
// immediate run at startup, then periodic cycles, plus on-demand triggers.
// Periodic and manual triggers share RunCycle, so its single-flight guard
// holds either way.
func (s *Scheduler) Start(ctx context.Context, startupDelay, interval time.Duration) {
	s.logger.Info("ingestion scheduler started", "startup_delay", startupDelay, "interval", interval)

	if sleepWithClock(ctx, s.clock, startupDelay) {
		s.runLogged(ctx)
	}

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ingestion scheduler stopping", "reason", ctx.Err())
			return
		case <-ticker.Chan():
			s.runLogged(ctx)
		case <-s.trigger:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, domain.ErrCycleRunning) {
		s.logger.Error("ingestion cycle failed", "error", err)
	}
}

// CheckReadiness reports ready once a cycle has succeeded or the store
// already holds data from a previous run.
func (s *Scheduler) CheckReadiness(ctx context.Context) error {
	if s.ranOnce.Load() {
		return nil
	}
	type hasData interface {
		HasMeasurements(ctx context.Context) (bool, error)
	}
	if h, ok := s.gateway.(hasData); ok {
		if has, err := h.HasMeasurements(ctx); err == nil && has {
			return nil
		}
	}
	return errors.New("no ingestion cycle has completed yet")
}
