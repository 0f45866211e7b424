package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breathsafe/airquality-core/internal/domain"
	"github.com/breathsafe/airquality-core/internal/observability"
	"github.com/breathsafe/airquality-core/internal/store"
)

// --- mocks ---

// scriptedFetcher returns the scripted error sequence per city, then
// succeeds.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]error
	calls   map[string]int

	block     chan struct{} // when set, every fetch blocks until closed
	started   chan struct{} // closed once the first blocked fetch is entered
	startOnce sync.Once
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{scripts: make(map[string][]error), calls: make(map[string]int)}
}

func (f *scriptedFetcher) script(city string, errs ...error) {
	f.scripts[city] = errs
}

func (f *scriptedFetcher) FetchCity(ctx context.Context, city string) (domain.Measurement, error) {
	if f.block != nil {
		f.startOnce.Do(func() { close(f.started) })
		select {
		case <-f.block:
		case <-ctx.Done():
			return domain.Measurement{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls[city]++
	var err error
	if s := f.scripts[city]; len(s) > 0 {
		err, f.scripts[city] = s[0], s[1:]
	}
	f.mu.Unlock()

	if err != nil {
		return domain.Measurement{}, err
	}
	return domain.Measurement{
		City:       city,
		ObservedAt: time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC),
		PM25:       domain.Float(12),
	}, nil
}

func (f *scriptedFetcher) callCount(city string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[city]
}

// memGateway is an in-memory MeasurementStore for scheduler tests.
type memGateway struct {
	mu      sync.Mutex
	records map[string]map[string]domain.Measurement // city → date → measurement
	failFor map[string]bool
}

func newMemGateway() *memGateway {
	return &memGateway{records: make(map[string]map[string]domain.Measurement), failFor: make(map[string]bool)}
}

func (g *memGateway) UpsertBatch(_ context.Context, ms []domain.Measurement) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, m := range ms {
		if g.failFor[m.City] {
			return 0, errors.New("insert rejected")
		}
		if !m.Reportable() {
			continue
		}
		if g.records[m.City] == nil {
			g.records[m.City] = make(map[string]domain.Measurement)
		}
		g.records[m.City][m.DateKey()] = m
		n++
	}
	if n == 0 {
		return 0, store.ErrNoValidRecords
	}
	return n, nil
}

func (g *memGateway) ExistingDates(_ context.Context, city string) (map[string]struct{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]struct{})
	for d := range g.records[city] {
		out[d] = struct{}{}
	}
	return out, nil
}

func (g *memGateway) Series(context.Context, string, int, time.Time) ([]domain.Measurement, error) {
	return nil, nil
}

func (g *memGateway) Latest(context.Context, string) (domain.Measurement, error) {
	return domain.Measurement{}, store.ErrNoMeasurements
}

func (g *memGateway) HasMeasurements(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records) > 0, nil
}

func (g *memGateway) count(city string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records[city])
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []domain.Measurement
	err       error
}

func (p *recordingPublisher) PublishBatch(_ context.Context, ms []domain.Measurement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, ms...)
	return nil
}

var nineCities = []string{
	"Toronto", "Montreal", "Vancouver", "Calgary", "Edmonton",
	"Ottawa", "Winnipeg", "Quebec City", "Hamilton",
}

// fastPolicy keeps retry sleeps negligible so tests run on the real clock.
var fastPolicy = Policy{
	RetryBaseDelay:    time.Millisecond,
	RetryAttempts:     3,
	RateLimitCooldown: 2 * time.Millisecond,
}

func newTestScheduler(fetcher CityFetcher, gateway store.MeasurementStore, publisher MeasurementPublisher, cities []string) *Scheduler {
	return NewScheduler(fetcher, gateway, publisher, cities, fastPolicy,
		clockwork.NewRealClock(), discardLogger(), observability.NewMetricsForTesting())
}

// --- tests ---

func TestRunCycle_PartialFailure(t *testing.T) {
	fetcher := newScriptedFetcher()
	// Two cities stay rate-limited through the cooldown retry.
	fetcher.script("Calgary", domain.ErrRateLimited, domain.ErrRateLimited)
	fetcher.script("Ottawa", domain.ErrRateLimited, domain.ErrRateLimited)
	gateway := newMemGateway()

	s := newTestScheduler(fetcher, gateway, nil, nineCities)
	report, err := s.RunCycle(context.Background())

	require.NoError(t, err, "a partial cycle is not an error")
	assert.Len(t, report.Succeeded, 7)
	require.Len(t, report.Failed, 2)
	assert.Equal(t, "Calgary", report.Failed[0].City)
	assert.Equal(t, "Ottawa", report.Failed[1].City)
	assert.Equal(t, 7, report.Stored)
}

func TestRunCycle_AllCitiesFailed(t *testing.T) {
	fetcher := newScriptedFetcher()
	for _, c := range nineCities {
		fetcher.script(c, domain.ErrInvalidData)
	}

	s := newTestScheduler(fetcher, newMemGateway(), nil, nineCities)
	report, err := s.RunCycle(context.Background())

	require.ErrorIs(t, err, domain.ErrAllCitiesFailed)
	assert.Empty(t, report.Succeeded)
	assert.Len(t, report.Failed, 9)
}

func TestRunCycle_TransientFailuresRetried(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script("Toronto", errors.New("connection reset"), errors.New("connection reset"))

	s := newTestScheduler(fetcher, newMemGateway(), nil, []string{"Toronto"})
	report, err := s.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"Toronto"}, report.Succeeded)
	assert.Equal(t, 3, fetcher.callCount("Toronto"), "two transient failures then success")
}

func TestRunCycle_TransientBudgetExhausted(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script("Toronto", errors.New("timeout"), errors.New("timeout"), errors.New("timeout"))

	s := newTestScheduler(fetcher, newMemGateway(), nil, []string{"Toronto"})
	_, err := s.RunCycle(context.Background())

	require.ErrorIs(t, err, domain.ErrAllCitiesFailed)
	assert.Equal(t, 3, fetcher.callCount("Toronto"))
}

func TestRunCycle_InvalidDataNotRetried(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script("Toronto", domain.ErrInvalidData)

	s := newTestScheduler(fetcher, newMemGateway(), nil, []string{"Toronto"})
	_, err := s.RunCycle(context.Background())

	require.ErrorIs(t, err, domain.ErrAllCitiesFailed)
	assert.Equal(t, 1, fetcher.callCount("Toronto"), "invalid data must not be retried")
}

func TestRunCycle_RateLimitRetriedOnceAfterCooldown(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script("Toronto", domain.ErrRateLimited) // succeeds on the cooldown retry

	s := newTestScheduler(fetcher, newMemGateway(), nil, []string{"Toronto"})
	report, err := s.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"Toronto"}, report.Succeeded)
	assert.Equal(t, 2, fetcher.callCount("Toronto"))
}

func TestRunCycle_StoreFailureDoesNotAbortCycle(t *testing.T) {
	fetcher := newScriptedFetcher()
	gateway := newMemGateway()
	gateway.failFor["Toronto"] = true

	s := newTestScheduler(fetcher, gateway, nil, []string{"Toronto", "Montreal"})
	report, err := s.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"Montreal"}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "Toronto", report.Failed[0].City)
}

func TestRunCycle_SingleFlight(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.block = make(chan struct{})
	fetcher.started = make(chan struct{})

	s := newTestScheduler(fetcher, newMemGateway(), nil, []string{"Toronto"})

	first := make(chan error, 1)
	go func() {
		_, err := s.RunCycle(context.Background())
		first <- err
	}()

	// Wait until the first cycle is inside its fetch, then try to re-trigger.
	<-fetcher.started
	_, err := s.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrCycleRunning)

	close(fetcher.block)
	require.NoError(t, <-first)
}

func TestRunCycle_CancelledBetweenCities(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := newScriptedFetcher()
	gateway := newMemGateway()

	// Cancel as soon as the first city lands in the store.
	cancelling := &cancellingGateway{memGateway: gateway, cancel: cancel}
	s := newTestScheduler(fetcher, cancelling, nil, nineCities)

	report, err := s.RunCycle(ctx)
	require.NoError(t, err, "one success keeps the cycle from hard-failing")
	assert.Equal(t, []string{"Toronto"}, report.Succeeded)
	assert.Len(t, report.Failed, 8)
	assert.Equal(t, 1, fetcher.callCount("Toronto"))
	assert.Equal(t, 0, fetcher.callCount("Montreal"), "remaining cities must not be fetched after cancellation")
}

type cancellingGateway struct {
	*memGateway
	cancel context.CancelFunc
	once   sync.Once
}

func (g *cancellingGateway) UpsertBatch(ctx context.Context, ms []domain.Measurement) (int, error) {
	n, err := g.memGateway.UpsertBatch(ctx, ms)
	g.once.Do(g.cancel)
	return n, err
}

func TestRunCycle_PublishesStoredMeasurements(t *testing.T) {
	fetcher := newScriptedFetcher()
	publisher := &recordingPublisher{}

	s := newTestScheduler(fetcher, newMemGateway(), publisher, []string{"Toronto", "Montreal"})
	_, err := s.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Len(t, publisher.published, 2)
}

func TestRunCycle_PublisherFailureIsBestEffort(t *testing.T) {
	fetcher := newScriptedFetcher()
	publisher := &recordingPublisher{err: errors.New("broker down")}

	s := newTestScheduler(fetcher, newMemGateway(), publisher, []string{"Toronto"})
	report, err := s.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"Toronto"}, report.Succeeded)
}

func TestRunBackfill_SkipsExistingDates(t *testing.T) {
	fetcher := newScriptedFetcher()
	gateway := newMemGateway()
	from := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	// Two of the seven days are already stored.
	_, err := gateway.UpsertBatch(context.Background(), []domain.Measurement{
		{City: "Toronto", ObservedAt: from, PM25: domain.Float(3)},
		{City: "Toronto", ObservedAt: from.AddDate(0, 0, 1), PM25: domain.Float(4)},
	})
	require.NoError(t, err)

	s := newTestScheduler(fetcher, gateway, nil, []string{"Toronto"})
	report, err := s.RunBackfill(context.Background(), from, to)

	require.NoError(t, err)
	assert.Equal(t, 5, report.Stored, "only the missing dates are filled")
	assert.Equal(t, 1, fetcher.callCount("Toronto"))
	assert.Equal(t, 7, gateway.count("Toronto"))

	// Existing rows kept their original values: skip, not overwrite.
	existing := gateway.records["Toronto"][from.Format(domain.DateLayout)]
	assert.Equal(t, 3.0, *existing.PM25)

	// A second identical backfill fetches nothing.
	report, err = s.RunBackfill(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Stored)
	assert.Equal(t, 1, fetcher.callCount("Toronto"))
}

func TestRunBackfill_InvalidRange(t *testing.T) {
	s := newTestScheduler(newScriptedFetcher(), newMemGateway(), nil, []string{"Toronto"})

	_, err := s.RunBackfill(context.Background(),
		time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
}

func TestCheckReadiness(t *testing.T) {
	fetcher := newScriptedFetcher()
	gateway := newMemGateway()
	s := newTestScheduler(fetcher, gateway, nil, []string{"Toronto"})

	require.Error(t, s.CheckReadiness(context.Background()))

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.NoError(t, s.CheckReadiness(context.Background()))
}

func TestCheckReadiness_ExistingData(t *testing.T) {
	gateway := newMemGateway()
	_, err := gateway.UpsertBatch(context.Background(), []domain.Measurement{
		{City: "Toronto", ObservedAt: time.Now().UTC(), PM25: domain.Float(5)},
	})
	require.NoError(t, err)

	s := newTestScheduler(newScriptedFetcher(), gateway, nil, []string{"Toronto"})
	assert.NoError(t, s.CheckReadiness(context.Background()),
		"data from a previous run makes the service ready without a new cycle")
}

func TestTriggerNow_Coalesces(t *testing.T) {
	s := newTestScheduler(newScriptedFetcher(), newMemGateway(), nil, []string{"Toronto"})

	// Must never block, even when no loop is draining the channel.
	for i := 0; i < 5; i++ {
		s.TriggerNow()
	}
}
