package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breathsafe/airquality-core/internal/domain"
	"github.com/breathsafe/airquality-core/internal/observability"
)

type stubClient struct {
	calls   []time.Time
	clock   clockwork.Clock
	results []error
}

func (s *stubClient) FetchCity(_ context.Context, city string) (domain.Measurement, error) {
	s.calls = append(s.calls, s.clock.Now())
	var err error
	if len(s.results) > 0 {
		err, s.results = s.results[0], s.results[1:]
	}
	if err != nil {
		return domain.Measurement{}, err
	}
	return domain.Measurement{City: city, ObservedAt: s.clock.Now(), PM25: domain.Float(10)}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetcher_PacesConsecutiveCalls(t *testing.T) {
	clock := clockwork.NewFakeClock()
	client := &stubClient{clock: clock}
	f := NewFetcher(client, 2*time.Second, clock, discardLogger(), observability.NewMetricsForTesting())

	_, err := f.FetchCity(context.Background(), "Toronto")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.FetchCity(context.Background(), "Montreal")
		done <- err
	}()

	// The second fetch must wait out the full inter-request delay.
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	require.NoError(t, <-done)

	require.Len(t, client.calls, 2)
	assert.Equal(t, 2*time.Second, client.calls[1].Sub(client.calls[0]))
}

func TestFetcher_NoDelayBeforeFirstCall(t *testing.T) {
	clock := clockwork.NewFakeClock()
	client := &stubClient{clock: clock}
	f := NewFetcher(client, 2*time.Second, clock, discardLogger(), observability.NewMetricsForTesting())

	_, err := f.FetchCity(context.Background(), "Toronto")
	require.NoError(t, err)
	assert.Len(t, client.calls, 1)
}

func TestFetcher_CancelledWhilePacing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	client := &stubClient{clock: clock}
	f := NewFetcher(client, 2*time.Second, clock, discardLogger(), observability.NewMetricsForTesting())

	_, err := f.FetchCity(context.Background(), "Toronto")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.FetchCity(ctx, "Montreal")
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, client.calls, 1, "a cancelled fetch must not reach the provider")
}

func TestFetcher_PropagatesClientErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	client := &stubClient{clock: clock, results: []error{domain.ErrRateLimited}}
	f := NewFetcher(client, 0, clock, discardLogger(), observability.NewMetricsForTesting())

	_, err := f.FetchCity(context.Background(), "Toronto")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}
