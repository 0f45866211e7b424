package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/breathsafe/airquality-core/internal/domain"
	"github.com/breathsafe/airquality-core/internal/observability"
	"github.com/breathsafe/airquality-core/internal/store"
)

// Registry holds the in-memory algorithm catalog, refreshed from the store.
// Refreshes swap the whole catalog atomically so concurrent scorers never see
// a half-updated set.
type Registry struct {
	algorithms store.AlgorithmStore
	defs       atomic.Pointer[[]domain.AlgorithmDefinition]
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewRegistry creates an empty registry backed by the given algorithm store.
func NewRegistry(algorithms store.AlgorithmStore, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	r := &Registry{
		algorithms: algorithms,
		logger:     logger,
		metrics:    metrics,
	}
	empty := []domain.AlgorithmDefinition{}
	r.defs.Store(&empty)
	return r
}

// Refresh reloads all definitions from the store and swaps them in whole.
func (r *Registry) Refresh(ctx context.Context) error {
	defs, err := r.algorithms.ListAlgorithms(ctx)
	if err != nil {
		return fmt.Errorf("refresh algorithm registry: %w", err)
	}
	r.defs.Store(&defs)
	r.metrics.RegistryRefreshes.Inc()
	r.metrics.RegistrySize.Set(float64(len(defs)))
	r.logger.Info("algorithm registry refreshed", "algorithms", len(defs))
	return nil
}

// All returns the current catalog. The returned slice must not be mutated.
func (r *Registry) All() []domain.AlgorithmDefinition {
	return *r.defs.Load()
}

// Get looks up a definition by code.
func (r *Registry) Get(code string) (domain.AlgorithmDefinition, error) {
	for _, d := range r.All() {
		if d.Code == code {
			return d, nil
		}
	}
	return domain.AlgorithmDefinition{}, fmt.Errorf("%s: %w", code, domain.ErrUnknownAlgorithm)
}

// Eligible returns the definitions a user of the given age may be scored by.
func (r *Registry) Eligible(age int) []domain.AlgorithmDefinition {
	all := r.All()
	out := make([]domain.AlgorithmDefinition, 0, len(all))
	for _, d := range all {
		if d.EligibleFor(age) {
			out = append(out, d)
		}
	}
	return out
}
