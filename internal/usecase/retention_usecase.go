package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/iho/txstream/internal/infrastructure/metrics"
)

// RetentionUseCase removes idempotency records past their retention.
// Only published records are removed; an unpublished outcome is kept
// until the sweep delivers it.
type RetentionUseCase struct {
	repo    OutcomeRepository
	metrics *metrics.Metrics
}

// NewRetentionUseCase creates a new RetentionUseCase.
func NewRetentionUseCase(repo OutcomeRepository, metrics *metrics.Metrics) *RetentionUseCase {
	return &RetentionUseCase{repo: repo, metrics: metrics}
}

// Prune deletes records committed more than olderThan ago.
func (uc *RetentionUseCase) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("retention must be positive")
	}

	deleted, err := uc.repo.Prune(ctx, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	if uc.metrics != nil {
		uc.metrics.RecordsPruned.Add(float64(deleted))
	}

	return deleted, nil
}
