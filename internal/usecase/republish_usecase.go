package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/txstream/internal/infrastructure/metrics"
)

// RepublishUseCase publishes committed outcomes whose first publish
// failed. Outcomes are re-sent from the stored record, never recomputed.
type RepublishUseCase struct {
	repo      OutcomeRepository
	publisher OutcomePublisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	grace     time.Duration
	batchSize int
	now       func() time.Time
}

// NewRepublishUseCase creates a new RepublishUseCase. Records younger
// than grace are skipped so the processor's own publish can finish first.
func NewRepublishUseCase(
	repo OutcomeRepository,
	publisher OutcomePublisher,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
	grace time.Duration,
	batchSize int,
) *RepublishUseCase {
	if batchSize <= 0 {
		batchSize = DefaultRepublishBatchSize
	}

	return &RepublishUseCase{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "republish").Logger(),
		grace:     grace,
		batchSize: batchSize,
		now:       storeNow,
	}
}

// Sweep publishes one batch of unpublished outcomes and returns how many
// were published. A failing outcome does not stop the batch.
func (uc *RepublishUseCase) Sweep(ctx context.Context) (int, error) {
	records, err := uc.repo.ListUnpublished(ctx, uc.now().Add(-uc.grace), uc.batchSize)
	if err != nil {
		return 0, err
	}

	if len(records) == 0 {
		return 0, nil
	}

	uc.logger.Info().Int("count", len(records)).Msg("re-publishing outcomes")

	published := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		if err := uc.publisher.Publish(ctx, record.OutcomeEvent()); err != nil {
			uc.logger.Error().Err(err).Str("event_id", record.EventID).Msg("failed to re-publish outcome")
			if uc.metrics != nil {
				uc.metrics.PublishFailures.Inc()
			}
			continue
		}

		if err := uc.repo.MarkPublished(ctx, record.EventID, uc.now()); err != nil {
			uc.logger.Error().Err(err).Str("event_id", record.EventID).Msg("failed to mark outcome as published")
			continue
		}

		published++
		if uc.metrics != nil {
			uc.metrics.OutcomesRepublished.Inc()
		}
	}

	return published, nil
}
