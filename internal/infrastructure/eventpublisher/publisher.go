// Package eventpublisher runs the background outcome sweeps: re-publishing
// outcomes whose first publish failed and pruning old idempotency records.
package eventpublisher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Republisher publishes one batch of unpublished outcomes.
type Republisher interface {
	Sweep(ctx context.Context) (int, error)
}

// Pruner removes idempotency records older than a retention window.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config for Sweeper.
type Config struct {
	Republisher   Republisher
	Pruner        Pruner
	Logger        zerolog.Logger
	Interval      time.Duration // Republish polling interval
	Retention     time.Duration // Zero disables pruning
	PruneInterval time.Duration
}

// Sweeper drives the republish and retention use cases on tickers.
type Sweeper struct {
	republisher   Republisher
	pruner        Pruner
	logger        zerolog.Logger
	interval      time.Duration
	retention     time.Duration
	pruneInterval time.Duration
}

// NewSweeper creates a new Sweeper.
func NewSweeper(cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}

	return &Sweeper{
		republisher:   cfg.Republisher,
		pruner:        cfg.Pruner,
		logger:        cfg.Logger.With().Str("component", "sweeper").Logger(),
		interval:      cfg.Interval,
		retention:     cfg.Retention,
		pruneInterval: cfg.PruneInterval,
	}
}

// Start runs until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Msg("outcome sweeper started")

	republish := time.NewTicker(s.interval)
	defer republish.Stop()

	var pruneC <-chan time.Time
	if s.pruningEnabled() {
		prune := time.NewTicker(s.pruneInterval)
		defer prune.Stop()
		pruneC = prune.C
	}

	// Sweep immediately on start
	s.republish(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("outcome sweeper shutting down")
			return ctx.Err()
		case <-republish.C:
			s.republish(ctx)
		case <-pruneC:
			s.prune(ctx)
		}
	}
}

func (s *Sweeper) pruningEnabled() bool {
	return s.pruner != nil && s.retention > 0
}

func (s *Sweeper) republish(ctx context.Context) {
	published, err := s.republisher.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("republish sweep failed")
		}
		return
	}
	if published > 0 {
		s.logger.Info().Int("published", published).Msg("republish sweep finished")
	}
}

func (s *Sweeper) prune(ctx context.Context) {
	deleted, err := s.pruner.Prune(ctx, s.retention)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("idempotency prune failed")
		}
		return
	}
	s.logger.Info().Int64("deleted", deleted).Msg("idempotency records pruned")
}
