package consumer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/iho/txstream/internal/adapter/codec"
	"github.com/iho/txstream/internal/domain"
	"github.com/iho/txstream/internal/infrastructure/metrics"
	"github.com/iho/txstream/internal/usecase"
)

const (
	DefaultWorkers                   = 16
	DefaultMaxInFlight               = 256
	DefaultRedeliveryInitialInterval = 500 * time.Millisecond
	DefaultRedeliveryMaxInterval     = 30 * time.Second
	DefaultCommitInterval            = time.Second
	DefaultCommitTimeout             = 5 * time.Second
)

// Dead-letter kinds for failures raised outside the codec.
const (
	KindRetriesExhausted = "RetriesExhausted"
	KindPermanent        = "PermanentFailure"
)

// Config tunes the coordinator.
type Config struct {
	Workers                   int
	MaxInFlight               int
	RedeliveryInitialInterval time.Duration
	RedeliveryMaxInterval     time.Duration
	CommitInterval            time.Duration
	CommitTimeout             time.Duration
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.RedeliveryInitialInterval <= 0 {
		c.RedeliveryInitialInterval = DefaultRedeliveryInitialInterval
	}
	if c.RedeliveryMaxInterval <= 0 {
		c.RedeliveryMaxInterval = DefaultRedeliveryMaxInterval
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = DefaultCommitInterval
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = DefaultCommitTimeout
	}
}

// Coordinator pulls messages, routes each to a shard worker by account key,
// and commits offsets once every earlier message of the partition reached
// a terminal state.
type Coordinator struct {
	source     Source
	processor  EventProcessor
	deadLetter DeadLetterWriter
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	cfg        Config
	tracker    *offsetTracker
	inFlight   *semaphore.Weighted
	now        func() time.Time
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(source Source, processor EventProcessor, deadLetter DeadLetterWriter, m *metrics.Metrics, logger zerolog.Logger, cfg Config) *Coordinator {
	cfg.setDefaults()

	return &Coordinator{
		source:     source,
		processor:  processor,
		deadLetter: deadLetter,
		metrics:    m,
		logger:     logger,
		cfg:        cfg,
		tracker:    newOffsetTracker(),
		inFlight:   semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		now:        time.Now,
	}
}

// Run consumes until ctx is cancelled or the source fails. On return the
// contiguous completed prefix of every partition has been committed, unless
// that final commit failed.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info().
		Int("workers", c.cfg.Workers).
		Int("max_in_flight", c.cfg.MaxInFlight).
		Msg("consumer coordinator started")

	g, gctx := errgroup.WithContext(ctx)

	shards := make([]chan Message, c.cfg.Workers)
	for i := range shards {
		shards[i] = make(chan Message, c.cfg.MaxInFlight)
		shard := shards[i]
		g.Go(func() error {
			c.work(gctx, shard)
			return nil
		})
	}

	g.Go(func() error {
		c.commitLoop(gctx)
		return nil
	})

	g.Go(func() error {
		defer func() {
			for _, shard := range shards {
				close(shard)
			}
		}()
		return c.fetch(gctx, shards)
	})

	err := g.Wait()

	commitCtx, cancel := context.WithTimeout(context.Background(), c.cfg.CommitTimeout)
	defer cancel()
	if cerr := c.commit(commitCtx); cerr != nil {
		c.logger.Error().Err(cerr).Msg("final offset commit failed")
	}

	c.logger.Info().Int("abandoned", c.tracker.Pending()).Msg("consumer coordinator stopped")

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Coordinator) fetch(ctx context.Context, shards []chan Message) error {
	for {
		if err := c.inFlight.Acquire(ctx, 1); err != nil {
			return ctx.Err()
		}

		msg, err := c.source.Fetch(ctx)
		if err != nil {
			c.inFlight.Release(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		c.tracker.Track(msg.Topic, msg.Partition, msg.Offset)
		if c.metrics != nil {
			c.metrics.EventsConsumed.WithLabelValues(msg.Topic).Inc()
			c.metrics.InFlight.Inc()
		}

		select {
		case shards[shardFor(msg, len(shards))] <- msg:
		case <-ctx.Done():
			c.inFlight.Release(1)
			return ctx.Err()
		}
	}
}

// shardFor hashes the account key so one account always lands on the same
// worker. Keyless messages stay together by partition.
func shardFor(msg Message, shards int) int {
	if len(msg.Key) == 0 {
		return msg.Partition % shards
	}

	h := fnv.New32a()
	_, _ = h.Write(msg.Key)
	return int(h.Sum32() % uint32(shards))
}

func (c *Coordinator) work(ctx context.Context, shard <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-shard:
			if !ok {
				return
			}
			if c.handle(ctx, msg) {
				c.tracker.Done(msg.Topic, msg.Partition, msg.Offset)
			}
			c.inFlight.Release(1)
			if c.metrics != nil {
				c.metrics.InFlight.Dec()
			}
		}
	}
}

// handle reports whether msg reached a terminal state. A false return
// leaves its offset uncommitted.
func (c *Coordinator) handle(ctx context.Context, msg Message) bool {
	log := c.logger.With().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	event, err := codec.Decode(msg.Value)
	if err != nil {
		var decodeErr *codec.DecodeError
		kind := KindPermanent
		if errors.As(err, &decodeErr) {
			kind = string(decodeErr.Kind)
		}
		log.Warn().Err(err).Str("kind", kind).Msg("undecodable message")
		return c.park(ctx, msg, kind, err, 1)
	}

	log = log.With().Str("event_id", event.ID).Logger()

	attempts := 0
	op := func() error {
		attempts++
		_, err := c.processor.Process(ctx, event)
		if err == nil || errors.Is(err, domain.ErrStoreUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		if c.metrics != nil {
			c.metrics.Redeliveries.Inc()
		}
		log.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", wait).Msg("store unavailable, offset withheld")
	}

	err = backoff.RetryNotify(op, backoff.WithContext(c.redeliveryBackOff(), ctx), notify)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	kind := KindPermanent
	var exhausted *usecase.ExhaustedError
	if errors.As(err, &exhausted) {
		kind = KindRetriesExhausted
		attempts = exhausted.Attempts
	}

	log.Error().Err(err).Str("kind", kind).Msg("event failed permanently")
	return c.park(ctx, msg, kind, err, attempts)
}

// park writes msg to the dead-letter topic, retrying until the write is
// durable or ctx ends.
func (c *Coordinator) park(ctx context.Context, msg Message, kind string, cause error, attempts int) bool {
	letter := DeadLetter{
		Message:  msg,
		Kind:     kind,
		Err:      cause,
		Attempts: attempts,
		FailedAt: c.now().UTC(),
	}

	op := func() error {
		return c.deadLetter.Write(ctx, letter)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Dur("retry_in", wait).
			Msg("dead-letter write failed")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(c.redeliveryBackOff(), ctx), notify); err != nil {
		return false
	}

	if c.metrics != nil {
		c.metrics.DeadLettered.WithLabelValues(kind).Inc()
	}
	return true
}

func (c *Coordinator) redeliveryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RedeliveryInitialInterval
	b.MaxInterval = c.cfg.RedeliveryMaxInterval
	b.MaxElapsedTime = 0
	return b
}

func (c *Coordinator) commitLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CommitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.commit(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("offset commit failed")
			}
		}
	}
}

func (c *Coordinator) commit(ctx context.Context) error {
	offsets := c.tracker.Committable()
	if len(offsets) == 0 {
		return nil
	}

	if err := c.source.Commit(ctx, offsets); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	c.tracker.Committed(offsets)

	if c.metrics != nil {
		for _, o := range offsets {
			c.metrics.OffsetsCommitted.WithLabelValues(o.Topic).Inc()
		}
	}

	return nil
}
