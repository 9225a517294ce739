package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/iho/txstream/internal/adapter/codec"
	"github.com/iho/txstream/internal/domain"
)

// Outcome message header keys.
const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// BreakerConfig tunes the publish circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func (c *BreakerConfig) setDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
}

// PublisherConfig configures the outcome topic writer.
type PublisherConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	Breaker      BreakerConfig
}

// OutcomePublisher implements usecase.OutcomePublisher. Writes go through a
// circuit breaker so a dead broker fails fast with
// domain.ErrPublishUnavailable.
type OutcomePublisher struct {
	writer  writer
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewOutcomePublisher creates a new OutcomePublisher.
func NewOutcomePublisher(cfg PublisherConfig, logger zerolog.Logger) *OutcomePublisher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return newOutcomePublisherWithWriter(&kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}, cfg.Breaker, logger)
}

func newOutcomePublisherWithWriter(w writer, cfg BreakerConfig, logger zerolog.Logger) *OutcomePublisher {
	cfg.setDefaults()
	logger = logger.With().Str("component", "outcome_publisher").Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outcome-publisher",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &OutcomePublisher{writer: w, breaker: breaker, logger: logger}
}

// Publish writes evt to the outcome topic keyed by its correlation id.
func (p *OutcomePublisher) Publish(ctx context.Context, evt domain.OutcomeEvent) error {
	payload, err := codec.EncodeOutcome(evt)
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Key:   []byte(evt.CorrelationID),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: HeaderEventID, Value: []byte(evt.EventID)},
			{Key: HeaderEventType, Value: []byte(evt.EventType)},
		},
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrPublishUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("publish outcome %s: %w", evt.EventID, err)
	}

	return nil
}

// Close flushes pending writes.
func (p *OutcomePublisher) Close() error {
	return p.writer.Close()
}

// Ping dials the first reachable broker.
func Ping(ctx context.Context, brokers []string) error {
	var lastErr error
	for _, broker := range brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn.Close()
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}
