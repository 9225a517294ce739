package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iho/txstream/internal/domain"
	"github.com/iho/txstream/internal/infrastructure/metrics"
	"github.com/iho/txstream/internal/usecase"
)

// DefaultTTL bounds how long a cached record outlives its last read.
const DefaultTTL = time.Hour

// CachedLedger is a read-through Redis cache in front of the store's
// idempotency ledger. Only found records are cached. Any Redis failure
// falls through to the backing ledger.
type CachedLedger struct {
	client  *redis.Client
	backend usecase.IdempotencyLedger
	metrics *metrics.Metrics
	logger  zerolog.Logger
	prefix  string
	ttl     time.Duration
}

// NewCachedLedger creates a new CachedLedger.
func NewCachedLedger(client *redis.Client, backend usecase.IdempotencyLedger, m *metrics.Metrics, logger zerolog.Logger, ttl time.Duration) *CachedLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &CachedLedger{
		client:  client,
		backend: backend,
		metrics: m,
		logger:  logger,
		prefix:  "txstream:idempotency:",
		ttl:     ttl,
	}
}

type cachedRecord struct {
	EventID               string     `json:"eventId"`
	CorrelationID         string     `json:"correlationId"`
	EventType             string     `json:"eventType"`
	Result                string     `json:"result"`
	Reason                string     `json:"reason,omitempty"`
	AccountID             string     `json:"accountId"`
	DestinationAccountID  string     `json:"destinationAccountId,omitempty"`
	ReversesEventID       string     `json:"reversesEventId,omitempty"`
	Amount                int64      `json:"amount"`
	Currency              string     `json:"currency"`
	NewBalance            *int64     `json:"newBalance,omitempty"`
	DestinationNewBalance *int64     `json:"destinationNewBalance,omitempty"`
	CommittedAt           time.Time  `json:"committedAt"`
	PublishedAt           *time.Time `json:"publishedAt,omitempty"`
}

// HasBeenProcessed reports whether a record exists for eventID.
func (l *CachedLedger) HasBeenProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := l.Get(ctx, eventID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Get returns the record of eventID from Redis, or from the backing ledger
// on a miss.
func (l *CachedLedger) Get(ctx context.Context, eventID string) (*domain.IdempotencyRecord, error) {
	key := l.recordKey(eventID)

	if rec, ok := l.lookup(ctx, key); ok {
		return rec, nil
	}

	rec, err := l.backend.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	l.store(ctx, key, rec)
	return rec, nil
}

// GetAcceptedReversal resolves the reversing event id through Redis and
// then loads that record through Get.
func (l *CachedLedger) GetAcceptedReversal(ctx context.Context, originalEventID string) (*domain.IdempotencyRecord, error) {
	key := l.reversalKey(originalEventID)

	reversalID, err := l.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		l.observe("get_reversal", "hit")
		return l.Get(ctx, reversalID)
	case errors.Is(err, redis.Nil):
		l.observe("get_reversal", "miss")
	default:
		l.fail("get_reversal", err)
	}

	rec, err := l.backend.GetAcceptedReversal(ctx, originalEventID)
	if err != nil {
		return nil, err
	}

	if err := l.client.Set(ctx, key, rec.EventID, l.ttl).Err(); err != nil {
		l.fail("set_reversal", err)
	}
	l.store(ctx, l.recordKey(rec.EventID), rec)

	return rec, nil
}

// MarkPublished updates the backing ledger and drops the cached copy.
func (l *CachedLedger) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	if err := l.backend.MarkPublished(ctx, eventID, publishedAt); err != nil {
		return err
	}

	if err := l.client.Del(ctx, l.recordKey(eventID)).Err(); err != nil {
		l.fail("del", err)
		return nil
	}
	l.observe("del", "ok")

	return nil
}

func (l *CachedLedger) lookup(ctx context.Context, key string) (*domain.IdempotencyRecord, bool) {
	data, err := l.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		l.observe("get", "miss")
		return nil, false
	}
	if err != nil {
		l.fail("get", err)
		return nil, false
	}

	var cached cachedRecord
	if err := json.Unmarshal(data, &cached); err != nil {
		l.fail("decode", err)
		return nil, false
	}

	l.observe("get", "hit")
	return fromCached(cached), true
}

func (l *CachedLedger) store(ctx context.Context, key string, rec *domain.IdempotencyRecord) {
	data, err := json.Marshal(toCached(rec))
	if err != nil {
		l.fail("encode", err)
		return
	}

	if err := l.client.Set(ctx, key, data, l.ttl).Err(); err != nil {
		l.fail("set", err)
		return
	}
	l.observe("set", "ok")
}

func (l *CachedLedger) observe(operation, status string) {
	if l.metrics != nil {
		l.metrics.RedisOperations.WithLabelValues(operation, status).Inc()
	}
}

func (l *CachedLedger) fail(operation string, err error) {
	l.observe(operation, "error")
	if l.metrics != nil {
		l.metrics.RedisErrors.WithLabelValues(operation).Inc()
	}
	l.logger.Warn().Err(err).Str("operation", operation).Msg("idempotency cache degraded, using store")
}

func (l *CachedLedger) recordKey(eventID string) string {
	return l.prefix + "record:" + eventID
}

func (l *CachedLedger) reversalKey(originalEventID string) string {
	return l.prefix + "reversal:" + originalEventID
}

func toCached(rec *domain.IdempotencyRecord) cachedRecord {
	o := rec.Outcome
	return cachedRecord{
		EventID:               rec.EventID,
		CorrelationID:         rec.CorrelationID,
		EventType:             string(o.EventType),
		Result:                string(o.Result),
		Reason:                o.Reason,
		AccountID:             o.AccountID,
		DestinationAccountID:  o.DestinationAccountID,
		ReversesEventID:       o.ReversesEventID,
		Amount:                o.Amount.Amount,
		Currency:              o.Amount.Currency,
		NewBalance:            o.NewBalance,
		DestinationNewBalance: o.DestinationNewBalance,
		CommittedAt:           rec.CommittedAt,
		PublishedAt:           rec.PublishedAt,
	}
}

func fromCached(c cachedRecord) *domain.IdempotencyRecord {
	return &domain.IdempotencyRecord{
		EventID:       c.EventID,
		CorrelationID: c.CorrelationID,
		CommittedAt:   c.CommittedAt,
		PublishedAt:   c.PublishedAt,
		Outcome: domain.Outcome{
			Result:                domain.Result(c.Result),
			Reason:                c.Reason,
			EventType:             domain.EventType(c.EventType),
			AccountID:             c.AccountID,
			DestinationAccountID:  c.DestinationAccountID,
			ReversesEventID:       c.ReversesEventID,
			Amount:                domain.Money{Amount: c.Amount, Currency: c.Currency},
			NewBalance:            c.NewBalance,
			DestinationNewBalance: c.DestinationNewBalance,
		},
	}
}
