package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iho/txstream/internal/domain"
	"github.com/iho/txstream/internal/infrastructure/metrics"
)

// Status is how an event left the processor.
type Status int

const (
	StatusAccepted Status = iota
	StatusRejected
	StatusDuplicate
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Result is the terminal result of processing one event. For duplicates,
// Record is the stored record of the first processing, unchanged.
type Result struct {
	Status Status
	Record *domain.IdempotencyRecord
}

// Reason is the rejection reason of the stored outcome, if any.
func (r *Result) Reason() string {
	if r.Record == nil {
		return ""
	}
	return r.Record.Outcome.Reason
}

// ExhaustedError is returned when an event kept conflicting with
// concurrent writers until the attempt budget ran out.
type ExhaustedError struct {
	EventID  string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("event %s: %v after %d attempts: %v", e.EventID, domain.ErrRetriesExhausted, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{domain.ErrRetriesExhausted, e.Err}
}

// ProcessorConfig tunes the retry loop and validation of the processor.
type ProcessorConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	ClockSkew       time.Duration
}

func (c *ProcessorConfig) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultRetryInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultRetryMaxInterval
	}
	if c.ClockSkew <= 0 {
		c.ClockSkew = DefaultClockSkew
	}
}

// Processor turns a decoded event into exactly one committed outcome.
type Processor struct {
	ledger    IdempotencyLedger
	store     StateStore
	publisher OutcomePublisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	cfg       ProcessorConfig
	now       func() time.Time
}

// NewProcessor creates a new Processor.
func NewProcessor(
	ledger IdempotencyLedger,
	store StateStore,
	publisher OutcomePublisher,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
	cfg ProcessorConfig,
) *Processor {
	cfg.setDefaults()

	return &Processor{
		ledger:    ledger,
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "processor").Logger(),
		cfg:       cfg,
		now:       storeNow,
	}
}

// storeNow is the current time at the precision of a timestamptz column,
// so an outcome read back from the store matches the one first published.
func storeNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Process applies event at most once. Conflicts and store outages are
// retried from the ledger check onwards; validation failures become a
// permanently recorded rejection.
//
// Errors: *ExhaustedError (wraps domain.ErrRetriesExhausted) when conflicts
// outlast the attempt budget, domain.ErrStoreUnavailable when the store
// stayed down, ctx.Err() on cancellation.
func (p *Processor) Process(ctx context.Context, event *domain.Event) (*Result, error) {
	start := time.Now()
	log := p.logger.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval
	b.MaxInterval = p.cfg.MaxInterval
	b.RandomizationFactor = retryRandomizationFactor
	b.MaxElapsedTime = 0

	var (
		result   *Result
		attempts int
	)

	err := backoff.Retry(func() error {
		attempts++

		r, err := p.attempt(ctx, event)
		if err == nil {
			result = r
			return nil
		}

		switch {
		case errors.Is(err, domain.ErrConflict):
			p.inc(func(m *metrics.Metrics) { m.CommitConflicts.Inc() })
		case errors.Is(err, domain.ErrStoreUnavailable):
			p.inc(func(m *metrics.Metrics) { m.StoreUnavailable.Inc() })
		default:
			return backoff.Permanent(err)
		}

		log.Debug().Err(err).Int("attempt", attempts).Msg("attempt failed, retrying")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.MaxAttempts-1)), ctx))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, domain.ErrConflict) {
			p.inc(func(m *metrics.Metrics) { m.RetriesExhausted.Inc() })
			return nil, &ExhaustedError{EventID: event.ID, Attempts: attempts, Err: err}
		}
		return nil, err
	}

	if !result.Record.Published() {
		p.publish(ctx, result.Record)
	}

	p.inc(func(m *metrics.Metrics) {
		m.EventsProcessed.WithLabelValues(result.Status.String()).Inc()
		m.ProcessingDuration.Observe(time.Since(start).Seconds())
	})

	log.Debug().
		Str("result", result.Status.String()).
		Str("reason", result.Reason()).
		Int("attempts", attempts).
		Msg("event processed")

	return result, nil
}

func (p *Processor) attempt(ctx context.Context, event *domain.Event) (*Result, error) {
	existing, err := p.ledger.Get(ctx, event.ID)
	if err == nil {
		return &Result{Status: StatusDuplicate, Record: existing}, nil
	}
	if !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, err
	}

	outcome, mutations, err := p.evaluate(ctx, event)
	if err != nil {
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		outcome = rejectedOutcome(event, ve)
		mutations = nil
	}

	record := &domain.IdempotencyRecord{
		EventID:       event.ID,
		CorrelationID: event.CorrelationID,
		Outcome:       outcome,
		CommittedAt:   p.now(),
	}

	if err := p.store.Commit(ctx, mutations, record); err != nil {
		return nil, err
	}

	status := StatusAccepted
	if outcome.Result == domain.ResultRejected {
		status = StatusRejected
	}

	return &Result{Status: status, Record: record}, nil
}

// evaluate validates event against current state and computes the
// mutations that apply it. Business-rule violations are returned as
// *domain.ValidationError.
func (p *Processor) evaluate(ctx context.Context, event *domain.Event) (domain.Outcome, []domain.AccountMutation, error) {
	if err := event.Validate(); err != nil {
		return domain.Outcome{}, nil, domain.Reject(err)
	}
	if event.OccurredAt.After(p.now().Add(p.cfg.ClockSkew)) {
		return domain.Outcome{}, nil, domain.Reject(domain.ErrOccurredInFuture)
	}

	outcome := domain.Outcome{
		Result:               domain.ResultAccepted,
		EventType:            event.Type,
		AccountID:            event.AccountID,
		DestinationAccountID: event.DestinationAccountID,
		Amount:               event.Amount,
	}

	switch event.Type {
	case domain.EventTypeDeposit:
		acc, err := p.loadAccount(ctx, event.AccountID, event.Amount.Currency)
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		m, err := credit(acc, event.Amount.Amount)
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		outcome.NewBalance = &m.NewBalance
		return outcome, []domain.AccountMutation{m}, nil

	case domain.EventTypeWithdrawal:
		acc, err := p.loadAccount(ctx, event.AccountID, event.Amount.Currency)
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		m, err := debit(acc, event.Amount.Amount)
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		outcome.NewBalance = &m.NewBalance
		return outcome, []domain.AccountMutation{m}, nil

	case domain.EventTypeTransfer:
		src, dst, err := p.loadPair(ctx, event.AccountID, event.DestinationAccountID, event.Amount.Currency)
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		out, err := debit(src, event.Amount.Amount)
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		in, err := credit(dst, event.Amount.Amount)
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		outcome.NewBalance = &out.NewBalance
		outcome.DestinationNewBalance = &in.NewBalance
		return outcome, []domain.AccountMutation{out, in}, nil

	case domain.EventTypeReversal:
		return p.evaluateReversal(ctx, event)
	}

	return domain.Outcome{}, nil, domain.Reject(fmt.Errorf("unsupported event type %q", event.Type))
}

// evaluateReversal undoes the balance effect of an accepted original event.
func (p *Processor) evaluateReversal(ctx context.Context, event *domain.Event) (domain.Outcome, []domain.AccountMutation, error) {
	original, err := p.ledger.Get(ctx, event.ReversesEventID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return domain.Outcome{}, nil, domain.Reject(domain.ErrOriginalNotFound)
		}
		return domain.Outcome{}, nil, err
	}

	orig := original.Outcome
	switch {
	case orig.Result != domain.ResultAccepted:
		return domain.Outcome{}, nil, domain.Reject(domain.ErrOriginalRejected)
	case orig.EventType == domain.EventTypeReversal:
		return domain.Outcome{}, nil, domain.Reject(domain.ErrOriginalIsReversal)
	case orig.AccountID != event.AccountID:
		return domain.Outcome{}, nil, domain.Reject(domain.ErrReversalAccount)
	}

	if event.Amount.Amount != 0 || event.Amount.Currency != "" {
		if event.Amount.Currency != "" && event.Amount.Currency != orig.Amount.Currency {
			return domain.Outcome{}, nil, domain.Reject(domain.ErrReversalAmount)
		}
		if event.Amount.Amount != 0 && event.Amount.Amount != orig.Amount.Amount {
			return domain.Outcome{}, nil, domain.Reject(domain.ErrReversalAmount)
		}
	}

	if _, err := p.ledger.GetAcceptedReversal(ctx, original.EventID); err == nil {
		return domain.Outcome{}, nil, domain.Reject(domain.ErrAlreadyReversed)
	} else if !errors.Is(err, domain.ErrRecordNotFound) {
		return domain.Outcome{}, nil, err
	}

	amount := orig.Amount
	outcome := domain.Outcome{
		Result:               domain.ResultAccepted,
		EventType:            domain.EventTypeReversal,
		AccountID:            orig.AccountID,
		DestinationAccountID: orig.DestinationAccountID,
		ReversesEventID:      original.EventID,
		Amount:               amount,
	}

	switch orig.EventType {
	case domain.EventTypeDeposit, domain.EventTypeWithdrawal:
		acc, err := p.loadAccount(ctx, orig.AccountID, amount.Currency)
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		var m domain.AccountMutation
		if orig.EventType == domain.EventTypeDeposit {
			m, err = debit(acc, amount.Amount)
		} else {
			m, err = credit(acc, amount.Amount)
		}
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		outcome.NewBalance = &m.NewBalance
		return outcome, []domain.AccountMutation{m}, nil

	case domain.EventTypeTransfer:
		src, dst, err := p.loadPair(ctx, orig.AccountID, orig.DestinationAccountID, amount.Currency)
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		back, err := debit(dst, amount.Amount)
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		refund, err := credit(src, amount.Amount)
		if err != nil {
			return domain.Outcome{}, nil, err
		}
		outcome.NewBalance = &refund.NewBalance
		outcome.DestinationNewBalance = &back.NewBalance
		return outcome, []domain.AccountMutation{refund, back}, nil
	}

	return domain.Outcome{}, nil, domain.Reject(domain.ErrOriginalIsReversal)
}

// loadAccount loads an account that must be active and held in currency.
func (p *Processor) loadAccount(ctx context.Context, id, currency string) (*domain.Account, error) {
	acc, err := p.store.LoadForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.Reject(err)
		}
		return nil, err
	}

	if err := acc.ValidateActive(); err != nil {
		return nil, domain.Reject(err)
	}
	if acc.Currency != currency {
		return nil, domain.Reject(domain.ErrCurrencyMismatch)
	}

	return acc, nil
}

func (p *Processor) loadPair(ctx context.Context, srcID, dstID, currency string) (*domain.Account, *domain.Account, error) {
	if srcID == dstID {
		return nil, nil, domain.Reject(domain.ErrSameAccount)
	}

	src, err := p.loadAccount(ctx, srcID, currency)
	if err != nil {
		return nil, nil, err
	}
	dst, err := p.loadAccount(ctx, dstID, currency)
	if err != nil {
		return nil, nil, err
	}

	return src, dst, nil
}

func debit(acc *domain.Account, amount int64) (domain.AccountMutation, error) {
	if err := acc.ValidateDebit(amount); err != nil {
		return domain.AccountMutation{}, domain.Reject(err)
	}
	return acc.Debit(amount), nil
}

func credit(acc *domain.Account, amount int64) (domain.AccountMutation, error) {
	if err := acc.ValidateCredit(amount); err != nil {
		return domain.AccountMutation{}, domain.Reject(err)
	}
	return acc.Credit(amount), nil
}

func rejectedOutcome(event *domain.Event, ve *domain.ValidationError) domain.Outcome {
	return domain.Outcome{
		Result:               domain.ResultRejected,
		Reason:               ve.Error(),
		EventType:            event.Type,
		AccountID:            event.AccountID,
		DestinationAccountID: event.DestinationAccountID,
		ReversesEventID:      event.ReversesEventID,
		Amount:               event.Amount,
	}
}

// publish hands a committed outcome to the publisher. A failure is left
// for the re-publish sweep; the commit stands either way.
func (p *Processor) publish(ctx context.Context, record *domain.IdempotencyRecord) {
	if err := p.publisher.Publish(ctx, record.OutcomeEvent()); err != nil {
		p.inc(func(m *metrics.Metrics) { m.PublishFailures.Inc() })
		p.logger.Warn().Err(err).Str("event_id", record.EventID).Msg("outcome publish failed, left for re-publish")
		return
	}

	publishedAt := p.now()
	if err := p.ledger.MarkPublished(ctx, record.EventID, publishedAt); err != nil {
		p.logger.Warn().Err(err).Str("event_id", record.EventID).Msg("failed to mark outcome published")
		return
	}
	record.PublishedAt = &publishedAt
}

func (p *Processor) inc(fn func(m *metrics.Metrics)) {
	if p.metrics != nil {
		fn(p.metrics)
	}
}
