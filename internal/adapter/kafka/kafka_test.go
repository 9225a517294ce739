package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/txstream/internal/consumer"
	"github.com/iho/txstream/internal/domain"
	"github.com/iho/txstream/internal/usecase/mocks"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs      []kafkago.Message
	committed []kafkago.Message
	err       error
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafkago.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if r.err != nil {
		return r.err
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func header(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestSource_FetchAndCommit(t *testing.T) {
	now := time.Now()
	r := &fakeReader{msgs: []kafkago.Message{{
		Topic:     "transactions.created",
		Partition: 2,
		Offset:    41,
		Key:       []byte("acc-1"),
		Value:     []byte(`{}`),
		Headers:   []kafkago.Header{{Key: "trace", Value: []byte("abc")}},
		Time:      now,
	}}}
	src := newSourceWithReader(r)

	msg, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "transactions.created", msg.Topic)
	assert.Equal(t, 2, msg.Partition)
	assert.Equal(t, int64(41), msg.Offset)
	assert.Equal(t, []consumer.Header{{Key: "trace", Value: []byte("abc")}}, msg.Headers)

	require.NoError(t, src.Commit(context.Background(), nil))
	assert.Empty(t, r.committed)

	require.NoError(t, src.Commit(context.Background(), []consumer.Offset{{Topic: "transactions.created", Partition: 2, Offset: 41}}))
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(41), r.committed[0].Offset)

	r.err = errors.New("rebalance in progress")
	assert.Error(t, src.Commit(context.Background(), []consumer.Offset{{Topic: "t", Offset: 1}}))
}

func TestSource_FetchHonorsContext(t *testing.T) {
	src := newSourceWithReader(&fakeReader{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func outcome() domain.OutcomeEvent {
	balance := &domain.Money{Amount: 10050, Currency: "USD"}
	return domain.OutcomeEvent{
		ProcessedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		EventID:       "evt-1",
		CorrelationID: "corr-1",
		EventType:     domain.EventTypeDeposit,
		Result:        domain.ResultAccepted,
		AccountID:     "acc-1",
		NewBalance:    balance,
	}
}

func TestOutcomePublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	pub := newOutcomePublisherWithWriter(w, BreakerConfig{}, zerolog.Nop())

	require.NoError(t, pub.Publish(context.Background(), outcome()))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "corr-1", string(msg.Key))
	assert.Equal(t, "evt-1", header(msg, HeaderEventID))
	assert.Equal(t, "Deposit", header(msg, HeaderEventType))
	assert.Contains(t, string(msg.Value), `"newBalance":{"value":"100.50","currency":"USD"}`)
}

func TestOutcomePublisher_BreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	pub := newOutcomePublisherWithWriter(w, BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Hour}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := pub.Publish(ctx, outcome())
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrPublishUnavailable)
	}

	err := pub.Publish(ctx, outcome())
	assert.ErrorIs(t, err, domain.ErrPublishUnavailable)
}

func TestOutcomePublisher_CanceledWritesDoNotTrip(t *testing.T) {
	w := &fakeWriter{err: context.Canceled}
	pub := newOutcomePublisherWithWriter(w, BreakerConfig{ConsecutiveFailures: 1, Timeout: time.Hour}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		err := pub.Publish(context.Background(), outcome())
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestDeadLetterWriter_Headers(t *testing.T) {
	w := &fakeWriter{}
	ids := mocks.NewMockIDGenerator()
	ids.GenerateFunc = func() string { return "01HZZZZZZZZZZZZZZZZZZZZZZZ" }
	dlq := newDeadLetterWriterWithWriter(w, ids)

	failedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := dlq.Write(context.Background(), consumer.DeadLetter{
		Message: consumer.Message{
			Topic:     "transactions.created",
			Partition: 3,
			Offset:    99,
			Key:       []byte("acc-1"),
			Value:     []byte("not json"),
			Headers:   []consumer.Header{{Key: "trace", Value: []byte("abc")}},
		},
		Kind:     "MalformedEnvelope",
		Err:      errors.New("invalid character 'o' in literal null"),
		Attempts: 1,
		FailedAt: failedAt,
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, 3, msg.Partition)
	assert.Equal(t, "acc-1", string(msg.Key))
	assert.Equal(t, "not json", string(msg.Value))
	assert.Equal(t, "abc", header(msg, "trace"))
	assert.Equal(t, "transactions.created", header(msg, HeaderOriginalTopic))
	assert.Equal(t, "3", header(msg, HeaderOriginalPartition))
	assert.Equal(t, "99", header(msg, HeaderOriginalOffset))
	assert.Equal(t, "MalformedEnvelope", header(msg, HeaderExceptionClass))
	assert.Equal(t, "invalid character 'o' in literal null", header(msg, HeaderExceptionMessage))
	assert.Equal(t, "1", header(msg, HeaderAttemptCount))
	assert.Equal(t, "01HZZZZZZZZZZZZZZZZZZZZZZZ", header(msg, HeaderDeadLetterID))
	assert.Equal(t, "2024-05-01T12:00:00Z", header(msg, HeaderFailedAt))
}

func TestSourcePartitionBalancer(t *testing.T) {
	b := &sourcePartition{}

	assert.Equal(t, 3, b.Balance(kafkago.Message{Partition: 3}, 0, 1, 2, 3))
	assert.Equal(t, 0, b.Balance(kafkago.Message{Partition: 0}, 0, 1, 2, 3))

	// A keyless letter still lands on its source partition.
	assert.Equal(t, 2, b.Balance(kafkago.Message{Partition: 2, Value: []byte("x")}, 0, 1, 2, 3))

	// Fewer dead-letter partitions than source partitions: hash the key.
	msg := kafkago.Message{Partition: 7, Key: []byte("acc-1")}
	got := b.Balance(msg, 0, 1, 2)
	assert.Contains(t, []int{0, 1, 2}, got)
	assert.Equal(t, got, b.Balance(msg, 0, 1, 2))
}

func TestDeadLetterWriter_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("not enough replicas")}
	dlq := newDeadLetterWriterWithWriter(w, mocks.NewMockIDGenerator())

	err := dlq.Write(context.Background(), consumer.DeadLetter{Message: consumer.Message{Topic: "t"}})
	assert.Error(t, err)
}
