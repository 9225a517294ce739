// Package kafka binds the consumer and outcome ports to Kafka.
package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/iho/txstream/internal/consumer"
)

type reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// SourceConfig configures the consumer group reader.
type SourceConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	MaxWait time.Duration
}

// Source implements consumer.Source on a kafka-go consumer group reader.
// Offsets are committed explicitly and synchronously.
type Source struct {
	reader reader
}

// NewSource creates a new Source.
func NewSource(cfg SourceConfig) *Source {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}

	return newSourceWithReader(kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        cfg.MaxWait,
		CommitInterval: 0,
		StartOffset:    kafkago.FirstOffset,
	}))
}

func newSourceWithReader(r reader) *Source {
	return &Source{reader: r}
}

// Fetch blocks until the next message is available.
func (s *Source) Fetch(ctx context.Context) (consumer.Message, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return consumer.Message{}, err
	}

	headers := make([]consumer.Header, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		headers = append(headers, consumer.Header{Key: h.Key, Value: h.Value})
	}

	return consumer.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Time:      msg.Time,
	}, nil
}

// Commit acknowledges every message up to and including each offset.
func (s *Source) Commit(ctx context.Context, offsets []consumer.Offset) error {
	if len(offsets) == 0 {
		return nil
	}

	msgs := make([]kafkago.Message, 0, len(offsets))
	for _, o := range offsets {
		msgs = append(msgs, kafkago.Message{Topic: o.Topic, Partition: o.Partition, Offset: o.Offset})
	}

	if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("commit %d offsets: %w", len(msgs), err)
	}
	return nil
}

// Close leaves the consumer group.
func (s *Source) Close() error {
	return s.reader.Close()
}
