package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/iho/txstream/internal/consumer"
	"github.com/iho/txstream/internal/usecase"
)

// Dead-letter header keys.
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionMessage  = "x-exception-message"
	HeaderExceptionClass    = "x-exception-class"
	HeaderAttemptCount      = "x-attempt-count"
	HeaderDeadLetterID      = "x-dead-letter-id"
	HeaderFailedAt          = "x-failed-at"
)

// DeadLetterWriter implements consumer.DeadLetterWriter. The original key,
// value and headers are kept; failure details travel as extra headers.
type DeadLetterWriter struct {
	writer writer
	ids    usecase.IDGenerator
}

// NewDeadLetterWriter creates a new DeadLetterWriter.
func NewDeadLetterWriter(brokers []string, topic string, ids usecase.IDGenerator) *DeadLetterWriter {
	return newDeadLetterWriterWithWriter(&kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &sourcePartition{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}, ids)
}

// sourcePartition keeps a dead letter on the partition number it was read
// from. Topics with fewer partitions fall back to hashing the key.
type sourcePartition struct {
	fallback kafkago.Hash
}

func (b *sourcePartition) Balance(msg kafkago.Message, partitions ...int) int {
	for _, p := range partitions {
		if p == msg.Partition {
			return p
		}
	}
	return b.fallback.Balance(msg, partitions...)
}

func newDeadLetterWriterWithWriter(w writer, ids usecase.IDGenerator) *DeadLetterWriter {
	return &DeadLetterWriter{writer: w, ids: ids}
}

// Write parks letter on the dead-letter topic.
func (d *DeadLetterWriter) Write(ctx context.Context, letter consumer.DeadLetter) error {
	src := letter.Message

	headers := make([]kafkago.Header, 0, len(src.Headers)+8)
	for _, h := range src.Headers {
		headers = append(headers, kafkago.Header{Key: h.Key, Value: h.Value})
	}

	reason := ""
	if letter.Err != nil {
		reason = letter.Err.Error()
	}

	headers = append(headers,
		kafkago.Header{Key: HeaderOriginalTopic, Value: []byte(src.Topic)},
		kafkago.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(src.Partition))},
		kafkago.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(src.Offset, 10))},
		kafkago.Header{Key: HeaderExceptionMessage, Value: []byte(reason)},
		kafkago.Header{Key: HeaderExceptionClass, Value: []byte(letter.Kind)},
		kafkago.Header{Key: HeaderAttemptCount, Value: []byte(strconv.Itoa(letter.Attempts))},
		kafkago.Header{Key: HeaderDeadLetterID, Value: []byte(d.ids.Generate())},
		kafkago.Header{Key: HeaderFailedAt, Value: []byte(letter.FailedAt.UTC().Format(time.RFC3339Nano))},
	)

	err := d.writer.WriteMessages(ctx, kafkago.Message{
		Partition: src.Partition,
		Key:       src.Key,
		Value:     src.Value,
		Headers:   headers,
	})
	if err != nil {
		return fmt.Errorf("dead-letter %s/%d@%d: %w", src.Topic, src.Partition, src.Offset, err)
	}

	return nil
}

// Close flushes pending writes.
func (d *DeadLetterWriter) Close() error {
	return d.writer.Close()
}
