// Package consumer drives events from the broker through the processor and
// decides when an offset may be committed.
package consumer

import (
	"context"
	"time"

	"github.com/iho/txstream/internal/domain"
	"github.com/iho/txstream/internal/usecase"
)

// Header is a message header.
type Header struct {
	Key   string
	Value []byte
}

// Message is one record fetched from an input topic.
type Message struct {
	Time      time.Time
	Topic     string
	Key       []byte
	Value     []byte
	Headers   []Header
	Partition int
	Offset    int64
}

// Offset identifies the last completed message of a topic-partition.
type Offset struct {
	Topic     string
	Partition int
	Offset    int64
}

// DeadLetter describes a message that can never be processed.
type DeadLetter struct {
	FailedAt time.Time
	Err      error
	Kind     string
	Message  Message
	Attempts int
}

// Source fetches messages and commits completed offsets.
type Source interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, offsets []Offset) error
}

// DeadLetterWriter durably parks poison messages.
type DeadLetterWriter interface {
	Write(ctx context.Context, letter DeadLetter) error
}

// EventProcessor applies a decoded event.
type EventProcessor interface {
	Process(ctx context.Context, event *domain.Event) (*usecase.Result, error)
}
