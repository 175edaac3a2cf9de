// Package queue moves settlement side effects, such as contributor earn-out
// payouts, off the request path and onto background workers.
//
// Two backends share one contract:
//
//   - MemoryQueue: a buffered channel. Nothing survives a restart; suited to
//     single-process deployments and tests.
//   - RedisQueue: a Redis list. Survives restarts and lets several replicas
//     drain the same queue.
//
// Items travel as Message envelopes holding JSON payloads, so a consumer
// decodes the same way regardless of backend. Items that keep failing are
// parked in a DeadLetterQueue for an operator to inspect or replay.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one queued item.
type Message struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewMessage wraps v in a Message with a fresh id.
func NewMessage(v interface{}) (Message, error) {
	if m, ok := v.(Message); ok {
		return m, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal item: %w", err)
	}
	return Message{ID: uuid.NewString(), Payload: data, EnqueuedAt: time.Now().UTC()}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w %s: %v", ErrMalformedMessage, m.ID, err)
	}
	return nil
}

// Queue defines the interface for message queuing
type Queue interface {
	// Enqueue adds v to the queue. A Message is queued as is; anything else
	// is wrapped with NewMessage.
	Enqueue(ctx context.Context, v interface{}) error

	// Dequeue blocks until at least one message is available or ctx is done,
	// then returns up to maxItems.
	Dequeue(ctx context.Context, maxItems int) ([]Message, error)

	// DequeueWithTimeout is Dequeue bounded by timeout. It returns an empty
	// slice when nothing arrived in time.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]Message, error)

	Length(ctx context.Context) (int, error)

	Close() error
}

// DeadLetterQueue holds messages that exhausted their retries
type DeadLetterQueue interface {
	Add(ctx context.Context, msg Message, cause error) error

	// List returns up to maxItems parked messages, oldest failure first.
	// maxItems <= 0 returns all of them.
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	Remove(ctx context.Context, id string) error

	Close() error
}

// DeadLetterItem is a parked message with the error that parked it
type DeadLetterItem struct {
	Message  Message   `json:"message"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// ID is the id of the parked message.
func (d DeadLetterItem) ID() string {
	return d.Message.ID
}

// Config holds queue configuration
type Config struct {
	// QueueName is the name/key for the queue
	QueueName string

	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		QueueName:    queueName,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
	}
}
