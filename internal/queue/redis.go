package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue using a Redis list. The client is shared with
// the rest of the process and is not closed by the queue.
type RedisQueue struct {
	client *redis.Client
	qKey   string
}

// NewRedisQueue creates a queue stored under queue:<QueueName>
func NewRedisQueue(client *redis.Client, config *Config) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config == nil || config.QueueName == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	return &RedisQueue{
		client: client,
		qKey:   fmt.Sprintf("queue:%s", config.QueueName),
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, v interface{}) error {
	msg, err := NewMessage(v)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := q.client.RPush(ctx, q.qKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, maxItems int) ([]Message, error) {
	return q.dequeue(ctx, maxItems, 0)
}

func (q *RedisQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]Message, error) {
	return q.dequeue(ctx, maxItems, timeout)
}

// dequeue blocks on BLPOP for the first message (timeout 0 blocks forever)
// and then pops the rest without blocking.
func (q *RedisQueue) dequeue(ctx context.Context, maxItems int, timeout time.Duration) ([]Message, error) {
	result, err := q.client.BLPop(ctx, timeout, q.qKey).Result()
	if errors.Is(err, redis.Nil) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	out := make([]Message, 0, maxItems)
	// result[0] is the key, result[1] the value.
	out = appendDecoded(out, result[1])

	for len(out) < maxItems {
		raw, err := q.client.LPop(ctx, q.qKey).Result()
		if err != nil {
			// redis.Nil means drained; anything else is retried on the next call.
			break
		}
		out = appendDecoded(out, raw)
	}
	return out, nil
}

// appendDecoded adds raw to out. Values that are not Message envelopes are
// wrapped so they still reach the consumer.
func appendDecoded(out []Message, raw string) []Message {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil || msg.ID == "" {
		msg = Message{Payload: json.RawMessage(raw), EnqueuedAt: time.Now().UTC()}
		msg.ID = fmt.Sprintf("raw-%d", time.Now().UnixNano())
	}
	return append(out, msg)
}

func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.qKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(length), nil
}

func (q *RedisQueue) Close() error {
	return nil
}

// RedisDeadLetterQueue implements DeadLetterQueue as a Redis hash keyed by
// message id.
type RedisDeadLetterQueue struct {
	client *redis.Client
	dlKey  string
}

// NewRedisDeadLetterQueue creates a dead letter queue stored under dlq:<QueueName>
func NewRedisDeadLetterQueue(client *redis.Client, config *Config) (*RedisDeadLetterQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config == nil || config.QueueName == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	return &RedisDeadLetterQueue{
		client: client,
		dlKey:  fmt.Sprintf("dlq:%s", config.QueueName),
	}, nil
}

func (q *RedisDeadLetterQueue) Add(ctx context.Context, msg Message, cause error) error {
	data, err := json.Marshal(newDeadLetterItem(msg, cause))
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter item: %w", err)
	}
	if err := q.client.HSet(ctx, q.dlKey, msg.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", err)
	}
	return nil
}

func (q *RedisDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	results, err := q.client.HGetAll(ctx, q.dlKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter items: %w", err)
	}

	items := make([]DeadLetterItem, 0, len(results))
	for _, data := range results {
		var item DeadLetterItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			continue // Skip malformed items
		}
		items = append(items, item)
	}
	return limitItems(sortItems(items), maxItems), nil
}

func (q *RedisDeadLetterQueue) Remove(ctx context.Context, id string) error {
	n, err := q.client.HDel(ctx, q.dlKey, id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove from dead letter queue: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (q *RedisDeadLetterQueue) Close() error {
	return nil
}
