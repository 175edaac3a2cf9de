package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue implements Queue using a buffered channel
type MemoryQueue struct {
	items  chan Message
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a new in-memory queue buffering ten batches.
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}
	return &MemoryQueue{
		items: make(chan Message, config.BatchSize*10),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, v interface{}) error {
	msg, err := NewMessage(v)
	if err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([]Message, error) {
	return q.dequeue(ctx, maxItems, nil)
}

func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return q.dequeue(ctx, maxItems, timer.C)
}

// dequeue waits for the first message, or for deadline when it is non-nil,
// then drains whatever else is ready without blocking.
func (q *MemoryQueue) dequeue(ctx context.Context, maxItems int, deadline <-chan time.Time) ([]Message, error) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	items := q.items
	q.mu.RUnlock()

	out := make([]Message, 0, maxItems)
	select {
	case msg, ok := <-items:
		if !ok {
			return nil, ErrQueueClosed
		}
		out = append(out, msg)
	case <-deadline:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(out) < maxItems {
		select {
		case msg, ok := <-items:
			if !ok {
				return out, nil
			}
			out = append(out, msg)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	return len(q.items), nil
}

// Close stops accepting messages. Messages still buffered are dropped.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.items)
	return nil
}

// MemoryDeadLetterQueue implements DeadLetterQueue in memory
type MemoryDeadLetterQueue struct {
	items  map[string]DeadLetterItem
	mu     sync.RWMutex
	closed bool
}

func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{items: make(map[string]DeadLetterItem)}
}

func (q *MemoryDeadLetterQueue) Add(ctx context.Context, msg Message, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items[msg.ID] = newDeadLetterItem(msg, cause)
	return nil
}

func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	out := make([]DeadLetterItem, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item)
	}
	return limitItems(sortItems(out), maxItems), nil
}

func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.items[id]; !ok {
		return ErrItemNotFound
	}
	delete(q.items, id)
	return nil
}

func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	return nil
}

func newDeadLetterItem(msg Message, cause error) DeadLetterItem {
	item := DeadLetterItem{Message: msg, FailedAt: time.Now().UTC()}
	if cause != nil {
		item.Error = cause.Error()
	}
	return item
}

func sortItems(items []DeadLetterItem) []DeadLetterItem {
	sort.Slice(items, func(i, j int) bool {
		if items[i].FailedAt.Equal(items[j].FailedAt) {
			return items[i].Message.ID < items[j].Message.ID
		}
		return items[i].FailedAt.Before(items[j].FailedAt)
	})
	return items
}

func limitItems(items []DeadLetterItem, maxItems int) []DeadLetterItem {
	if maxItems > 0 && len(items) > maxItems {
		return items[:maxItems]
	}
	return items
}
