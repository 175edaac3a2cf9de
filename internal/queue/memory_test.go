package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type payout struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	if err := q.Enqueue(ctx, payout{AccountID: "alice", Amount: "1.5"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.Dequeue(ctx, 1)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].ID == "" {
		t.Error("Expected message id")
	}

	var got payout
	if err := items[0].Decode(&got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.AccountID != "alice" || got.Amount != "1.5" {
		t.Errorf("Unexpected payload %+v", got)
	}
}

func TestMemoryQueue_MessagePassesThrough(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	msg, err := NewMessage(payout{AccountID: "bob"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if err := q.Enqueue(ctx, msg); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.Dequeue(ctx, 1)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if items[0].ID != msg.ID {
		t.Errorf("Expected id %s to survive requeue, got %s", msg.ID, items[0].ID)
	}
}

func TestMemoryQueue_MultipleBatch(t *testing.T) {
	config := DefaultConfig("test")
	config.BatchSize = 5
	q := NewMemoryQueue(config)
	defer q.Close()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(ctx, i); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	items, err := q.Dequeue(ctx, 5)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("Expected 5 items, got %d", len(items))
	}

	items, err = q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("Expected 5 items, got %d", len(items))
	}
}

func TestMemoryQueue_DequeueWithTimeout(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	start := time.Now()
	items, err := q.DequeueWithTimeout(ctx, 1, 100*time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected 0 items, got %d", len(items))
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("Expected timeout, but returned early: %v", elapsed)
	}

	if err := q.Enqueue(ctx, "test"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	items, err = q.DequeueWithTimeout(ctx, 1, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected 1 item, got %d", len(items))
	}
}

func TestMemoryQueue_Concurrent(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()
	var wg sync.WaitGroup

	numGoroutines := 10
	itemsPerGoroutine := 100

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < itemsPerGoroutine; j++ {
				if err := q.Enqueue(ctx, id*itemsPerGoroutine+j); err != nil {
					t.Errorf("Enqueue failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if expected := numGoroutines * itemsPerGoroutine; length != expected {
		t.Errorf("Expected length %d, got %d", expected, length)
	}
}

func TestMemoryQueue_ProducerConsumer(t *testing.T) {
	config := DefaultConfig("concurrent-test")
	config.BatchSize = 20
	q := NewMemoryQueue(config)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	itemsToProcess := 100
	done := make(chan int)

	go func() {
		for i := 0; i < itemsToProcess; i++ {
			_ = q.Enqueue(ctx, i)
			time.Sleep(time.Millisecond)
		}
	}()

	go func() {
		processed := 0
		for processed < itemsToProcess {
			items, err := q.DequeueWithTimeout(ctx, config.BatchSize, 50*time.Millisecond)
			if err != nil {
				continue
			}
			processed += len(items)
		}
		done <- processed
	}()

	select {
	case processed := <-done:
		if processed != itemsToProcess {
			t.Errorf("Expected %d items processed, got %d", itemsToProcess, processed)
		}
	case <-time.After(5 * time.Second):
		t.Error("Test timed out")
	}
}

func TestMemoryQueue_ClosedQueue(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	ctx := context.Background()

	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := q.Enqueue(ctx, "test"); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Length(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.DequeueWithTimeout(ctx, 1, time.Millisecond); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestMemoryQueue_CloseWakesConsumer(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	errCh := make(chan error, 1)

	go func() {
		_, err := q.Dequeue(context.Background(), 1)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Close")
	}
}

func TestMemoryDeadLetterQueue_AddListRemove(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	defer dlq.Close()

	ctx := context.Background()

	first, _ := NewMessage(payout{AccountID: "a"})
	second, _ := NewMessage(payout{AccountID: "b"})
	if err := dlq.Add(ctx, first, ErrMaxRetriesExceeded); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := dlq.Add(ctx, second, errors.New("ledger unavailable")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	items, err := dlq.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].ID() != first.ID {
		t.Errorf("Expected oldest failure first")
	}
	if items[1].Error != "ledger unavailable" {
		t.Errorf("Unexpected error text %q", items[1].Error)
	}

	limited, err := dlq.List(ctx, 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 item, got %d", len(limited))
	}

	if err := dlq.Remove(ctx, first.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := dlq.Remove(ctx, first.ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}

	items, _ = dlq.List(ctx, 0)
	if len(items) != 1 {
		t.Errorf("Expected 1 item after removal, got %d", len(items))
	}
}

func TestMemoryDeadLetterQueue_Closed(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	ctx := context.Background()

	if err := dlq.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	msg, _ := NewMessage("x")
	if err := dlq.Add(ctx, msg, ErrMaxRetriesExceeded); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if _, err := dlq.List(ctx, 10); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if err := dlq.Remove(ctx, "test-id"); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestMessage_DecodeMalformed(t *testing.T) {
	msg := Message{ID: "m-1", Payload: []byte(`{"account_id": 7}`)}

	var p payout
	err := msg.Decode(&p)
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("Expected ErrMalformedMessage, got %v", err)
	}
}
