// Package earnout pays contributors the credits released as their pooled
// resources are consumed. Releases are computed during settlement and
// published here; the worker posts them to the ledger in the background.
package earnout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"credit_pool/internal/ledger"
	"credit_pool/internal/models"
	"credit_pool/internal/queue"
	"credit_pool/internal/storage"
	"credit_pool/internal/utils"
)

// Release is one payout owed to a resource owner.
type Release struct {
	UsageRecordID uuid.UUID      `json:"usage_record_id"`
	ResourceID    uuid.UUID      `json:"resource_id"`
	AccountID     string         `json:"account_id"`
	Amount        models.Credits `json:"amount"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Reference is the ledger reference that makes the payout idempotent.
func (r Release) Reference() string {
	return models.EarnOutReference(r.UsageRecordID)
}

// Payer posts deposits to the ledger.
type Payer interface {
	Deposit(ctx context.Context, accountID string, amount models.Credits, description string, reference *string) (*models.Transaction, error)
}

// Worker drains the earn-out queue into the ledger
type Worker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	payer       Payer
	config      *queue.Config
	enabled     bool
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates an earn-out worker. A disabled worker accepts releases
// and drops them, so settlement still tracks released amounts without
// crediting anyone.
func NewWorker(q queue.Queue, dlq queue.DeadLetterQueue, payer Payer, config *queue.Config, enabled bool) *Worker {
	if config == nil {
		config = queue.DefaultConfig("earnout")
	}
	return &Worker{
		queue:       q,
		dlq:         dlq,
		payer:       payer,
		config:      config,
		enabled:     enabled,
		logger:      utils.NewLogger("earnout-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Enabled reports whether releases are paid out.
func (w *Worker) Enabled() bool {
	return w.enabled
}

// Publish queues a release for payout.
func (w *Worker) Publish(ctx context.Context, r Release) error {
	if !w.enabled {
		w.logger.Debug("Earn-out disabled, release not paid", "account_id", r.AccountID, "amount", r.Amount.String())
		return nil
	}
	if r.Amount <= 0 || r.AccountID == "" {
		return nil
	}
	return w.queue.Enqueue(ctx, r)
}

// Start starts the worker goroutine
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *Worker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Earn-out worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Earn-out worker context cancelled")
			return
		default:
			if _, err := w.ProcessBatch(ctx); err != nil {
				if errors.Is(err, queue.ErrQueueClosed) {
					w.logger.Info("Earn-out queue closed")
					return
				}
				w.logger.Error("Failed to dequeue releases", "error", err)
				w.sleep(ctx, time.Second)
			}
		}
	}
}

// ProcessBatch pays one batch of queued releases and returns how many were
// paid. Releases that keep failing are parked in the dead letter queue.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	msgs, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	w.logger.Debug("Processing earn-out batch", "count", len(msgs))

	paid := 0
	for _, msg := range msgs {
		if err := w.processMessage(ctx, msg); err != nil {
			w.logger.Error("Failed to pay release", "message_id", msg.ID, "error", err)
			continue
		}
		paid++
	}
	return paid, nil
}

func (w *Worker) processMessage(ctx context.Context, msg queue.Message) error {
	var r Release
	if err := msg.Decode(&r); err != nil {
		w.park(ctx, msg, err)
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying release", "attempt", attempt, "backoff", backoff)
			if !w.sleep(ctx, backoff) {
				lastErr = ctx.Err()
				break
			}
		}

		lastErr = w.pay(ctx, r)
		if lastErr == nil {
			return nil
		}
		if permanent(lastErr) {
			break
		}
		w.logger.Warn("Release payout failed", "attempt", attempt, "account_id", r.AccountID, "error", lastErr)
	}

	w.park(ctx, msg, lastErr)
	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

func (w *Worker) pay(ctx context.Context, r Release) error {
	ref := r.Reference()
	_, err := w.payer.Deposit(ctx, r.AccountID, r.Amount,
		fmt.Sprintf("Earn-out release for resource %s", r.ResourceID), &ref)
	if errors.Is(err, storage.ErrDuplicateReference) {
		w.logger.Debug("Release already paid", "usage_record_id", r.UsageRecordID)
		return nil
	}
	if err != nil {
		return err
	}
	w.logger.Debug("Release paid", "account_id", r.AccountID, "amount", r.Amount.String(), "usage_record_id", r.UsageRecordID)
	return nil
}

func (w *Worker) park(ctx context.Context, msg queue.Message, cause error) {
	if w.dlq == nil {
		return
	}
	if err := w.dlq.Add(context.WithoutCancel(ctx), msg, cause); err != nil {
		w.logger.Error("Failed to add to dead letter queue", "message_id", msg.ID, "error", err)
		return
	}
	w.logger.Warn("Release moved to DLQ", "message_id", msg.ID, "error", cause)
}

// permanent reports errors that retrying cannot fix. They go straight to the
// dead letter queue for an operator.
func permanent(err error) bool {
	return errors.Is(err, ledger.ErrAccountFrozen) ||
		errors.Is(err, ledger.ErrInvalidAmount) ||
		errors.Is(err, ledger.ErrInvalidAccount)
}

// sleep waits for d and reports false if the worker was stopped first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.stopChan:
		return false
	case <-ctx.Done():
		return false
	}
}

// QueueLength returns the number of releases waiting for payout
func (w *Worker) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// DeadLetters returns parked releases
func (w *Worker) DeadLetters(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetter puts a parked release back on the queue
func (w *Worker) RetryDeadLetter(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}
	for _, item := range items {
		if item.ID() != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, item.Message); err != nil {
			return fmt.Errorf("failed to re-enqueue release: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}
	return queue.ErrItemNotFound
}
