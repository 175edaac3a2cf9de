// Package logging archives usage records off the request path. Settlement
// enqueues each committed record; a BatchSink buffers them and hands
// batches to a writer (S3 or rotated local files) on size or interval.
package logging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"credit_pool/internal/models"
	"credit_pool/internal/utils"
)

// ErrSinkClosed is returned by Enqueue after Shutdown.
var ErrSinkClosed = errors.New("usage sink is closed")

// ErrBufferFull is returned when the in-memory buffer cannot take more records.
var ErrBufferFull = errors.New("usage sink buffer is full")

// Sink receives committed usage records.
type Sink interface {
	Enqueue(rec *models.UsagePoolRecord) error
	Shutdown(ctx context.Context) error
}

// BatchWriter persists one batch and returns where it went.
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*models.UsagePoolRecord) (string, error)
}

// NoopSink discards records.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *models.UsagePoolRecord) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}

// BatchSinkConfig tunes a BatchSink.
type BatchSinkConfig struct {
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
}

// BatchSink buffers records and writes them in batches from one goroutine.
// Enqueue never blocks: a full buffer drops the record.
type BatchSink struct {
	writer BatchWriter
	config BatchSinkConfig
	logger *utils.Logger

	recCh  chan *models.UsagePoolRecord
	doneCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewBatchSink starts a sink that writes through writer.
func NewBatchSink(writer BatchWriter, config BatchSinkConfig) *BatchSink {
	if config.BufferSize <= 0 {
		config.BufferSize = 10000
	}
	if config.FlushSize <= 0 {
		config.FlushSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Minute
	}

	s := &BatchSink{
		writer: writer,
		config: config,
		logger: utils.NewLogger("usage-sink"),
		recCh:  make(chan *models.UsagePoolRecord, config.BufferSize),
		doneCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue buffers rec for the next batch.
func (s *BatchSink) Enqueue(rec *models.UsagePoolRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.recCh <- rec:
		return nil
	default:
		s.dropped.Add(1)
		return ErrBufferFull
	}
}

// Dropped returns how many records were refused because the buffer was full.
func (s *BatchSink) Dropped() int64 {
	return s.dropped.Load()
}

// Shutdown stops accepting records, writes what is buffered and waits for
// the writer goroutine, or for ctx.
func (s *BatchSink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.doneCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *BatchSink) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*models.UsagePoolRecord, 0, s.config.FlushSize)
	for {
		select {
		case rec := <-s.recCh:
			batch = append(batch, rec)
			if len(batch) >= s.config.FlushSize {
				batch = s.flush(batch)
			}
		case <-ticker.C:
			batch = s.flush(batch)
		case <-s.doneCh:
			for {
				select {
				case rec := <-s.recCh:
					batch = append(batch, rec)
					if len(batch) >= s.config.FlushSize {
						batch = s.flush(batch)
					}
				default:
					s.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes batch and returns an empty slice to reuse. A failed write is
// logged and the batch dropped.
func (s *BatchSink) flush(batch []*models.UsagePoolRecord) []*models.UsagePoolRecord {
	if len(batch) == 0 {
		return batch
	}
	out := make([]*models.UsagePoolRecord, len(batch))
	copy(out, batch)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.writer.WriteBatch(ctx, out); err != nil {
		s.logger.Error("Failed to write usage batch", "count", len(out), "error", err)
	}
	return batch[:0]
}
