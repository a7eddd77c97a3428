package queue

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// Handler processes one message pulled off a single queue.
type Handler func(ctx context.Context, msg *Message) error

// WorkerPool runs a fixed number of goroutines polling one Manager
// (one queue) and dispatching every message to a single Handler — a
// frontend process runs one WorkerPool per object type it handles,
// each bound to its own CTX-JobReq-<TYPE> queue.
type WorkerPool struct {
	mgr     *Manager
	handler Handler
	cfg     Config
	logger  arbor.ILogger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewWorkerPool(mgr *Manager, handler Handler, cfg Config, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{mgr: mgr, handler: handler, cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}
}

// Start launches cfg.Concurrency worker goroutines, staggered across
// the poll interval to reduce contention on the single-writer SQLite
// connection backing the queue.
func (wp *WorkerPool) Start() {
	wp.done = make(chan struct{}, wp.cfg.Concurrency)
	for i := 0; i < wp.cfg.Concurrency; i++ {
		go wp.worker(i)
	}
}

// Stop cancels every worker and waits for them to exit.
func (wp *WorkerPool) Stop() {
	wp.cancel()
	for i := 0; i < wp.cfg.Concurrency; i++ {
		<-wp.done
	}
}

func (wp *WorkerPool) worker(workerID int) {
	defer func() { wp.done <- struct{}{} }()

	staggerDelay := (wp.cfg.PollInterval / time.Duration(wp.cfg.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processOne(workerID); err != nil && err != ErrNoMessage {
				if !isTransientSQLiteError(err) {
					wp.logger.Warn().Err(err).Int("worker_id", workerID).Str("queue", wp.mgr.Name()).Msg("error processing message")
				}
			}
		}
	}
}

func (wp *WorkerPool) processOne(workerID int) error {
	msg, deleteFn, err := wp.mgr.Receive(wp.ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	handlerErr := wp.handler(wp.ctx, msg)
	duration := time.Since(start)

	if handlerErr != nil {
		wp.logger.Error().Err(handlerErr).
			Str("queue", wp.mgr.Name()).
			Str("correlation_id", msg.CorrelationID).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("handler failed")
		// The message stays in the queue (no delete) so goqite
		// redelivers it after its visibility timeout, up to goqite's
		// receive limit (neither is taken from Config).
		return handlerErr
	}

	if err := wp.retryDelete(deleteFn); err != nil {
		wp.logger.Error().Err(err).
			Str("queue", wp.mgr.Name()).
			Str("correlation_id", msg.CorrelationID).
			Msg("failed to delete processed message - will be redelivered")
		return err
	}
	return nil
}

// retryDelete retries message deletion with exponential backoff for
// SQLITE_BUSY/"database is locked" errors, the single transient
// failure mode SQLite's single-writer model produces under load.
func (wp *WorkerPool) retryDelete(deleteFn func() error) error {
	var lastErr error
	delay := 200 * time.Millisecond

	for attempt := 1; attempt <= 3; attempt++ {
		lastErr = deleteFn()
		if lastErr == nil {
			return nil
		}
		if !isTransientSQLiteError(lastErr) {
			return lastErr
		}
		if attempt < 3 {
			select {
			case <-wp.ctx.Done():
				return wp.ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return lastErr
}

func isTransientSQLiteError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
