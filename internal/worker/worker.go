package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
	"github.com/custodia-labs/indexsync/internal/core/ports/driving"
	"github.com/custodia-labs/indexsync/internal/metrics"
)

// Worker processes tasks from the task queue.
// Each full_reindex task is one page of a reindex run.
type Worker struct {
	taskQueue driven.TaskQueue
	reindexer driving.Reindexer
	logger    *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout int // seconds
	retryInterval  time.Duration
	maxRetryWait   time.Duration

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue      driven.TaskQueue
	Reindexer      driving.Reindexer
	Logger         *slog.Logger
	Concurrency    int // Number of concurrent task processors
	DequeueTimeout int // Seconds to wait for a task before checking again

	// RetryInterval is the first wait after a failed dequeue. Waits grow
	// exponentially up to MaxRetryWait.
	RetryInterval time.Duration
	MaxRetryWait  time.Duration
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	maxRetryWait := cfg.MaxRetryWait
	if maxRetryWait <= 0 {
		maxRetryWait = 30 * time.Second
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		reindexer:      cfg.Reindexer,
		logger:         logger.With("component", "worker"),
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
		retryInterval:  retryInterval,
		maxRetryWait:   maxRetryWait,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Info("worker goroutine started")

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = w.retryInterval
	retry.MaxInterval = w.maxRetryWait
	retry.Reset()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Info("worker stop signal received")
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			wait := retry.NextBackOff()
			logger.Error("failed to dequeue task", "error", err, "retry_in", wait)
			w.sleep(ctx, wait)
			continue
		}
		retry.Reset()

		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

// sleep waits for d unless the worker is stopped first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-timer.C:
	}
}

// processTask processes a single task.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "attempt", task.Attempts)
	logger.Info("processing task")

	startTime := time.Now()
	var err error

	switch task.Type {
	case domain.TaskTypeFullReindex:
		err = w.reindexer.RunTask(ctx, task)
	default:
		err = fmt.Errorf("%w: %s", domain.ErrUnknownTaskType, task.Type)
	}

	duration := time.Since(startTime)

	if err != nil {
		metrics.WorkerTasks.WithLabelValues(string(task.Type), metrics.ResultError).Inc()
		logger.Error("task failed",
			"duration", duration,
			"error", err,
		)

		// Nack the task so it can be retried
		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
		return
	}

	metrics.WorkerTasks.WithLabelValues(string(task.Type), metrics.ResultSuccess).Inc()
	logger.Info("task completed", "duration", duration)

	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

// Health reports whether the worker is running and its queue reachable.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.taskQueue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}

// Ping fails when the worker is stopped or its queue is unreachable.
func (w *Worker) Ping(ctx context.Context) error {
	health := w.Health(ctx)
	if !health.Running {
		return errors.New("worker not running")
	}
	if !health.QueueHealth {
		return fmt.Errorf("task queue: %s", health.Error)
	}
	return nil
}
