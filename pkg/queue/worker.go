package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WorkerStore defines the interface for worker operations.
type WorkerStore interface {
	// ClaimJob atomically claims the next available job in the queue,
	// preferring higher priority, and places a lease on it.
	ClaimJob(ctx context.Context, workerID uuid.UUID, queue string, lease time.Duration) (*Job, error)

	// CompleteJob marks the job as completed.
	CompleteJob(ctx context.Context, jobID uuid.UUID) error

	// FailJob records a failed attempt. The store increments the attempt
	// counter and either returns the job to retryable with backoff or, if
	// attempts are exhausted, discards it. The updated job is returned so
	// the caller can observe the resulting state.
	FailJob(ctx context.Context, jobID uuid.UUID, errorMsg string) (*Job, error)

	// DiscardJob terminally fails the job regardless of remaining attempts.
	DiscardJob(ctx context.Context, jobID uuid.UUID, errorMsg string) error

	// MoveToDeadLetter archives a discarded job for operator inspection.
	MoveToDeadLetter(ctx context.Context, jobID uuid.UUID) error

	// ExtendLease extends the lease for long-running jobs (optional).
	ExtendLease(ctx context.Context, jobID uuid.UUID, duration time.Duration) error
}

// Worker processes jobs from one or more queues. Each queue gets its own
// poll loop and concurrency limit, so a stalled queue never starves another.
type Worker struct {
	store    WorkerStore
	registry *Registry
	pools    map[string]int
	workerID uuid.UUID
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopMu   sync.Mutex // Protects stopping state and WaitGroup operations

	// Configuration
	pollInterval    time.Duration
	leaseTimeout    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// State management
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a new job worker dispatching through the given registry.
func NewWorker(store WorkerStore, registry *Registry, opts ...WorkerOption) (*Worker, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if registry == nil {
		return nil, ErrRegistryNil
	}

	// Default options
	options := &workerOptions{
		pools:           map[string]int{DefaultQueueName: 1},
		poolsTouched:    false,
		pollInterval:    5 * time.Second,
		leaseTimeout:    5 * time.Minute,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	if len(options.pools) == 0 {
		return nil, ErrNoQueues
	}

	return &Worker{
		store:           store,
		registry:        registry,
		pools:           options.pools,
		workerID:        uuid.New(),
		pollInterval:    options.pollInterval,
		leaseTimeout:    options.leaseTimeout,
		shutdownTimeout: options.shutdownTimeout,
		logger:          options.logger,
	}, nil
}

// Start begins processing jobs in the background, one poll loop per queue.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}

	if w.registry.Len() == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)

	for queue, maxConcurrent := range w.pools {
		go w.runQueue(queue, maxConcurrent)
	}

	w.logger.Info("worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("queues", w.queueNames()),
		slog.Any("kinds", w.registry.Kinds()))

	return nil
}

// Stop gracefully shuts down the worker. It stops claiming new jobs and
// waits up to the shutdown timeout for in-flight jobs before returning;
// jobs still running after that are abandoned to lease expiry.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}

	// Use stopMu to synchronize with the poll loops
	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.Info("worker stopping, waiting for active jobs to complete",
		slog.String("worker_id", w.workerID.String()))

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped",
			slog.String("worker_id", w.workerID.String()))
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("shutdown grace period elapsed with jobs still in flight",
			slog.String("worker_id", w.workerID.String()),
			slog.Duration("grace_period", w.shutdownTimeout))
	}

	return nil
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// runQueue is the poll loop for a single queue.
func (w *Worker) runQueue(queue string, maxConcurrent int) {
	sem := make(chan struct{}, maxConcurrent)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			// Try to acquire a slot
			select {
			case sem <- struct{}{}:
				// Use stopMu to ensure we don't add to WaitGroup after Stop() starts
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-sem // Release slot
					return
				}

				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-sem }() // Release slot

					if err := w.claimAndProcess(queue); err != nil {
						if !errors.Is(err, ErrHandlerNotFound) {
							w.logger.Error("failed to process job",
								slog.String("worker_id", w.workerID.String()),
								slog.String("queue", queue),
								slog.String("error", err.Error()))
						}
					}
				}()
			default:
				// All slots busy, skip this tick
				w.logger.Debug("all worker slots busy, skipping tick",
					slog.String("worker_id", w.workerID.String()),
					slog.String("queue", queue))
			}
		}
	}
}

// claimAndProcess claims a job from the queue and processes it
func (w *Worker) claimAndProcess(queue string) error {
	job, err := w.store.ClaimJob(w.ctx, w.workerID, queue, w.leaseTimeout)
	if err != nil {
		// An empty queue is normal, not an error
		if errors.Is(err, ErrNoJobToClaim) {
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	if job == nil {
		return nil
	}

	w.logger.Debug("claimed job",
		slog.String("worker_id", w.workerID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("kind", job.Kind),
		slog.String("queue", job.Queue))

	return w.processJob(job)
}

// processJob executes a job with its handler
func (w *Worker) processJob(job *Job) (retErr error) {
	start := time.Now()

	// Outcome recording survives Stop cancelling the worker context;
	// otherwise a job that finished during the grace period would never be
	// marked done and replay after its lease expires
	recordCtx := context.WithoutCancel(w.ctx)

	// Panic recovery: a panicking handler counts as a failed attempt
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			w.logger.Error("handler panicked",
				slog.String("worker_id", w.workerID.String()),
				slog.String("job_id", job.ID.String()),
				slog.String("kind", job.Kind),
				slog.Any("panic", r))
			_ = w.handleJobFailure(recordCtx, job, retErr, time.Since(start))
		}
	}()

	handler, ok := w.registry.Handler(job.Kind)
	if !ok {
		return w.handleUnknownKind(recordCtx, job)
	}

	// Deadline is decoupled from the worker lifecycle so graceful shutdown
	// can let in-flight jobs finish
	ctx, cancel := context.WithTimeout(context.Background(), w.leaseTimeout)
	defer cancel()

	err := handler.Handle(ctx, job.Args)
	duration := time.Since(start)

	if err != nil {
		return w.handleJobFailure(recordCtx, job, err, duration)
	}

	return w.handleJobSuccess(recordCtx, job, duration)
}

// handleUnknownKind terminally fails jobs that have no registered handler.
// Retries cannot help without a handler, so the job goes straight to the
// dead-letter archive where operators can requeue it after deploying one.
func (w *Worker) handleUnknownKind(ctx context.Context, job *Job) error {
	w.logger.Error("no handler registered for job kind",
		slog.String("worker_id", w.workerID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("kind", job.Kind))

	errorMsg := "no handler registered for job kind: " + job.Kind
	if err := w.store.DiscardJob(ctx, job.ID, errorMsg); err != nil {
		return fmt.Errorf("failed to discard job %s: %w", job.ID, err)
	}

	if err := w.store.MoveToDeadLetter(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to move job %s to dead letter: %w", job.ID, err)
	}

	return ErrHandlerNotFound
}

// handleJobFailure applies the retry policy to a failed execution.
//
// Permanent errors are terminal after a single attempt. Everything else,
// including unclassified errors, counts against the attempt ceiling: the
// store returns the job to retryable with backoff while attempts remain and
// discards it once they run out, at which point the job is archived.
func (w *Worker) handleJobFailure(ctx context.Context, job *Job, execErr error, duration time.Duration) error {
	w.logger.Error("job failed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("kind", job.Kind),
		slog.Int("attempt", int(job.Attempt)),
		slog.Int("max_attempts", int(job.MaxAttempts)),
		slog.Bool("permanent", IsPermanent(execErr)),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	if IsPermanent(execErr) {
		if err := w.store.DiscardJob(ctx, job.ID, execErr.Error()); err != nil {
			return fmt.Errorf("failed to discard job %s: %w", job.ID, err)
		}
		if err := w.store.MoveToDeadLetter(ctx, job.ID); err != nil {
			return fmt.Errorf("failed to move job %s to dead letter: %w", job.ID, err)
		}

		w.logger.Warn("job discarded on permanent error",
			slog.String("worker_id", w.workerID.String()),
			slog.String("job_id", job.ID.String()),
			slog.String("kind", job.Kind))

		return nil
	}

	updated, err := w.store.FailJob(ctx, job.ID, execErr.Error())
	if err != nil {
		return fmt.Errorf("failed to record failed attempt for job %s: %w", job.ID, err)
	}

	if updated != nil && updated.State == JobStateDiscarded {
		if err := w.store.MoveToDeadLetter(ctx, job.ID); err != nil {
			return fmt.Errorf("failed to move job %s to dead letter after max attempts: %w", job.ID, err)
		}

		w.logger.Warn("job moved to dead letter after exhausting attempts",
			slog.String("worker_id", w.workerID.String()),
			slog.String("job_id", job.ID.String()),
			slog.String("kind", job.Kind))
	}

	return nil
}

// handleJobSuccess records successful job completion
func (w *Worker) handleJobSuccess(ctx context.Context, job *Job, duration time.Duration) error {
	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to mark job %s as completed: %w", job.ID, err)
	}

	w.logger.Info("job completed successfully",
		slog.String("worker_id", w.workerID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("kind", job.Kind),
		slog.String("queue", job.Queue),
		slog.Duration("duration", duration))

	return nil
}

// ExtendLeaseForJob extends the lease for a long-running job. Handlers that
// outlive the lease timeout should call this periodically.
func (w *Worker) ExtendLeaseForJob(ctx context.Context, jobID uuid.UUID, extension time.Duration) error {
	return w.store.ExtendLease(ctx, jobID, extension)
}

// WorkerInfo returns information about the worker
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID.String(), hostname, os.Getpid()
}

func (w *Worker) queueNames() []string {
	names := make([]string, 0, len(w.pools))
	for name := range w.pools {
		names = append(names, name)
	}
	return names
}
