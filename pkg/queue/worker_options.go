package queue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	pools           map[string]int
	poolsTouched    bool
	pollInterval    time.Duration
	leaseTimeout    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// WithQueuePool adds a queue with its own concurrency limit. The first call
// replaces the default queue configuration.
func WithQueuePool(queue string, maxConcurrent int) WorkerOption {
	return func(o *workerOptions) {
		if queue == "" || maxConcurrent <= 0 {
			return
		}
		if !o.poolsTouched {
			o.pools = make(map[string]int)
			o.poolsTouched = true
		}
		o.pools[queue] = maxConcurrent
	}
}

// WithPollInterval sets how often each queue loop checks for new jobs
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLeaseTimeout sets the lease duration placed on claimed jobs; it also
// bounds each execution's context deadline.
func WithLeaseTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.leaseTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight jobs.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithWorkerLogger sets the logger for the worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
