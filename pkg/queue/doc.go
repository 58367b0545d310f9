// Package queue provides a store-agnostic job execution framework with
// per-queue worker pools, priority dispatch, dedup-keyed enqueueing, and a
// uniform retry policy driven by error classification.
//
// The package is organised around three main components:
//
//   - Registry — a closed mapping from job kind to typed Handler
//   - Enqueuer — adds jobs, idempotently when a unique key is supplied
//   - Worker   — claims available jobs under a lease and dispatches them
//
// Components interact only through small store interfaces (EnqueuerStore,
// WorkerStore), keeping the execution logic decoupled from persistence. The
// in-memory MemoryStorage backs tests and local development; the
// pkg/postgres package provides the durable implementation.
//
// # Delivery semantics
//
// Delivery is at-least-once. A handler may observe the same job twice when a
// lease expires mid-execution, so side effects must be idempotent. Producers
// needing exactly-once-per-logical-occurrence semantics attach a unique key:
// the store guarantees at most one non-discarded job per (kind, unique key),
// and a conflicting enqueue is a no-op reported as ErrDuplicateJob. That
// constraint, not leader election, is what makes running multiple producer
// and worker processes safe.
//
// # Failure classification
//
// Handlers wrap returned errors with Transient (retry with backoff, up to
// the job's attempt ceiling) or Permanent (discard after one attempt).
// Unclassified errors are retried, so an ambiguous failure is never silently
// dropped. Jobs that exhaust their attempts, fail permanently, or name an
// unknown kind end up in the dead-letter archive for operator intervention.
//
// # Usage
//
//	type SendReport struct {
//	    TenantID string
//	}
//
//	registry, _ := queue.NewRegistry(
//	    queue.NewJobHandler(func(ctx context.Context, args SendReport) error {
//	        // ... do the work, classifying failures:
//	        // return queue.Transient(err) or queue.Permanent(err)
//	        return nil
//	    }),
//	)
//
//	store := queue.NewMemoryStorage()
//	enq, _ := queue.NewEnqueuer(store, queue.WithRegistry(registry))
//	_ = enq.Enqueue(ctx, SendReport{TenantID: "t1"},
//	    queue.WithUniqueKey("report:t1:2026-08"),
//	)
//
//	w, _ := queue.NewWorker(store, registry,
//	    queue.WithQueuePool(queue.DefaultQueueName, 4),
//	)
//	_ = w.Start(ctx)
//	defer w.Stop()
package queue
