package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueuerStore defines the interface for job creation.
type EnqueuerStore interface {
	// CreateJob persists a new job. For jobs carrying a unique key the
	// store must return ErrDuplicateJob when a non-discarded job with the
	// same (kind, unique key) already exists, leaving storage untouched.
	CreateJob(ctx context.Context, job *Job) error
}

// Enqueuer adds jobs to the queue.
type Enqueuer struct {
	store           EnqueuerStore
	registry        *Registry
	defaultQueue    string
	defaultPriority Priority
}

// NewEnqueuer creates a new Enqueuer. When a registry is supplied via
// WithRegistry, enqueueing a kind without a registered handler fails with
// ErrUnknownKind.
func NewEnqueuer(store EnqueuerStore, opts ...EnqueuerOption) (*Enqueuer, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	options := &enqueuerOptions{
		defaultQueue:    DefaultQueueName,
		defaultPriority: PriorityDefault,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		store:           store,
		registry:        options.registry,
		defaultQueue:    options.defaultQueue,
		defaultPriority: options.defaultPriority,
	}, nil
}

// Enqueue adds a new job to the queue. The kind defaults to the qualified
// struct name of args. Enqueueing with a unique key is idempotent: a
// conflicting job yields ErrDuplicateJob and no storage change, so callers
// retrying the same logical occurrence can treat that error as success.
func (e *Enqueuer) Enqueue(ctx context.Context, args any, opts ...EnqueueOption) error {
	if args == nil {
		return ErrArgsNil
	}

	options := &enqueueOptions{
		queue:       e.defaultQueue,
		priority:    e.defaultPriority,
		maxAttempts: 3,
	}

	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return ErrInvalidPriority
	}

	job, err := e.buildJob(args, options)
	if err != nil {
		return err
	}

	if e.registry != nil && !e.registry.Known(job.Kind) {
		return fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind)
	}

	if err := e.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to create job %q in queue %q: %w", job.Kind, job.Queue, err)
	}

	return nil
}

// buildJob constructs a Job from args and options
func (e *Enqueuer) buildJob(args any, options *enqueueOptions) (*Job, error) {
	argsBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args of type %T: %w", args, err)
	}

	kind := options.kind
	if kind == "" {
		kind = qualifiedStructName(args)
	}

	scheduledAt := time.Now()
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = scheduledAt.Add(options.delay)
	}

	return &Job{
		ID:          uuid.New(),
		Kind:        kind,
		Queue:       options.queue,
		Args:        argsBytes,
		State:       JobStateAvailable,
		Priority:    options.priority,
		Attempt:     0,
		MaxAttempts: options.maxAttempts,
		UniqueKey:   options.uniqueKey,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now(),
	}, nil
}
