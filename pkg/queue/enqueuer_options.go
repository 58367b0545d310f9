package queue

import "time"

// EnqueuerOption is a functional option for configuring an Enqueuer
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	registry        *Registry
	defaultQueue    string
	defaultPriority Priority
}

// WithRegistry makes the enqueuer validate job kinds against a registry,
// rejecting unknown kinds before they reach storage.
func WithRegistry(registry *Registry) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if registry != nil {
			o.registry = registry
		}
	}
}

// WithDefaultQueue sets the default queue name
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if queue != "" {
			o.defaultQueue = queue
		}
	}
}

// WithDefaultPriority sets the default priority
func WithDefaultPriority(priority Priority) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if priority.Valid() {
			o.defaultPriority = priority
		}
	}
}

// EnqueueOption is a functional option for the Enqueue method
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	queue       string
	priority    Priority
	maxAttempts int8
	delay       time.Duration
	scheduledAt *time.Time
	uniqueKey   *string
	kind        string
}

// WithQueue sets the queue for the job
func WithQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithPriority sets the priority for the job
func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}

// WithMaxAttempts sets the attempt ceiling (1-10)
// Capped at 10 to prevent infinite retry loops on persistent failures
func WithMaxAttempts(maxAttempts int8) EnqueueOption {
	return func(o *enqueueOptions) {
		if maxAttempts >= 1 && maxAttempts <= 10 {
			o.maxAttempts = maxAttempts
		}
	}
}

// WithDelay sets a delay before the job can be processed
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithScheduledAt sets a specific time for the job to be processed
func WithScheduledAt(scheduledAt time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.scheduledAt = &scheduledAt
	}
}

// WithUniqueKey sets the dedup key: at most one non-discarded job may exist
// per (kind, unique key). Conflicting enqueues return ErrDuplicateJob.
func WithUniqueKey(key string) EnqueueOption {
	return func(o *enqueueOptions) {
		if key != "" {
			o.uniqueKey = &key
		}
	}
}

// WithKind sets a custom job kind
func WithKind(kind string) EnqueueOption {
	return func(o *enqueueOptions) {
		if kind != "" {
			o.kind = kind
		}
	}
}
