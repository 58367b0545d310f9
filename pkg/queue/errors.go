package queue

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil store is provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrRegistryNil is returned when a nil registry is provided
	ErrRegistryNil = errors.New("registry cannot be nil")

	// ErrArgsNil is returned when attempting to enqueue nil args
	ErrArgsNil = errors.New("job args cannot be nil")

	// ErrInvalidPriority is returned when priority is outside valid range
	ErrInvalidPriority = errors.New("priority must be between 0 and 100")

	// ErrUnknownKind is returned when enqueueing a kind no handler is registered for
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrDuplicateJob is returned when a unique-keyed job already exists.
	// Callers enqueueing idempotently should treat it as a successful no-op.
	ErrDuplicateJob = errors.New("job with the same kind and unique key already exists")

	// ErrNoJobToClaim is returned by stores when no claimable job is available
	ErrNoJobToClaim = errors.New("no job available to claim")

	// ErrJobNotFound is returned when a job id does not exist in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrHandlerNotFound is returned when no handler is registered for a job kind
	ErrHandlerNotFound = errors.New("no handler registered for job kind")

	// ErrHandlerAlreadyRegistered is returned when registering a duplicate kind
	ErrHandlerAlreadyRegistered = errors.New("handler already registered for job kind")

	// ErrNoHandlers is returned when the worker's registry is empty
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrNoQueues is returned when a worker is configured without queues
	ErrNoQueues = errors.New("no queues configured")
)
