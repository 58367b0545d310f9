package scheduler

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil store is provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrEnqueuerNil is returned when a nil enqueuer is provided
	ErrEnqueuerNil = errors.New("enqueuer cannot be nil")

	// ErrDefinitionNotFound is returned when a definition id does not exist
	ErrDefinitionNotFound = errors.New("schedule definition not found")

	// ErrRunNotFound is returned when a run id does not exist
	ErrRunNotFound = errors.New("schedule run not found")
)
