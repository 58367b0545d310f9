package recurrence

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil store is provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrMaterializerNil is returned when a nil materializer is provided
	ErrMaterializerNil = errors.New("materializer cannot be nil")

	// ErrSeriesNotFound is returned when a series id does not exist
	ErrSeriesNotFound = errors.New("series not found")

	// ErrInstanceExists is returned when an instance already exists for the
	// same (series, occurrence date) pair
	ErrInstanceExists = errors.New("instance already exists for this series and date")

	// ErrOverlapConflict is returned by materializers when the entity
	// insert violates an overlap/exclusion constraint
	ErrOverlapConflict = errors.New("entity time range overlaps an existing record")

	// ErrInvalidRule is returned for a recurrence rule that does not parse
	ErrInvalidRule = errors.New("invalid recurrence rule")

	// ErrInvalidDuration is returned for a duration string that does not
	// parse; occurrence-end computation never silently defaults
	ErrInvalidDuration = errors.New("invalid series duration")

	// ErrUnknownTable is returned when the configured entity table does not exist
	ErrUnknownTable = errors.New("entity table does not exist")
)
