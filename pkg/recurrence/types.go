package recurrence

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SeriesStatus represents the lifecycle state of a series.
type SeriesStatus string

const (
	// SeriesStatusActive means the series is eligible for expansion.
	SeriesStatusActive SeriesStatus = "active"
	// SeriesStatusNeedsAttention means expansion was halted for safety,
	// typically by the schema-drift gate, until an operator intervenes.
	SeriesStatusNeedsAttention SeriesStatus = "needs_attention"
	// SeriesStatusPaused means a user intentionally suspended the series.
	SeriesStatusPaused SeriesStatus = "paused"
)

// ExceptionConflictSkipped marks an occurrence whose entity insert lost to
// an overlap constraint; the instance is recorded without an entity.
const ExceptionConflictSkipped = "conflict_skipped"

// Series is a recurrence rule governing materialized entity occurrences.
// The engine mutates only ExpandedUntil (the expansion watermark, which
// never regresses) and Status.
type Series struct {
	ID              uuid.UUID      `json:"id"`
	RRule           string         `json:"rrule"`
	DTStart         time.Time      `json:"dtstart"`
	Duration        string         `json:"duration"`
	Timezone        string         `json:"timezone"`
	EntityTable     string         `json:"entity_table"`
	EntityTemplate  map[string]any `json:"entity_template"`
	TimeRangeColumn string         `json:"time_range_column"`
	ExpandedUntil   *time.Time     `json:"expanded_until,omitempty"`
	Status          SeriesStatus   `json:"status"`
	OwnerID         uuid.UUID      `json:"owner_id"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Location resolves the series timezone, falling back to UTC on an unknown
// name. Expansion proceeds; the fallback is logged, never fatal.
func (s Series) Location(logger *slog.Logger) *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		logger.Warn("invalid series timezone, falling back to UTC",
			slog.String("series_id", s.ID.String()),
			slog.String("timezone", s.Timezone),
			slog.String("error", err.Error()))
		return time.UTC
	}
	return loc
}

// Instance is one materialized occurrence of a series. At most one instance
// exists per (series, occurrence date); EntityID is nil for exception
// instances that skipped materialization.
type Instance struct {
	ID             uuid.UUID  `json:"id"`
	SeriesID       uuid.UUID  `json:"series_id"`
	OccurrenceDate string     `json:"occurrence_date"` // YYYY-MM-DD in the series timezone
	EntityID       *uuid.UUID `json:"entity_id,omitempty"`
	IsException    bool       `json:"is_exception"`
	ExceptionType  string     `json:"exception_type,omitempty"`
	OccursAt       time.Time  `json:"occurs_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ExpandArgs is the job payload for an expansion run.
type ExpandArgs struct {
	SeriesID    uuid.UUID `json:"series_id"`
	ExpandUntil time.Time `json:"expand_until"`
}

// JobKindExpand is the queue kind under which the engine registers itself.
const JobKindExpand = "recurrence.expand"
