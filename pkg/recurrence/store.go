package recurrence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistence interface for series and their instances.
type Store interface {
	// GetSeries loads a series definition.
	GetSeries(ctx context.Context, seriesID uuid.UUID) (*Series, error)

	// SetSeriesStatus transitions a series, recording the reason operators
	// will see (e.g. why a series needs attention).
	SetSeriesStatus(ctx context.Context, seriesID uuid.UUID, status SeriesStatus, reason string) error

	// AdvanceWatermark moves the expansion watermark forward. The watermark
	// is monotonic: calls with an earlier timestamp must leave it unchanged.
	AdvanceWatermark(ctx context.Context, seriesID uuid.UUID, until time.Time) error

	// InstanceDates returns the occurrence dates (YYYY-MM-DD, series
	// timezone) already materialized for the series.
	InstanceDates(ctx context.Context, seriesID uuid.UUID) (map[string]struct{}, error)

	// CreateInstance records a materialized occurrence. Must return
	// ErrInstanceExists when the (series, occurrence date) pair is taken.
	CreateInstance(ctx context.Context, instance *Instance) error
}

// Materializer creates the domain entity records occurrences point at. The
// engine owns instances; entities are referenced, not owned, so deleting a
// series never cascades into them.
type Materializer interface {
	// TableColumns returns the live column set of the target table, used by
	// the schema-drift gate before any insert is attempted.
	TableColumns(ctx context.Context, table string) (map[string]struct{}, error)

	// InsertEntity inserts one templated record whose time-range column
	// spans [start, end). Returns ErrOverlapConflict when an
	// overlap/exclusion constraint rejects the range.
	InsertEntity(ctx context.Context, table string, fields map[string]any, rangeColumn string, start, end time.Time) (uuid.UUID, error)

	// DeleteEntity removes a record inserted by InsertEntity, compensating
	// when the insert loses the (series, occurrence date) slot to a
	// concurrent expansion. Deleting an absent record is not an error.
	DeleteEntity(ctx context.Context, table string, entityID uuid.UUID) error
}

// Notifier delivers a best-effort heads-up to a series owner. Failures are
// logged by the engine and never propagated.
type Notifier interface {
	NotifySeriesHalted(ctx context.Context, ownerID, seriesID uuid.UUID, reason string) error
}
