package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/schedkit/schedkit/pkg/pg"
	"github.com/schedkit/schedkit/pkg/recurrence"
)

// CreateSeries persists a new recurring series.
func (s *Store) CreateSeries(ctx context.Context, series *recurrence.Series) error {
	template, err := json.Marshal(series.EntityTemplate)
	if err != nil {
		return fmt.Errorf("failed to marshal entity template: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO recurrence_series (
			id, rrule, dtstart, duration, timezone, entity_table, entity_template,
			time_range_column, expanded_until, status, owner_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		series.ID, series.RRule, series.DTStart, series.Duration, series.Timezone,
		series.EntityTable, template, series.TimeRangeColumn,
		series.ExpandedUntil, series.Status, series.OwnerID, series.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create series: %w", err)
	}
	return nil
}

// GetSeries implements recurrence.Store
func (s *Store) GetSeries(ctx context.Context, seriesID uuid.UUID) (*recurrence.Series, error) {
	var series recurrence.Series
	var template []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, rrule, dtstart, duration, timezone, entity_table, entity_template,
		       time_range_column, expanded_until, status, owner_id, created_at
		FROM recurrence_series
		WHERE id = $1`,
		seriesID,
	).Scan(
		&series.ID, &series.RRule, &series.DTStart, &series.Duration, &series.Timezone,
		&series.EntityTable, &template, &series.TimeRangeColumn,
		&series.ExpandedUntil, &series.Status, &series.OwnerID, &series.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recurrence.ErrSeriesNotFound
		}
		return nil, fmt.Errorf("failed to get series: %w", err)
	}

	if len(template) > 0 {
		if err := json.Unmarshal(template, &series.EntityTemplate); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity template: %w", err)
		}
	}
	return &series, nil
}

// SetSeriesStatus implements recurrence.Store
func (s *Store) SetSeriesStatus(ctx context.Context, seriesID uuid.UUID, status recurrence.SeriesStatus, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recurrence_series SET status = $2, status_reason = $3 WHERE id = $1`,
		seriesID, status, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to set series status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recurrence.ErrSeriesNotFound
	}
	return nil
}

// AdvanceWatermark implements recurrence.Store. GREATEST makes the
// watermark monotonic even when a stale expansion job lands after a newer
// one already moved it forward.
func (s *Store) AdvanceWatermark(ctx context.Context, seriesID uuid.UUID, until time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recurrence_series
		SET expanded_until = GREATEST(COALESCE(expanded_until, $2), $2)
		WHERE id = $1`,
		seriesID, until,
	)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recurrence.ErrSeriesNotFound
	}
	return nil
}

// InstanceDates implements recurrence.Store
func (s *Store) InstanceDates(ctx context.Context, seriesID uuid.UUID) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT occurrence_date FROM series_instances WHERE series_id = $1`,
		seriesID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list instance dates: %w", err)
	}
	defer rows.Close()

	dates := make(map[string]struct{})
	for rows.Next() {
		var date time.Time
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("failed to scan instance date: %w", err)
		}
		dates[date.Format(time.DateOnly)] = struct{}{}
	}
	return dates, rows.Err()
}

// CreateInstance implements recurrence.Store. The unique index on
// (series_id, occurrence_date) is what makes concurrent expansions of the
// same series idempotent.
func (s *Store) CreateInstance(ctx context.Context, instance *recurrence.Instance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO series_instances (
			id, series_id, occurrence_date, entity_id, is_exception,
			exception_type, occurs_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		instance.ID, instance.SeriesID, instance.OccurrenceDate, instance.EntityID,
		instance.IsException, nullIfEmpty(instance.ExceptionType),
		instance.OccursAt, instance.CreatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return recurrence.ErrInstanceExists
		}
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// TableColumns implements recurrence.Materializer. The live column set
// feeds the schema-drift gate; an unknown table reads as having no columns,
// which the gate treats the same way.
func (s *Store) TableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1`,
		table,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table columns: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		columns[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", recurrence.ErrUnknownTable, table)
	}
	return columns, nil
}

// InsertEntity implements recurrence.Materializer. The statement is built
// dynamically because entity tables are user-defined; identifiers run
// through pgx sanitization and values stay bound parameters. An exclusion
// constraint rejecting the range surfaces as ErrOverlapConflict.
func (s *Store) InsertEntity(ctx context.Context, table string, fields map[string]any, rangeColumn string, start, end time.Time) (uuid.UUID, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	entityID := uuid.New()
	columns := []string{pgx.Identifier{"id"}.Sanitize()}
	placeholders := []string{"$1"}
	args := []any{entityID}

	for _, name := range names {
		columns = append(columns, pgx.Identifier{name}.Sanitize())
		args = append(args, fields[name])
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	args = append(args, start, end)
	columns = append(columns, pgx.Identifier{rangeColumn}.Sanitize())
	placeholders = append(placeholders, fmt.Sprintf("tstzrange($%d, $%d, '[)')", len(args)-1, len(args)))

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if pg.IsExclusionViolationError(err) {
			return uuid.Nil, recurrence.ErrOverlapConflict
		}
		return uuid.Nil, fmt.Errorf("failed to insert entity into %s: %w", table, err)
	}
	return entityID, nil
}

// DeleteEntity implements recurrence.Materializer. It compensates for an
// insert whose instance record lost to a concurrent expansion; a vanished
// row means the other side already cleaned up, so zero rows affected is fine.
func (s *Store) DeleteEntity(ctx context.Context, table string, entityID uuid.UUID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", pgx.Identifier{table}.Sanitize())
	if _, err := s.pool.Exec(ctx, query, entityID); err != nil {
		return fmt.Errorf("failed to delete entity from %s: %w", table, err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
