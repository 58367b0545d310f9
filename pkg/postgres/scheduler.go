package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/schedkit/schedkit/pkg/scheduler"
)

// CreateDefinition persists a new schedule definition.
func (s *Store) CreateDefinition(ctx context.Context, def *scheduler.Definition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedule_definitions (id, name, kind, cron_expr, timezone, enabled, last_run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		def.ID, def.Name, def.Kind, def.CronExpr, def.Timezone, def.Enabled, def.LastRunAt, def.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule definition: %w", err)
	}
	return nil
}

// SetDefinitionEnabled toggles a definition without touching its schedule.
func (s *Store) SetDefinitionEnabled(ctx context.Context, definitionID uuid.UUID, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedule_definitions SET enabled = $2 WHERE id = $1`,
		definitionID, enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrDefinitionNotFound
	}
	return nil
}

// ListEnabled implements scheduler.Store
func (s *Store) ListEnabled(ctx context.Context) ([]scheduler.Definition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, kind, cron_expr, timezone, enabled, last_run_at, created_at
		FROM schedule_definitions
		WHERE enabled
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule definitions: %w", err)
	}
	defer rows.Close()

	var defs []scheduler.Definition
	for rows.Next() {
		var d scheduler.Definition
		if err := rows.Scan(&d.ID, &d.Name, &d.Kind, &d.CronExpr, &d.Timezone,
			&d.Enabled, &d.LastRunAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// SetLastRun implements scheduler.Store. GREATEST keeps the timestamp
// monotonic when concurrent scheduler instances race over the same
// definition; occurrence dedup already made the duplicate dispatch a no-op.
func (s *Store) SetLastRun(ctx context.Context, definitionID uuid.UUID, lastRun time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedule_definitions
		SET last_run_at = GREATEST(COALESCE(last_run_at, $2), $2)
		WHERE id = $1`,
		definitionID, lastRun,
	)
	if err != nil {
		return fmt.Errorf("failed to set last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrDefinitionNotFound
	}
	return nil
}

// CreateRun implements scheduler.Store
func (s *Store) CreateRun(ctx context.Context, run *scheduler.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedule_runs (id, definition_id, scheduled_for, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.DefinitionID, run.ScheduledFor, run.Reason, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun implements scheduler.Store
func (s *Store) CompleteRun(ctx context.Context, runID uuid.UUID, startedAt, completedAt time.Time, success bool, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedule_runs
		SET started_at = $2, completed_at = $3, duration_ns = $4, success = $5, message = $6
		WHERE id = $1`,
		runID, startedAt, completedAt, completedAt.Sub(startedAt).Nanoseconds(), success, message,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrRunNotFound
	}
	return nil
}

// ListRuns returns the run history for a definition, most recent first.
func (s *Store) ListRuns(ctx context.Context, definitionID uuid.UUID, limit int) ([]scheduler.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, definition_id, scheduled_for, reason, started_at, completed_at,
		       COALESCE(duration_ns, 0), success, COALESCE(message, ''), created_at
		FROM schedule_runs
		WHERE definition_id = $1
		ORDER BY scheduled_for DESC
		LIMIT $2`,
		definitionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []scheduler.Run
	for rows.Next() {
		var r scheduler.Run
		if err := rows.Scan(&r.ID, &r.DefinitionID, &r.ScheduledFor, &r.Reason,
			&r.StartedAt, &r.CompletedAt, &r.Duration, &r.Success, &r.Message, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
