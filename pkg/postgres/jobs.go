package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/schedkit/schedkit/pkg/pg"
	"github.com/schedkit/schedkit/pkg/queue"
)

const jobColumns = `id, kind, queue, args, state, priority, attempt, max_attempts,
	unique_key, scheduled_at, locked_until, locked_by, finished_at, error, created_at`

func scanJob(row pgx.Row) (*queue.Job, error) {
	var j queue.Job
	err := row.Scan(
		&j.ID, &j.Kind, &j.Queue, &j.Args, &j.State, &j.Priority,
		&j.Attempt, &j.MaxAttempts, &j.UniqueKey, &j.ScheduledAt,
		&j.LockedUntil, &j.LockedBy, &j.FinishedAt, &j.Error, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob implements queue.EnqueuerStore. The dedup guarantee comes from
// a partial unique index on (kind, unique_key) over non-discarded rows, so
// concurrent producers race safely: exactly one insert wins and the rest
// see ErrDuplicateJob.
func (s *Store) CreateJob(ctx context.Context, job *queue.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.Kind, job.Queue, job.Args, job.State, job.Priority,
		job.Attempt, job.MaxAttempts, job.UniqueKey, job.ScheduledAt,
		job.LockedUntil, job.LockedBy, job.FinishedAt, job.Error, job.CreatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return queue.ErrDuplicateJob
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*queue.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ClaimJob implements queue.WorkerStore. It atomically claims the next due
// job in the queue, preferring higher priority, then earlier schedule.
// Running jobs whose lease expired are claimable again, which is what makes
// delivery at-least-once after a worker crash.
func (s *Store) ClaimJob(ctx context.Context, workerID uuid.UUID, queueName string, lease time.Duration) (*queue.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET state = 'running', locked_until = NOW() + $3, locked_by = $1
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $2
			  AND scheduled_at <= NOW()
			  AND (state IN ('available', 'retryable')
			       OR (state = 'running' AND locked_until < NOW()))
			ORDER BY priority DESC, scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		workerID, queueName, lease,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNoJobToClaim
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// CompleteJob implements queue.WorkerStore
func (s *Store) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'completed', finished_at = NOW(), locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND state = 'running'`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

// FailJob implements queue.WorkerStore. The attempt counter advances and
// the job either waits out a linear backoff as retryable or, with attempts
// exhausted, is discarded. Discarded rows fall out of the dedup index, so
// the unique key frees up for a fresh enqueue.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, errorMsg string) (*queue.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET attempt = attempt + 1,
		    error = $2,
		    state = CASE WHEN attempt + 1 >= max_attempts THEN 'discarded' ELSE 'retryable' END,
		    finished_at = CASE WHEN attempt + 1 >= max_attempts THEN NOW() ELSE NULL END,
		    scheduled_at = CASE WHEN attempt + 1 >= max_attempts
		                        THEN scheduled_at
		                        ELSE NOW() + make_interval(secs => (attempt + 1) * 30) END,
		    locked_until = NULL,
		    locked_by = NULL
		WHERE id = $1
		RETURNING `+jobColumns,
		jobID, errorMsg,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to record job failure: %w", err)
	}
	return job, nil
}

// DiscardJob implements queue.WorkerStore
func (s *Store) DiscardJob(ctx context.Context, jobID uuid.UUID, errorMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'discarded', error = $2, finished_at = NOW(),
		    locked_until = NULL, locked_by = NULL
		WHERE id = $1`,
		jobID, errorMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to discard job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

// MoveToDeadLetter implements queue.WorkerStore. The job row is archived
// and removed in one transaction so a job is never in both places.
func (s *Store) MoveToDeadLetter(ctx context.Context, jobID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin dead-letter transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx, `
		INSERT INTO dead_jobs (id, job_id, kind, queue, args, priority, error, attempt, failed_at, created_at)
		SELECT $2, id, kind, queue, args, priority, COALESCE(error, ''), attempt, NOW(), created_at
		FROM jobs
		WHERE id = $1 AND state = 'discarded'`,
		jobID, uuid.New(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrJobNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to remove archived job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit dead-letter transaction: %w", err)
	}
	return nil
}

// ExtendLease implements queue.WorkerStore
func (s *Store) ExtendLease(ctx context.Context, jobID uuid.UUID, duration time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET locked_until = NOW() + $2 WHERE id = $1 AND state = 'running'`,
		jobID, duration,
	)
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

// ListDeadJobs returns archived jobs, most recent failures first.
func (s *Store) ListDeadJobs(ctx context.Context, limit int) ([]queue.DeadJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, kind, queue, args, priority, error, attempt, failed_at, created_at
		FROM dead_jobs
		ORDER BY failed_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead jobs: %w", err)
	}
	defer rows.Close()

	var dead []queue.DeadJob
	for rows.Next() {
		var d queue.DeadJob
		if err := rows.Scan(&d.ID, &d.JobID, &d.Kind, &d.Queue, &d.Args,
			&d.Priority, &d.Error, &d.Attempt, &d.FailedAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead job: %w", err)
		}
		dead = append(dead, d)
	}
	return dead, rows.Err()
}
