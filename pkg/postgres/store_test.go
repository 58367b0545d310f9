package postgres_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedkit/schedkit/pkg/postgres"
	"github.com/schedkit/schedkit/pkg/queue"
	"github.com/schedkit/schedkit/pkg/recurrence"
	"github.com/schedkit/schedkit/pkg/scheduler"
)

// newTestStore connects to TEST_DATABASE_URL, isolates the test in a fresh
// schema, and applies migrations. Tests are skipped when no database is
// configured.
func newTestStore(t *testing.T) (*postgres.Store, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	schema := fmt.Sprintf("schedkit_test_%d", rand.Int63())

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA %s CASCADE", schema))
		pool.Close()
	})

	store := postgres.NewStore(pool,
		postgres.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, store.Migrate(ctx))

	return store, pool
}

func newJob(kind string, opts func(*queue.Job)) *queue.Job {
	j := &queue.Job{
		ID:          uuid.New(),
		Kind:        kind,
		Queue:       queue.DefaultQueueName,
		Args:        []byte(`{}`),
		State:       queue.JobStateAvailable,
		Priority:    queue.PriorityDefault,
		MaxAttempts: 2,
		ScheduledAt: time.Now().Add(-time.Second),
		CreatedAt:   time.Now(),
	}
	if opts != nil {
		opts(j)
	}
	return j
}

func TestStoreJobs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	workerID := uuid.New()

	t.Run("unique key dedup", func(t *testing.T) {
		key := "report:1700000000"
		require.NoError(t, store.CreateJob(ctx, newJob("send_report", func(j *queue.Job) {
			j.UniqueKey = &key
		})))

		err := store.CreateJob(ctx, newJob("send_report", func(j *queue.Job) {
			j.UniqueKey = &key
		}))
		assert.ErrorIs(t, err, queue.ErrDuplicateJob)

		// Same key under a different kind is a different occurrence.
		require.NoError(t, store.CreateJob(ctx, newJob("send_digest", func(j *queue.Job) {
			j.UniqueKey = &key
		})))
	})

	t.Run("claim prefers priority then schedule", func(t *testing.T) {
		low := newJob("prio_check", func(j *queue.Job) {
			j.Queue = "prio"
			j.Priority = queue.PriorityLow
		})
		high := newJob("prio_check", func(j *queue.Job) {
			j.Queue = "prio"
			j.Priority = queue.PriorityHigh
		})
		require.NoError(t, store.CreateJob(ctx, low))
		require.NoError(t, store.CreateJob(ctx, high))

		claimed, err := store.ClaimJob(ctx, workerID, "prio", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, high.ID, claimed.ID)
		assert.Equal(t, queue.JobStateRunning, claimed.State)
		require.NotNil(t, claimed.LockedBy)
		assert.Equal(t, workerID, *claimed.LockedBy)

		claimed, err = store.ClaimJob(ctx, workerID, "prio", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, low.ID, claimed.ID)

		_, err = store.ClaimJob(ctx, workerID, "prio", time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)
	})

	t.Run("future jobs are not claimable", func(t *testing.T) {
		require.NoError(t, store.CreateJob(ctx, newJob("later", func(j *queue.Job) {
			j.Queue = "future"
			j.ScheduledAt = time.Now().Add(time.Hour)
		})))

		_, err := store.ClaimJob(ctx, workerID, "future", time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)
	})

	t.Run("expired lease is claimable by another worker", func(t *testing.T) {
		job := newJob("crashy", func(j *queue.Job) { j.Queue = "lease" })
		require.NoError(t, store.CreateJob(ctx, job))

		_, err := store.ClaimJob(ctx, workerID, "lease", -time.Second)
		require.NoError(t, err)

		other := uuid.New()
		reclaimed, err := store.ClaimJob(ctx, other, "lease", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, job.ID, reclaimed.ID)
		assert.Equal(t, other, *reclaimed.LockedBy)
	})

	t.Run("complete job", func(t *testing.T) {
		job := newJob("finisher", func(j *queue.Job) { j.Queue = "complete" })
		require.NoError(t, store.CreateJob(ctx, job))

		claimed, err := store.ClaimJob(ctx, workerID, "complete", time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.CompleteJob(ctx, claimed.ID))

		stored, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStateCompleted, stored.State)
		assert.NotNil(t, stored.FinishedAt)
		assert.Nil(t, stored.LockedBy)
	})

	t.Run("fail then exhaust then dead letter", func(t *testing.T) {
		job := newJob("flaky", func(j *queue.Job) { j.Queue = "fail" })
		require.NoError(t, store.CreateJob(ctx, job))

		claimed, err := store.ClaimJob(ctx, workerID, "fail", time.Minute)
		require.NoError(t, err)

		failed, err := store.FailJob(ctx, claimed.ID, "boom")
		require.NoError(t, err)
		assert.Equal(t, queue.JobStateRetryable, failed.State)
		assert.Equal(t, int8(1), failed.Attempt)
		assert.True(t, failed.ScheduledAt.After(time.Now()), "backoff must push the retry into the future")

		// Second failure exhausts MaxAttempts=2.
		failed, err = store.FailJob(ctx, claimed.ID, "boom again")
		require.NoError(t, err)
		assert.Equal(t, queue.JobStateDiscarded, failed.State)
		assert.Equal(t, int8(2), failed.Attempt)

		require.NoError(t, store.MoveToDeadLetter(ctx, claimed.ID))

		_, err = store.GetJob(ctx, job.ID)
		assert.ErrorIs(t, err, queue.ErrJobNotFound)

		dead, err := store.ListDeadJobs(ctx, 10)
		require.NoError(t, err)
		require.NotEmpty(t, dead)
		assert.Equal(t, job.ID, dead[0].JobID)
		assert.Equal(t, "boom again", dead[0].Error)
	})

	t.Run("extend lease", func(t *testing.T) {
		job := newJob("longrunner", func(j *queue.Job) { j.Queue = "extend" })
		require.NoError(t, store.CreateJob(ctx, job))

		claimed, err := store.ClaimJob(ctx, workerID, "extend", time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.ExtendLease(ctx, claimed.ID, time.Hour))

		stored, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LockedUntil)
		assert.True(t, stored.LockedUntil.After(time.Now().Add(30*time.Minute)))
	})
}

func TestStoreScheduler(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	def := &scheduler.Definition{
		ID:        uuid.New(),
		Name:      "nightly report",
		Kind:      "send_report",
		CronExpr:  "0 2 * * *",
		Timezone:  "UTC",
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateDefinition(ctx, def))

	disabled := &scheduler.Definition{
		ID:        uuid.New(),
		Name:      "paused job",
		Kind:      "noop",
		CronExpr:  "* * * * *",
		Enabled:   false,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateDefinition(ctx, disabled))

	t.Run("list enabled", func(t *testing.T) {
		defs, err := store.ListEnabled(ctx)
		require.NoError(t, err)
		require.Len(t, defs, 1)
		assert.Equal(t, def.ID, defs[0].ID)
	})

	t.Run("last run is monotonic", func(t *testing.T) {
		later := time.Now().Truncate(time.Second)
		earlier := later.Add(-time.Hour)

		require.NoError(t, store.SetLastRun(ctx, def.ID, later))
		require.NoError(t, store.SetLastRun(ctx, def.ID, earlier))

		defs, err := store.ListEnabled(ctx)
		require.NoError(t, err)
		require.NotNil(t, defs[0].LastRunAt)
		assert.True(t, defs[0].LastRunAt.Equal(later))
	})

	t.Run("run lifecycle", func(t *testing.T) {
		run := &scheduler.Run{
			ID:           uuid.New(),
			DefinitionID: def.ID,
			ScheduledFor: time.Now().Truncate(time.Second),
			Reason:       scheduler.ReasonScheduled,
			CreatedAt:    time.Now(),
		}
		require.NoError(t, store.CreateRun(ctx, run))

		started := time.Now().Add(-2 * time.Second)
		completed := time.Now()
		require.NoError(t, store.CompleteRun(ctx, run.ID, started, completed, true, "ok"))

		runs, err := store.ListRuns(ctx, def.ID, 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.True(t, runs[0].Success)
		assert.Equal(t, "ok", runs[0].Message)
		assert.Equal(t, completed.Sub(started), runs[0].Duration)

		assert.ErrorIs(t, store.CompleteRun(ctx, uuid.New(), started, completed, false, ""),
			scheduler.ErrRunNotFound)
	})

	t.Run("toggle enabled", func(t *testing.T) {
		require.NoError(t, store.SetDefinitionEnabled(ctx, def.ID, false))
		defs, err := store.ListEnabled(ctx)
		require.NoError(t, err)
		assert.Empty(t, defs)

		assert.ErrorIs(t, store.SetDefinitionEnabled(ctx, uuid.New(), true),
			scheduler.ErrDefinitionNotFound)
	})
}

func TestStoreRecurrence(t *testing.T) {
	store, pool := newTestStore(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE TABLE bookings (
			id              UUID PRIMARY KEY,
			room_id         TEXT NOT NULL,
			title           TEXT,
			occupied_during TSTZRANGE NOT NULL,
			EXCLUDE USING gist (occupied_during WITH &&)
		)`)
	require.NoError(t, err)

	series := &recurrence.Series{
		ID:          uuid.New(),
		RRule:       "FREQ=WEEKLY;BYDAY=MO",
		DTStart:     time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		Duration:    "1h",
		Timezone:    "UTC",
		EntityTable: "bookings",
		EntityTemplate: map[string]any{
			"room_id": "r-101",
			"title":   "standup",
		},
		TimeRangeColumn: "occupied_during",
		Status:          recurrence.SeriesStatusActive,
		OwnerID:         uuid.New(),
		CreatedAt:       time.Now(),
	}
	require.NoError(t, store.CreateSeries(ctx, series))

	t.Run("series roundtrip", func(t *testing.T) {
		got, err := store.GetSeries(ctx, series.ID)
		require.NoError(t, err)
		assert.Equal(t, series.RRule, got.RRule)
		assert.Equal(t, "r-101", got.EntityTemplate["room_id"])
		assert.Equal(t, recurrence.SeriesStatusActive, got.Status)

		_, err = store.GetSeries(ctx, uuid.New())
		assert.ErrorIs(t, err, recurrence.ErrSeriesNotFound)
	})

	t.Run("watermark is monotonic", func(t *testing.T) {
		later := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, store.AdvanceWatermark(ctx, series.ID, later))
		require.NoError(t, store.AdvanceWatermark(ctx, series.ID, later.Add(-30*24*time.Hour)))

		got, err := store.GetSeries(ctx, series.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ExpandedUntil)
		assert.True(t, got.ExpandedUntil.Equal(later))
	})

	t.Run("instance dedup", func(t *testing.T) {
		instance := &recurrence.Instance{
			ID:             uuid.New(),
			SeriesID:       series.ID,
			OccurrenceDate: "2026-01-05",
			OccursAt:       series.DTStart,
			CreatedAt:      time.Now(),
		}
		require.NoError(t, store.CreateInstance(ctx, instance))

		dup := *instance
		dup.ID = uuid.New()
		assert.ErrorIs(t, store.CreateInstance(ctx, &dup), recurrence.ErrInstanceExists)

		dates, err := store.InstanceDates(ctx, series.ID)
		require.NoError(t, err)
		assert.Contains(t, dates, "2026-01-05")
	})

	t.Run("table columns", func(t *testing.T) {
		columns, err := store.TableColumns(ctx, "bookings")
		require.NoError(t, err)
		assert.Contains(t, columns, "room_id")
		assert.Contains(t, columns, "occupied_during")

		_, err = store.TableColumns(ctx, "no_such_table")
		assert.ErrorIs(t, err, recurrence.ErrUnknownTable)
	})

	t.Run("insert entity and overlap conflict", func(t *testing.T) {
		start := time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)
		end := start.Add(time.Hour)

		entityID, err := store.InsertEntity(ctx, "bookings",
			map[string]any{"room_id": "r-101", "title": "standup"},
			"occupied_during", start, end)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, entityID)

		_, err = store.InsertEntity(ctx, "bookings",
			map[string]any{"room_id": "r-102", "title": "retro"},
			"occupied_during", start.Add(30*time.Minute), end.Add(30*time.Minute))
		assert.ErrorIs(t, err, recurrence.ErrOverlapConflict)

		// Adjacent ranges do not overlap: [9:00,10:00) then [10:00,11:00).
		_, err = store.InsertEntity(ctx, "bookings",
			map[string]any{"room_id": "r-101", "title": "planning"},
			"occupied_during", end, end.Add(time.Hour))
		require.NoError(t, err)

		// Deleting the first booking frees its slot for a retake.
		require.NoError(t, store.DeleteEntity(ctx, "bookings", entityID))
		require.NoError(t, store.DeleteEntity(ctx, "bookings", entityID)) // already gone, still fine

		_, err = store.InsertEntity(ctx, "bookings",
			map[string]any{"room_id": "r-102", "title": "retro"},
			"occupied_during", start, start.Add(30*time.Minute))
		require.NoError(t, err)
	})

	t.Run("halt with reason", func(t *testing.T) {
		require.NoError(t, store.SetSeriesStatus(ctx, series.ID,
			recurrence.SeriesStatusNeedsAttention, "schema drift on bookings"))

		got, err := store.GetSeries(ctx, series.ID)
		require.NoError(t, err)
		assert.Equal(t, recurrence.SeriesStatusNeedsAttention, got.Status)
	})
}
