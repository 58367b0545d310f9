package recurrence_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedkit/schedkit/pkg/queue"
	"github.com/schedkit/schedkit/pkg/recurrence"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type haltRecorder struct {
	mu      sync.Mutex
	ownerID uuid.UUID
	series  uuid.UUID
	reason  string
	calls   int
}

func (h *haltRecorder) NotifySeriesHalted(ctx context.Context, ownerID, seriesID uuid.UUID, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ownerID = ownerID
	h.series = seriesID
	h.reason = reason
	h.calls++
	return nil
}

type enqueueRecorder struct {
	mu   sync.Mutex
	args []any
}

func (e *enqueueRecorder) Enqueue(ctx context.Context, args any, opts ...queue.EnqueueOption) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.args = append(e.args, args)
	return nil
}

func bookingMaterializer() *recurrence.MemoryMaterializer {
	mm := recurrence.NewMemoryMaterializer()
	mm.DeclareTable("bookings", "room_id", "title", "occupied_during")
	return mm
}

// contendedStore steals the first instance slot, simulating a concurrent
// expansion that records the occurrence between InstanceDates and
// CreateInstance.
type contendedStore struct {
	*recurrence.MemoryStore
	mu    sync.Mutex
	stole bool
}

func (cs *contendedStore) CreateInstance(ctx context.Context, instance *recurrence.Instance) error {
	cs.mu.Lock()
	if !cs.stole && !instance.IsException {
		cs.stole = true
		cs.mu.Unlock()
		return recurrence.ErrInstanceExists
	}
	cs.mu.Unlock()
	return cs.MemoryStore.CreateInstance(ctx, instance)
}

func weeklySeries() recurrence.Series {
	return recurrence.Series{
		ID:          uuid.New(),
		RRule:       "FREQ=WEEKLY;BYDAY=MO;COUNT=4",
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
		CreatedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEngineExpand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	horizon := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("materializes one entity and instance per occurrence", func(t *testing.T) {
		t.Parallel()

		store := recurrence.NewMemoryStore()
		mat := bookingMaterializer()
		series := weeklySeries()
		store.PutSeries(series)

		engine, err := recurrence.NewEngine(store, mat, recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		created, skipped, err := engine.Expand(ctx, series.ID, horizon)
		require.NoError(t, err)
		assert.Equal(t, 4, created)
		assert.Equal(t, 0, skipped)

		instances := store.Instances(series.ID)
		require.Len(t, instances, 4)
		wantDates := []string{"2026-01-05", "2026-01-12", "2026-01-19", "2026-01-26"}
		for i, inst := range instances {
			assert.Equal(t, wantDates[i], inst.OccurrenceDate)
			assert.False(t, inst.IsException)
			require.NotNil(t, inst.EntityID)
		}

		rows := mat.Rows("bookings")
		require.Len(t, rows, 4)
		assert.Equal(t, "r-101", rows[0].Fields["room_id"])
		assert.Equal(t, time.Hour, rows[0].End.Sub(rows[0].Start))

		updated, err := store.GetSeries(ctx, series.ID)
		require.NoError(t, err)
		require.NotNil(t, updated.ExpandedUntil)
		assert.True(t, updated.ExpandedUntil.Equal(horizon))
	})

	t.Run("overlapping expansion is idempotent", func(t *testing.T) {
		t.Parallel()

		store := recurrence.NewMemoryStore()
		mat := bookingMaterializer()
		series := weeklySeries()
		store.PutSeries(series)

		engine, err := recurrence.NewEngine(store, mat, recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		created, _, err := engine.Expand(ctx, series.ID, horizon)
		require.NoError(t, err)
		require.Equal(t, 4, created)

		// A second run over the same window creates nothing new.
		created, skipped, err := engine.Expand(ctx, series.ID, horizon.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, created)
		assert.Equal(t, 4, skipped)

		assert.Len(t, store.Instances(series.ID), 4)
		assert.Len(t, mat.Rows("bookings"), 4)
	})

	t.Run("watermark never regresses", func(t *testing.T) {
		t.Parallel()

		store := recurrence.NewMemoryStore()
		mat := bookingMaterializer()
		series := weeklySeries()
		store.PutSeries(series)

		engine, err := recurrence.NewEngine(store, mat, recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		_, _, err = engine.Expand(ctx, series.ID, horizon)
		require.NoError(t, err)

		// A stale job with an earlier horizon must not move the watermark back.
		earlier := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
		_, _, err = engine.Expand(ctx, series.ID, earlier)
		require.NoError(t, err)

		updated, err := store.GetSeries(ctx, series.ID)
		require.NoError(t, err)
		require.NotNil(t, updated.ExpandedUntil)
		assert.True(t, updated.ExpandedUntil.Equal(horizon))
	})

	t.Run("same-day occurrences materialize once", func(t *testing.T) {
		t.Parallel()

		store := recurrence.NewMemoryStore()
		mat := bookingMaterializer()
		series := weeklySeries()
		series.RRule = "FREQ=HOURLY;COUNT=3"
		series.Duration = "30m"
		store.PutSeries(series)

		engine, err := recurrence.NewEngine(store, mat, recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		created, skipped, err := engine.Expand(ctx, series.ID, horizon)
		require.NoError(t, err)
		assert.Equal(t, 1, created)
		assert.Equal(t, 2, skipped)

		// 9, 10 and 11 AM all fall on 2026-01-05; only the first occurrence
		// takes the date slot, and only it leaves an entity behind
		instances := store.Instances(series.ID)
		require.Len(t, instances, 1)
		assert.Equal(t, "2026-01-05", instances[0].OccurrenceDate)

		rows := mat.Rows("bookings")
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Start.Equal(series.DTStart), "the surviving entity belongs to the first occurrence")
	})

	t.Run("losing the instance slot removes the redundant entity", func(t *testing.T) {
		t.Parallel()

		store := &contendedStore{MemoryStore: recurrence.NewMemoryStore()}
		mat := bookingMaterializer()
		series := weeklySeries()
		store.PutSeries(series)

		engine, err := recurrence.NewEngine(store, mat, recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		created, skipped, err := engine.Expand(ctx, series.ID, horizon)
		require.NoError(t, err)
		assert.Equal(t, 3, created)
		assert.Equal(t, 1, skipped)

		// The entity inserted for the stolen occurrence was compensated away:
		// every remaining row is linked by an instance
		assert.Len(t, store.Instances(series.ID), 3)
		assert.Len(t, mat.Rows("bookings"), 3)
	})

	t.Run("overlap conflict records exception and continues", func(t *testing.T) {
		t.Parallel()

		store := recurrence.NewMemoryStore()
		mat := bookingMaterializer()
		series := weeklySeries()
		store.PutSeries(series)

		// A manual booking already occupies the second Monday's slot.
		_, err := mat.InsertEntity(ctx, "bookings", map[string]any{"room_id": "r-101"}, "occupied_during",
			time.Date(2026, 1, 12, 8, 30, 0, 0, time.UTC),
			time.Date(2026, 1, 12, 9, 30, 0, 0, time.UTC))
		require.NoError(t, err)

		engine, err := recurrence.NewEngine(store, mat, recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		created, skipped, err := engine.Expand(ctx, series.ID, horizon)
		require.NoError(t, err)
		assert.Equal(t, 3, created)
		assert.Equal(t, 1, skipped)

		instances := store.Instances(series.ID)
		require.Len(t, instances, 4)

		var exception *recurrence.Instance
		for i := range instances {
			if instances[i].IsException {
				exception = &instances[i]
			}
		}
		require.NotNil(t, exception, "expected a conflict_skipped instance")
		assert.Equal(t, "2026-01-12", exception.OccurrenceDate)
		assert.Equal(t, recurrence.ExceptionConflictSkipped, exception.ExceptionType)
		assert.Nil(t, exception.EntityID)
	})

	t.Run("schema drift halts the series and notifies the owner", func(t *testing.T) {
		t.Parallel()

		store := recurrence.NewMemoryStore()
		mat := recurrence.NewMemoryMaterializer()
		// "title" dropped from the live table.
		mat.DeclareTable("bookings", "room_id", "occupied_during")

		series := weeklySeries()
		store.PutSeries(series)

		notifier := &haltRecorder{}
		engine, err := recurrence.NewEngine(store, mat,
			recurrence.WithNotifier(notifier),
			recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		created, skipped, err := engine.Expand(ctx, series.ID, horizon)
		require.NoError(t, err)
		assert.Equal(t, 0, created)
		assert.Equal(t, 0, skipped)

		updated, err := store.GetSeries(ctx, series.ID)
		require.NoError(t, err)
		assert.Equal(t, recurrence.SeriesStatusNeedsAttention, updated.Status)
		assert.Nil(t, updated.ExpandedUntil)
		assert.Contains(t, store.StatusReason(series.ID), "title")

		assert.Equal(t, 1, notifier.calls)
		assert.Equal(t, series.OwnerID, notifier.ownerID)
		assert.Equal(t, series.ID, notifier.series)
		assert.Contains(t, notifier.reason, "schema drift")

		assert.Empty(t, store.Instances(series.ID))
		assert.Empty(t, mat.Rows("bookings"))
	})

	t.Run("non-active series is a no-op", func(t *testing.T) {
		t.Parallel()

		store := recurrence.NewMemoryStore()
		mat := bookingMaterializer()
		series := weeklySeries()
		series.Status = recurrence.SeriesStatusPaused
		store.PutSeries(series)

		engine, err := recurrence.NewEngine(store, mat, recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		created, skipped, err := engine.Expand(ctx, series.ID, horizon)
		require.NoError(t, err)
		assert.Equal(t, 0, created)
		assert.Equal(t, 0, skipped)
		assert.Empty(t, store.Instances(series.ID))
	})

	t.Run("invalid duration", func(t *testing.T) {
		t.Parallel()

		store := recurrence.NewMemoryStore()
		mat := bookingMaterializer()
		series := weeklySeries()
		series.Duration = "ninety minutes"
		store.PutSeries(series)

		engine, err := recurrence.NewEngine(store, mat, recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		_, _, err = engine.Expand(ctx, series.ID, horizon)
		require.Error(t, err)
		assert.ErrorIs(t, err, recurrence.ErrInvalidDuration)
	})

	t.Run("unknown series", func(t *testing.T) {
		t.Parallel()

		engine, err := recurrence.NewEngine(recurrence.NewMemoryStore(), bookingMaterializer(),
			recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		_, _, err = engine.Expand(ctx, uuid.New(), horizon)
		require.Error(t, err)
		assert.ErrorIs(t, err, recurrence.ErrSeriesNotFound)
	})
}

func TestEngineHandler(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	horizon := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	expandPayload := func(t *testing.T, seriesID uuid.UUID, until time.Time) json.RawMessage {
		t.Helper()
		payload, err := json.Marshal(recurrence.ExpandArgs{SeriesID: seriesID, ExpandUntil: until})
		require.NoError(t, err)
		return payload
	}

	t.Run("success rolls the horizon forward", func(t *testing.T) {
		t.Parallel()

		store := recurrence.NewMemoryStore()
		series := weeklySeries()
		store.PutSeries(series)

		enqueuer := &enqueueRecorder{}
		engine, err := recurrence.NewEngine(store, bookingMaterializer(),
			recurrence.WithEnqueuer(enqueuer),
			recurrence.WithHorizonStep(30*24*time.Hour),
			recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		handler := engine.Handler()
		assert.Equal(t, recurrence.JobKindExpand, handler.Kind())

		require.NoError(t, handler.Handle(ctx, expandPayload(t, series.ID, horizon)))

		require.Len(t, enqueuer.args, 1)
		next, ok := enqueuer.args[0].(recurrence.ExpandArgs)
		require.True(t, ok)
		assert.Equal(t, series.ID, next.SeriesID)
		assert.True(t, next.ExpandUntil.Equal(horizon.Add(30*24*time.Hour)))
	})

	t.Run("broken rule fails permanently", func(t *testing.T) {
		t.Parallel()

		store := recurrence.NewMemoryStore()
		series := weeklySeries()
		series.RRule = "FREQ=SOMETIMES"
		store.PutSeries(series)

		enqueuer := &enqueueRecorder{}
		engine, err := recurrence.NewEngine(store, bookingMaterializer(),
			recurrence.WithEnqueuer(enqueuer),
			recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		err = engine.Handler().Handle(ctx, expandPayload(t, series.ID, horizon))
		require.Error(t, err)
		assert.True(t, queue.IsPermanent(err))
		assert.Empty(t, enqueuer.args, "a failed expansion must not re-enqueue")
	})

	t.Run("missing series fails transiently", func(t *testing.T) {
		t.Parallel()

		engine, err := recurrence.NewEngine(recurrence.NewMemoryStore(), bookingMaterializer(),
			recurrence.WithLogger(quietLogger()))
		require.NoError(t, err)

		err = engine.Handler().Handle(ctx, expandPayload(t, uuid.New(), horizon))
		require.Error(t, err)
		assert.True(t, queue.IsTransient(err))
	})
}

func TestEngineExpandDST(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	store := recurrence.NewMemoryStore()
	mat := bookingMaterializer()

	series := weeklySeries()
	series.RRule = "FREQ=DAILY;COUNT=5"
	series.DTStart = time.Date(2026, 3, 6, 14, 0, 0, 0, loc)
	series.Timezone = "America/New_York"
	store.PutSeries(series)

	engine, err := recurrence.NewEngine(store, mat, recurrence.WithLogger(quietLogger()))
	require.NoError(t, err)

	created, _, err := engine.Expand(context.Background(), series.ID, time.Date(2026, 3, 11, 0, 0, 0, 0, loc))
	require.NoError(t, err)
	require.Equal(t, 5, created)

	// 2026-03-08 is the spring-forward date; every occurrence stays 2 PM local.
	for _, inst := range store.Instances(series.ID) {
		assert.Equal(t, 14, inst.OccursAt.In(loc).Hour(), "occurrence on %s drifted off the local wall clock", inst.OccurrenceDate)
	}
}
