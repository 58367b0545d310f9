package recurrence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/schedkit/schedkit/pkg/queue"
)

// JobEnqueuer is the slice of the queue enqueuer the engine needs to roll
// its own horizon forward. *queue.Enqueuer satisfies it.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, args any, opts ...queue.EnqueueOption) error
}

// Engine expands series definitions into materialized instances. Expansion
// is idempotent: re-running with the same or an overlapping horizon never
// duplicates an instance, so multiple expansion jobs for one series may be
// processed in any order.
type Engine struct {
	store        Store
	materializer Materializer
	notifier     Notifier
	enqueuer     JobEnqueuer

	horizonStep     time.Duration
	refreshInterval time.Duration
	logger          *slog.Logger
}

// NewEngine creates an expansion engine over the given store and entity
// materializer.
func NewEngine(store Store, materializer Materializer, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if materializer == nil {
		return nil, ErrMaterializerNil
	}

	options := &engineOptions{
		horizonStep:     30 * 24 * time.Hour,
		refreshInterval: 24 * time.Hour,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Engine{
		store:           store,
		materializer:    materializer,
		notifier:        options.notifier,
		enqueuer:        options.enqueuer,
		horizonStep:     options.horizonStep,
		refreshInterval: options.refreshInterval,
		logger:          options.logger,
	}, nil
}

// Expand materializes every occurrence of the series up to until. It
// returns the number of instances created with a linked entity and the
// number of occurrences skipped (already materialized, or recorded as
// conflict exceptions). Non-active series no-op successfully: paused and
// needs-attention series are intentionally idle, not failures.
func (e *Engine) Expand(ctx context.Context, seriesID uuid.UUID, until time.Time) (created, skipped int, err error) {
	series, err := e.store.GetSeries(ctx, seriesID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load series %s: %w", seriesID, err)
	}

	if series.Status != SeriesStatusActive {
		e.logger.Info("series is not active, skipping expansion",
			slog.String("series_id", seriesID.String()),
			slog.String("status", string(series.Status)))
		return 0, 0, nil
	}

	if halted, err := e.checkSchemaDrift(ctx, series); err != nil {
		return 0, 0, err
	} else if halted {
		return 0, 0, nil
	}

	loc := series.Location(e.logger)

	duration, err := time.ParseDuration(series.Duration)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidDuration, series.Duration)
	}

	occurrences, err := expandRule(series.RRule, series.DTStart, loc, until)
	if err != nil {
		return 0, 0, err
	}

	existing, err := e.store.InstanceDates(ctx, seriesID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load materialized dates for series %s: %w", seriesID, err)
	}

	for _, occursAt := range occurrences {
		date := occursAt.In(loc).Format(time.DateOnly)
		if _, done := existing[date]; done {
			skipped++
			continue
		}

		wasCreated, err := e.materializeOccurrence(ctx, series, date, occursAt, occursAt.Add(duration))
		if err != nil {
			return created, skipped, err
		}
		// A rule can yield several occurrences on one date (hourly, BYHOUR);
		// only the first takes the (series, date) slot
		existing[date] = struct{}{}
		if wasCreated {
			created++
		} else {
			skipped++
		}
	}

	if err := e.store.AdvanceWatermark(ctx, seriesID, until); err != nil {
		return created, skipped, fmt.Errorf("failed to advance watermark for series %s: %w", seriesID, err)
	}

	e.logger.Info("series expanded",
		slog.String("series_id", seriesID.String()),
		slog.Time("until", until),
		slog.Int("created", created),
		slog.Int("skipped", skipped))

	return created, skipped, nil
}

// checkSchemaDrift validates the entity template against the live table.
// Drift halts the series (needs_attention) and notifies the owner on a
// best-effort basis; it is a safety stop, not a job failure.
func (e *Engine) checkSchemaDrift(ctx context.Context, series *Series) (halted bool, err error) {
	columns, err := e.materializer.TableColumns(ctx, series.EntityTable)
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %q: %w", series.EntityTable, err)
	}

	var missing []string
	for field := range series.EntityTemplate {
		if _, ok := columns[field]; !ok {
			missing = append(missing, field)
		}
	}
	if _, ok := columns[series.TimeRangeColumn]; !ok {
		missing = append(missing, series.TimeRangeColumn)
	}
	if len(missing) == 0 {
		return false, nil
	}
	sort.Strings(missing)

	reason := fmt.Sprintf("schema drift on table %q: missing columns %v", series.EntityTable, missing)
	e.logger.Warn("halting series on schema drift",
		slog.String("series_id", series.ID.String()),
		slog.String("table", series.EntityTable),
		slog.Any("missing_columns", missing))

	if err := e.store.SetSeriesStatus(ctx, series.ID, SeriesStatusNeedsAttention, reason); err != nil {
		return false, fmt.Errorf("failed to halt series %s: %w", series.ID, err)
	}

	if e.notifier != nil {
		if err := e.notifier.NotifySeriesHalted(ctx, series.OwnerID, series.ID, reason); err != nil {
			e.logger.Error("failed to notify series owner about halt",
				slog.String("series_id", series.ID.String()),
				slog.String("owner_id", series.OwnerID.String()),
				slog.String("error", err.Error()))
		}
	}

	return true, nil
}

// materializeOccurrence inserts the templated entity and records the
// instance. An overlap conflict records an exception instance instead of
// failing the expansion. Returns whether a linked instance was created.
func (e *Engine) materializeOccurrence(ctx context.Context, series *Series, date string, start, end time.Time) (bool, error) {
	entityID, err := e.materializer.InsertEntity(ctx, series.EntityTable, series.EntityTemplate, series.TimeRangeColumn, start, end)
	if err != nil {
		if !errors.Is(err, ErrOverlapConflict) {
			return false, fmt.Errorf("failed to materialize entity for series %s at %s: %w", series.ID, date, err)
		}

		e.logger.Warn("occurrence conflicts with an existing record, recording exception",
			slog.String("series_id", series.ID.String()),
			slog.String("occurrence_date", date))

		exception := &Instance{
			ID:             uuid.New(),
			SeriesID:       series.ID,
			OccurrenceDate: date,
			IsException:    true,
			ExceptionType:  ExceptionConflictSkipped,
			OccursAt:       start,
			CreatedAt:      time.Now(),
		}
		if err := e.store.CreateInstance(ctx, exception); err != nil && !errors.Is(err, ErrInstanceExists) {
			return false, fmt.Errorf("failed to record exception instance for series %s: %w", series.ID, err)
		}
		return false, nil
	}

	instance := &Instance{
		ID:             uuid.New(),
		SeriesID:       series.ID,
		OccurrenceDate: date,
		EntityID:       &entityID,
		OccursAt:       start,
		CreatedAt:      time.Now(),
	}
	if err := e.store.CreateInstance(ctx, instance); err != nil {
		// A concurrent expansion won the (series, date) slot; its entity
		// stands, so the one just inserted must not survive unlinked
		if errors.Is(err, ErrInstanceExists) {
			if delErr := e.materializer.DeleteEntity(ctx, series.EntityTable, entityID); delErr != nil {
				e.logger.Error("failed to remove entity after losing the instance slot",
					slog.String("series_id", series.ID.String()),
					slog.String("occurrence_date", date),
					slog.String("entity_id", entityID.String()),
					slog.String("error", delErr.Error()))
			}
			return false, nil
		}
		return false, fmt.Errorf("failed to record instance for series %s: %w", series.ID, err)
	}

	return true, nil
}

// Handler returns the queue handler under which the engine runs. After a
// successful expansion the engine re-enqueues itself with the horizon
// rolled forward; the unique key collapses overlapping self-enqueues.
func (e *Engine) Handler() queue.Handler {
	return queue.NewJobHandlerWithKind(JobKindExpand, func(ctx context.Context, args ExpandArgs) error {
		_, _, err := e.Expand(ctx, args.SeriesID, args.ExpandUntil)
		if err != nil {
			if errors.Is(err, ErrInvalidRule) || errors.Is(err, ErrInvalidDuration) {
				// Operator input is broken; retrying cannot help
				return queue.Permanent(err)
			}
			return queue.Transient(err)
		}

		e.scheduleNext(ctx, args)
		return nil
	})
}

// scheduleNext rolls the expansion horizon forward. Failure is logged, not
// propagated: the completed expansion stands and the periodic refresh
// schedule will pick the series up again.
func (e *Engine) scheduleNext(ctx context.Context, args ExpandArgs) {
	if e.enqueuer == nil {
		return
	}

	next := ExpandArgs{
		SeriesID:    args.SeriesID,
		ExpandUntil: args.ExpandUntil.Add(e.horizonStep),
	}
	key := args.SeriesID.String() + ":" + strconv.FormatInt(next.ExpandUntil.UTC().Unix(), 10)

	err := e.enqueuer.Enqueue(ctx, next,
		queue.WithKind(JobKindExpand),
		queue.WithUniqueKey(key),
		queue.WithDelay(e.refreshInterval),
	)
	if err != nil && !errors.Is(err, queue.ErrDuplicateJob) {
		e.logger.Error("failed to re-enqueue series expansion",
			slog.String("series_id", args.SeriesID.String()),
			slog.Time("expand_until", next.ExpandUntil),
			slog.String("error", err.Error()))
	}
}
