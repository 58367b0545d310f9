package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/schedkit/schedkit/pkg/queue"
)

// JobEnqueuer is the slice of the queue enqueuer the scheduler needs.
// *queue.Enqueuer satisfies it.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, args any, opts ...queue.EnqueueOption) error
}

// Scheduler converts enabled cron definitions into exactly-once-enqueued
// jobs. It runs a single-threaded periodic loop, decoupled from the worker
// pools, and tolerates any number of concurrently running instances: safety
// comes entirely from the (kind, unique key) constraint in the job store,
// not from leader election.
type Scheduler struct {
	store    Store
	enqueuer JobEnqueuer

	interval       time.Duration
	catchUpWindow  time.Duration
	maxCatchUpRuns int
	logger         *slog.Logger
	parser         cron.Parser
}

// NewScheduler creates a scheduler over the given definition store and job
// enqueuer.
func NewScheduler(store Store, enqueuer JobEnqueuer, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if enqueuer == nil {
		return nil, ErrEnqueuerNil
	}

	options := &schedulerOptions{
		interval:       time.Minute,
		catchUpWindow:  24 * time.Hour,
		maxCatchUpRuns: 50,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		store:          store,
		enqueuer:       enqueuer,
		interval:       options.interval,
		catchUpWindow:  options.catchUpWindow,
		maxCatchUpRuns: options.maxCatchUpRuns,
		logger:         options.logger,
		parser:         cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}, nil
}

// Start runs the scheduling loop until ctx is cancelled. It checks
// immediately, then every tick interval.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		slog.Duration("interval", s.interval),
		slog.Duration("catch_up_window", s.catchUpWindow))

	s.Tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx, time.Now())
		}
	}
}

// Tick evaluates every enabled definition against now. Failures are
// per-definition: one bad cron expression or enqueue error never stops the
// others, and enqueue failures simply retry on the next tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	defs, err := s.store.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("failed to list enabled schedule definitions",
			slog.String("error", err.Error()))
		return
	}

	for _, def := range defs {
		if err := s.processDefinition(ctx, def, now); err != nil {
			s.logger.Error("failed to process schedule definition",
				slog.String("definition_id", def.ID.String()),
				slog.String("name", def.Name),
				slog.String("error", err.Error()))
		}
	}
}

// processDefinition enqueues a job for every due occurrence of def.
func (s *Scheduler) processDefinition(ctx context.Context, def Definition, now time.Time) error {
	sched, err := s.parser.Parse(def.CronExpr)
	if err != nil {
		// Configuration error: skip this definition, never fail the tick
		s.logger.Warn("malformed cron expression, skipping definition",
			slog.String("definition_id", def.ID.String()),
			slog.String("name", def.Name),
			slog.String("cron_expr", def.CronExpr),
			slog.String("error", err.Error()))
		return nil
	}

	loc := def.Location(s.logger)
	localNow := now.In(loc)

	// Base time for "next occurrence": the last run when known, otherwise
	// capped so a definition created long ago cannot flood the queue with
	// historical occurrences.
	var base time.Time
	if def.LastRunAt != nil {
		base = def.LastRunAt.In(loc)
	} else {
		base = def.CreatedAt.In(loc)
		if cap := localNow.Add(-s.catchUpWindow); base.Before(cap) {
			base = cap
		}
	}

	dispatched := 0
	for next := sched.Next(base); !next.After(localNow); next = sched.Next(base) {
		if next.IsZero() {
			// Well-formed but unsatisfiable expressions (February 30th and
			// the like) make the parser give up and return the zero time
			s.logger.Warn("cron expression never matches, skipping definition",
				slog.String("definition_id", def.ID.String()),
				slog.String("name", def.Name),
				slog.String("cron_expr", def.CronExpr))
			return nil
		}

		if dispatched >= s.maxCatchUpRuns {
			s.logger.Warn("catch-up cap reached, deferring remaining occurrences to next tick",
				slog.String("definition_id", def.ID.String()),
				slog.Int("dispatched", dispatched))
			break
		}

		if err := s.dispatch(ctx, def, next, now); err != nil {
			return err
		}

		if err := s.store.SetLastRun(ctx, def.ID, next); err != nil {
			return fmt.Errorf("failed to advance last run for %s: %w", def.ID, err)
		}

		base = next
		dispatched++
	}

	return nil
}

// dispatch enqueues the job for one due occurrence and records its run. The
// unique key ties the job to the logical occurrence, so a concurrent
// scheduler instance dispatching the same occurrence is a harmless no-op.
func (s *Scheduler) dispatch(ctx context.Context, def Definition, occurrence, now time.Time) error {
	reason := ReasonScheduled
	if now.Sub(occurrence) > catchUpThreshold {
		reason = ReasonCatchUp
	}

	runID := uuid.New()
	args := RunArgs{
		DefinitionID: def.ID,
		RunID:        runID,
		ScheduledFor: occurrence.UTC(),
		Reason:       reason,
	}

	err := s.enqueuer.Enqueue(ctx, args,
		queue.WithKind(def.Kind),
		queue.WithUniqueKey(occurrenceKey(def.ID, occurrence)),
	)
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			// Another scheduler instance already dispatched this occurrence
			s.logger.Debug("occurrence already enqueued",
				slog.String("definition_id", def.ID.String()),
				slog.Time("occurrence", occurrence))
			return nil
		}
		return fmt.Errorf("failed to enqueue occurrence of %q: %w", def.Name, err)
	}

	run := &Run{
		ID:           runID,
		DefinitionID: def.ID,
		ScheduledFor: occurrence.UTC(),
		Reason:       reason,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		// The job is already enqueued; losing the run record costs history,
		// not correctness
		s.logger.Error("failed to record schedule run",
			slog.String("definition_id", def.ID.String()),
			slog.String("run_id", runID.String()),
			slog.String("error", err.Error()))
	}

	s.logger.Info("dispatched schedule occurrence",
		slog.String("definition_id", def.ID.String()),
		slog.String("name", def.Name),
		slog.String("kind", def.Kind),
		slog.Time("occurrence", occurrence),
		slog.String("reason", string(reason)))

	return nil
}

// occurrenceKey builds the dedup key for a (definition, occurrence) pair.
func occurrenceKey(definitionID uuid.UUID, occurrence time.Time) string {
	return definitionID.String() + ":" + strconv.FormatInt(occurrence.UTC().Unix(), 10)
}
