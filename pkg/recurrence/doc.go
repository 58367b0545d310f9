// Package recurrence expands RRULE-driven series into materialized entity
// occurrences ahead of a rolling horizon.
//
// A Series pairs an RFC 5545 recurrence rule with an entity template. The
// Engine evaluates the rule in the series timezone (wall-clock times are
// preserved across DST transitions), inserts one entity per occurrence
// through a Materializer, and records an Instance linking the series to the
// entity. Expansion is idempotent: at most one instance exists per series
// and occurrence date, so overlapping runs converge on the same result.
//
// Two failure modes are handled inline rather than failing the expansion:
//
//   - Schema drift. Before expanding, the template fields are checked
//     against the live table columns. On a mismatch the series is halted
//     with status needs_attention and the owner is notified.
//   - Overlap conflicts. When an entity insert loses to an overlap
//     constraint, an exception instance (conflict_skipped) is recorded and
//     expansion continues with the next occurrence.
//
// The engine runs as a queue handler under JobKindExpand and re-enqueues
// itself after each successful run, rolling the horizon forward. The
// per-series watermark (ExpandedUntil) only ever advances.
//
// Usage:
//
//	engine, err := recurrence.NewEngine(store, materializer,
//		recurrence.WithNotifier(notifier),
//		recurrence.WithEnqueuer(enqueuer),
//	)
//	if err != nil {
//		return err
//	}
//	registry, err := queue.NewRegistry(engine.Handler())
package recurrence
