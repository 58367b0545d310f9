// Package scheduler turns declarative cron definitions into
// exactly-once-enqueued jobs.
//
// A Definition names a job kind, a standard 5-field cron expression, and an
// IANA timezone. Every tick the scheduler loads the enabled definitions,
// evaluates each expression in its local timezone (so occurrences track
// wall-clock time across DST transitions), and enqueues a job for every
// occurrence that has come due. The dedup key for an occurrence is
// "<definition-id>:<unix timestamp>", which makes dispatch idempotent: any
// number of scheduler instances can run concurrently and at most one job per
// logical occurrence is ever created. There is deliberately no leader
// election.
//
// Missed occurrences are caught up on the next tick, bounded by a lookback
// window (default 24h) for definitions with no run history and a per-tick
// dispatch cap. Occurrences dispatched more than an hour late carry the
// "catch-up" trigger reason instead of "scheduled".
//
// Configuration mistakes — a malformed cron expression, an unknown timezone —
// are logged and skip only the offending definition; the loop never dies.
//
// Run history is recorded per dispatch and completed by the executing worker
// through NewTargetHandler, which wraps the target function with timing and
// outcome capture.
package scheduler
