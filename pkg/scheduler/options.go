package scheduler

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring a scheduler
type Option func(*schedulerOptions)

type schedulerOptions struct {
	interval       time.Duration
	catchUpWindow  time.Duration
	maxCatchUpRuns int
	logger         *slog.Logger
}

// WithTickInterval sets how often the scheduler evaluates definitions
func WithTickInterval(d time.Duration) Option {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithCatchUpWindow bounds how far back a definition without run history is
// caught up. Occurrences older than the window are skipped, not enqueued.
func WithCatchUpWindow(d time.Duration) Option {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.catchUpWindow = d
		}
	}
}

// WithMaxCatchUpRuns caps the occurrences dispatched per definition per
// tick; the remainder carries over to the next tick.
func WithMaxCatchUpRuns(n int) Option {
	return func(o *schedulerOptions) {
		if n > 0 {
			o.maxCatchUpRuns = n
		}
	}
}

// WithLogger sets the logger for the scheduler
func WithLogger(logger *slog.Logger) Option {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
