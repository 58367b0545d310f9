package recurrence

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring an engine
type Option func(*engineOptions)

type engineOptions struct {
	notifier        Notifier
	enqueuer        JobEnqueuer
	horizonStep     time.Duration
	refreshInterval time.Duration
	logger          *slog.Logger
}

// WithNotifier sets the best-effort owner notifier used when a series is
// halted by the schema-drift gate.
func WithNotifier(notifier Notifier) Option {
	return func(o *engineOptions) {
		if notifier != nil {
			o.notifier = notifier
		}
	}
}

// WithEnqueuer lets the engine re-enqueue its own expansion jobs to roll
// the horizon forward. Without it the engine expands only on demand.
func WithEnqueuer(enqueuer JobEnqueuer) Option {
	return func(o *engineOptions) {
		if enqueuer != nil {
			o.enqueuer = enqueuer
		}
	}
}

// WithHorizonStep sets how far the expansion horizon advances per
// self-enqueued run.
func WithHorizonStep(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.horizonStep = d
		}
	}
}

// WithRefreshInterval sets the delay before a self-enqueued expansion
// becomes claimable.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.refreshInterval = d
		}
	}
}

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
