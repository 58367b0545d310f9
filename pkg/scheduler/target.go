package scheduler

import (
	"context"
	"time"

	"log/slog"

	"github.com/schedkit/schedkit/pkg/queue"
)

// TargetFunc is the work executed for one due occurrence of a definition.
type TargetFunc func(ctx context.Context, run RunArgs) error

// NewTargetHandler binds a job kind to the function executed for that
// schedule, recording the run outcome (timing, success, message) in the
// store. Run completion is best-effort: a history write failure is logged
// and does not turn a successful execution into a failed job.
func NewTargetHandler(store Store, kind string, fn TargetFunc, logger *slog.Logger) queue.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return queue.NewJobHandlerWithKind(kind, func(ctx context.Context, args RunArgs) error {
		startedAt := time.Now()
		execErr := fn(ctx, args)
		completedAt := time.Now()

		message := "ok"
		if execErr != nil {
			message = execErr.Error()
		}

		if err := store.CompleteRun(ctx, args.RunID, startedAt, completedAt, execErr == nil, message); err != nil {
			logger.Error("failed to record schedule run outcome",
				slog.String("run_id", args.RunID.String()),
				slog.String("kind", kind),
				slog.String("error", err.Error()))
		}

		return execErr
	})
}
