package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistence interface for schedule definitions and
// their run history.
type Store interface {
	// ListEnabled returns every enabled definition.
	ListEnabled(ctx context.Context) ([]Definition, error)

	// SetLastRun advances a definition's last-run timestamp. The scheduler
	// is the only caller.
	SetLastRun(ctx context.Context, definitionID uuid.UUID, lastRun time.Time) error

	// CreateRun records a dispatched occurrence. Run history is append-only.
	CreateRun(ctx context.Context, run *Run) error

	// CompleteRun finalizes a run with its outcome. Invoked by the
	// executing worker, not the scheduler.
	CompleteRun(ctx context.Context, runID uuid.UUID, startedAt, completedAt time.Time, success bool, message string) error
}
