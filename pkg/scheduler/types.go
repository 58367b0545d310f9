package scheduler

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// TriggerReason explains why an occurrence was dispatched.
type TriggerReason string

const (
	// ReasonScheduled marks an occurrence dispatched close to its due time.
	ReasonScheduled TriggerReason = "scheduled"
	// ReasonCatchUp marks an occurrence dispatched more than an hour late,
	// typically after downtime.
	ReasonCatchUp TriggerReason = "catch-up"
)

// catchUpThreshold separates on-time dispatch from catch-up.
const catchUpThreshold = time.Hour

// Definition is a declarative cron schedule stored by operators. The
// scheduler reads every enabled definition each tick and is the only writer
// of LastRunAt.
type Definition struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`
	CronExpr  string     `json:"cron_expr"`
	Timezone  string     `json:"timezone"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Location resolves the definition's IANA timezone, falling back to UTC on
// an unknown name. A bad timezone is an operator mistake, never fatal.
func (d Definition) Location(logger *slog.Logger) *time.Location {
	if d.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		logger.Warn("invalid schedule timezone, falling back to UTC",
			slog.String("definition_id", d.ID.String()),
			slog.String("timezone", d.Timezone),
			slog.String("error", err.Error()))
		return time.UTC
	}
	return loc
}

// Run is one execution record of a Definition: created at dispatch,
// completed by the executing worker, immutable afterwards.
type Run struct {
	ID           uuid.UUID     `json:"id"`
	DefinitionID uuid.UUID     `json:"definition_id"`
	ScheduledFor time.Time     `json:"scheduled_for"`
	Reason       TriggerReason `json:"reason"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	Message      string        `json:"message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// RunArgs is the job payload dispatched for a due occurrence. Target
// handlers receive it so they can correlate work with the run record.
type RunArgs struct {
	DefinitionID uuid.UUID     `json:"definition_id"`
	RunID        uuid.UUID     `json:"run_id"`
	ScheduledFor time.Time     `json:"scheduled_for"`
	Reason       TriggerReason `json:"reason"`
}
