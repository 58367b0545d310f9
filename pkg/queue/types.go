package queue

import (
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is the queue used when a job does not name one.
const DefaultQueueName = "default"

// JobState represents the lifecycle state of a job.
type JobState string

const (
	// JobStateAvailable means the job is ready to be claimed once its
	// scheduled time arrives.
	JobStateAvailable JobState = "available"
	// JobStateRunning means a worker holds a lease on the job.
	JobStateRunning JobState = "running"
	// JobStateRetryable means the job failed with a transient error and
	// waits out its backoff before becoming claimable again.
	JobStateRetryable JobState = "retryable"
	// JobStateCompleted means the job finished successfully.
	JobStateCompleted JobState = "completed"
	// JobStateDiscarded means the job failed permanently or exhausted its
	// attempts; it is terminal and kept only as history.
	JobStateDiscarded JobState = "discarded"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateDiscarded
}

// Priority represents job priority (0-100, higher is dispatched first).
// Using int8 provides sufficient range while keeping memory footprint minimal.
type Priority int8

// Priority constants
const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

// Valid checks if the priority is within valid range
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Job is one unit of queued work. A job is immutable once persisted except
// for its state machine fields; attempts are tracked via Attempt/MaxAttempts.
//
// UniqueKey, when set, guarantees at most one non-discarded job exists per
// (kind, unique key) pair. The constraint lives in the store, which is what
// makes concurrently running producers safe without leader election.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	Kind        string     `json:"kind"`
	Queue       string     `json:"queue"`
	Args        []byte     `json:"args,omitempty"`
	State       JobState   `json:"state"`
	Priority    Priority   `json:"priority"`
	Attempt     int8       `json:"attempt"`
	MaxAttempts int8       `json:"max_attempts"`
	UniqueKey   *string    `json:"unique_key,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID `json:"locked_by,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DeadJob is a terminally failed job archived for manual inspection and
// recovery. Rows are append-only.
type DeadJob struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Kind      string    `json:"kind"`
	Queue     string    `json:"queue"`
	Args      []byte    `json:"args,omitempty"`
	Priority  Priority  `json:"priority"`
	Error     string    `json:"error"`
	Attempt   int8      `json:"attempt"`
	FailedAt  time.Time `json:"failed_at"`
	CreatedAt time.Time `json:"created_at"`
}
