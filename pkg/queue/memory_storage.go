package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements all queue store interfaces for testing and local
// development. It enforces the same invariants a durable store must: at most
// one non-discarded job per (kind, unique key), lease-based claims, and
// priority-first dispatch within a queue.
type MemoryStorage struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
	dead map[uuid.UUID]*DeadJob

	// Indexes for efficient queries
	byQueue  map[string][]uuid.UUID
	byState  map[JobState][]uuid.UUID
	byUnique map[string]uuid.UUID

	// Lease management
	leaseTicker *time.Ticker
	done        chan struct{}
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	ms := &MemoryStorage{
		jobs:     make(map[uuid.UUID]*Job),
		dead:     make(map[uuid.UUID]*DeadJob),
		byQueue:  make(map[string][]uuid.UUID),
		byState:  make(map[JobState][]uuid.UUID),
		byUnique: make(map[string]uuid.UUID),
		done:     make(chan struct{}),
	}

	// Start lease expiration manager
	ms.leaseTicker = time.NewTicker(time.Second)
	go ms.leaseExpirationManager()

	return ms
}

// Close stops the background goroutines
func (ms *MemoryStorage) Close() error {
	close(ms.done)
	ms.leaseTicker.Stop()
	return nil
}

func uniqueIndexKey(kind, key string) string {
	return kind + "\x00" + key
}

// CreateJob implements EnqueuerStore. Jobs carrying a unique key conflict
// with any existing non-discarded job of the same kind and key.
func (ms *MemoryStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}

	if job.UniqueKey != nil {
		if _, exists := ms.byUnique[uniqueIndexKey(job.Kind, *job.UniqueKey)]; exists {
			return ErrDuplicateJob
		}
	}

	// Clone job to prevent external modifications
	jobCopy := *job
	ms.jobs[job.ID] = &jobCopy

	ms.byQueue[job.Queue] = append(ms.byQueue[job.Queue], job.ID)
	ms.byState[job.State] = append(ms.byState[job.State], job.ID)
	if job.UniqueKey != nil {
		ms.byUnique[uniqueIndexKey(job.Kind, *job.UniqueKey)] = job.ID
	}

	return nil
}

// GetJob returns a copy of the job with the given id.
func (ms *MemoryStorage) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}
	jobCopy := *job
	return &jobCopy, nil
}

// ClaimJob implements WorkerStore
func (ms *MemoryStorage) ClaimJob(ctx context.Context, workerID uuid.UUID, queue string, lease time.Duration) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	var bestJob *Job

	// Priority-first selection: higher priority wins, earliest scheduled
	// time breaks ties
	for _, state := range []JobState{JobStateAvailable, JobStateRetryable} {
		for _, jobID := range ms.byState[state] {
			job := ms.jobs[jobID]

			if job.Queue != queue {
				continue
			}

			// Skip jobs scheduled for future execution (delayed or backing off)
			if job.ScheduledAt.After(now) {
				continue
			}

			if bestJob == nil ||
				job.Priority > bestJob.Priority ||
				(job.Priority == bestJob.Priority && job.ScheduledAt.Before(bestJob.ScheduledAt)) {
				bestJob = job
			}
		}
	}

	if bestJob == nil {
		return nil, ErrNoJobToClaim
	}

	leaseUntil := now.Add(lease)
	prevState := bestJob.State
	bestJob.State = JobStateRunning
	bestJob.LockedUntil = &leaseUntil
	bestJob.LockedBy = &workerID

	ms.removeFromStateIndex(bestJob.ID, prevState)
	ms.byState[JobStateRunning] = append(ms.byState[JobStateRunning], bestJob.ID)

	jobCopy := *bestJob
	return &jobCopy, nil
}

// CompleteJob implements WorkerStore
func (ms *MemoryStorage) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	if job.State != JobStateRunning {
		return fmt.Errorf("job %s is not running", jobID)
	}

	now := time.Now()
	job.State = JobStateCompleted
	job.FinishedAt = &now
	job.LockedUntil = nil
	job.LockedBy = nil

	ms.removeFromStateIndex(jobID, JobStateRunning)
	ms.byState[JobStateCompleted] = append(ms.byState[JobStateCompleted], jobID)

	return nil
}

// FailJob implements WorkerStore. The attempt counter is incremented and the
// job either returns to retryable with linear backoff or, once attempts are
// exhausted, transitions to discarded.
func (ms *MemoryStorage) FailJob(ctx context.Context, jobID uuid.UUID, errorMsg string) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}

	if job.State != JobStateRunning {
		return nil, fmt.Errorf("job %s is not running", jobID)
	}

	job.Attempt++
	job.Error = &errorMsg
	job.LockedUntil = nil
	job.LockedBy = nil

	if job.Attempt >= job.MaxAttempts {
		ms.discardLocked(job)
	} else {
		job.State = JobStateRetryable
		ms.removeFromStateIndex(jobID, JobStateRunning)
		ms.byState[JobStateRetryable] = append(ms.byState[JobStateRetryable], jobID)

		// Linear backoff: 30s, 60s, 90s... balances quick retry against
		// hammering a struggling collaborator
		backoff := time.Duration(job.Attempt) * 30 * time.Second
		job.ScheduledAt = time.Now().Add(backoff)
	}

	jobCopy := *job
	return &jobCopy, nil
}

// DiscardJob implements WorkerStore
func (ms *MemoryStorage) DiscardJob(ctx context.Context, jobID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	if job.State.Terminal() {
		return fmt.Errorf("job %s is already terminal", jobID)
	}

	job.Attempt++
	job.Error = &errorMsg
	job.LockedUntil = nil
	job.LockedBy = nil
	ms.discardLocked(job)

	return nil
}

// discardLocked transitions a job to discarded and frees its unique key so
// a new job for the same logical work may be enqueued. Caller holds the lock.
func (ms *MemoryStorage) discardLocked(job *Job) {
	now := time.Now()
	prevState := job.State
	job.State = JobStateDiscarded
	job.FinishedAt = &now

	ms.removeFromStateIndex(job.ID, prevState)
	ms.byState[JobStateDiscarded] = append(ms.byState[JobStateDiscarded], job.ID)

	if job.UniqueKey != nil {
		delete(ms.byUnique, uniqueIndexKey(job.Kind, *job.UniqueKey))
	}
}

// MoveToDeadLetter implements WorkerStore
func (ms *MemoryStorage) MoveToDeadLetter(ctx context.Context, jobID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	deadEntry := &DeadJob{
		ID:        uuid.New(),
		JobID:     job.ID,
		Kind:      job.Kind,
		Queue:     job.Queue,
		Args:      job.Args,
		Priority:  job.Priority,
		Error:     "",
		Attempt:   job.Attempt,
		FailedAt:  time.Now(),
		CreatedAt: time.Now(),
	}

	if job.Error != nil {
		deadEntry.Error = *job.Error
	}

	ms.dead[deadEntry.ID] = deadEntry

	// Remove from main storage and indexes
	ms.removeFromStateIndex(jobID, job.State)
	ms.removeFromQueueIndex(jobID, job.Queue)
	if job.UniqueKey != nil {
		delete(ms.byUnique, uniqueIndexKey(job.Kind, *job.UniqueKey))
	}
	delete(ms.jobs, jobID)

	return nil
}

// ExtendLease implements WorkerStore
func (ms *MemoryStorage) ExtendLease(ctx context.Context, jobID uuid.UUID, duration time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	if job.State != JobStateRunning {
		return fmt.Errorf("job %s is not running", jobID)
	}

	leaseUntil := time.Now().Add(duration)
	job.LockedUntil = &leaseUntil

	return nil
}

// DeadJobs returns a snapshot of the dead-letter archive.
func (ms *MemoryStorage) DeadJobs() []*DeadJob {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	entries := make([]*DeadJob, 0, len(ms.dead))
	for _, entry := range ms.dead {
		entryCopy := *entry
		entries = append(entries, &entryCopy)
	}
	return entries
}

// Helper methods

func (ms *MemoryStorage) removeFromStateIndex(jobID uuid.UUID, state JobState) {
	ms.byState[state] = deleteID(ms.byState[state], jobID)
}

func (ms *MemoryStorage) removeFromQueueIndex(jobID uuid.UUID, queue string) {
	ms.byQueue[queue] = deleteID(ms.byQueue[queue], jobID)
}

func deleteID(ids []uuid.UUID, target uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// leaseExpirationManager recovers jobs from dead workers. Without it, jobs
// leased by a crashed worker would stay running forever.
func (ms *MemoryStorage) leaseExpirationManager() {
	for {
		select {
		case <-ms.leaseTicker.C:
			ms.expireLeases()
		case <-ms.done:
			return
		}
	}
}

// expireLeases returns running jobs with lapsed leases to the available
// state so other workers can claim them. The attempt counter is preserved.
func (ms *MemoryStorage) expireLeases() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	running := slices.Clone(ms.byState[JobStateRunning])
	for _, jobID := range running {
		job := ms.jobs[jobID]
		if job.LockedUntil != nil && job.LockedUntil.Before(now) {
			job.State = JobStateAvailable
			job.LockedUntil = nil
			job.LockedBy = nil

			ms.removeFromStateIndex(jobID, JobStateRunning)
			ms.byState[JobStateAvailable] = append(ms.byState[JobStateAvailable], jobID)
		}
	}
}
