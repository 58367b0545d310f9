package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store for testing and local development.
type MemoryStore struct {
	mu          sync.RWMutex
	definitions map[uuid.UUID]*Definition
	runs        map[uuid.UUID]*Run
}

// NewMemoryStore creates an empty in-memory schedule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[uuid.UUID]*Definition),
		runs:        make(map[uuid.UUID]*Run),
	}
}

// PutDefinition inserts or replaces a definition.
func (ms *MemoryStore) PutDefinition(def Definition) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	defCopy := def
	ms.definitions[def.ID] = &defCopy
}

// ListEnabled implements Store
func (ms *MemoryStore) ListEnabled(ctx context.Context) ([]Definition, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	defs := make([]Definition, 0, len(ms.definitions))
	for _, def := range ms.definitions {
		if def.Enabled {
			defs = append(defs, *def)
		}
	}
	return defs, nil
}

// SetLastRun implements Store. Like the durable store, earlier timestamps
// leave the recorded value unchanged.
func (ms *MemoryStore) SetLastRun(ctx context.Context, definitionID uuid.UUID, lastRun time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	def, exists := ms.definitions[definitionID]
	if !exists {
		return ErrDefinitionNotFound
	}
	if def.LastRunAt == nil || lastRun.After(*def.LastRunAt) {
		def.LastRunAt = &lastRun
	}
	return nil
}

// CreateRun implements Store
func (ms *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	runCopy := *run
	ms.runs[run.ID] = &runCopy
	return nil
}

// CompleteRun implements Store
func (ms *MemoryStore) CompleteRun(ctx context.Context, runID uuid.UUID, startedAt, completedAt time.Time, success bool, message string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	run, exists := ms.runs[runID]
	if !exists {
		return ErrRunNotFound
	}

	run.StartedAt = &startedAt
	run.CompletedAt = &completedAt
	run.Duration = completedAt.Sub(startedAt)
	run.Success = success
	run.Message = message
	return nil
}

// Runs returns a snapshot of all run records.
func (ms *MemoryStore) Runs() []Run {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	runs := make([]Run, 0, len(ms.runs))
	for _, run := range ms.runs {
		runs = append(runs, *run)
	}
	return runs
}

// Definition returns a copy of the definition with the given id.
func (ms *MemoryStore) Definition(definitionID uuid.UUID) (Definition, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	def, exists := ms.definitions[definitionID]
	if !exists {
		return Definition{}, false
	}
	return *def, true
}
