package recurrence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store for testing and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	series    map[uuid.UUID]*Series
	reasons   map[uuid.UUID]string
	instances map[uuid.UUID]*Instance
	bySeries  map[uuid.UUID]map[string]uuid.UUID
}

// NewMemoryStore creates an empty in-memory series store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series:    make(map[uuid.UUID]*Series),
		reasons:   make(map[uuid.UUID]string),
		instances: make(map[uuid.UUID]*Instance),
		bySeries:  make(map[uuid.UUID]map[string]uuid.UUID),
	}
}

// PutSeries inserts or replaces a series.
func (ms *MemoryStore) PutSeries(series Series) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	seriesCopy := series
	ms.series[series.ID] = &seriesCopy
}

// GetSeries implements Store
func (ms *MemoryStore) GetSeries(ctx context.Context, seriesID uuid.UUID) (*Series, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	series, exists := ms.series[seriesID]
	if !exists {
		return nil, ErrSeriesNotFound
	}
	seriesCopy := *series
	return &seriesCopy, nil
}

// SetSeriesStatus implements Store
func (ms *MemoryStore) SetSeriesStatus(ctx context.Context, seriesID uuid.UUID, status SeriesStatus, reason string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	series, exists := ms.series[seriesID]
	if !exists {
		return ErrSeriesNotFound
	}
	series.Status = status
	ms.reasons[seriesID] = reason
	return nil
}

// StatusReason returns the reason recorded with the last status change.
func (ms *MemoryStore) StatusReason(seriesID uuid.UUID) string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return ms.reasons[seriesID]
}

// AdvanceWatermark implements Store. Calls with an earlier timestamp leave
// the watermark unchanged.
func (ms *MemoryStore) AdvanceWatermark(ctx context.Context, seriesID uuid.UUID, until time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	series, exists := ms.series[seriesID]
	if !exists {
		return ErrSeriesNotFound
	}
	if series.ExpandedUntil == nil || until.After(*series.ExpandedUntil) {
		series.ExpandedUntil = &until
	}
	return nil
}

// InstanceDates implements Store
func (ms *MemoryStore) InstanceDates(ctx context.Context, seriesID uuid.UUID) (map[string]struct{}, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	dates := make(map[string]struct{}, len(ms.bySeries[seriesID]))
	for date := range ms.bySeries[seriesID] {
		dates[date] = struct{}{}
	}
	return dates, nil
}

// CreateInstance implements Store
func (ms *MemoryStore) CreateInstance(ctx context.Context, instance *Instance) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	dates, exists := ms.bySeries[instance.SeriesID]
	if !exists {
		dates = make(map[string]uuid.UUID)
		ms.bySeries[instance.SeriesID] = dates
	}

	if _, taken := dates[instance.OccurrenceDate]; taken {
		return ErrInstanceExists
	}

	instanceCopy := *instance
	ms.instances[instance.ID] = &instanceCopy
	dates[instance.OccurrenceDate] = instance.ID
	return nil
}

// Instances returns the instances for a series ordered by occurrence date.
func (ms *MemoryStore) Instances(seriesID uuid.UUID) []Instance {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]Instance, 0, len(ms.bySeries[seriesID]))
	for _, id := range ms.bySeries[seriesID] {
		out = append(out, *ms.instances[id])
	}
	sortInstances(out)
	return out
}

func sortInstances(instances []Instance) {
	for i := 1; i < len(instances); i++ {
		for j := i; j > 0 && instances[j].OccurrenceDate < instances[j-1].OccurrenceDate; j-- {
			instances[j], instances[j-1] = instances[j-1], instances[j]
		}
	}
}

// MemoryMaterializer implements Materializer against declared in-memory
// tables with a simple overlap exclusion per table.
type MemoryMaterializer struct {
	mu      sync.RWMutex
	columns map[string]map[string]struct{}
	rows    map[string][]MaterializedRow
}

// MaterializedRow is one entity record created by the materializer.
type MaterializedRow struct {
	ID     uuid.UUID
	Fields map[string]any
	Start  time.Time
	End    time.Time
}

// NewMemoryMaterializer creates a materializer with no tables declared.
func NewMemoryMaterializer() *MemoryMaterializer {
	return &MemoryMaterializer{
		columns: make(map[string]map[string]struct{}),
		rows:    make(map[string][]MaterializedRow),
	}
}

// DeclareTable registers a table and its column set.
func (mm *MemoryMaterializer) DeclareTable(table string, columns ...string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	cols := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		cols[c] = struct{}{}
	}
	mm.columns[table] = cols
}

// TableColumns implements Materializer
func (mm *MemoryMaterializer) TableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	cols, exists := mm.columns[table]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	out := make(map[string]struct{}, len(cols))
	for c := range cols {
		out[c] = struct{}{}
	}
	return out, nil
}

// InsertEntity implements Materializer. Ranges are half-open [start, end):
// two rows overlap when each starts before the other ends.
func (mm *MemoryMaterializer) InsertEntity(ctx context.Context, table string, fields map[string]any, rangeColumn string, start, end time.Time) (uuid.UUID, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if _, exists := mm.columns[table]; !exists {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	for _, row := range mm.rows[table] {
		if start.Before(row.End) && row.Start.Before(end) {
			return uuid.Nil, ErrOverlapConflict
		}
	}

	row := MaterializedRow{
		ID:     uuid.New(),
		Fields: fields,
		Start:  start,
		End:    end,
	}
	mm.rows[table] = append(mm.rows[table], row)
	return row.ID, nil
}

// DeleteEntity implements Materializer
func (mm *MemoryMaterializer) DeleteEntity(ctx context.Context, table string, entityID uuid.UUID) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if _, exists := mm.columns[table]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	rows := mm.rows[table]
	for i, row := range rows {
		if row.ID == entityID {
			mm.rows[table] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

// Rows returns the materialized rows for a table.
func (mm *MemoryMaterializer) Rows(table string) []MaterializedRow {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	out := make([]MaterializedRow, len(mm.rows[table]))
	copy(out, mm.rows[table])
	return out
}
