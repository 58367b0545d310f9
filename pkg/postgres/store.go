package postgres

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schedkit/schedkit/pkg/queue"
	"github.com/schedkit/schedkit/pkg/recurrence"
	"github.com/schedkit/schedkit/pkg/scheduler"
)

// Ensure Store implements every subsystem interface at compile time.
var (
	_ queue.EnqueuerStore     = (*Store)(nil)
	_ queue.WorkerStore       = (*Store)(nil)
	_ scheduler.Store         = (*Store)(nil)
	_ recurrence.Store        = (*Store)(nil)
	_ recurrence.Materializer = (*Store)(nil)
)

// Store is the PostgreSQL persistence layer for jobs, schedules, and
// recurring series. It relies on the database for the coordination
// guarantees the rest of the system assumes: SKIP LOCKED for atomic claims,
// a partial unique index for job dedup, and exclusion constraints for
// entity overlap detection.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a store over an existing connection pool.
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
