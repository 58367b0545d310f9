// Package postgres is the PostgreSQL persistence layer for the job queue,
// the cron scheduler, and the recurrence engine.
//
// One Store implements every subsystem's storage interface over a shared
// pgxpool. Coordination guarantees that the in-memory implementations
// provide with mutexes are delegated to the database here:
//
//   - Job claims use UPDATE ... FOR UPDATE SKIP LOCKED, so any number of
//     workers can poll the same queue without double-delivery.
//   - Job dedup is a partial unique index on (kind, unique_key) over
//     non-discarded rows; concurrent producers race safely.
//   - Instance dedup is a unique constraint on (series_id,
//     occurrence_date), making concurrent expansions idempotent.
//   - Entity overlap detection is expected to be an EXCLUDE USING gist
//     constraint on the entity table's time-range column; violations
//     surface as recurrence.ErrOverlapConflict.
//
// Schema migrations are embedded and applied with goose via Store.Migrate.
// Entity tables are owned by the application, not this package; a typical
// one looks like:
//
//	CREATE TABLE bookings (
//	    id              UUID PRIMARY KEY,
//	    room_id         TEXT NOT NULL,
//	    title           TEXT,
//	    occupied_during TSTZRANGE NOT NULL,
//	    EXCLUDE USING gist (room_id WITH =, occupied_during WITH &&)
//	);
package postgres
