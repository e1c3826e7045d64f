package db

import (
	"context"
	"hash/fnv"
)

// AdvisoryKey derives a stable int64 key for pg_try_advisory_lock from a
// string. Nothing in this module calls it: the DunningScheduler uses a fixed
// numeric key, and the Provisioner serializes with an in-process keyed mutex.
func AdvisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// TryAdvisoryLock attempts a session-scoped advisory lock and reports
// whether it was acquired. Callers must hold the same *pgxpool.Conn (or a
// dedicated connection) for the lifetime of the lock and release it with
// AdvisoryUnlock — pool-wide session locks do not compose with pgxpool's
// connection reuse, so callers needing a true session lock must acquire a
// conn explicitly; callers only needing a point-in-time check (e.g. a
// single tick) can use TryAdvisoryLock against the pool directly since
// pg_try_advisory_lock/pg_advisory_unlock round-trip on the same backend
// within one Exec is not guaranteed across pooled connections.
func (q *Queries) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	row := q.db.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key)
	var acquired bool
	if err := row.Scan(&acquired); err != nil {
		return false, err
	}
	return acquired, nil
}

// AdvisoryUnlock releases a previously acquired advisory lock.
func (q *Queries) AdvisoryUnlock(ctx context.Context, key int64) error {
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
	return err
}
