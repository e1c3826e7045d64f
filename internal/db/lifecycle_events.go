package db

import (
	"context"
	"time"
)

// LifecycleEventRow mirrors the append-only lifecycle_events table (§6).
// The sequence per tenant must be a valid walk through the state machine;
// this package never validates that — it only appends what it's given.
type LifecycleEventRow struct {
	Seq      int64
	TenantID string
	From     string
	To       string
	Reason   string
	Cause    string // payment_id | timer | admin | webhook
	Ts       time.Time
}

// AppendLifecycleEvent inserts one audit row. The seq column is a single
// table-wide sequence assigned by the database, so it orders a tenant's
// rows but is not numbered per tenant.
func (q *Queries) AppendLifecycleEvent(ctx context.Context, e LifecycleEventRow) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO lifecycle_events (tenant_id, "from", "to", reason, cause, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.TenantID, e.From, e.To, e.Reason, e.Cause, e.Ts)
	return err
}

// ListLifecycleEvents returns the full transition history for a tenant in
// occurrence order, used to verify the valid-walk invariant in tests.
func (q *Queries) ListLifecycleEvents(ctx context.Context, tenantID string) ([]LifecycleEventRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT seq, tenant_id, "from", "to", reason, cause, ts
		FROM lifecycle_events WHERE tenant_id = $1 ORDER BY seq ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LifecycleEventRow
	for rows.Next() {
		var e LifecycleEventRow
		if err := rows.Scan(&e.Seq, &e.TenantID, &e.From, &e.To, &e.Reason, &e.Cause, &e.Ts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
